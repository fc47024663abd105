// Package cli holds the regctl commands.
package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"regapi/internal/app"
	"regapi/internal/repository"
	"regapi/internal/schema"
)

// Opener builds the App a command runs against.
type Opener func(ctx context.Context) (*app.App, error)

// NewRootCmd returns the regctl command tree. Every command that touches storage calls
// open once and closes the App when it returns.
func NewRootCmd(open Opener) *cobra.Command {
	root := &cobra.Command{
		Use:   "regctl",
		Short: "Inspect and maintain registration storage",
		Long: `regctl reads and maintains the records of the configured storage backend.
The backend and its connection come from the same environment as the API server.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		findCmd(open),
		countCmd(open),
		statsCmd(open),
		exportCmd(open),
		importCmd(open),
		tablesCmd(),
	)
	return root
}

var (
	headerColor = color.New(color.FgCyan, color.Bold)
	okColor     = color.New(color.FgGreen)
	warnColor   = color.New(color.FgYellow)
)

// withRepository opens the App and resolves the domain/entity arguments, then runs fn.
func withRepository(cmd *cobra.Command, open Opener, domain, name string,
	fn func(a *app.App, e *schema.Entity, repo repository.Repository) error) error {
	ctx := cmd.Context()
	a, err := open(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.Background())

	e, err := a.Factory.Catalog().Lookup(domain, name)
	if err != nil {
		return err
	}
	repo, err := a.Factory.GetRepository(ctx, name, domain)
	if err != nil {
		return err
	}
	return fn(a, e, repo)
}

// parseWhere turns repeated --where field=value flags into a typed query.
func parseWhere(e *schema.Entity, where []string) (schema.Query, error) {
	raw := make(map[string]string, len(where))
	for _, w := range where {
		k, v, ok := strings.Cut(w, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --where %q, want field=value", w)
		}
		raw[k] = v
	}
	return e.ParseFilter(raw)
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
