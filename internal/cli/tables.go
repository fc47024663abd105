package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"regapi/internal/model"
	"regapi/internal/repository/postgres"
	"regapi/internal/schema"
)

func tablesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tables [domain entity]",
		Short: "Print the relational DDL of the declared entities",
		Long: `tables prints the CREATE TABLE and CREATE INDEX statements the relational
backend runs when it first touches an entity. It needs no database connection.`,
		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 0 && len(args) != 2 {
				return fmt.Errorf("accepts 0 or 2 arg(s), received %d", len(args))
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			catalog, err := model.NewCatalog()
			if err != nil {
				return err
			}
			entities := catalog.All()
			if len(args) == 2 {
				e, err := catalog.Lookup(args[0], args[1])
				if err != nil {
					return err
				}
				entities = []*schema.Entity{e}
			}

			out := cmd.OutOrStdout()
			for i, e := range entities {
				if i > 0 {
					fmt.Fprintln(out)
				}
				plan := postgres.NewModel(nil, e, zap.NewNop()).Plan()
				fmt.Fprintln(out, headerColor.Sprintf("-- %s (%s)", e.Key(), plan.Sentinel))
				for _, step := range plan.Steps {
					fmt.Fprintf(out, "%s;\n", step.SQL)
				}
			}
			return nil
		},
	}
}
