package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"regapi/internal/app"
	"regapi/internal/repository"
	"regapi/internal/schema"
)

func findCmd(open Opener) *cobra.Command {
	var (
		where []string
		sort  string
		page  int
		limit int
	)
	cmd := &cobra.Command{
		Use:   "find <domain> <entity>",
		Short: "List records page by page",
		Example: `  regctl find payment Payment --where status=paid --sort -createdAt
  regctl find registration Registration --page 2 --limit 50`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepository(cmd, open, args[0], args[1], func(_ *app.App, e *schema.Entity, repo repository.Repository) error {
				q, err := parseWhere(e, where)
				if err != nil {
					return err
				}
				res, err := repo.Paginate(cmd.Context(), q, page, limit, schema.ParseSort(sort))
				if err != nil {
					return fmt.Errorf("failed to find %s: %w", e.Name(), err)
				}

				out := cmd.OutOrStdout()
				if len(res.Data) == 0 {
					fmt.Fprintln(out, "No records found.")
					return nil
				}
				cols := append([]string{schema.FieldID}, e.FieldNames()...)
				cols = append(cols, schema.FieldCreatedAt)

				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, strings.ToUpper(strings.Join(cols, "\t")))
				for _, rec := range res.Data {
					cells := make([]string, len(cols))
					for i, c := range cols {
						cells[i] = cell(rec[c])
					}
					fmt.Fprintln(w, strings.Join(cells, "\t"))
				}
				w.Flush()
				p := res.Pagination
				fmt.Fprintf(out, "page %d/%d, %d total\n", p.Page, p.Pages, p.Total)
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVarP(&where, "where", "w", nil, "equality filter field=value (repeatable)")
	cmd.Flags().StringVar(&sort, "sort", "", "sort keys, e.g. -createdAt,name")
	cmd.Flags().IntVar(&page, "page", 1, "page number")
	cmd.Flags().IntVar(&limit, "limit", repository.DefaultPageLimit, "page size")
	return cmd
}

func countCmd(open Opener) *cobra.Command {
	var where []string
	cmd := &cobra.Command{
		Use:   "count <domain> <entity>",
		Short: "Count matching records",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepository(cmd, open, args[0], args[1], func(_ *app.App, e *schema.Entity, repo repository.Repository) error {
				q, err := parseWhere(e, where)
				if err != nil {
					return err
				}
				n, err := repo.Count(cmd.Context(), q)
				if err != nil {
					return fmt.Errorf("failed to count %s: %w", e.Name(), err)
				}
				fmt.Fprintln(cmd.OutOrStdout(), n)
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVarP(&where, "where", "w", nil, "equality filter field=value (repeatable)")
	return cmd
}

func statsCmd(open Opener) *cobra.Command {
	var (
		where              []string
		group              string
		countF, sumF, avgF string
	)
	cmd := &cobra.Command{
		Use:     "stats <domain> <entity>",
		Short:   "Group records and aggregate a field",
		Example: `  regctl stats payment Payment --group status,channel --sum amount`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			groups := splitList(group)
			if len(groups) == 0 {
				return fmt.Errorf("--group is required")
			}
			return withRepository(cmd, open, args[0], args[1], func(_ *app.App, e *schema.Entity, repo repository.Repository) error {
				q, err := parseWhere(e, where)
				if err != nil {
					return err
				}
				stats, err := repo.GroupStatistics(cmd.Context(), groups, repository.GroupOptions{
					CountField: countF,
					SumField:   sumF,
					AvgField:   avgF,
					Query:      q,
				})
				if err != nil {
					return fmt.Errorf("failed to aggregate %s: %w", e.Name(), err)
				}

				out := cmd.OutOrStdout()
				if len(stats) == 0 {
					fmt.Fprintln(out, "No records found.")
					return nil
				}
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, strings.ToUpper(strings.Join(groups, "\t"))+"\tCOUNT\tSUM\tAVG")
				for _, s := range stats {
					cells := make([]string, 0, len(groups)+3)
					for _, g := range groups {
						cells = append(cells, cell(s.Key[g]))
					}
					cells = append(cells, fmt.Sprint(s.Count), formatNumber(s.Sum), formatNumber(s.Avg))
					fmt.Fprintln(w, strings.Join(cells, "\t"))
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().StringArrayVarP(&where, "where", "w", nil, "equality filter field=value (repeatable)")
	cmd.Flags().StringVar(&group, "group", "", "comma-separated group fields")
	cmd.Flags().StringVar(&countF, "count", "", "count only records where this field is set")
	cmd.Flags().StringVar(&sumF, "sum", "", "field to sum")
	cmd.Flags().StringVar(&avgF, "avg", "", "field to average (defaults to --sum)")
	return cmd
}

func cell(v any) string {
	switch t := v.(type) {
	case nil:
		return "-"
	case float64:
		return formatNumber(t)
	case []any:
		parts := make([]string, len(t))
		for i, p := range t {
			parts[i] = cell(p)
		}
		return strings.Join(parts, ",")
	}
	return fmt.Sprint(v)
}

func formatNumber(f float64) string {
	return fmt.Sprintf("%.2f", f)
}
