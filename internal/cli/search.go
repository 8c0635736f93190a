package cli

import (
	"github.com/spf13/cobra"

	"github.com/tphakala/go-chronicle"
)

func newSearchCommand(a *app) *cobra.Command {
	var (
		query         string
		csv           bool
		fields        string
		maxEvents     int
		caseSensitive bool
	)
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Run a UDM search",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			tr, err := a.timeRange()
			if err != nil {
				return err
			}
			opts := &chronicle.SearchOptions{MaxEvents: maxEvents, CaseSensitive: caseSensitive}

			if csv {
				text, err := client.Search.FetchCSV(cmd.Context(), query, splitList(fields), tr, opts)
				if err != nil {
					return err
				}
				return a.printText(text)
			}

			res, err := client.Search.UDM(cmd.Context(), query, tr, opts)
			if err != nil {
				return err
			}
			warnPartial(cmd, res.Complete)
			return a.print(res)
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "UDM query")
	cmd.Flags().BoolVar(&csv, "csv", false, "return results as CSV")
	cmd.Flags().StringVar(&fields, "fields", "", "comma-separated UDM fields for CSV output")
	cmd.Flags().IntVar(&maxEvents, "max-events", 0, "maximum events to return (default 10000)")
	cmd.Flags().BoolVar(&caseSensitive, "case-sensitive", false, "match case-sensitively")
	_ = cmd.MarkFlagRequired("query")
	return cmd
}

func newStatsCommand(a *app) *cobra.Command {
	var (
		query     string
		maxValues int
		maxEvents int
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Run a statistics query",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			tr, err := a.timeRange()
			if err != nil {
				return err
			}
			res, err := client.Search.Stats(cmd.Context(), query, tr, &chronicle.StatsOptions{
				MaxValues: maxValues,
				MaxEvents: maxEvents,
			})
			if err != nil {
				return err
			}
			warnPartial(cmd, res.Complete)
			return a.print(res)
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "statistics query")
	cmd.Flags().IntVar(&maxValues, "max-values", 0, "maximum values per column (default 60)")
	cmd.Flags().IntVar(&maxEvents, "max-events", 0, "maximum events scanned (default 10000)")
	_ = cmd.MarkFlagRequired("query")
	return cmd
}

func newValidateQueryCommand(a *app) *cobra.Command {
	var query string
	cmd := &cobra.Command{
		Use:   "validate-query",
		Short: "Check query syntax without running it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			res, err := client.Search.ValidateQuery(cmd.Context(), query)
			if err != nil {
				return err
			}
			return a.print(res)
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "query to validate")
	_ = cmd.MarkFlagRequired("query")
	return cmd
}

func newEntityCommand(a *app) *cobra.Command {
	var (
		value         string
		entityType    string
		primaryOnly   bool
		alertPageSize int
	)
	cmd := &cobra.Command{
		Use:   "entity",
		Short: "Summarize an entity (IP, domain, hash, email, host)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			tr, err := a.timeRange()
			if err != nil {
				return err
			}
			summary, err := client.Entities.Summarize(cmd.Context(), value, tr, &chronicle.EntityOptions{
				PreferredType:       entityType,
				PrimaryUDMTypesOnly: primaryOnly,
				PageSize:            alertPageSize,
			})
			if err != nil {
				return err
			}
			return a.print(summary)
		},
	}
	cmd.Flags().StringVar(&value, "value", "", "value to look up")
	cmd.Flags().StringVar(&entityType, "entity-type", "", "preferred entity type, e.g. ASSET or FILE")
	cmd.Flags().BoolVar(&primaryOnly, "primary-only", false, "only consider primary UDM types")
	cmd.Flags().IntVar(&alertPageSize, "alert-page-size", 0, "alert counts per page")
	_ = cmd.MarkFlagRequired("value")
	return cmd
}

func newIoCsCommand(a *app) *cobra.Command {
	var (
		maxMatches  int
		noMandiant  bool
		prioritized bool
	)
	cmd := &cobra.Command{
		Use:   "iocs",
		Short: "List IoC matches",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			tr, err := a.timeRange()
			if err != nil {
				return err
			}
			res, err := client.IoCs.List(cmd.Context(), tr, &chronicle.IoCOptions{
				MaxMatches:             maxMatches,
				SkipMandiantAttributes: noMandiant,
				PrioritizedOnly:        prioritized,
			})
			if err != nil {
				return err
			}
			return a.print(res)
		},
	}
	cmd.Flags().IntVar(&maxMatches, "max-matches", 0, "maximum matches (default 1000)")
	cmd.Flags().BoolVar(&noMandiant, "no-mandiant", false, "skip Mandiant attributes")
	cmd.Flags().BoolVar(&prioritized, "prioritized", false, "only prioritized IoCs")
	return cmd
}
