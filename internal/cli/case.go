package cli

import (
	"github.com/spf13/cobra"
)

func newCaseCommand(a *app) *cobra.Command {
	var ids string
	cmd := &cobra.Command{
		Use:   "case",
		Short: "Get cases by id",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			cases, err := client.Cases.Get(cmd.Context(), splitList(ids))
			if err != nil {
				return err
			}
			return a.print(cases)
		},
	}
	cmd.Flags().StringVar(&ids, "ids", "", "comma-separated case ids, at most 1000")
	_ = cmd.MarkFlagRequired("ids")
	return cmd
}
