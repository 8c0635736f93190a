package cli

import (
	"github.com/spf13/cobra"

	"github.com/tphakala/go-chronicle"
)

func newExportCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export raw logs to Cloud Storage",
	}

	logTypes := &cobra.Command{
		Use:   "log-types",
		Short: "List log types available for export in the time range",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			tr, err := a.timeRange()
			if err != nil {
				return err
			}
			types, err := chronicle.CollectAll(client.Exports.AvailableLogTypes(cmd.Context(), tr))
			if err != nil {
				return err
			}
			return a.print(types)
		},
	}

	var (
		bucket  string
		logType string
		all     bool
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Start an export",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			tr, err := a.timeRange()
			if err != nil {
				return err
			}
			export, err := client.Exports.Create(cmd.Context(), chronicle.DataExportRequest{
				GCSBucket:     bucket,
				Range:         tr,
				LogType:       logType,
				ExportAllLogs: all,
			})
			if err != nil {
				return err
			}
			return a.print(export)
		},
	}
	create.Flags().StringVar(&bucket, "gcs-bucket", "", "projects/{project}/buckets/{bucket}")
	create.Flags().StringVar(&logType, "log-type", "", "log type to export")
	create.Flags().BoolVar(&all, "all-logs", false, "export every log type")
	_ = create.MarkFlagRequired("gcs-bucket")

	var wait bool
	status := &cobra.Command{
		Use:   "status EXPORT_ID",
		Short: "Show an export's status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			if !wait {
				export, err := client.Exports.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return a.print(export)
			}
			export, complete, err := client.Exports.Wait(cmd.Context(), args[0], nil)
			if export != nil {
				warnPartial(cmd, complete)
				if perr := a.print(export); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	status.Flags().BoolVar(&wait, "wait", false, "poll until the export finishes")

	cancel := &cobra.Command{
		Use:   "cancel EXPORT_ID",
		Short: "Cancel an export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			export, err := client.Exports.Cancel(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(export)
		},
	}

	cmd.AddCommand(logTypes, create, status, cancel)
	return cmd
}
