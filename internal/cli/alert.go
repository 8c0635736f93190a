package cli

import (
	"github.com/spf13/cobra"

	"github.com/tphakala/go-chronicle"
)

func newAlertCommand(a *app) *cobra.Command {
	var (
		snapshot  string
		baseline  string
		maxAlerts int
		noCache   bool
	)
	cmd := &cobra.Command{
		Use:   "alert",
		Short: "List alerts, or get and update one",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			tr, err := a.timeRange()
			if err != nil {
				return err
			}
			res, err := client.Alerts.List(cmd.Context(), tr, &chronicle.AlertListOptions{
				SnapshotQuery: snapshot,
				BaselineQuery: baseline,
				MaxAlerts:     maxAlerts,
				DisableCache:  noCache,
			})
			if err != nil {
				return err
			}
			warnPartial(cmd, res.Complete)
			return a.print(res)
		},
	}
	cmd.Flags().StringVar(&snapshot, "snapshot-query", "", `filter on current alert state (default: feedback_summary.status != "CLOSED")`)
	cmd.Flags().StringVar(&baseline, "baseline-query", "", "filter on the alert baseline")
	cmd.Flags().IntVar(&maxAlerts, "max-alerts", 0, "maximum alerts (default 1000)")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "bypass the alert cache")

	cmd.AddCommand(newAlertGetCommand(a), newAlertUpdateCommand(a))
	return cmd
}

func newAlertGetCommand(a *app) *cobra.Command {
	var detections bool
	cmd := &cobra.Command{
		Use:   "get ALERT_ID",
		Short: "Get one alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			alert, err := client.Alerts.Get(cmd.Context(), args[0], detections)
			if err != nil {
				return err
			}
			return a.print(alert)
		},
	}
	cmd.Flags().BoolVar(&detections, "detections", false, "include detections")
	return cmd
}

func newAlertUpdateCommand(a *app) *cobra.Command {
	var (
		ids         []string
		status      string
		verdict     string
		priority    string
		reason      string
		comment     string
		rootCause   string
		reputation  string
		confidence  int
		risk        int
		severity    int
		disregarded bool
	)
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update alert feedback",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			update := &chronicle.AlertUpdate{}
			setString := func(name string, v string, dst **string) {
				if flags.Changed(name) {
					*dst = &v
				}
			}
			setInt := func(name string, v int, dst **int) {
				if flags.Changed(name) {
					*dst = &v
				}
			}
			setString("status", status, &update.Status)
			setString("verdict", verdict, &update.Verdict)
			setString("priority", priority, &update.Priority)
			setString("reason", reason, &update.Reason)
			setString("comment", comment, &update.Comment)
			setString("root-cause", rootCause, &update.RootCause)
			setString("reputation", reputation, &update.Reputation)
			setInt("confidence-score", confidence, &update.ConfidenceScore)
			setInt("risk-score", risk, &update.RiskScore)
			setInt("severity", severity, &update.Severity)
			if flags.Changed("disregarded") {
				update.Disregarded = &disregarded
			}

			if len(ids) == 1 {
				alert, err := client.Alerts.Update(cmd.Context(), ids[0], update)
				if err != nil {
					return err
				}
				return a.print(alert)
			}
			updated, err := client.Alerts.BulkUpdate(cmd.Context(), ids, update)
			if len(updated) > 0 {
				if perr := a.print(updated); perr != nil {
					return perr
				}
			}
			return err
		},
	}
	cmd.Flags().StringSliceVar(&ids, "id", nil, "alert ID, repeatable")
	cmd.Flags().StringVar(&status, "status", "", "NEW, REVIEWED, CLOSED or OPEN")
	cmd.Flags().StringVar(&verdict, "verdict", "", "TRUE_POSITIVE or FALSE_POSITIVE")
	cmd.Flags().StringVar(&priority, "priority", "", "PRIORITY_INFO through PRIORITY_CRITICAL")
	cmd.Flags().StringVar(&reason, "reason", "", "closing reason")
	cmd.Flags().StringVar(&comment, "comment", "", "analyst comment")
	cmd.Flags().StringVar(&rootCause, "root-cause", "", "root cause")
	cmd.Flags().StringVar(&reputation, "reputation", "", "USEFUL or NOT_USEFUL")
	cmd.Flags().IntVar(&confidence, "confidence-score", 0, "confidence score, 0-100")
	cmd.Flags().IntVar(&risk, "risk-score", 0, "risk score, 0-100")
	cmd.Flags().IntVar(&severity, "severity", 0, "severity, 0-100")
	cmd.Flags().BoolVar(&disregarded, "disregarded", false, "mark the alert disregarded")
	_ = cmd.MarkFlagRequired("id")
	return cmd
}
