package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tphakala/go-chronicle"
)

func newLogCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Ingest raw logs or UDM events",
	}
	cmd.AddCommand(newLogIngestCommand(a), newLogUDMCommand(a))
	return cmd
}

func newLogIngestCommand(a *app) *cobra.Command {
	var (
		logType     string
		file        string
		message     string
		perLine     bool
		force       bool
		forwarderID string
		namespace   string
		labels      map[string]string
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest raw log messages",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var messages []string
			switch {
			case message != "" && file != "":
				return fmt.Errorf("use either --message or --file, not both")
			case message != "":
				messages = []string{message}
			case file != "":
				data, err := readInput(cmd, file)
				if err != nil {
					return err
				}
				if perLine {
					for line := range strings.Lines(string(data)) {
						if line = strings.TrimRight(line, "\r\n"); line != "" {
							messages = append(messages, line)
						}
					}
				} else {
					messages = []string{string(data)}
				}
			default:
				return fmt.Errorf("one of --message or --file is required")
			}

			client, err := a.client()
			if err != nil {
				return err
			}
			ops, err := client.Logs.Ingest(cmd.Context(), logType, messages, &chronicle.IngestOptions{
				Force:       force,
				ForwarderID: forwarderID,
				Namespace:   namespace,
				Labels:      labels,
			})
			if err != nil {
				return err
			}
			return a.print(ops)
		},
	}
	cmd.Flags().StringVar(&logType, "type", "", "log type, e.g. OKTA or WINDOWS")
	cmd.Flags().StringVarP(&file, "file", "f", "", "file to ingest, - for stdin")
	cmd.Flags().StringVar(&message, "message", "", "single log message")
	cmd.Flags().BoolVar(&perLine, "per-line", false, "treat each line of --file as its own log")
	cmd.Flags().BoolVar(&force, "force", false, "send even if the log type is unknown")
	cmd.Flags().StringVar(&forwarderID, "forwarder-id", "", "forwarder to use (default: SDK forwarder)")
	cmd.Flags().StringVar(&namespace, "namespace", "", "environment namespace")
	cmd.Flags().StringToStringVar(&labels, "label", nil, "label key=value, repeatable")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func newLogUDMCommand(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "udm",
		Short: "Ingest UDM events from a JSON object or array",
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := readInput(cmd, file)
			if err != nil {
				return err
			}
			events, err := decodeEvents(data)
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			op, err := client.Logs.IngestUDM(cmd.Context(), events)
			if err != nil {
				return err
			}
			return a.print(op)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "JSON file, - for stdin")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

// decodeEvents accepts a single event object or an array of them.
func decodeEvents(data []byte) ([]map[string]any, error) {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '{' {
		var event map[string]any
		if err := json.Unmarshal(data, &event); err != nil {
			return nil, fmt.Errorf("parsing UDM event: %w", err)
		}
		return []map[string]any{event}, nil
	}
	var events []map[string]any
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("parsing UDM events: %w", err)
	}
	return events, nil
}
