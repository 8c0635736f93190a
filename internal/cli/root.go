// Package cli implements the chronicle command-line tool.
package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/tphakala/go-chronicle"
	"github.com/tphakala/go-chronicle/internal/config"
	"github.com/tphakala/go-chronicle/internal/observability"
)

// Version is set at build time.
var Version = "dev"

// app carries state shared by every command of one invocation.
type app struct {
	v          *viper.Viper
	configPath string
	cfg        *config.Config
	out        io.Writer
	sdk        *chronicle.Client
}

// flagKeys maps persistent flags onto config keys.
var flagKeys = map[string]string{
	"customer-id": "customer_id",
	"project-id":  "project_id",
	"region":      "region",
	"base-url":    "base_url",
	"token":       "token",
	"output":      "output",
	"start-time":  "start_time",
	"end-time":    "end_time",
	"time-window": "time_window",
	"log-level":   "logger.level",
}

// NewRootCommand builds the command tree with its own configuration state.
func NewRootCommand() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:               "chronicle",
		Short:             "Command-line client for the Chronicle security analytics API.",
		Version:           Version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "config file (default $HOME/.chronicle/config.yaml)")
	flags.String("customer-id", "", "Chronicle instance (customer) ID")
	flags.String("project-id", "", "Google Cloud project ID")
	flags.String("region", "", "Chronicle region (default us)")
	flags.String("base-url", "", "override the API base URL")
	flags.String("token", "", "OAuth access token (or CHRONICLE_TOKEN)")
	flags.StringP("output", "o", "", "output format: json or text (default json)")
	flags.String("start-time", "", "start of the time range, RFC 3339")
	flags.String("end-time", "", "end of the time range, RFC 3339 (default now)")
	flags.Int("time-window", 0, "look-back in hours when no start time is given (default 24)")
	flags.String("log-level", "", "log level: debug, info, warn, error")
	for name, key := range flagKeys {
		_ = a.v.BindPFlag(key, flags.Lookup(name))
	}

	root.AddCommand(
		newConfigCommand(a),
		newSearchCommand(a),
		newStatsCommand(a),
		newValidateQueryCommand(a),
		newEntityCommand(a),
		newIoCsCommand(a),
		newAlertCommand(a),
		newCaseCommand(a),
		newLogCommand(a),
		newRuleCommand(a),
		newDataTableCommand(a),
		newReferenceListCommand(a),
		newExportCommand(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	a.out = cmd.OutOrStdout()
	if a.configPath == "" {
		path, err := config.DefaultPath()
		if err != nil {
			return err
		}
		a.configPath = path
	}
	if err := config.Prepare(a.v, a.configPath); err != nil {
		return err
	}
	cfg, err := config.FromViper(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	observability.InitializeLogger(cfg.Logger)
	observability.GetLogger().Debug("configuration loaded",
		zap.String("config", a.configPath),
		zap.String("region", cfg.Region))
	return nil
}

// client builds the SDK client on first use so that commands such as
// `config view` work without credentials.
func (a *app) client() (*chronicle.Client, error) {
	if a.sdk != nil {
		return a.sdk, nil
	}
	cfg := a.cfg
	attempts := cfg.Poll.MaxAttempts
	if attempts == 0 {
		// Validate guarantees a timeout here.
		attempts = chronicle.NoAttemptLimit
	}
	opts := []chronicle.ClientOption{
		chronicle.WithProject(cfg.ProjectID, cfg.CustomerID),
		chronicle.WithRegion(cfg.Region),
		chronicle.WithToken(cfg.Token),
		chronicle.WithTimeout(cfg.Timeout),
		chronicle.WithUserAgent("chronicle-cli/" + Version),
		chronicle.WithLogger(observability.GetLogger().Named("sdk")),
		chronicle.WithRateLimit(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst),
		chronicle.WithPollConfig(chronicle.PollConfig{
			MaxAttempts:    attempts,
			Timeout:        cfg.Poll.Timeout,
			Interval:       cfg.Poll.Interval,
			MaxInterval:    cfg.Poll.MaxInterval,
			RequestTimeout: cfg.Poll.RequestTimeout,
		}),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, chronicle.WithBaseURL(cfg.BaseURL))
	}

	client, err := chronicle.NewClient(opts...)
	switch {
	case errors.Is(err, chronicle.ErrNoInstance):
		return nil, fmt.Errorf("%w: set customer_id and project_id with `chronicle config set` or flags", err)
	case errors.Is(err, chronicle.ErrNoCredentials):
		return nil, fmt.Errorf("%w: pass --token or set CHRONICLE_TOKEN, e.g. from `gcloud auth print-access-token`", err)
	case err != nil:
		return nil, err
	}
	a.sdk = client
	return client, nil
}

func (a *app) timeRange() (chronicle.TimeRange, error) {
	start, end, err := a.cfg.TimeRange(time.Now())
	if err != nil {
		return chronicle.TimeRange{}, err
	}
	return chronicle.TimeRange{Start: start, End: end}, nil
}

// print renders v as indented JSON, or as YAML in text mode.
func (a *app) print(v any) error {
	if a.cfg.Output == "json" {
		enc := json.NewEncoder(a.out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	// A JSON round trip keeps the same field names in both formats.
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return err
	}
	out, err := yaml.Marshal(generic)
	if err != nil {
		return err
	}
	_, err = a.out.Write(out)
	return err
}

func (a *app) printText(s string) error {
	if !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	_, err := io.WriteString(a.out, s)
	return err
}

// warnPartial notes on stderr that polling stopped early.
func warnPartial(cmd *cobra.Command, complete bool) {
	if !complete {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning: operation still running; results are partial")
	}
}

// readInput returns the contents of path, or stdin for "-".
func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return data, nil
}

func splitList(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
