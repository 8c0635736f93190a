package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tphakala/go-chronicle"
)

func newRuleCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rule",
		Short: "Manage detection rules",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List rules",
			RunE: func(cmd *cobra.Command, _ []string) error {
				client, err := a.client()
				if err != nil {
					return err
				}
				rules, err := client.Rules.List(cmd.Context())
				if err != nil {
					return err
				}
				return a.print(rules)
			},
		},
		&cobra.Command{
			Use:   "get RULE_ID",
			Short: "Get a rule",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				client, err := a.client()
				if err != nil {
					return err
				}
				rule, err := client.Rules.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return a.print(rule)
			},
		},
		newRuleCreateCommand(a),
		newRuleUpdateCommand(a),
		newRuleEnableCommand(a),
		newRuleDeleteCommand(a),
		newRuleTestCommand(a),
		newRuleValidateCommand(a),
		newRuleAlertsCommand(a),
		&cobra.Command{
			Use:   "search PATTERN",
			Short: "Find rules whose text matches a regular expression",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				client, err := a.client()
				if err != nil {
					return err
				}
				rules, err := client.Rules.Search(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return a.print(rules)
			},
		},
		newRuleRetrohuntCommand(a),
	)
	return cmd
}

func newRuleCreateCommand(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a rule from a YARA-L file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			text, err := readInput(cmd, file)
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			rule, err := client.Rules.Create(cmd.Context(), string(text))
			if err != nil {
				return err
			}
			return a.print(rule)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "rule file, - for stdin")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newRuleUpdateCommand(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "update RULE_ID",
		Short: "Replace a rule's text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := readInput(cmd, file)
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			rule, err := client.Rules.Update(cmd.Context(), args[0], string(text))
			if err != nil {
				return err
			}
			return a.print(rule)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "rule file, - for stdin")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newRuleEnableCommand(a *app) *cobra.Command {
	var enabled bool
	cmd := &cobra.Command{
		Use:   "enable RULE_ID",
		Short: "Enable or disable a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			dep, err := client.Rules.SetEnabled(cmd.Context(), args[0], enabled)
			if err != nil {
				return err
			}
			return a.print(dep)
		},
	}
	cmd.Flags().BoolVar(&enabled, "enabled", true, "set to false to disable")
	return cmd
}

func newRuleDeleteCommand(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "delete RULE_ID",
		Short: "Delete a rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			if err := client.Rules.Delete(cmd.Context(), args[0], force); err != nil {
				return err
			}
			return a.printText(fmt.Sprintf("Rule %s deleted.", args[0]))
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "also delete retrohunts and detections")
	return cmd
}

func newRuleTestCommand(a *app) *cobra.Command {
	var (
		file       string
		maxResults int
	)
	cmd := &cobra.Command{
		Use:   "test",
		Short: "Run a rule against historical data without saving it",
		RunE: func(cmd *cobra.Command, _ []string) error {
			text, err := readInput(cmd, file)
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			tr, err := a.timeRange()
			if err != nil {
				return err
			}
			events, err := client.Rules.Test(cmd.Context(), string(text), tr, &chronicle.RuleTestOptions{MaxResults: maxResults})
			if err != nil {
				return err
			}
			return a.print(events)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "rule file, - for stdin")
	cmd.Flags().IntVar(&maxResults, "max-results", 0, "maximum detections, 1-10000 (default 100)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newRuleValidateCommand(a *app) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check that a YARA-L file compiles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			text, err := readInput(cmd, file)
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			res, err := client.Rules.Validate(cmd.Context(), string(text))
			if err != nil {
				return err
			}
			if !res.Success {
				msg := "rule is invalid: " + res.Message
				if p := res.Position; p != nil {
					msg += fmt.Sprintf(" (line %d, column %d)", p.StartLine, p.StartColumn)
				}
				return errors.New(msg)
			}
			return a.print(res)
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "rule file, - for stdin")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func newRuleAlertsCommand(a *app) *cobra.Command {
	var maxAlerts int
	cmd := &cobra.Command{
		Use:   "alerts",
		Short: "Search alerts raised by rules in the time range",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			tr, err := a.timeRange()
			if err != nil {
				return err
			}
			res, err := client.Rules.SearchAlerts(cmd.Context(), tr, maxAlerts)
			if err != nil {
				return err
			}
			return a.print(res)
		},
	}
	cmd.Flags().IntVar(&maxAlerts, "max-alerts", 0, "maximum alerts returned")
	return cmd
}

func newRuleRetrohuntCommand(a *app) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "retrohunt RULE_ID",
		Short: "Run a rule over the time range",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			tr, err := a.timeRange()
			if err != nil {
				return err
			}
			op, err := client.Rules.CreateRetrohunt(cmd.Context(), args[0], tr)
			if err != nil {
				return err
			}
			if !wait {
				return a.print(op)
			}
			rh, err := client.Rules.WaitRetrohunt(cmd.Context(), args[0], op.ID(), nil)
			if err != nil {
				return err
			}
			warnPartial(cmd, rh.Complete)
			return a.print(rh)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until the retrohunt finishes")
	return cmd
}
