package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tphakala/go-chronicle"
)

// loadEntries reads comma-separated entries or one entry per file line.
func loadEntries(cmd *cobra.Command, entries, file string) ([]string, error) {
	if entries != "" && file != "" {
		return nil, fmt.Errorf("use either --entries or --entries-file, not both")
	}
	if file == "" {
		return splitList(entries), nil
	}
	data, err := readInput(cmd, file)
	if err != nil {
		return nil, err
	}
	var out []string
	for line := range strings.Lines(string(data)) {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out, nil
}

func parseView(s string) (chronicle.ReferenceListView, error) {
	switch strings.ToUpper(s) {
	case "":
		return "", nil
	case "BASIC", string(chronicle.ViewBasic):
		return chronicle.ViewBasic, nil
	case "FULL", string(chronicle.ViewFull):
		return chronicle.ViewFull, nil
	default:
		return "", fmt.Errorf("unknown view %q; use BASIC or FULL", s)
	}
}

func newReferenceListCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reference-list",
		Short: "Manage reference lists",
	}

	var listView string
	list := &cobra.Command{
		Use:   "list",
		Short: "List reference lists",
		RunE: func(cmd *cobra.Command, _ []string) error {
			view, err := parseView(listView)
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			lists, err := client.ReferenceLists.List(cmd.Context(), view)
			if err != nil {
				return err
			}
			return a.print(lists)
		},
	}
	list.Flags().StringVar(&listView, "view", "", "BASIC (default) or FULL")

	var getView string
	get := &cobra.Command{
		Use:   "get NAME",
		Short: "Get a reference list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			view, err := parseView(getView)
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			rl, err := client.ReferenceLists.Get(cmd.Context(), args[0], view)
			if err != nil {
				return err
			}
			return a.print(rl)
		},
	}
	get.Flags().StringVar(&getView, "view", "", "BASIC or FULL (default)")

	var description, entries, entriesFile, syntax string
	create := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a reference list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			values, err := loadEntries(cmd, entries, entriesFile)
			if err != nil {
				return err
			}
			st, err := chronicle.ParseReferenceListSyntax(syntax)
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			rl, err := client.ReferenceLists.Create(cmd.Context(), args[0], description, values, st)
			if err != nil {
				return err
			}
			return a.print(rl)
		},
	}
	create.Flags().StringVar(&description, "description", "", "list description")
	create.Flags().StringVar(&entries, "entries", "", "comma-separated entries")
	create.Flags().StringVar(&entriesFile, "entries-file", "", "file with one entry per line, - for stdin")
	create.Flags().StringVar(&syntax, "syntax-type", "STRING", "STRING, REGEX or CIDR")

	var newDescription, newEntries, newEntriesFile string
	update := &cobra.Command{
		Use:   "update NAME",
		Short: "Replace a reference list's description or entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var u chronicle.ReferenceListUpdate
			if cmd.Flags().Changed("description") {
				u.Description = &newDescription
			}
			if cmd.Flags().Changed("entries") || cmd.Flags().Changed("entries-file") {
				values, err := loadEntries(cmd, newEntries, newEntriesFile)
				if err != nil {
					return err
				}
				u.Entries = append([]string{}, values...)
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			rl, err := client.ReferenceLists.Update(cmd.Context(), args[0], u)
			if err != nil {
				return err
			}
			return a.print(rl)
		},
	}
	update.Flags().StringVar(&newDescription, "description", "", "new description")
	update.Flags().StringVar(&newEntries, "entries", "", "comma-separated entries")
	update.Flags().StringVar(&newEntriesFile, "entries-file", "", "file with one entry per line, - for stdin")

	cmd.AddCommand(list, get, create, update)
	return cmd
}
