package cli

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tphakala/go-chronicle"
)

// parseHeader reads "name:TYPE,name:TYPE". A missing type means STRING.
func parseHeader(s string) ([]chronicle.DataTableColumn, error) {
	var cols []chronicle.DataTableColumn
	for _, part := range splitList(s) {
		name, typ, found := strings.Cut(part, ":")
		col := chronicle.DataTableColumn{Name: strings.TrimSpace(name), Type: chronicle.ColumnTypeString}
		if found {
			t, err := chronicle.ParseColumnType(strings.ToUpper(strings.TrimSpace(typ)))
			if err != nil {
				return nil, err
			}
			col.Type = t
		}
		cols = append(cols, col)
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("--header needs at least one column")
	}
	return cols, nil
}

// loadRows reads rows from a JSON array of arrays or from a CSV file.
func loadRows(cmd *cobra.Command, rowsJSON, rowsFile string) ([][]string, error) {
	switch {
	case rowsJSON != "" && rowsFile != "":
		return nil, fmt.Errorf("use either --rows or --rows-file, not both")
	case rowsJSON != "":
		var rows [][]string
		if err := json.Unmarshal([]byte(rowsJSON), &rows); err != nil {
			return nil, fmt.Errorf("parsing --rows: %w", err)
		}
		return rows, nil
	case rowsFile != "":
		data, err := readInput(cmd, rowsFile)
		if err != nil {
			return nil, err
		}
		r := csv.NewReader(bytes.NewReader(data))
		r.FieldsPerRecord = -1
		rows, err := r.ReadAll()
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", rowsFile, err)
		}
		return rows, nil
	default:
		return nil, nil
	}
}

func newDataTableCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "data-table",
		Short: "Manage data tables",
	}

	var orderBy string
	list := &cobra.Command{
		Use:   "list",
		Short: "List data tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			tables, err := client.DataTables.List(cmd.Context(), orderBy)
			if err != nil {
				return err
			}
			return a.print(tables)
		},
	}
	list.Flags().StringVar(&orderBy, "order-by", "", `sort order; the API accepts "createTime asc"`)

	get := &cobra.Command{
		Use:   "get NAME",
		Short: "Get a data table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			table, err := client.DataTables.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return a.print(table)
		},
	}

	cmd.AddCommand(list, get,
		newDataTableCreateCommand(a),
		newDataTableDeleteCommand(a),
		newDataTableListRowsCommand(a),
		newDataTableAddRowsCommand(a),
		newDataTableDeleteRowsCommand(a),
	)
	return cmd
}

func newDataTableCreateCommand(a *app) *cobra.Command {
	var (
		description string
		header      string
		rowsJSON    string
		rowsFile    string
		scopes      string
	)
	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a data table, optionally with rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cols, err := parseHeader(header)
			if err != nil {
				return err
			}
			rows, err := loadRows(cmd, rowsJSON, rowsFile)
			if err != nil {
				return err
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			var opts *chronicle.DataTableCreateOptions
			if s := splitList(scopes); len(s) > 0 {
				opts = &chronicle.DataTableCreateOptions{Scopes: s}
			}
			table, err := client.DataTables.Create(cmd.Context(), args[0], description, cols, rows, opts)
			if err != nil {
				return err
			}
			if table.RowCreationError != "" {
				fmt.Fprintln(cmd.ErrOrStderr(), "warning: table created but rows failed:", table.RowCreationError)
			}
			return a.print(table)
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "table description")
	cmd.Flags().StringVar(&header, "header", "", "columns as name:TYPE,... with TYPE STRING, REGEX or CIDR")
	cmd.Flags().StringVar(&rowsJSON, "rows", "", `rows as a JSON array of arrays, e.g. [["a","10.0.0.0/8"]]`)
	cmd.Flags().StringVar(&rowsFile, "rows-file", "", "rows as a CSV file, - for stdin")
	cmd.Flags().StringVar(&scopes, "scopes", "", "comma-separated data access scopes")
	_ = cmd.MarkFlagRequired("header")
	return cmd
}

func newDataTableDeleteCommand(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "delete NAME",
		Short: "Delete a data table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			if err := client.DataTables.Delete(cmd.Context(), args[0], force); err != nil {
				return err
			}
			return a.printText(fmt.Sprintf("Data table %s deleted.", args[0]))
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "delete even if the table has rows")
	return cmd
}

func newDataTableListRowsCommand(a *app) *cobra.Command {
	var orderBy string
	cmd := &cobra.Command{
		Use:   "list-rows NAME",
		Short: "List the rows of a data table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := a.client()
			if err != nil {
				return err
			}
			rows, err := client.DataTables.ListRows(cmd.Context(), args[0], orderBy)
			if err != nil {
				return err
			}
			return a.print(rows)
		},
	}
	cmd.Flags().StringVar(&orderBy, "order-by", "", `sort order; the API accepts "createTime asc"`)
	return cmd
}

func newDataTableAddRowsCommand(a *app) *cobra.Command {
	var rowsJSON, rowsFile string
	cmd := &cobra.Command{
		Use:   "add-rows NAME",
		Short: "Append rows to a data table",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := loadRows(cmd, rowsJSON, rowsFile)
			if err != nil {
				return err
			}
			if len(rows) == 0 {
				return fmt.Errorf("no rows given; use --rows or --rows-file")
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			responses, err := client.DataTables.CreateRows(cmd.Context(), args[0], rows)
			if err != nil {
				return err
			}
			return a.print(responses)
		},
	}
	cmd.Flags().StringVar(&rowsJSON, "rows", "", "rows as a JSON array of arrays")
	cmd.Flags().StringVar(&rowsFile, "rows-file", "", "rows as a CSV file, - for stdin")
	return cmd
}

func newDataTableDeleteRowsCommand(a *app) *cobra.Command {
	var rowIDs string
	cmd := &cobra.Command{
		Use:   "delete-rows NAME",
		Short: "Delete rows by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := splitList(rowIDs)
			if len(ids) == 0 {
				return fmt.Errorf("--row-ids is required")
			}
			client, err := a.client()
			if err != nil {
				return err
			}
			n, err := client.DataTables.DeleteRows(cmd.Context(), args[0], ids)
			if err != nil {
				return fmt.Errorf("deleted %d of %d rows: %w", n, len(ids), err)
			}
			return a.printText(fmt.Sprintf("Deleted %d rows.", n))
		},
	}
	cmd.Flags().StringVar(&rowIDs, "row-ids", "", "comma-separated row IDs")
	return cmd
}
