package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/mickamy/auditry"
)

var listOpts struct {
	table     string
	entity    string
	operation string
	user      string
	from      string
	to        string
	page      int
	size      int
	asc       bool
}

func init() {
	logsCmd := &cobra.Command{
		Use:   "logs",
		Short: "Query audit records",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List audit records, newest first",
		RunE:  runList,
	}
	f := listCmd.Flags()
	f.StringVar(&listOpts.table, "table-name", "", "logical table recorded by the strategy")
	f.StringVar(&listOpts.entity, "entity", "", "entity id")
	f.StringVar(&listOpts.operation, "op", "", "Insert, Update or Delete")
	f.StringVar(&listOpts.user, "user", "", "user id")
	f.StringVar(&listOpts.from, "from", "", "earliest timestamp (RFC 3339)")
	f.StringVar(&listOpts.to, "to", "", "latest timestamp (RFC 3339)")
	f.IntVar(&listOpts.page, "page", 1, "page number")
	f.IntVar(&listOpts.size, "size", auditry.DefaultPageSize, "page size")
	f.BoolVar(&listOpts.asc, "asc", false, "oldest first")

	getCmd := &cobra.Command{
		Use:   "get ID",
		Short: "Show one audit record with its old and new values",
		Args:  cobra.ExactArgs(1),
		RunE:  runGet,
	}

	summaryCmd := &cobra.Command{
		Use:   "summary",
		Short: "Aggregate counts over the audit log",
		RunE:  runSummary,
	}

	logsCmd.AddCommand(listCmd, getCmd, summaryCmd)
	rootCmd.AddCommand(logsCmd)
}

func buildFilter() (auditry.Filter, error) {
	f := auditry.Filter{
		TableName: listOpts.table,
		EntityID:  listOpts.entity,
		UserID:    listOpts.user,
		Page:      listOpts.page,
		PageSize:  listOpts.size,
		Ascending: listOpts.asc,
	}
	if listOpts.operation != "" {
		op, err := auditry.ParseOperation(listOpts.operation)
		if err != nil {
			return auditry.Filter{}, err
		}
		f.Operation = op
	}
	var err error
	if f.From, err = parseTimeFlag("from", listOpts.from); err != nil {
		return auditry.Filter{}, err
	}
	if f.To, err = parseTimeFlag("to", listOpts.to); err != nil {
		return auditry.Filter{}, err
	}
	return f, nil
}

func parseTimeFlag(name, v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("invalid --%s: %w", name, err)
	}
	return &t, nil
}

func runList(cmd *cobra.Command, _ []string) error {
	filter, err := buildFilter()
	if err != nil {
		return err
	}
	reader, closeDB, err := openReader()
	if err != nil {
		return err
	}
	defer closeDB()

	page, err := reader.Search(cmd.Context(), filter)
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(cmd.OutOrStdout(), page)
	}
	rows := make([][]interface{}, 0, len(page.Entries))
	for _, e := range page.Entries {
		rows = append(rows, []interface{}{e.ID, e.Timestamp.Format(time.RFC3339), e.TableName, e.EntityID, e.Operation, e.UserID})
	}
	renderTable(cmd.OutOrStdout(), []string{"ID", "TIMESTAMP", "TABLE", "ENTITY", "OPERATION", "USER"}, rows)
	fmt.Fprintf(cmd.OutOrStdout(), "page %d/%d, %d records\n", page.Page, page.TotalPages, page.TotalCount)
	return nil
}

func runGet(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid id %q", args[0])
	}
	reader, closeDB, err := openReader()
	if err != nil {
		return err
	}
	defer closeDB()

	e, err := reader.Get(cmd.Context(), id)
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(cmd.OutOrStdout(), e)
	}
	renderTable(cmd.OutOrStdout(), []string{"FIELD", "OLD", "NEW"}, fieldRows(e.OldValues, e.NewValues))
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s/%s by %s at %s\n", e.Operation, e.TableName, e.EntityID, e.UserID, e.Timestamp.Format(time.RFC3339Nano))
	return nil
}

func runSummary(cmd *cobra.Command, _ []string) error {
	reader, closeDB, err := openReader()
	if err != nil {
		return err
	}
	defer closeDB()

	s, err := reader.Summary(cmd.Context())
	if err != nil {
		return err
	}
	if flagJSON {
		return printJSON(cmd.OutOrStdout(), s)
	}
	renderTable(cmd.OutOrStdout(), []string{"METRIC", "VALUE"}, [][]interface{}{
		{"records", s.TotalRecords},
		{"tables", s.DistinctTables},
		{"entities", s.DistinctEntities},
		{"operations", s.DistinctOperations},
		{"users", s.DistinctUsers},
		{"earliest", formatOptional(s.Earliest)},
		{"latest", formatOptional(s.Latest)},
	})
	return nil
}

func openReader() (*auditry.Reader, func(), error) {
	db, err := openDB()
	if err != nil {
		return nil, nil, err
	}
	reader, err := auditry.NewReader(db, cfg)
	if err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return reader, func() { _ = db.Close() }, nil
}

func formatOptional(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}
