package cmd

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/datastore"
	"github.com/GoogleCloudPlatform/datanucleus-appengine-sub004/query"
)

type tableFormatter struct {
	table *tablewriter.Table
}

func newTableFormatter(w io.Writer, header []string) *tableFormatter {
	table := tablewriter.NewWriter(w)
	table.SetColWidth(24)
	table.SetRowLine(false)
	table.SetHeader(header)
	table.SetAutoFormatHeaders(false)

	return &tableFormatter{
		table: table,
	}
}

func (t *tableFormatter) Write(values []interface{}) {
	row := make([]string, len(values))
	for i := range values {
		row[i] = formatValue(values[i])
	}
	t.table.Append(row)
}

func (t *tableFormatter) Close() {
	t.table.Render()
}

// resultHeader returns the columns for results of the query.
func resultHeader(qd *query.QueryData) []string {
	switch {
	case qd.Count:
		return []string{"count"}
	case len(qd.Projection) > 0:
		return qd.Projection
	case qd.ResultType == query.ResultTypeKeysOnly:
		return []string{datastore.KeyPropertyName}
	}
	header := make([]string, len(qd.Class.Members))
	for i, member := range qd.Class.Members {
		header[i] = member.Name
	}
	return header
}

// resultRow spreads a single result over the columns of the header.
func resultRow(header []string, result interface{}) []interface{} {
	if len(header) == 1 {
		return []interface{}{result}
	}
	switch result := result.(type) {
	case []interface{}:
		return result
	case map[string]interface{}:
		row := make([]interface{}, len(header))
		for i := range header {
			row[i] = result[header[i]]
		}
		return row
	}
	return []interface{}{result}
}

func formatValue(v interface{}) string {
	switch v := v.(type) {
	case nil:
		return ""
	case *datastore.Key:
		if v == nil {
			return ""
		}
		return v.String()
	case time.Time:
		return v.Format(time.RFC3339Nano)
	case []interface{}:
		parts := make([]string, len(v))
		for i := range v {
			parts[i] = formatValue(v[i])
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]interface{}:
		names := make([]string, 0, len(v))
		for name := range v {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, len(names))
		for i, name := range names {
			parts[i] = name + ": " + formatValue(v[name])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	}
	return fmt.Sprint(v)
}
