// Package report renders stored records as a static HTML table.
//
// Each record becomes one row: id, self link, one column per attribute key
// (the sorted union over all records), the last scan time and the change
// history as JSON.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/Sternrassler/docket-sync/pkg/record"
	"github.com/rs/zerolog/log"
)

// Lister returns every stored record. store.RecordStore implements it.
type Lister interface {
	List(ctx context.Context) ([]record.Record, error)
}

// Table is the tabular form of a record set.
type Table struct {
	Title      string
	Attributes []string
	Rows       []Row
}

// Row is one record.
type Row struct {
	ID      string
	Link    string
	Values  []string
	Scanned string
	History string
}

var page = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
</head>
<body>
<table border="1">
<thead>
<tr>
<th>id</th>
<th>link</th>
{{- range .Attributes}}
<th>{{.}}</th>
{{- end}}
<th>_scanned</th>
<th>_history</th>
</tr>
</thead>
<tbody>
{{- range .Rows}}
<tr>
<td>{{.ID}}</td>
<td><a href="{{.Link}}">{{.Link}}</a></td>
{{- range .Values}}
<td>{{.}}</td>
{{- end}}
<td>{{.Scanned}}</td>
<td>{{.History}}</td>
</tr>
{{- end}}
</tbody>
</table>
</body>
</html>
`))

// Build flattens records into a table.
func Build(title string, records []record.Record) (Table, error) {
	keys := make(map[string]struct{})
	for _, rec := range records {
		for key := range rec.Attributes {
			keys[key] = struct{}{}
		}
	}

	table := Table{Title: title, Attributes: make([]string, 0, len(keys))}
	for key := range keys {
		table.Attributes = append(table.Attributes, key)
	}
	sort.Strings(table.Attributes)

	for _, rec := range records {
		row := Row{
			ID:      rec.ID,
			Link:    rec.SelfLink(),
			Values:  make([]string, len(table.Attributes)),
			Scanned: rec.LastScanned.UTC().Format(time.RFC3339),
		}
		for i, key := range table.Attributes {
			value, err := cell(rec.Attributes[key])
			if err != nil {
				return Table{}, fmt.Errorf("record %s attribute %s: %w", rec.ID, key, err)
			}
			row.Values[i] = value
		}

		history := rec.History
		if history == nil {
			history = []record.HistoryEntry{}
		}
		data, err := json.Marshal(history)
		if err != nil {
			return Table{}, fmt.Errorf("record %s history: %w", rec.ID, err)
		}
		row.History = string(data)

		table.Rows = append(table.Rows, row)
	}
	return table, nil
}

// cell renders a scalar as text and anything else as JSON.
func cell(v any) (string, error) {
	switch value := v.(type) {
	case nil:
		return "", nil
	case string:
		return value, nil
	case bool:
		return strconv.FormatBool(value), nil
	case float64:
		return strconv.FormatFloat(value, 'f', -1, 64), nil
	case json.Number:
		return value.String(), nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Render writes the HTML report for records.
func Render(w io.Writer, title string, records []record.Record) error {
	table, err := Build(title, records)
	if err != nil {
		return err
	}
	if err := page.Execute(w, table); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}

// Publish renders every record from src into the file at path, creating
// parent directories as needed.
func Publish(ctx context.Context, src Lister, path, title string) (int, error) {
	records, err := src.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("list records: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create output directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create report: %w", err)
	}

	if err := Render(f, title, records); err != nil {
		f.Close()
		return 0, err
	}
	if err := f.Close(); err != nil {
		return 0, fmt.Errorf("close report: %w", err)
	}

	log.Info().
		Str("component", "report").
		Str("path", path).
		Int("records", len(records)).
		Msg("Report published")
	return len(records), nil
}
