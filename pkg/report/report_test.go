package report

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Sternrassler/docket-sync/pkg/record"
	"github.com/Sternrassler/docket-sync/pkg/store"
	"github.com/sebdah/goldie/v2"
)

func fixtureRecords() []record.Record {
	return []record.Record{
		{
			StorageID: "5b1f6c1e-0000-4000-8000-000000000001",
			ID:        "A",
			Attributes: map[string]any{
				"comment": "x",
				"pages":   2.0,
				"tags":    []any{"a", "b"},
			},
			Links:       map[string]any{"self": "https://api.regulations.gov/v4/comments/A"},
			History:     []record.HistoryEntry{},
			LastScanned: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
		},
		{
			StorageID: "5b1f6c1e-0000-4000-8000-000000000002",
			ID:        "B",
			Attributes: map[string]any{
				"comment": "Tom & Jerry <3",
				"title":   "T",
			},
			Links: map[string]any{"self": "https://api.regulations.gov/v4/comments/B"},
			History: []record.HistoryEntry{{
				Scanned: time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC),
				Changes: []record.Change{{Path: "/attributes/title", Op: record.OpChanged, Old: "S", New: "T"}},
			}},
			LastScanned: time.Date(2024, 1, 1, 12, 30, 0, 0, time.UTC),
		},
	}
}

func TestRender_Golden(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, "Docket EPA-HQ-OAR-2021-0317", fixtureRecords()); err != nil {
		t.Fatalf("Render() error = %v", err)
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, "report", buf.Bytes())
}

func TestBuild(t *testing.T) {
	table, err := Build("t", fixtureRecords())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	wantAttrs := []string{"comment", "pages", "tags", "title"}
	if strings.Join(table.Attributes, ",") != strings.Join(wantAttrs, ",") {
		t.Errorf("Attributes = %v, want %v", table.Attributes, wantAttrs)
	}
	if len(table.Rows) != 2 {
		t.Fatalf("len(Rows) = %d, want 2", len(table.Rows))
	}

	a := table.Rows[0]
	if got := strings.Join(a.Values, "|"); got != `x|2|["a","b"]|` {
		t.Errorf("row A values = %q", got)
	}
	if a.History != "[]" {
		t.Errorf("row A history = %q, want []", a.History)
	}
}

func TestCell(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{in: nil, want: ""},
		{in: "text", want: "text"},
		{in: true, want: "true"},
		{in: 1.5, want: "1.5"},
		{in: 1e6, want: "1000000"},
		{in: map[string]any{"k": "v"}, want: `{"k":"v"}`},
	}

	for _, tt := range tests {
		got, err := cell(tt.in)
		if err != nil {
			t.Errorf("cell(%v) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("cell(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPublish(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	for _, rec := range fixtureRecords() {
		if _, err := st.Upsert(ctx, rec); err != nil {
			t.Fatalf("Upsert() error = %v", err)
		}
	}

	path := filepath.Join(t.TempDir(), "out", "index.html")
	n, err := Publish(ctx, st, path, "Docket")
	if err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if n != 2 {
		t.Errorf("Publish() = %d, want 2", n)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if !strings.Contains(string(data), "<td>B</td>") {
		t.Errorf("report does not contain row B:\n%s", data)
	}
}
