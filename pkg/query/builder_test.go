package query_test

import (
	"testing"

	"github.com/JaimeStill/rxflow/pkg/query"
)

func errorsProjection() *query.ProjectionMap {
	return query.NewProjectionMap("public", "upload_errors", "e").
		Project("line", "line").
		Project("field", "field").
		Project("message", "message")
}

func TestBuilderPage(t *testing.T) {
	b := query.NewBuilder(errorsProjection(), query.SortField{Field: "line"}).
		WhereEquals("upload_id", "abc")

	sql, args := b.BuildPage(2, 50)
	want := "SELECT e.line, e.field, e.message FROM public.upload_errors e WHERE upload_id = $1 ORDER BY e.line ASC LIMIT 50 OFFSET 50"
	if sql != want {
		t.Errorf("BuildPage() sql = %q\nwant %q", sql, want)
	}
	if len(args) != 1 || args[0] != "abc" {
		t.Errorf("BuildPage() args = %v", args)
	}
}

func TestBuilderCount(t *testing.T) {
	sql, args := query.NewBuilder(errorsProjection()).
		WhereEquals("line", 3).
		WhereEquals("field", "doctor_uf").
		BuildCount()

	want := "SELECT COUNT(*) FROM public.upload_errors e WHERE e.line = $1 AND e.field = $2"
	if sql != want {
		t.Errorf("BuildCount() sql = %q\nwant %q", sql, want)
	}
	if len(args) != 2 {
		t.Errorf("BuildCount() args = %v", args)
	}
}

func TestBuilderSkipsNil(t *testing.T) {
	var field *string
	sql, args := query.NewBuilder(errorsProjection()).WhereEquals("field", field).Build()

	if sql != "SELECT e.line, e.field, e.message FROM public.upload_errors e" {
		t.Errorf("Build() sql = %q", sql)
	}
	if len(args) != 0 {
		t.Errorf("Build() args = %v, want none", args)
	}
}

func TestOrderByFieldsDropsUnmapped(t *testing.T) {
	sql, _ := query.NewBuilder(errorsProjection(), query.SortField{Field: "line"}).
		OrderByFields(query.ParseSortFields("-field,1;DROP TABLE x")).
		Build()

	want := "SELECT e.line, e.field, e.message FROM public.upload_errors e ORDER BY e.field DESC"
	if sql != want {
		t.Errorf("Build() sql = %q\nwant %q", sql, want)
	}
}

func TestParseSortFields(t *testing.T) {
	tests := []struct {
		in   string
		want []query.SortField
	}{
		{"", nil},
		{"line", []query.SortField{{Field: "line"}}},
		{"line, -field ,", []query.SortField{{Field: "line"}, {Field: "field", Descending: true}}},
	}

	for _, tt := range tests {
		got := query.ParseSortFields(tt.in)
		if len(got) != len(tt.want) {
			t.Fatalf("ParseSortFields(%q) = %v, want %v", tt.in, got, tt.want)
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("ParseSortFields(%q)[%d] = %v, want %v", tt.in, i, got[i], tt.want[i])
			}
		}
	}
}
