package analytics

import (
	"reflect"
	"testing"

	"github.com/starford/salesboard/internal/models"
)

func sample() []models.Opportunity {
	return []models.Opportunity{
		{ID: "1", Client: "Acme", Assignee: "김철수", Date: "2026-10-01", Stage: models.StageLead, Summary: "initial call",
			ContactInfo: &models.ContactInfo{Name: "Jane", Email: "jane@acme.io"}},
		{ID: "2", Client: "Globex", Assignee: "이영희", Date: "2026-09-15", Stage: models.StageProposal, Summary: "견적 요청"},
		{ID: "3", Client: "Initech", Assignee: "김철수", Date: "2026-08-20", Stage: models.StageCompleted, Summary: "signed"},
		{ID: "4", Client: "Umbrella", Assignee: "박민수", Date: "2026-10-10", Stage: "custom_1", Summary: "demo"},
	}
}

func ids(records []models.Opportunity) []string {
	out := make([]string, 0, len(records))
	for _, r := range records {
		out = append(out, r.ID)
	}
	return out
}

func TestFilterClauses(t *testing.T) {
	tests := []struct {
		name string
		f    Filters
		want []string
	}{
		{"empty filters match all", Filters{}, []string{"1", "2", "3", "4"}},
		{"search client case-insensitive", Filters{Search: "acme"}, []string{"1"}},
		{"search contact email", Filters{Search: "JANE@"}, []string{"1"}},
		{"search summary", Filters{Search: "견적"}, []string{"2"}},
		{"search assignee", Filters{Search: "김철"}, []string{"1", "3"}},
		{"assignee equality", Filters{Assignee: "김철수"}, []string{"1", "3"}},
		{"date from inclusive", Filters{DateFrom: "2026-09-15"}, []string{"1", "2", "4"}},
		{"date to inclusive", Filters{DateTo: "2026-09-15"}, []string{"2", "3"}},
		{"stage set", Filters{Stages: []string{models.StageLead, "custom_1"}}, []string{"1", "4"}},
		{"conjunctive", Filters{Assignee: "김철수", Stages: []string{models.StageCompleted}}, []string{"3"}},
		{"no match", Filters{Search: "zzz"}, []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ids(Filter(sample(), tt.f))
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFilterIsIdempotentSubset(t *testing.T) {
	all := sample()
	f := Filters{Search: "i", DateFrom: "2026-08-01", Stages: []string{models.StageLead, models.StageCompleted}}
	once := Filter(all, f)
	twice := Filter(once, f)
	if !reflect.DeepEqual(ids(once), ids(twice)) {
		t.Errorf("not idempotent: %v vs %v", ids(once), ids(twice))
	}
	for i := range once {
		if !f.Match(&once[i]) {
			t.Errorf("record %s does not satisfy filters", once[i].ID)
		}
	}
	if len(once) > len(all) {
		t.Error("filtered set larger than input")
	}
}

func TestAssignees(t *testing.T) {
	got := Assignees(sample())
	want := []string{"김철수", "박민수", "이영희"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestGroupByStageKeepsOrphans(t *testing.T) {
	stages := []models.Stage{{ID: models.StageLead}, {ID: models.StageProposal}, {ID: models.StageCompleted}}
	cols := GroupByStage(sample(), stages)
	if len(cols) != 4 {
		t.Fatalf("columns = %d, want 4", len(cols))
	}
	last := cols[3]
	if last.Stage.ID != UnknownStageID || len(last.Records) != 1 || last.Records[0].ID != "4" {
		t.Errorf("orphan column = %+v", last)
	}
	if cols[0].Value != models.DefaultEstimatedValue || cols[0].ValueLabel != "5천만원" {
		t.Errorf("lead value = %d (%q)", cols[0].Value, cols[0].ValueLabel)
	}
}

func TestFormatCurrency(t *testing.T) {
	cases := map[int64]string{
		150_000_000: "1.5억원",
		50_000_000:  "5천만원",
		3_000_000:   "300만원",
		10_000:      "1만원",
		9_999:       "9,999원",
		999:         "999원",
		0:           "0원",
	}
	for in, want := range cases {
		if got := FormatCurrency(in); got != want {
			t.Errorf("FormatCurrency(%d) = %q, want %q", in, got, want)
		}
	}
	if got := FormatWon(50_000_000); got != "50,000,000원" {
		t.Errorf("FormatWon = %q", got)
	}
	if got := FormatWon(999); got != "999원" {
		t.Errorf("FormatWon = %q", got)
	}
}
