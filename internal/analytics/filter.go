// Package analytics derives filtered views and statistics from the
// opportunity collection. Everything here is a pure function of its inputs.
package analytics

import (
	"slices"
	"sort"
	"strings"

	"github.com/starford/salesboard/internal/models"
)

// Filters is the conjunctive filter set of the pipeline view.
// An empty field means no constraint.
type Filters struct {
	Search   string   `json:"search,omitempty"`
	Assignee string   `json:"assignee,omitempty"`
	DateFrom string   `json:"dateFrom,omitempty"`
	DateTo   string   `json:"dateTo,omitempty"`
	Stages   []string `json:"stages,omitempty"`
}

// IsZero reports whether no clause is active.
func (f Filters) IsZero() bool {
	return strings.TrimSpace(f.Search) == "" && f.Assignee == "" && f.DateFrom == "" && f.DateTo == "" && len(f.Stages) == 0
}

// Match reports whether o satisfies every active clause.
func (f Filters) Match(o *models.Opportunity) bool {
	if term := strings.ToLower(strings.TrimSpace(f.Search)); term != "" {
		fields := []string{o.Client, o.Summary, o.Assignee}
		if o.ContactInfo != nil {
			fields = append(fields, o.ContactInfo.Name, o.ContactInfo.Email)
		}
		if !slices.ContainsFunc(fields, func(s string) bool {
			return strings.Contains(strings.ToLower(s), term)
		}) {
			return false
		}
	}
	if f.Assignee != "" && o.Assignee != f.Assignee {
		return false
	}
	// YYYY-MM-DD compares correctly as a string.
	if f.DateFrom != "" && o.Date < f.DateFrom {
		return false
	}
	if f.DateTo != "" && o.Date > f.DateTo {
		return false
	}
	if len(f.Stages) > 0 && !slices.Contains(f.Stages, o.Stage) {
		return false
	}
	return true
}

// Filter returns the records matching f, preserving input order.
func Filter(records []models.Opportunity, f Filters) []models.Opportunity {
	out := make([]models.Opportunity, 0, len(records))
	for i := range records {
		if f.Match(&records[i]) {
			out = append(out, records[i])
		}
	}
	return out
}

// Assignees returns the distinct non-empty assignee names, sorted.
func Assignees(records []models.Opportunity) []string {
	seen := make(map[string]struct{})
	for _, o := range records {
		if o.Assignee != "" {
			seen[o.Assignee] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}

// UnknownStageID keys the board column holding records whose stage is no
// longer configured.
const UnknownStageID = "_unknown"

// Column is one board column.
type Column struct {
	Stage      models.Stage         `json:"stage"`
	Records    []models.Opportunity `json:"records"`
	Value      int64                `json:"value"`
	ValueLabel string               `json:"valueLabel"`
}

// GroupByStage lays records out as board columns in registry order.
// Records on a removed stage are collected in a trailing column so they stay visible.
func GroupByStage(records []models.Opportunity, stages []models.Stage) []Column {
	cols := make([]Column, len(stages))
	index := make(map[string]int, len(stages))
	for i, s := range stages {
		cols[i] = Column{Stage: s, Records: []models.Opportunity{}}
		index[s.ID] = i
	}
	orphans := Column{
		Stage:   models.Stage{ID: UnknownStageID, Title: "알 수 없는 단계", Color: "text-gray-700", BgColor: "bg-gray-100"},
		Records: []models.Opportunity{},
	}
	for _, o := range records {
		if i, ok := index[o.Stage]; ok {
			cols[i].Records = append(cols[i].Records, o)
			cols[i].Value += o.Value()
			continue
		}
		orphans.Records = append(orphans.Records, o)
		orphans.Value += o.Value()
	}
	if len(orphans.Records) > 0 {
		cols = append(cols, orphans)
	}
	for i := range cols {
		cols[i].ValueLabel = FormatCurrency(cols[i].Value)
	}
	return cols
}
