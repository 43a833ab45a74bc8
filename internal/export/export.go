// Package export serializes the opportunity collection to CSV and JSON
// snapshot files.
package export

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/starford/salesboard/internal/models"
)

// Format is an export file format.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
)

// ParseFormat validates a user supplied format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatCSV, FormatJSON:
		return f, nil
	default:
		return "", fmt.Errorf("export: unsupported format %q", s)
	}
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	if f == FormatJSON {
		return "application/json; charset=utf-8"
	}
	return "text/csv; charset=utf-8"
}

// FilePrefix is the base name of export files.
const FilePrefix = "영업데이터"

const bom = "\ufeff"

// Header is the fixed CSV column order.
var Header = []string{
	"ID", "고객사명", "미팅날짜", "담당자", "영업단계", "요약", "액션아이템", "예상가치",
	"생성일", "수정일", "담당자이름", "담당자이메일", "담당자연락처", "담당자직책", "회의내용원문", "미팅횟수",
}

// Labeler resolves a stage id to its display label.
type Labeler interface {
	Label(id string) string
}

// Exporter writes export files.
type Exporter struct {
	labels Labeler
	now    func() time.Time
	loc    *time.Location
}

// Option configures an Exporter.
type Option func(*Exporter)

// WithClock overrides the export timestamp source.
func WithClock(now func() time.Time) Option {
	return func(e *Exporter) { e.now = now }
}

// WithLocation sets the zone used to print timestamps.
func WithLocation(loc *time.Location) Option {
	return func(e *Exporter) { e.loc = loc }
}

// New creates an Exporter that labels stages through labels.
func New(labels Labeler, opts ...Option) *Exporter {
	e := &Exporter{labels: labels, now: time.Now, loc: time.Local}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Filename returns the dated download name, e.g. 영업데이터_2026-10-17.csv.
func (e *Exporter) Filename(f Format) string {
	return FilePrefix + "_" + e.now().UTC().Format(models.DateLayout) + "." + string(f)
}

// Write dispatches on the format.
func (e *Exporter) Write(w io.Writer, f Format, records []models.Opportunity) error {
	if f == FormatJSON {
		return e.WriteJSON(w, records)
	}
	return e.WriteCSV(w, records)
}

// WriteCSV writes a BOM-prefixed CSV with every free-text field quoted.
func (e *Exporter) WriteCSV(w io.Writer, records []models.Opportunity) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(bom)
	bw.WriteString(strings.Join(Header, ","))
	for i := range records {
		bw.WriteByte('\n')
		bw.WriteString(strings.Join(e.row(&records[i]), ","))
	}
	bw.WriteByte('\n')
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("export: write csv: %w", err)
	}
	return nil
}

func (e *Exporter) row(o *models.Opportunity) []string {
	var c models.ContactInfo
	if o.ContactInfo != nil {
		c = *o.ContactInfo
	}
	return []string{
		o.ID,
		quote(o.Client),
		e.formatDay(o.Date),
		quote(o.Assignee),
		quote(e.labels.Label(o.Stage)),
		quote(o.Summary),
		quote(strings.Join(o.ActionItems, "; ")),
		strconv.FormatInt(o.Value(), 10),
		e.formatTime(o.CreatedAt),
		e.formatTime(o.UpdatedAt),
		quote(c.Name),
		quote(c.Email),
		quote(c.Phone),
		quote(c.Position),
		quote(o.OriginalContent),
		strconv.Itoa(o.MeetingCount()),
	}
}

// quote wraps s in double quotes, doubling embedded quotes.
func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// koreanDate mirrors the ko-KR short date form.
const koreanDate = "2006. 1. 2."

func (e *Exporter) formatDay(day string) string {
	t, err := time.Parse(models.DateLayout, day)
	if err != nil {
		return quote(day)
	}
	return t.Format(koreanDate)
}

func (e *Exporter) formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.In(e.loc).Format(koreanDate)
}

// Snapshot is the JSON export document.
type Snapshot struct {
	ExportDate time.Time `json:"exportDate"`
	TotalCards int       `json:"totalCards"`
	Data       []Entry   `json:"data"`
}

// Entry is one exported record with its derived fields.
type Entry struct {
	models.Opportunity
	MeetingCount int    `json:"meetingCount"`
	StageLabel   string `json:"stageLabel"`
}

// BuildSnapshot assembles the JSON export document.
func (e *Exporter) BuildSnapshot(records []models.Opportunity) Snapshot {
	s := Snapshot{
		ExportDate: e.now().UTC(),
		TotalCards: len(records),
		Data:       make([]Entry, 0, len(records)),
	}
	for _, o := range records {
		s.Data = append(s.Data, Entry{
			Opportunity:  o,
			MeetingCount: o.MeetingCount(),
			StageLabel:   e.labels.Label(o.Stage),
		})
	}
	return s
}

// WriteJSON writes the indented JSON snapshot.
func (e *Exporter) WriteJSON(w io.Writer, records []models.Opportunity) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(e.BuildSnapshot(records)); err != nil {
		return fmt.Errorf("export: write json: %w", err)
	}
	return nil
}
