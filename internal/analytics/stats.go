package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/starford/salesboard/internal/models"
)

// TrendMonths is the number of monthly trend buckets.
const TrendMonths = 6

// TopPerformerCount caps the top performers list.
const TopPerformerCount = 5

// Stats is the dashboard summary of a collection.
type Stats struct {
	TotalCards        int            `json:"totalCards"`
	ActiveCards       int            `json:"activeCards"`
	CompletedCards    int            `json:"completedCards"`
	ConversionRate    int            `json:"conversionRate"`
	TotalValue        int64          `json:"totalValue"`
	TotalValueLabel   string         `json:"totalValueLabel"`
	StageDistribution []StageStat    `json:"stageDistribution"`
	AssigneeCounts    map[string]int `json:"assigneeCounts"`
	TopPerformers     []AssigneeStat `json:"topPerformers"`
	MonthlyTrend      []MonthBucket  `json:"monthlyTrend"`
}

// StageStat is the count and summed value of one stage.
type StageStat struct {
	StageID    string `json:"stageId"`
	Title      string `json:"title"`
	Color      string `json:"color"`
	Count      int    `json:"count"`
	Value      int64  `json:"value"`
	ValueLabel string `json:"valueLabel"`
	Percent    int    `json:"percent"`
}

// AssigneeStat is one entry of the top performers list.
type AssigneeStat struct {
	Assignee string `json:"assignee"`
	Count    int    `json:"count"`
}

// MonthBucket aggregates the records dated in one calendar month.
type MonthBucket struct {
	Month      string `json:"month"` // YYYY-MM
	Count      int    `json:"count"`
	Value      int64  `json:"value"`
	ValueLabel string `json:"valueLabel"`
}

// Percent returns round(part/total*100), or 0 when total is 0.
func Percent(part, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(float64(part) / float64(total) * 100))
}

// Summarize aggregates records against the configured stages. now anchors the monthly trend.
func Summarize(records []models.Opportunity, stages []models.Stage, now time.Time) Stats {
	st := Stats{
		TotalCards:     len(records),
		AssigneeCounts: make(map[string]int),
	}

	var order []string
	for i := range records {
		o := &records[i]
		if o.Stage == models.StageCompleted {
			st.CompletedCards++
		}
		st.TotalValue += o.Value()
		if _, ok := st.AssigneeCounts[o.Assignee]; !ok {
			order = append(order, o.Assignee)
		}
		st.AssigneeCounts[o.Assignee]++
	}
	st.ActiveCards = st.TotalCards - st.CompletedCards
	st.ConversionRate = Percent(st.CompletedCards, st.TotalCards)
	st.TotalValueLabel = FormatCurrency(st.TotalValue)

	st.StageDistribution = StageDistribution(records, stages)
	st.TopPerformers = topPerformers(st.AssigneeCounts, order)
	st.MonthlyTrend = MonthlyTrend(records, now)
	return st
}

// StageDistribution counts records per configured stage, in registry order.
func StageDistribution(records []models.Opportunity, stages []models.Stage) []StageStat {
	out := make([]StageStat, len(stages))
	index := make(map[string]int, len(stages))
	for i, s := range stages {
		out[i] = StageStat{StageID: s.ID, Title: s.Title, Color: s.BgColor}
		index[s.ID] = i
	}
	for i := range records {
		if j, ok := index[records[i].Stage]; ok {
			out[j].Count++
			out[j].Value += records[i].Value()
		}
	}
	for i := range out {
		out[i].Percent = Percent(out[i].Count, len(records))
		out[i].ValueLabel = FormatCurrency(out[i].Value)
	}
	return out
}

// topPerformers sorts by count descending; equal counts keep first-seen order.
func topPerformers(counts map[string]int, order []string) []AssigneeStat {
	out := make([]AssigneeStat, 0, len(order))
	for _, a := range order {
		out = append(out, AssigneeStat{Assignee: a, Count: counts[a]})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Count > out[j].Count })
	if len(out) > TopPerformerCount {
		out = out[:TopPerformerCount]
	}
	return out
}

// MonthlyTrend buckets records by the year-month of their date over the
// trailing six calendar months, oldest first. Empty months are kept.
func MonthlyTrend(records []models.Opportunity, now time.Time) []MonthBucket {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, now.Location())
	buckets := make([]MonthBucket, TrendMonths)
	index := make(map[string]int, TrendMonths)
	for i := range TrendMonths {
		key := first.AddDate(0, i-(TrendMonths-1), 0).Format("2006-01")
		buckets[i] = MonthBucket{Month: key}
		index[key] = i
	}
	for i := range records {
		d := records[i].Date
		if len(d) < 7 {
			continue
		}
		if j, ok := index[d[:7]]; ok {
			buckets[j].Count++
			buckets[j].Value += records[i].Value()
		}
	}
	for i := range buckets {
		buckets[i].ValueLabel = FormatCurrency(buckets[i].Value)
	}
	return buckets
}
