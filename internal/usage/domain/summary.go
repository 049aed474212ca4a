package domain

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// MaxSummaryDays bounds one summaries request.
const MaxSummaryDays = 366

type SummariesResponse struct {
	Data            []DaySummary    `json:"data"`
	CumulativeTotal CumulativeTotal `json:"cumulative_total"`
	Start           time.Time       `json:"start"`
	End             time.Time       `json:"end"`
}

type CumulativeTotal struct {
	Seconds float64 `json:"seconds"`
	Text    string  `json:"text"`
	Digital string  `json:"digital"`
}

// DaySummary carries WakaTime-shaped totals. Dimensions that are not tracked
// here serialize as empty arrays, never null.
type DaySummary struct {
	GrandTotal       GrandTotal    `json:"grand_total"`
	Projects         []SummaryItem `json:"projects"`
	Languages        []SummaryItem `json:"languages"`
	Categories       []SummaryItem `json:"categories"`
	Editors          []SummaryItem `json:"editors"`
	OperatingSystems []SummaryItem `json:"operating_systems"`
	Machines         []SummaryItem `json:"machines"`
	Range            Range         `json:"range"`
}

type GrandTotal struct {
	TotalSeconds float64 `json:"total_seconds"`
	Hours        int     `json:"hours"`
	Minutes      int     `json:"minutes"`
	Digital      string  `json:"digital"`
	Text         string  `json:"text"`
}

type SummaryItem struct {
	Name         string  `json:"name"`
	TotalSeconds float64 `json:"total_seconds"`
	Percent      float64 `json:"percent"`
	Hours        int     `json:"hours"`
	Minutes      int     `json:"minutes"`
	Digital      string  `json:"digital"`
	Text         string  `json:"text"`
}

type Range struct {
	Date     string    `json:"date"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Text     string    `json:"text"`
	Timezone string    `json:"timezone"`
}

// BuildSummaries folds buckets into one summary per UTC day in [start, end].
func BuildSummaries(buckets []UsageBucket, start, end time.Time) *SummariesResponse {
	start = dayStart(start)
	end = dayStart(end)

	type dayTotals struct {
		total      int64
		projects   map[string]int64
		languages  map[string]int64
		categories map[string]int64
	}
	days := map[string]*dayTotals{}
	for _, b := range buckets {
		date := time.Unix(b.TimeSlot, 0).UTC().Format(time.DateOnly)
		d, ok := days[date]
		if !ok {
			d = &dayTotals{projects: map[string]int64{}, languages: map[string]int64{}, categories: map[string]int64{}}
			days[date] = d
		}
		d.total += b.TotalSeconds
		d.projects[b.Project] += b.TotalSeconds
		d.languages[b.Language] += b.TotalSeconds
		d.categories[b.Category] += b.TotalSeconds
	}

	resp := &SummariesResponse{Data: []DaySummary{}, Start: start, End: end.Add(24*time.Hour - time.Second)}
	var cumulative int64
	for day := start; !day.After(end); day = day.Add(24 * time.Hour) {
		date := day.Format(time.DateOnly)
		summary := DaySummary{
			Projects:         []SummaryItem{},
			Languages:        []SummaryItem{},
			Categories:       []SummaryItem{},
			Editors:          []SummaryItem{},
			OperatingSystems: []SummaryItem{},
			Machines:         []SummaryItem{},
			Range: Range{
				Date:     date,
				Start:    day,
				End:      day.Add(24*time.Hour - time.Second),
				Text:     day.Format("Mon Jan 2nd 2006"),
				Timezone: "UTC",
			},
		}
		if d, ok := days[date]; ok {
			summary.GrandTotal = grandTotal(d.total)
			summary.Projects = items(d.projects, d.total)
			summary.Languages = items(d.languages, d.total)
			summary.Categories = items(d.categories, d.total)
			cumulative += d.total
		} else {
			summary.GrandTotal = grandTotal(0)
		}
		resp.Data = append(resp.Data, summary)
	}

	resp.CumulativeTotal = CumulativeTotal{
		Seconds: float64(cumulative),
		Text:    humanize(cumulative),
		Digital: digital(cumulative),
	}
	return resp
}

func items(totals map[string]int64, dayTotal int64) []SummaryItem {
	out := make([]SummaryItem, 0, len(totals))
	for name, seconds := range totals {
		hours, minutes := split(seconds)
		percent := 0.0
		if dayTotal > 0 {
			percent = math.Round(float64(seconds)/float64(dayTotal)*10000) / 100
		}
		out = append(out, SummaryItem{
			Name:         name,
			TotalSeconds: float64(seconds),
			Percent:      percent,
			Hours:        hours,
			Minutes:      minutes,
			Digital:      digital(seconds),
			Text:         humanize(seconds),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalSeconds != out[j].TotalSeconds {
			return out[i].TotalSeconds > out[j].TotalSeconds
		}
		return out[i].Name < out[j].Name
	})
	return out
}

func grandTotal(seconds int64) GrandTotal {
	hours, minutes := split(seconds)
	return GrandTotal{
		TotalSeconds: float64(seconds),
		Hours:        hours,
		Minutes:      minutes,
		Digital:      digital(seconds),
		Text:         humanize(seconds),
	}
}

func split(seconds int64) (int, int) {
	return int(seconds / 3600), int(seconds % 3600 / 60)
}

func digital(seconds int64) string {
	hours, minutes := split(seconds)
	return fmt.Sprintf("%d:%02d", hours, minutes)
}

func humanize(seconds int64) string {
	hours, minutes := split(seconds)
	switch {
	case hours > 0 && minutes > 0:
		return fmt.Sprintf("%d hrs %d mins", hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%d hrs", hours)
	default:
		return fmt.Sprintf("%d mins", minutes)
	}
}

func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
