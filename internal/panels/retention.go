package panels

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Column headers of the YouTube Studio analytics export.
const (
	ColumnPercentViewed = "Average percentage viewed (%)"
	ColumnDuration      = "Duration"
	ColumnTitle         = "Video title"
)

// weakestCount is how many low-retention videos a report calls out.
const weakestCount = 3

// maxDurationSeconds bounds a parsed video length at one week.
const maxDurationSeconds = 7 * 24 * 3600

var (
	// ErrMissingColumns means the CSV header lacks a required column.
	ErrMissingColumns = errors.New("panels: csv is missing required columns")
	// ErrNoData means no row carried a usable duration and percentage.
	ErrNoData = errors.New("panels: csv contains no usable rows")
)

// Point is one video on the retention scatter chart.
type Point struct {
	Title           string  `json:"title,omitempty"`
	DurationSeconds int     `json:"duration_seconds"`
	Percent         float64 `json:"percent"`
}

// RetentionReport summarizes an analytics export.
type RetentionReport struct {
	MeanPercent float64 `json:"mean_percent"`
	Points      []Point `json:"points"`
	// Weakest lists the lowest-retention videos, worst first.
	Weakest []Point `json:"weakest"`
	Rows    int     `json:"rows"`
	Skipped int     `json:"skipped"`
}

// AnalyzeRetention parses a YouTube analytics CSV. Rows whose duration or
// percentage cannot be parsed (the "Total" row, repeated headers, blanks) are
// skipped and counted.
func AnalyzeRetention(r io.Reader) (RetentionReport, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return RetentionReport{}, ErrNoData
	}
	if err != nil {
		return RetentionReport{}, fmt.Errorf("panels: read csv header: %w", err)
	}
	pctIdx, durIdx, titleIdx := -1, -1, -1
	for i, h := range header {
		switch normalizeHeader(h) {
		case normalizeHeader(ColumnPercentViewed):
			pctIdx = i
		case normalizeHeader(ColumnDuration):
			durIdx = i
		case normalizeHeader(ColumnTitle):
			titleIdx = i
		}
	}
	if pctIdx < 0 || durIdx < 0 {
		return RetentionReport{}, ErrMissingColumns
	}

	var report RetentionReport
	var sum float64
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return RetentionReport{}, fmt.Errorf("panels: read csv: %w", err)
		}
		if len(rec) <= pctIdx || len(rec) <= durIdx {
			report.Skipped++
			continue
		}
		pct, ok := parsePercent(rec[pctIdx])
		if !ok {
			report.Skipped++
			continue
		}
		secs, ok := ParseDuration(rec[durIdx])
		if !ok {
			report.Skipped++
			continue
		}
		p := Point{DurationSeconds: secs, Percent: pct}
		if titleIdx >= 0 && titleIdx < len(rec) {
			p.Title = strings.TrimSpace(rec[titleIdx])
		}
		report.Points = append(report.Points, p)
		sum += pct
	}
	report.Rows = len(report.Points)
	if report.Rows == 0 {
		return RetentionReport{}, ErrNoData
	}
	report.MeanPercent = math.Round(sum/float64(report.Rows)*100) / 100

	weakest := make([]Point, len(report.Points))
	copy(weakest, report.Points)
	sort.SliceStable(weakest, func(i, j int) bool { return weakest[i].Percent < weakest[j].Percent })
	if len(weakest) > weakestCount {
		weakest = weakest[:weakestCount]
	}
	report.Weakest = weakest
	return report, nil
}

// ParseDuration accepts plain seconds or [h:]mm:ss.
func ParseDuration(s string) (int, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, false
	}
	total := 0
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return 0, false
		}
		if i > 0 && n > 59 {
			return 0, false
		}
		if total > (math.MaxInt-n)/60 {
			return 0, false
		}
		total = total*60 + n
	}
	if total > maxDurationSeconds {
		return 0, false
	}
	return total, true
}

func parsePercent(s string) (float64, bool) {
	s = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%"))
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, false
	}
	return v, true
}

func normalizeHeader(h string) string {
	return strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))
}
