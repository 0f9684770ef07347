// Package report renders and exports final run reports: raw results as CSV
// and JSON, plus a per-second timeline for downstream plotting.
package report

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"

	"pulse/internal/engine"
)

// ExportCSV writes the raw sample series, one row per probe.
func ExportCSV(rep engine.Report, filename string) error {
	f, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{"timeStamp", "elapsedMs", "responseCode", "success", "error"}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, s := range rep.Samples {
		record := []string{
			fmt.Sprintf("%d", s.Timestamp.UnixMilli()),
			fmt.Sprintf("%d", s.Elapsed.Milliseconds()),
			strconv.Itoa(s.Status),
			strconv.FormatBool(s.Success),
			s.Err,
		}
		if err := w.Write(record); err != nil {
			return err
		}
	}

	return nil
}

// ExportJSON writes the full report, config and samples included.
func ExportJSON(rep engine.Report, filename string) error {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}

// TimeBucket aggregates one second of the run for plotting.
type TimeBucket struct {
	Timestamp int64 `json:"timestamp"`
	Requests  int   `json:"requests"`
	Errors    int   `json:"errors"`
	AvgMs     int64 `json:"avg_ms"`
}

// ExportTimeline writes per-second request/error buckets.
func ExportTimeline(rep engine.Report, filename string) error {
	buckets := make(map[int64]*TimeBucket)
	sums := make(map[int64]int64)

	for _, s := range rep.Samples {
		ts := s.Timestamp.Unix()
		b, ok := buckets[ts]
		if !ok {
			b = &TimeBucket{Timestamp: ts}
			buckets[ts] = b
		}
		b.Requests++
		if !s.Success {
			b.Errors++
		}
		sums[ts] += s.Elapsed.Milliseconds()
	}

	timeline := make([]TimeBucket, 0, len(buckets))
	for ts, b := range buckets {
		if b.Requests > 0 {
			b.AvgMs = sums[ts] / int64(b.Requests)
		}
		timeline = append(timeline, *b)
	}

	sort.Slice(timeline, func(i, j int) bool {
		return timeline[i].Timestamp < timeline[j].Timestamp
	})

	data, err := json.MarshalIndent(timeline, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0644)
}

// ExportAll writes the CSV, JSON, and timeline files under one prefix.
func ExportAll(rep engine.Report, prefix string) error {
	if err := ExportCSV(rep, prefix+".csv"); err != nil {
		return err
	}
	if err := ExportJSON(rep, prefix+".json"); err != nil {
		return err
	}
	return ExportTimeline(rep, prefix+"_timeline.json")
}
