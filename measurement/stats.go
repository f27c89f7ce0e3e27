package measurement

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Stats summarizes the values of one metric label across sensors.
type Stats struct {
	Count int
	Mean  float64
	Min   float64
	Max   float64
}

// Summarize computes per-label statistics, e.g. the mean temperature over all sensors.
func Summarize(dps []Datapoint) map[string]Stats {
	sums := make(map[string]float64)
	stats := make(map[string]Stats)
	for _, d := range dps {
		label := d.Label()

		s, ok := stats[label]
		if !ok {
			s.Min = math.MaxFloat64
			s.Max = -math.MaxFloat64
		}

		s.Count++
		s.Min = math.Min(s.Min, d.Value)
		s.Max = math.Max(s.Max, d.Value)
		sums[label] += d.Value

		stats[label] = s
	}

	for label, s := range stats {
		s.Mean = sums[label] / float64(s.Count)
		stats[label] = s
	}

	return stats
}

// SummaryString formats the output of Summarize on one line with labels sorted.
func SummaryString(stats map[string]Stats) string {
	labels := make([]string, 0, len(stats))
	for l := range stats {
		labels = append(labels, l)
	}
	sort.Strings(labels)

	parts := make([]string, len(labels))
	for i, l := range labels {
		s := stats[l]
		parts[i] = fmt.Sprintf("%s n=%d mean=%.2f min=%.2f max=%.2f", l, s.Count, s.Mean, s.Min, s.Max)
	}
	return strings.Join(parts, "; ")
}
