package api

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/occupancy.sensor/internal/report"
)

// Summary describes the occupant counts of a set of reports.
type Summary struct {
	WindowHours    int     `json:"window_hours,omitempty"`
	Count          int     `json:"count"`
	Mean           float64 `json:"mean"`
	StdDev         float64 `json:"stddev"`
	P50            float64 `json:"p50"`
	P90            float64 `json:"p90"`
	Max            float64 `json:"max"`
	MotionFraction float64 `json:"motion_fraction"`
	RadarOutages   int     `json:"radar_outages"`
}

// Summarise computes occupant statistics. Quantiles use the empirical
// distribution; StdDev is zero for fewer than two reports.
func Summarise(reports []report.Report) Summary {
	s := Summary{Count: len(reports)}
	if len(reports) == 0 {
		return s
	}

	occupants := make([]float64, len(reports))
	motion := 0
	for i, r := range reports {
		occupants[i] = float64(r.Occupants)
		if r.Motion {
			motion++
		}
		if r.RadarCount < 0 {
			s.RadarOutages++
		}
	}
	sort.Float64s(occupants)

	s.Mean = stat.Mean(occupants, nil)
	if len(occupants) > 1 {
		s.StdDev = stat.StdDev(occupants, nil)
	}
	s.P50 = stat.Quantile(0.5, stat.Empirical, occupants, nil)
	s.P90 = stat.Quantile(0.9, stat.Empirical, occupants, nil)
	s.Max = occupants[len(occupants)-1]
	s.MotionFraction = float64(motion) / float64(len(reports))
	return s
}
