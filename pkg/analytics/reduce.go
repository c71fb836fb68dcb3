package analytics

import "math"

// Stats summarizes a numeric series.
type Stats struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
}

// Reduce returns min, max and the mean rounded to two decimals. An empty
// series reduces to all zeros.
func Reduce(values []float64) Stats {
	if len(values) == 0 {
		return Stats{}
	}

	s := Stats{Min: values[0], Max: values[0]}
	var sum float64
	for _, v := range values {
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
		sum += v
	}
	s.Avg = round2(sum / float64(len(values)))
	return s
}

// ReducePoints reduces the Value of each point.
func ReducePoints(points []Point) Stats {
	values := make([]float64, len(points))
	for i := range points {
		values[i] = points[i].Value
	}
	return Reduce(values)
}

// round2 rounds exact halves to even, so 0.125 becomes 0.12.
func round2(v float64) float64 {
	return math.RoundToEven(v*100) / 100
}
