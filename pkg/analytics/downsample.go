package analytics

// DefaultMaxPoints is the point budget for chart series.
const DefaultMaxPoints = 100

// Downsample thins points to at most budget by keeping every stride-th element
// starting at index 0, where stride = len/budget rounded down. It does not
// average, and the result can be shorter than budget. Inputs already within
// budget, or a non-positive budget, are returned unchanged.
func Downsample[T any](points []T, budget int) []T {
	if budget <= 0 || len(points) <= budget {
		return points
	}

	stride := len(points) / budget
	out := make([]T, 0, (len(points)+stride-1)/stride)
	for i := 0; i < len(points); i += stride {
		out = append(out, points[i])
	}
	return out
}
