package evidence

import (
	"math"
	"sort"
)

// WeightedPoint is one (value, weight) evidence sample.
type WeightedPoint struct {
	Value  float64
	Weight float64
}

// WeightedQuantile computes the q-quantile (q in [0,1]) of weighted samples
// using the weighted-midpoint method: each sorted point sits at cumulative
// position (c_i - w_i/2)/total and quantiles between points interpolate
// linearly. Zero-weight points are ignored. Returns 0 when no weight remains.
func WeightedQuantile(points []WeightedPoint, q float64) float64 {
	sorted := make([]WeightedPoint, 0, len(points))
	var total float64
	for _, p := range points {
		if p.Weight > 0 {
			sorted = append(sorted, p)
			total += p.Weight
		}
	}
	if total == 0 {
		return 0
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Value < sorted[j].Value })

	pos := make([]float64, len(sorted))
	var cum float64
	for i, p := range sorted {
		pos[i] = (cum + p.Weight/2) / total
		cum += p.Weight
	}

	if q <= pos[0] {
		return sorted[0].Value
	}
	if q >= pos[len(pos)-1] {
		return sorted[len(sorted)-1].Value
	}
	for i := 1; i < len(pos); i++ {
		if q <= pos[i] {
			frac := (q - pos[i-1]) / (pos[i] - pos[i-1])
			return sorted[i-1].Value + frac*(sorted[i].Value-sorted[i-1].Value)
		}
	}
	return sorted[len(sorted)-1].Value
}

// WeightedMean returns the weight-normalized mean, or 0 for empty input.
func WeightedMean(points []WeightedPoint) float64 {
	var sum, total float64
	for _, p := range points {
		if p.Weight > 0 {
			sum += p.Value * p.Weight
			total += p.Weight
		}
	}
	if total == 0 {
		return 0
	}
	return sum / total
}

// WeightedStdDev returns the weighted population standard deviation.
func WeightedStdDev(points []WeightedPoint) float64 {
	mean := WeightedMean(points)
	var sq, total float64
	for _, p := range points {
		if p.Weight > 0 {
			d := p.Value - mean
			sq += d * d * p.Weight
			total += p.Weight
		}
	}
	if total == 0 {
		return 0
	}
	return math.Sqrt(sq / total)
}

// CoefficientOfVariation returns stddev/mean, the dispersion measure behind
// the agreement factor. Zero-mean inputs return 0.
func CoefficientOfVariation(points []WeightedPoint) float64 {
	mean := WeightedMean(points)
	if mean == 0 {
		return 0
	}
	return WeightedStdDev(points) / math.Abs(mean)
}
