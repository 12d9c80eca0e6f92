// Package rhythm summarizes recent flight times into a typing-state
// snapshot: speed, consistency, a combined focus score and a flow flag.
//
// Analyze is a pure function of its input.
package rhythm

import (
	"math"

	"rhythmd/internal/store"
)

const (
	// FastBoundary is the mean flight time that scores 50 on speed.
	FastBoundary = 0.150

	// speedSpread controls how quickly speed falls off around FastBoundary.
	speedSpread = 0.040

	// FlowMaxMean and FlowMinConsistency define the flow state.
	FlowMaxMean        = 0.200
	FlowMinConsistency = 40.0

	// MaxFlight is the default cutoff above which a gap is not typing.
	MaxFlight = 5.0

	speedWeight       = 0.6
	consistencyWeight = 0.4
)

// State is a coarse label for a Result.
type State string

const (
	StateIdle   State = "idle"
	StateSlow   State = "slow"
	StateSteady State = "steady"
	StateFast   State = "fast"
	StateFlow   State = "flow"
)

// Result is a point-in-time typing summary. When ActiveSamples is 0 every
// other field is zero and State is idle.
type Result struct {
	ActiveSamples  int     `json:"active_samples"`
	MeanFlightTime float64 `json:"mean_flight_time"`
	Speed          float64 `json:"speed"`
	Consistency    float64 `json:"consistency"`
	Score          int     `json:"score"`
	IsFlow         bool    `json:"is_flow"`
	State          State   `json:"state"`
}

// Analyze computes a Result from flight-time samples in seconds. Callers
// are expected to have dropped non-typing gaps with FilterSamples.
func Analyze(samples []float64) Result {
	n := len(samples)
	if n == 0 {
		return Result{State: StateIdle}
	}

	var sum float64
	for _, s := range samples {
		sum += s
	}
	mean := sum / float64(n)

	var sq float64
	for _, s := range samples {
		d := s - mean
		sq += d * d
	}
	stddev := math.Sqrt(sq / float64(n))

	r := Result{
		ActiveSamples:  n,
		MeanFlightTime: mean,
		Speed:          Speed(mean),
		Consistency:    Consistency(mean, stddev),
	}
	r.Score = Score(r.Speed, r.Consistency)
	r.IsFlow = mean < FlowMaxMean && r.Consistency > FlowMinConsistency
	r.State = classify(r)
	return r
}

// Speed maps a mean flight time to 0..100 with a logistic curve centered on
// FastBoundary. It decreases strictly with mean.
func Speed(mean float64) float64 {
	return 100 / (1 + math.Exp((mean-FastBoundary)/speedSpread))
}

// Consistency maps the coefficient of variation to 0..100. It is 0 when mean
// is not positive.
func Consistency(mean, stddev float64) float64 {
	if mean <= 0 {
		return 0
	}
	cv := stddev / mean
	return math.Max(0, math.Min(100, 100*(1-cv)))
}

// Score combines the sub-scores into a rounded 0..100 value.
func Score(speed, consistency float64) int {
	return int(math.Round(speedWeight*speed + consistencyWeight*consistency))
}

func classify(r Result) State {
	switch {
	case r.ActiveSamples == 0:
		return StateIdle
	case r.IsFlow:
		return StateFlow
	case r.MeanFlightTime < FastBoundary:
		return StateFast
	case r.MeanFlightTime < 2*FastBoundary:
		return StateSteady
	default:
		return StateSlow
	}
}

// FilterSamples extracts usable flight times from store rows, dropping rows
// without one and gaps at or above maxFlight. A maxFlight of zero uses
// MaxFlight.
func FilterSamples(rows []store.FlightSample, maxFlight float64) []float64 {
	if maxFlight <= 0 {
		maxFlight = MaxFlight
	}
	out := make([]float64, 0, len(rows))
	for _, r := range rows {
		if r.FlightTime == nil {
			continue
		}
		if f := *r.FlightTime; f >= 0 && f < maxFlight {
			out = append(out, f)
		}
	}
	return out
}
