// Package affect holds the agent's affective model: bounded
// valence/arousal/dominance vectors, the mood codebook they are classified
// against, and the session state that evolves with every exchange.
package affect

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// ErrInvalidRange is returned when a range has Low >= High.
var ErrInvalidRange = errors.New("affect: invalid range")

// Comparison tolerances used by Equal when no explicit tolerance is given.
const (
	RelTolerance = 1e-9
	AbsTolerance = 1e-12
)

// Range is the closed interval every VAD component lives in.
type Range struct {
	Low  float64
	High float64
}

// DefaultRange is the bipolar interval the lexicon and codebook are authored in.
var DefaultRange = Range{Low: -1, High: 1}

// NewRange validates and returns a range.
func NewRange(low, high float64) (Range, error) {
	if math.IsNaN(low) || math.IsNaN(high) || low >= high {
		return Range{}, fmt.Errorf("%w: low=%v high=%v", ErrInvalidRange, low, high)
	}
	return Range{Low: low, High: high}, nil
}

// Clamp bounds x to the range. NaN collapses to the midpoint.
func (r Range) Clamp(x float64) float64 {
	if math.IsNaN(x) {
		return r.Mid()
	}
	if x < r.Low {
		return r.Low
	}
	if x > r.High {
		return r.High
	}
	return x
}

// Mid is the neutral point of the range.
func (r Range) Mid() float64 { return (r.Low + r.High) / 2 }

// Width is High - Low.
func (r Range) Width() float64 { return r.High - r.Low }

// MaxDistance is half the cube diagonal, the distance from the centre to a
// corner. Pairs further apart than this have similarity 0.
func (r Range) MaxDistance() float64 { return math.Sqrt(3) * r.Width() / 2 }

// MaxMagnitude is the magnitude of a corner vector measured from the origin.
func (r Range) MaxMagnitude() float64 {
	m := math.Max(math.Abs(r.Low), math.Abs(r.High))
	return math.Sqrt(3) * m
}

// VAD is a point in valence/arousal/dominance space.
// Values built through a Range are always clamped.
type VAD struct {
	Valence   float64 `json:"valence"`
	Arousal   float64 `json:"arousal"`
	Dominance float64 `json:"dominance"`
}

// New returns a clamped vector.
func (r Range) New(v, a, d float64) VAD {
	return VAD{Valence: r.Clamp(v), Arousal: r.Clamp(a), Dominance: r.Clamp(d)}
}

// ClampVAD re-clamps every component of v.
func (r Range) ClampVAD(v VAD) VAD { return r.New(v.Valence, v.Arousal, v.Dominance) }

// Neutral is the midpoint vector.
func (r Range) Neutral() VAD {
	m := r.Mid()
	return VAD{Valence: m, Arousal: m, Dominance: m}
}

// Components returns the vector in V, A, D order.
func (v VAD) Components() [3]float64 {
	return [3]float64{v.Valence, v.Arousal, v.Dominance}
}

func fromComponents(c [3]float64) VAD {
	return VAD{Valence: c[0], Arousal: c[1], Dominance: c[2]}
}

// Magnitude is the Euclidean length from the origin.
func (v VAD) Magnitude() float64 {
	return math.Sqrt(v.Valence*v.Valence + v.Arousal*v.Arousal + v.Dominance*v.Dominance)
}

// Intensity is the largest absolute component.
func (v VAD) Intensity() float64 {
	return math.Max(math.Abs(v.Valence), math.Max(math.Abs(v.Arousal), math.Abs(v.Dominance)))
}

// Distance is the Euclidean distance between two vectors. Symmetric and zero on self.
func (v VAD) Distance(o VAD) float64 {
	dv := v.Valence - o.Valence
	da := v.Arousal - o.Arousal
	dd := v.Dominance - o.Dominance
	return math.Sqrt(dv*dv + da*da + dd*dd)
}

// Equal compares component-wise with relative and absolute tolerance.
func (v VAD) Equal(o VAD) bool {
	a, b := v.Components(), o.Components()
	for i := range a {
		if !isClose(a[i], b[i], RelTolerance, AbsTolerance) {
			return false
		}
	}
	return true
}

func isClose(a, b, rel, abs float64) bool {
	if a == b {
		return true
	}
	diff := math.Abs(a - b)
	return diff <= math.Max(rel*math.Max(math.Abs(a), math.Abs(b)), abs)
}

func (v VAD) String() string {
	return fmt.Sprintf("(v=%.3f a=%.3f d=%.3f)", v.Valence, v.Arousal, v.Dominance)
}

// Similarity maps distance into [0,1]; identical vectors score 1.
func (r Range) Similarity(a, b VAD) float64 {
	s := 1 - a.Distance(b)/r.MaxDistance()
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

// ScaledMagnitude is the magnitude normalised to [0,1] for the range.
func (r Range) ScaledMagnitude(v VAD) float64 {
	mm := r.MaxMagnitude()
	if mm == 0 {
		return 0
	}
	return math.Min(1, v.Magnitude()/mm)
}

// Merge moves v toward other by factor; 0 keeps v, 1 yields other.
func (r Range) Merge(v, other VAD, factor float64) VAD {
	f := clampUnit(factor)
	keep := math.Max(0, 1-f)
	a, b := v.Components(), other.Components()
	var out [3]float64
	for i := range a {
		out[i] = r.Clamp(a[i]*keep + b[i]*f)
	}
	return fromComponents(out)
}

// DoubleMerge blends two sources in one step. Factors summing above 1 are
// scaled down proportionally so the result stays a convex combination.
func (r Range) DoubleMerge(v, first VAD, f1 float64, second VAD, f2 float64) VAD {
	f1, f2 = clampUnit(f1), clampUnit(f2)
	if sum := f1 + f2; sum > 1 {
		f1, f2 = f1/sum, f2/sum
	}
	keep := math.Max(0, 1-f1-f2)
	a, b, c := v.Components(), first.Components(), second.Components()
	var out [3]float64
	for i := range a {
		out[i] = r.Clamp(a[i]*keep + b[i]*f1 + c[i]*f2)
	}
	return fromComponents(out)
}

// DecayConfig holds per-component multiplicative factor bounds. Each call
// draws a factor uniformly from [Min, Max]; all bounds must be below 1.
type DecayConfig struct {
	ValenceMinPositive float64
	ValenceMinOther    float64
	ValenceMax         float64
	ArousalMin         float64
	ArousalMax         float64
	DominanceMin       float64
	DominanceMax       float64
	// Floor snaps components closer than this to zero.
	Floor float64
}

// DefaultDecay lets arousal fade fastest and valence slowest.
var DefaultDecay = DecayConfig{
	ValenceMinPositive: 0.91,
	ValenceMinOther:    0.93,
	ValenceMax:         0.95,
	ArousalMin:         0.70,
	ArousalMax:         0.85,
	DominanceMin:       0.85,
	DominanceMax:       0.90,
	Floor:              1e-4,
}

// Decay shrinks v toward zero. Magnitude strictly decreases for any
// non-zero vector.
func (r Range) Decay(v VAD, cfg DecayConfig, rng *rand.Rand) VAD {
	vmin := cfg.ValenceMinOther
	if v.Valence > 0 {
		vmin = cfg.ValenceMinPositive
	}
	out := VAD{
		Valence:   v.Valence * uniform(rng, vmin, cfg.ValenceMax),
		Arousal:   v.Arousal * uniform(rng, cfg.ArousalMin, cfg.ArousalMax),
		Dominance: v.Dominance * uniform(rng, cfg.DominanceMin, cfg.DominanceMax),
	}
	c := out.Components()
	for i := range c {
		if math.Abs(c[i]) < cfg.Floor {
			c[i] = 0
		}
	}
	return r.ClampVAD(fromComponents(c))
}

// NoiseConfig bounds the symmetric jitter applied by Perturb.
type NoiseConfig struct {
	Valence   float64
	Arousal   float64
	Dominance float64
}

// DefaultNoise is a small jitter; dominance wanders slightly more.
var DefaultNoise = NoiseConfig{Valence: 0.01, Arousal: 0.01, Dominance: 0.02}

// Perturb adds bounded uniform noise and clamps.
func (r Range) Perturb(v VAD, cfg NoiseConfig, rng *rand.Rand) VAD {
	return r.New(
		v.Valence+uniform(rng, -cfg.Valence, cfg.Valence),
		v.Arousal+uniform(rng, -cfg.Arousal, cfg.Arousal),
		v.Dominance+uniform(rng, -cfg.Dominance, cfg.Dominance),
	)
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return lo + rng.Float64()*(hi-lo)
}

func clampUnit(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}
