package grading

import (
	"fmt"
	"math"
	"sort"

	"github.com/pkg/errors"
)

// Mode tells how component values are turned into contributions to the final score.
type Mode string

const (
	// PreWeighted component values are contributions already scaled by their weight; they are summed directly.
	PreWeighted Mode = "pre-weighted"
	// Raw component values are 0-100 scores multiplied by weight/100.
	Raw Mode = "raw"

	// NotApplicable is the letter of a score outside of every band.
	NotApplicable = "N/A"

	MaxScore = 100
)

var (
	// DefaultWeights is the weight, in percent of the final score, of each grade component.
	DefaultWeights = map[string]float64{
		"participacion":  20,
		"cuaderno":       15,
		"practica":       20,
		"exposicion":     20,
		"prueba_mensual": 25,
	}

	// errors
	ErrUnknownComponent = errors.New("unknown grade component")
	ErrOutOfRange       = errors.New("grade component out of range")
	errInvalidMode      = errors.New("invalid grading mode")
	errInvalidWeight    = errors.New("invalid grade component weight")
)

// UnknownComponentError is returned for a component without a weight. It matches ErrUnknownComponent.
type UnknownComponentError struct {
	Name string
}

func (e *UnknownComponentError) Error() string {
	return fmt.Sprintf("%s %q", ErrUnknownComponent, e.Name)
}

func (e *UnknownComponentError) Is(target error) bool {
	return target == ErrUnknownComponent
}

// Score is a final numeric score with its letter grade.
type Score struct {
	Value  float64 `json:"numeric_score"`
	Letter string  `json:"letter_grade"`
}

type Calculator struct {
	mode    Mode
	weights map[string]float64
}

// NewCalculator returns a Calculator for `mode`; DefaultWeights are used when `weights` is empty.
func NewCalculator(mode Mode, weights map[string]float64) (*Calculator, error) {
	switch mode {
	case PreWeighted, Raw:
	case "":
		mode = PreWeighted
	default:
		return nil, errors.Wrapf(errInvalidMode, "%q", mode)
	}
	if len(weights) == 0 {
		weights = DefaultWeights
	}

	cw := make(map[string]float64, len(weights))
	for name, w := range weights {
		if w <= 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, errors.Wrapf(errInvalidWeight, "%s=%v", name, w)
		}
		cw[name] = w
	}
	return &Calculator{mode: mode, weights: cw}, nil
}

func (c *Calculator) Mode() Mode { return c.mode }

// Components returns the sorted names of the weighted components.
func (c *Calculator) Components() []string {
	names := make([]string, 0, len(c.weights))
	for name := range c.weights {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Weight returns the weight of component `name`.
func (c *Calculator) Weight(name string) (float64, bool) {
	w, ok := c.weights[name]
	return w, ok
}

// Max returns the highest value accepted for component `name`.
func (c *Calculator) Max(name string) float64 {
	if c.mode == Raw {
		return MaxScore
	}
	return c.weights[name]
}

// Validate checks that every component is known and within [0, Max(name)].
func (c *Calculator) Validate(components map[string]float64) error {
	for _, name := range sortedKeys(components) {
		if _, ok := c.weights[name]; !ok {
			return &UnknownComponentError{Name: name}
		}
		v := components[name]
		if math.IsNaN(v) || v < 0 || v > c.Max(name) {
			return errors.Wrapf(ErrOutOfRange, "%s=%v not in [0, %v]", name, v, c.Max(name))
		}
	}
	return nil
}

// ComputeFinal sums the contributions of `components`, rounded to 2 decimals and clamped at MaxScore,
// and maps the result to its letter grade.
func (c *Calculator) ComputeFinal(components map[string]float64) (Score, error) {
	var total float64
	for _, name := range sortedKeys(components) {
		w, ok := c.weights[name]
		if !ok {
			return Score{}, &UnknownComponentError{Name: name}
		}
		v := components[name]
		if c.mode == Raw {
			v = v * w / 100
		}
		total += v
	}

	total = math.Min(round2(total), MaxScore)
	return Score{Value: total, Letter: Letter(total)}, nil
}

type band struct {
	min    float64
	letter string
}

// bands are ordered from the highest lower bound down; each covers [min, previous min).
var bands = []band{
	{97, "A+"},
	{93, "A"},
	{90, "A-"},
	{87, "B+"},
	{83, "B"},
	{80, "B-"},
	{77, "C+"},
	{73, "C"},
	{70, "C-"},
	{67, "D+"},
	{63, "D"},
	{60, "D-"},
	{0, "F+"},
}

// Letter maps a score in [0, MaxScore] to its letter grade; any other score is NotApplicable.
func Letter(score float64) string {
	if math.IsNaN(score) || score < 0 || score > MaxScore {
		return NotApplicable
	}
	for _, b := range bands {
		if score >= b.min {
			return b.letter
		}
	}
	return NotApplicable
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func sortedKeys(m map[string]float64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
