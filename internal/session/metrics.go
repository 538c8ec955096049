package session

import (
	"strings"

	"codeberg.org/mutker/padctl/internal/device"
	"codeberg.org/mutker/padctl/internal/errors"
)

// Integrator turns two consecutive samples into distance in km.
type Integrator interface {
	Distance(prev, cur device.Sample) float64
}

// Trapezoid averages the speeds at both ends of the interval.
type Trapezoid struct{}

func (Trapezoid) Distance(prev, cur device.Sample) float64 {
	hours := cur.Time.Sub(prev.Time).Hours()
	return (prev.Speed.KmH() + cur.Speed.KmH()) / 2 * hours
}

// Hold applies the later sample's speed to the whole interval, the way the
// device firmware reports it.
type Hold struct{}

func (Hold) Distance(prev, cur device.Sample) float64 {
	return cur.Speed.KmH() * cur.Time.Sub(prev.Time).Hours()
}

// NewIntegrator maps a configured name to an Integrator.
func NewIntegrator(name string) (Integrator, error) {
	switch strings.ToLower(name) {
	case "", "trapezoid":
		return Trapezoid{}, nil
	case "hold":
		return Hold{}, nil
	default:
		return nil, errors.New().WithData(ErrUnknownIntegrator, name)
	}
}

// StepEstimator derives steps for an interval when the device does not
// report them.
type StepEstimator interface {
	Steps(distanceKm float64) float64
}

const DefaultStrideLength = 0.7

// Stride divides distance by a fixed stride length in metres.
type Stride struct {
	LengthM float64
}

func (s Stride) Steps(distanceKm float64) float64 {
	length := s.LengthM
	if length <= 0 {
		length = DefaultStrideLength
	}

	return distanceKm * 1000 / length
}

// CalorieModel estimates energy for a finished activity.
type CalorieModel interface {
	Calories(distanceKm float64, durationSeconds int) float64
}

const (
	DefaultWeightKg = 70.0
	DefaultMET      = 3.5
	DefaultFactor   = 1.036
)

// METBands picks a walking MET from the average speed.
type METBands struct {
	WeightKg float64
}

func (m METBands) Calories(distanceKm float64, durationSeconds int) float64 {
	if durationSeconds <= 0 {
		return 0
	}

	hours := float64(durationSeconds) / 3600
	speed := distanceKm / hours

	var met float64
	switch {
	case speed < 3.2:
		met = 2.0
	case speed < 4.8:
		met = 3.0
	case speed < 6.4:
		met = 3.5
	default:
		met = 4.3
	}

	return met * weightOr(m.WeightKg) * hours
}

// FixedMET uses one MET value regardless of speed.
type FixedMET struct {
	MET      float64
	WeightKg float64
	Factor   float64
}

func (m FixedMET) Calories(_ float64, durationSeconds int) float64 {
	if durationSeconds <= 0 {
		return 0
	}

	met, factor := m.MET, m.Factor
	if met <= 0 {
		met = DefaultMET
	}
	if factor <= 0 {
		factor = DefaultFactor
	}

	return met * weightOr(m.WeightKg) * float64(durationSeconds) / 3600 * factor
}

func weightOr(w float64) float64 {
	if w <= 0 {
		return DefaultWeightKg
	}

	return w
}

// CalorieConfig selects and parameterizes a CalorieModel.
type CalorieConfig struct {
	Model    string
	MET      float64
	Factor   float64
	WeightKg float64
}

// NewCalorieModel maps the configured model name to a CalorieModel.
func NewCalorieModel(cfg CalorieConfig) (CalorieModel, error) {
	switch strings.ToLower(cfg.Model) {
	case "", "met_bands":
		return METBands{WeightKg: cfg.WeightKg}, nil
	case "fixed_met":
		return FixedMET{MET: cfg.MET, WeightKg: cfg.WeightKg, Factor: cfg.Factor}, nil
	default:
		return nil, errors.New().WithData(ErrUnknownCalorieModel, cfg.Model)
	}
}
