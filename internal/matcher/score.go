package matcher

import "strings"

// DefaultMaxDistance is used for models missing from the calibration table.
const DefaultMaxDistance = 1.4

// Calibration maps embedding model names to the distance that normalizes to a
// zero score. The constants are hand-tuned and may be recalibrated freely.
type Calibration struct {
	Default float64
	Models  map[string]float64
}

// DefaultCalibration returns the built-in calibration table.
func DefaultCalibration() Calibration {
	return Calibration{
		Default: DefaultMaxDistance,
		Models: map[string]float64{
			"ArcFace":    1.2,
			"Facenet512": 1.4,
			"VGG-Face":   1.5,
			"SFace":      1.1,
			"OpenFace":   1.0,
		},
	}
}

// MaxDistance returns the normalization constant for model. Lookup is exact
// first, then case-insensitive; non-positive entries fall back to the default.
func (c Calibration) MaxDistance(model string) float64 {
	if d, ok := c.Models[model]; ok && d > 0 {
		return d
	}
	for name, d := range c.Models {
		if strings.EqualFold(name, model) && d > 0 {
			return d
		}
	}
	if c.Default > 0 {
		return c.Default
	}
	return DefaultMaxDistance
}

// Score converts a raw distance into a similarity percentage in [0, 100].
//
// It is a linear rescaling of the distance against the model constant, not a
// probability: 100*(1 - distance/maxDistance), clamped at both ends.
func (c Calibration) Score(distance float64, model string) float64 {
	score := 100 * (1 - distance/c.MaxDistance(model))
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
