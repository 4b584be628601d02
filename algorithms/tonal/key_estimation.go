package tonal

import (
	"fmt"
	"math"
	"sort"

	"github.com/RyanBlaney/sonido-analyzer/algorithms/chroma"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// KeyMode represents major or minor mode
type KeyMode int

const (
	KeyModeMajor KeyMode = iota
	KeyModeMinor
)

func (m KeyMode) String() string {
	if m == KeyModeMinor {
		return "minor"
	}
	return "major"
}

// UnknownKey is reported when no key can be estimated
const UnknownKey = "Unknown"

// Krumhansl-Schmuckler key profiles, tonic first
var (
	krumhanslMajor = [12]float64{6.35, 2.23, 3.48, 2.33, 4.38, 4.09, 2.52, 5.19, 2.39, 3.66, 2.29, 2.88}
	krumhanslMinor = [12]float64{6.33, 2.68, 3.52, 5.38, 2.60, 3.53, 2.54, 4.75, 3.98, 2.69, 3.34, 3.17}
)

// KeyTemplate is a rotated key profile with its label
type KeyTemplate struct {
	Label   string      `json:"label"`
	Tonic   int         `json:"tonic"` // 0=C, 1=C#, ..., 11=B
	Mode    KeyMode     `json:"mode"`
	Weights [12]float64 `json:"weights"`
}

// KeyCandidate represents a potential key with its correlation
type KeyCandidate struct {
	Label       string  `json:"label"`
	Tonic       int     `json:"tonic"`
	Mode        KeyMode `json:"mode"`
	Correlation float64 `json:"correlation"`
}

// KeyEstimationResult contains the winning key and every template score
type KeyEstimationResult struct {
	Key         string  `json:"key"`
	Tonic       int     `json:"tonic"`
	Mode        KeyMode `json:"mode"`
	Correlation float64 `json:"correlation"`

	// Scores is indexed like Templates(): C..B major, then Cm..Bm
	Scores     [24]float64    `json:"scores"`
	Candidates []KeyCandidate `json:"candidates"`

	// Clarity is the gap between the best and second-best correlation
	Clarity float64 `json:"clarity"`
}

// KeyEstimator correlates chroma profiles against the 24 major/minor templates
type KeyEstimator struct {
	templates [24]KeyTemplate
}

// NewKeyEstimator creates a new key estimator
func NewKeyEstimator() *KeyEstimator {
	return &KeyEstimator{templates: Templates()}
}

// Templates returns the 24 key templates: 12 major keys from C, then 12
// minor keys from Cm. Each template sums to 1 and has its tonic weight at its
// own pitch class.
func Templates() [24]KeyTemplate {
	var templates [24]KeyTemplate

	major := normalizeProfile(krumhanslMajor)
	minor := normalizeProfile(krumhanslMinor)

	for tonic := 0; tonic < 12; tonic++ {
		templates[tonic] = KeyTemplate{
			Label:   GetKeyName(tonic, KeyModeMajor),
			Tonic:   tonic,
			Mode:    KeyModeMajor,
			Weights: rotateProfile(major, tonic),
		}
		templates[12+tonic] = KeyTemplate{
			Label:   GetKeyName(tonic, KeyModeMinor),
			Tonic:   tonic,
			Mode:    KeyModeMinor,
			Weights: rotateProfile(minor, tonic),
		}
	}

	return templates
}

// EstimateKey returns the template with the highest Pearson correlation.
// Ties keep the earlier template. Flat profiles and undefined correlations
// are errors.
func (ke *KeyEstimator) EstimateKey(profile chroma.Profile) (*KeyEstimationResult, error) {
	for _, v := range profile {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("chroma profile contains non-finite values")
		}
	}
	if profile.IsFlat() {
		return nil, fmt.Errorf("chroma profile is flat")
	}

	result := &KeyEstimationResult{
		Candidates: make([]KeyCandidate, 0, len(ke.templates)),
	}

	best := -1
	for i, tmpl := range ke.templates {
		r := stat.Correlation(profile[:], tmpl.Weights[:], nil)
		if math.IsNaN(r) {
			return nil, fmt.Errorf("correlation with %s is undefined", tmpl.Label)
		}
		result.Scores[i] = r
		result.Candidates = append(result.Candidates, KeyCandidate{
			Label:       tmpl.Label,
			Tonic:       tmpl.Tonic,
			Mode:        tmpl.Mode,
			Correlation: r,
		})
		if best < 0 || r > result.Scores[best] {
			best = i
		}
	}

	winner := ke.templates[best]
	result.Key = winner.Label
	result.Tonic = winner.Tonic
	result.Mode = winner.Mode
	result.Correlation = result.Scores[best]

	sort.SliceStable(result.Candidates, func(i, j int) bool {
		return result.Candidates[i].Correlation > result.Candidates[j].Correlation
	})
	result.Clarity = result.Candidates[0].Correlation - result.Candidates[1].Correlation

	return result, nil
}

// normalizeProfile scales a profile to unit sum
func normalizeProfile(profile [12]float64) [12]float64 {
	floats.Scale(1/floats.Sum(profile[:]), profile[:])
	return profile
}

// rotateProfile moves the tonic weight (index 0) to pitch class tonic
func rotateProfile(profile [12]float64, tonic int) [12]float64 {
	var rotated [12]float64
	for pc := 0; pc < 12; pc++ {
		rotated[pc] = profile[(pc-tonic+12)%12]
	}
	return rotated
}

// GetKeyName returns the short key label, e.g. "C#" or "C#m"
func GetKeyName(tonic int, mode KeyMode) string {
	name := chroma.PitchClassNames[((tonic%12)+12)%12]
	if mode == KeyModeMinor {
		return name + "m"
	}
	return name
}

// GetRelativeKey returns the relative major/minor key
func GetRelativeKey(tonic int, mode KeyMode) (int, KeyMode) {
	if mode == KeyModeMajor {
		// Relative minor is 3 semitones down
		return (tonic - 3 + 12) % 12, KeyModeMinor
	}
	// Relative major is 3 semitones up
	return (tonic + 3) % 12, KeyModeMajor
}
