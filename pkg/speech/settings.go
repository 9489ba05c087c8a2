package speech

import (
	"errors"
	"fmt"
)

// Settings holds the voice configuration for recognition and synthesis.
// A Settings value is immutable per listening session: the Manager snapshots
// it when a session starts, and later changes take effect on the next start
// (except for the live-applied recognizer fields, see [Manager.UpdateSettings]).
type Settings struct {
	// Language is the BCP-47 locale tag used for both recognition and
	// synthesis (e.g., "en-US").
	Language string `yaml:"language"`

	// Rate is the synthesis speaking rate in [0.1, 10]. 1 = normal.
	Rate float64 `yaml:"rate"`

	// Pitch is the synthesis pitch in [0, 2]. 1 = normal.
	Pitch float64 `yaml:"pitch"`

	// Volume is the synthesis volume in [0, 1].
	Volume float64 `yaml:"volume"`

	// ConfidenceThreshold is the minimum acceptance confidence in [0, 1].
	// Results below it are treated as low-confidence: alternatives are
	// filtered against it for quality display, and final results below it
	// are eligible for best-alternative substitution. It never gates whether
	// a result is emitted.
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`

	// MaxAlternatives is the number of candidate transcriptions requested
	// per recognized utterance. Minimum 1.
	MaxAlternatives int `yaml:"max_alternatives"`

	// InterimResults surfaces provisional transcripts before an utterance is
	// finalized.
	InterimResults bool `yaml:"interim_results"`

	// Continuous keeps the recognizer listening across multiple utterances
	// in one session instead of stopping after the first.
	Continuous bool `yaml:"continuous"`

	// NoiseReduction routes microphone input through echo cancellation,
	// noise suppression, and auto gain control before recognition.
	NoiseReduction bool `yaml:"noise_reduction"`

	// ElderlyOptimized biases recognition timing for slow, quiet speakers.
	ElderlyOptimized bool `yaml:"elderly_optimized"`
}

// DefaultSettings returns the settings tuned for caregiver-training sessions
// with elderly personas: slightly slowed synthesis and tolerant recognition.
func DefaultSettings() Settings {
	return Settings{
		Language:            "en-US",
		Rate:                0.9,
		Pitch:               1.0,
		Volume:              1.0,
		ConfidenceThreshold: 0.6,
		MaxAlternatives:     3,
		InterimResults:      true,
		Continuous:          false,
		NoiseReduction:      true,
		ElderlyOptimized:    true,
	}
}

// Validate checks that all numeric fields are within their library-defined
// ranges. It returns a joined error listing every violation found.
func (s Settings) Validate() error {
	var errs []error
	if s.Language == "" {
		errs = append(errs, errors.New("language must not be empty"))
	}
	if s.Rate < 0.1 || s.Rate > 10 {
		errs = append(errs, fmt.Errorf("rate %.2f is out of range [0.1, 10]", s.Rate))
	}
	if s.Pitch < 0 || s.Pitch > 2 {
		errs = append(errs, fmt.Errorf("pitch %.2f is out of range [0, 2]", s.Pitch))
	}
	if s.Volume < 0 || s.Volume > 1 {
		errs = append(errs, fmt.Errorf("volume %.2f is out of range [0, 1]", s.Volume))
	}
	if s.ConfidenceThreshold < 0 || s.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Errorf("confidence_threshold %.2f is out of range [0, 1]", s.ConfidenceThreshold))
	}
	if s.MaxAlternatives < 1 {
		errs = append(errs, fmt.Errorf("max_alternatives %d must be at least 1", s.MaxAlternatives))
	}
	return errors.Join(errs...)
}

// Patch is a partial settings update. Nil fields keep their current value.
type Patch struct {
	Language            *string
	Rate                *float64
	Pitch               *float64
	Volume              *float64
	ConfidenceThreshold *float64
	MaxAlternatives     *int
	InterimResults      *bool
	Continuous          *bool
	NoiseReduction      *bool
	ElderlyOptimized    *bool
}

// Apply merges the patch into s and returns the result.
func (p Patch) Apply(s Settings) Settings {
	if p.Language != nil {
		s.Language = *p.Language
	}
	if p.Rate != nil {
		s.Rate = *p.Rate
	}
	if p.Pitch != nil {
		s.Pitch = *p.Pitch
	}
	if p.Volume != nil {
		s.Volume = *p.Volume
	}
	if p.ConfidenceThreshold != nil {
		s.ConfidenceThreshold = *p.ConfidenceThreshold
	}
	if p.MaxAlternatives != nil {
		s.MaxAlternatives = *p.MaxAlternatives
	}
	if p.InterimResults != nil {
		s.InterimResults = *p.InterimResults
	}
	if p.Continuous != nil {
		s.Continuous = *p.Continuous
	}
	if p.NoiseReduction != nil {
		s.NoiseReduction = *p.NoiseReduction
	}
	if p.ElderlyOptimized != nil {
		s.ElderlyOptimized = *p.ElderlyOptimized
	}
	return s
}
