// Package cadence turns human cadence labels into jittered delay windows so
// follow-ups never land on a fixed interval.
package cadence

import (
	"fmt"
	"math/rand"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Timing is the delay window for one cadence label, in days.
type Timing struct {
	DelayDays float64 `json:"delayDays" yaml:"-"`
	MinDays   float64 `json:"minDays" yaml:"min_days"`
	MaxDays   float64 `json:"maxDays" yaml:"max_days"`
}

func window(min, max float64) Timing {
	return Timing{DelayDays: (min + max) / 2, MinDays: min, MaxDays: max}
}

// DefaultTiming applies to labels outside the vocabulary.
var DefaultTiming = window(2, 4)

var builtin = map[string]Timing{
	"1 day":    window(0.8, 1.2),
	"1-2 days": window(1, 2),
	"2 days":   window(1.8, 2.2),
	"2-3 days": window(2, 3),
	"3 days":   window(2.7, 3.3),
	"3-5 days": window(3, 5),
	"5-7 days": window(5, 7),
	"1 week":   window(6, 8),
	"2 weeks":  window(13, 15),
}

type Scheduler struct {
	timings map[string]Timing
	log     *zap.Logger
	uniform func() float64
}

// NewScheduler returns a scheduler over the built-in vocabulary.
func NewScheduler(log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	timings := make(map[string]Timing, len(builtin))
	for k, v := range builtin {
		timings[k] = v
	}
	return &Scheduler{timings: timings, log: log, uniform: rand.Float64}
}

// WithRand swaps the uniform source, mostly for tests.
func (s *Scheduler) WithRand(f func() float64) *Scheduler {
	s.uniform = f
	return s
}

type fileTimings struct {
	Cadences map[string]Timing `yaml:"cadences"`
}

// LoadFile merges label windows from a YAML file of the form
//
//	cadences:
//	  "4-6 days": {min_days: 4, max_days: 6}
func (s *Scheduler) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read cadence file: %w", err)
	}
	var f fileTimings
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse cadence file: %w", err)
	}
	for label, t := range f.Cadences {
		if t.MinDays <= 0 || t.MaxDays < t.MinDays {
			return fmt.Errorf("cadence %q: invalid window [%v, %v]", label, t.MinDays, t.MaxDays)
		}
		s.timings[normalize(label)] = window(t.MinDays, t.MaxDays)
	}
	s.log.Info("cadence vocabulary loaded", zap.String("path", path), zap.Int("labels", len(f.Cadences)))
	return nil
}

func normalize(label string) string {
	return strings.Join(strings.Fields(strings.ToLower(label)), " ")
}

// TimingFor looks up a label. Unknown labels fall back to DefaultTiming.
func (s *Scheduler) TimingFor(label string) Timing {
	if t, ok := s.timings[normalize(label)]; ok {
		return t
	}
	s.log.Warn("unknown cadence label, using default window",
		zap.String("label", label),
		zap.Float64("min_days", DefaultTiming.MinDays),
		zap.Float64("max_days", DefaultTiming.MaxDays))
	return DefaultTiming
}

// Known reports whether the label is in the vocabulary.
func (s *Scheduler) Known(label string) bool {
	_, ok := s.timings[normalize(label)]
	return ok
}

// RandomizedDelay samples uniformly within the label's window, in days.
func (s *Scheduler) RandomizedDelay(label string) float64 {
	t := s.TimingFor(label)
	return t.MinDays + s.uniform()*(t.MaxDays-t.MinDays)
}

// NextSendAt returns from plus a randomized delay for label.
func (s *Scheduler) NextSendAt(label string, from time.Time) (time.Time, float64) {
	days := s.RandomizedDelay(label)
	return from.Add(time.Duration(days * float64(24*time.Hour))), days
}
