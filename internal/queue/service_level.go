package queue

import "time"

// SLTracker counts answered queue calls against a wait-time threshold.
// It is not safe for concurrent use; Manager guards it.
type SLTracker struct {
	Target        int
	Threshold     time.Duration
	AnsweredInSL  int
	TotalAnswered int
}

func NewSLTracker(target int, threshold time.Duration) *SLTracker {
	return &SLTracker{Target: target, Threshold: threshold}
}

func (s *SLTracker) RecordAnswer(wait time.Duration) {
	s.TotalAnswered++
	if wait <= s.Threshold {
		s.AnsweredInSL++
	}
}

// CurrentSL is the percentage answered within threshold. No answers yet is 100.
func (s *SLTracker) CurrentSL() float64 {
	if s.TotalAnswered == 0 {
		return 100.0
	}
	return float64(s.AnsweredInSL) / float64(s.TotalAnswered) * 100.0
}

type ServiceLevel struct {
	Target        int     `json:"target"`
	ThresholdSecs int     `json:"threshold_secs"`
	AnsweredInSL  int     `json:"answered_in_sl"`
	TotalAnswered int     `json:"total_answered"`
	CurrentSL     float64 `json:"current_sl"`
}

func (s *SLTracker) Snapshot() ServiceLevel {
	return ServiceLevel{
		Target:        s.Target,
		ThresholdSecs: int(s.Threshold / time.Second),
		AnsweredInSL:  s.AnsweredInSL,
		TotalAnswered: s.TotalAnswered,
		CurrentSL:     s.CurrentSL(),
	}
}
