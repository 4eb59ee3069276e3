package reporting

import (
	"context"
	"errors"
	"sort"
	"time"

	"call-router/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts data access for reporting. Implementations must
// filter by company.
type Repository interface {
	ListCallLogs(ctx context.Context, companyID string, from, to time.Time) ([]calls.CallLog, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.CompanyID == "" {
		return CallsSummary{}, ErrInvalidRequest
	}
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListCallLogs(ctx, req.CompanyID, req.Range.From, req.Range.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{CompanyID: req.CompanyID, RuleID: req.RuleID, Agents: []AgentSummary{}}
	agents := map[string]*AgentSummary{}
	queueWait := 0
	for _, c := range rows {
		if req.RuleID != "" && c.RuleID != req.RuleID {
			continue
		}
		out.TotalCalls++
		out.TotalDurationSeconds += c.DurationSeconds
		if c.RecordingURL != "" {
			out.RecordedCalls++
		}
		if c.QueueWaitSeconds > 0 {
			out.QueuedCalls++
			queueWait += c.QueueWaitSeconds
			if c.QueueWaitSeconds > out.MaxQueueWaitSeconds {
				out.MaxQueueWaitSeconds = c.QueueWaitSeconds
			}
		}
		switch c.Outcome {
		case calls.OutcomeConnected:
			out.ConnectedCalls++
			if c.AgentID != "" {
				a, ok := agents[c.AgentID]
				if !ok {
					a = &AgentSummary{AgentID: c.AgentID}
					agents[c.AgentID] = a
				}
				a.ConnectedCalls++
				a.TotalDurationSeconds += c.DurationSeconds
			}
		case calls.OutcomeForwarded:
			out.ForwardedCalls++
		case calls.OutcomeVoicemail:
			out.VoicemailCalls++
		case calls.OutcomeAbandoned:
			out.AbandonedCalls++
		case calls.OutcomeHangup:
			out.HangupCalls++
		case calls.OutcomeFailed:
			out.FailedCalls++
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
		out.AnswerRate = float64(out.ConnectedCalls) / float64(out.TotalCalls)
	}
	if out.QueuedCalls > 0 {
		out.AverageQueueWaitSeconds = queueWait / out.QueuedCalls
	}
	for _, a := range agents {
		out.Agents = append(out.Agents, *a)
	}
	sort.Slice(out.Agents, func(i, j int) bool { return out.Agents[i].AgentID < out.Agents[j].AgentID })
	return out, nil
}
