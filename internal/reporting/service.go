package reporting

import (
	"context"
	"errors"
	"strings"
	"time"

	"callscript/internal/callflow"
	"callscript/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// maxRange bounds a single report; records are read into memory.
const maxRange = 31 * 24 * time.Hour

// Repository abstracts data access for reporting.
// Implementations read the immutable call records.
type Repository interface {
	Between(ctx context.Context, from, to time.Time) ([]calls.Record, error)
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.Range.From.IsZero() || req.Range.To.IsZero() || !req.Range.To.After(req.Range.From) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if req.Range.To.Sub(req.Range.From) > maxRange {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.Between(ctx, req.Range.From, req.Range.To)
	if err != nil {
		return CallsSummary{}, err
	}

	out := CallsSummary{Range: req.Range, Direction: req.Direction}
	for _, c := range rows {
		if req.Direction != "" && c.Direction != req.Direction {
			continue
		}
		out.TotalCalls++
		out.TotalDurationSeconds += c.DurationSeconds
		out.ChildLegs += c.ChildCalls
		switch c.Status {
		case callflow.StatusCompleted:
			out.CompletedCalls++
			if strings.HasPrefix(c.AnsweredBy, "machine") || c.AnsweredBy == "fax" {
				out.MachineAnswered++
			}
		case callflow.StatusFailed:
			out.FailedCalls++
		case callflow.StatusNoAnswer:
			out.NoAnswerCalls++
		case callflow.StatusBusy:
			out.BusyCalls++
		case callflow.StatusCanceled:
			out.CanceledCalls++
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / out.TotalCalls
		out.ConnectionRate = float64(out.CompletedCalls) / float64(out.TotalCalls)
	}
	return out, nil
}
