package calls

import (
	"context"
	"errors"
	"log/slog"

	"callscript/internal/callflow"

	"github.com/google/uuid"
)

// Service turns engine summaries into stored records. It implements
// callflow.Recorder.
type Service struct {
	Repo Repository
	Log  *slog.Logger
}

func NewService(repo Repository, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{Repo: repo, Log: log}
}

func (s *Service) RecordCall(ctx context.Context, sum callflow.Summary) error {
	if s == nil || s.Repo == nil {
		return errors.New("calls: repository not configured")
	}
	if sum.CallSID == "" {
		return errors.New("calls: summary without CallSid")
	}
	rec := fromSummary(uuid.NewString(), sum)
	if err := s.Repo.Insert(ctx, rec); err != nil {
		return err
	}
	s.Log.Debug("call record stored", "call_sid", rec.CallSID, "status", rec.Status, "duration", rec.DurationSeconds)
	return nil
}

func (s *Service) Recent(ctx context.Context, limit int) ([]Record, error) {
	return s.Repo.Recent(ctx, limit)
}

func (s *Service) Get(ctx context.Context, callSID string) (Record, error) {
	return s.Repo.Get(ctx, callSID)
}

