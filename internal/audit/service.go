package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events. Append only.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Reader is implemented by repositories that can list events back.
type Reader interface {
	Recent(ctx context.Context, limit int) ([]Event, error)
}

// Service records operator and routing actions. Callers treat it as
// best-effort and never fail a call flow on an audit error.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var (
	ErrInvalidEvent = errors.New("audit: invalid event")
	ErrNotReadable  = errors.New("audit: repository cannot list events")
)

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if !e.Type.valid() {
		return fmt.Errorf("%w: type %q", ErrInvalidEvent, e.Type)
	}
	if len(e.Metadata) > 0 {
		if _, err := json.Marshal(e.Metadata); err != nil {
			return fmt.Errorf("%w: metadata: %v", ErrInvalidEvent, err)
		}
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// LogCallAction records an operator action against a call.
func (s *Service) LogCallAction(ctx context.Context, typ EventType, a Actor, callID, message string, meta map[string]any) error {
	return s.Append(ctx, Event{
		Type:        typ,
		ActorUserID: a.UserID,
		ActorRole:   a.Role,
		IPAddress:   a.IP,
		CallID:      callID,
		Message:     message,
		Metadata:    meta,
	})
}

func (s *Service) LogOverrideSet(ctx context.Context, a Actor, overrideID string, meta map[string]any) error {
	return s.Append(ctx, Event{
		Type:        EventTypeOverrideSet,
		ActorUserID: a.UserID,
		ActorRole:   a.Role,
		IPAddress:   a.IP,
		OverrideID:  overrideID,
		Message:     "routing override set",
		Metadata:    meta,
	})
}

// Recent lists the newest events when the repository supports it.
func (s *Service) Recent(ctx context.Context, limit int) ([]Event, error) {
	r, ok := s.repo.(Reader)
	if !ok {
		return nil, ErrNotReadable
	}
	return r.Recent(ctx, limit)
}
