package calls

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"callscript/internal/callflow"
)

func summary(sid string, end time.Time) callflow.Summary {
	return callflow.Summary{
		CallSID:    sid,
		Direction:  callflow.DirectionOutboundAPI,
		From:       "+15550001",
		To:         "+15550002",
		Status:     callflow.StatusCompleted,
		Duration:   42,
		ChildCalls: 1,
		StartedAt:  end.Add(-time.Minute),
		EndedAt:    end,
	}
}

func TestRecordCall_StoresOncePerCall(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo, nil)
	ctx := context.Background()
	now := time.Unix(1700000000, 0).UTC()

	if err := svc.RecordCall(ctx, summary("CA1", now)); err != nil {
		t.Fatalf("record: %v", err)
	}
	dup := summary("CA1", now.Add(time.Second))
	dup.Status = callflow.StatusFailed
	if err := svc.RecordCall(ctx, dup); err != nil {
		t.Fatalf("record duplicate: %v", err)
	}

	rec, err := svc.Get(ctx, "CA1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Status != callflow.StatusCompleted || rec.DurationSeconds != 42 || rec.ChildCalls != 1 {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.ID == "" {
		t.Fatalf("expected generated id")
	}
}

func TestRecordCall_RequiresCallSID(t *testing.T) {
	svc := NewService(NewMemoryRepo(), nil)
	if err := svc.RecordCall(context.Background(), callflow.Summary{}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestRecent_NewestFirst(t *testing.T) {
	svc := NewService(NewMemoryRepo(), nil)
	ctx := context.Background()
	now := time.Now()
	for _, sid := range []string{"CA1", "CA2", "CA3"} {
		if err := svc.RecordCall(ctx, summary(sid, now)); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	got, err := svc.Recent(ctx, 2)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 || got[0].CallSID != "CA3" || got[1].CallSID != "CA2" {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestGet_NotFound(t *testing.T) {
	svc := NewService(NewMemoryRepo(), nil)
	if _, err := svc.Get(context.Background(), "CA404"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMigrationsCoverRecordColumns(t *testing.T) {
	if len(Migrations) == 0 || Migrations[0].Version != 1 {
		t.Fatalf("expected a first migration")
	}
	ddl := Migrations[0].Stmts[0]
	for _, col := range strings.Split(recordColumns, ",") {
		if col = strings.TrimSpace(col); !strings.Contains(ddl, col) {
			t.Fatalf("column %s missing from %s", col, ddl)
		}
	}
}
