package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"callscript/internal/audit"
	"callscript/internal/auth"
	"callscript/internal/callflow"
	"callscript/internal/calls"
	"callscript/internal/config"
	"callscript/internal/reporting"
	"callscript/internal/routing"
	"callscript/internal/scripts"

	"github.com/gin-gonic/gin"
)

type fakeCreator struct {
	mu       sync.Mutex
	next     int
	err      error
	canceled []string
}

func (f *fakeCreator) CreateCall(_ context.Context, req callflow.CreateCallRequest) (callflow.CallRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return callflow.CallRecord{}, f.err
	}
	f.next++
	return callflow.CallRecord{SID: fmt.Sprintf("CA%03d", f.next), Status: "queued", Direction: "outbound-api"}, nil
}

func (f *fakeCreator) CancelCall(_ context.Context, sid string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.canceled = append(f.canceled, sid)
	return nil
}

type apiEnv struct {
	router  *gin.Engine
	creator *fakeCreator
	engine  *callflow.Engine
	audit   *audit.MemoryRepo
	records *calls.MemoryRepo
	auth    *auth.Manager
}

func newAPI(t *testing.T) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	m, err := auth.NewManager(config.AuthConfig{JWTSecret: "secret", AccessTokenTTL: time.Minute, RefreshTokenTTL: time.Hour})
	if err != nil {
		t.Fatalf("auth: %v", err)
	}
	env := &apiEnv{
		creator: &fakeCreator{},
		audit:   audit.NewMemoryRepo(),
		records: calls.NewMemoryRepo(),
		auth:    m,
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	eng, err := callflow.NewEngine(ctx, callflow.Options{
		BaseURL: "https://voice.example.com",
		Creator: env.creator,
		Logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	env.engine = eng

	h := Handlers{
		Auth: m,
		Operators: auth.NewOperators([]config.Operator{
			{User: "alice", Role: "admin", Key: "k-admin"},
			{User: "olga", Role: "operator", Key: "k-op"},
			{User: "vic", Role: "viewer", Key: "k-view"},
		}),
		Engine:    eng,
		Scripts:   scripts.NewRegistry(),
		Records:   calls.NewService(env.records, nil),
		Overrides: routing.NewMemoryOverrideStore(),
		Audit:     audit.NewService(env.audit),
		Reports:   reporting.NewService(env.records),
	}
	r := gin.New()
	Register(r.Group("/v1"), h, auth.RequireAccessToken(m))
	env.router = r
	return env
}

func (e *apiEnv) token(t *testing.T, user, role string) string {
	t.Helper()
	p, err := e.auth.IssuePair(time.Now(), user, role)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	return p.AccessToken
}

func (e *apiEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
}

func TestLoginAndRefresh(t *testing.T) {
	e := newAPI(t)

	w := e.do(t, http.MethodPost, "/v1/auth/login", "", gin.H{"user_id": "olga", "key": "wrong"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}

	w = e.do(t, http.MethodPost, "/v1/auth/login", "", gin.H{"user_id": "olga", "key": "k-op"})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var pair auth.TokenPair
	decode(t, w, &pair)

	w = e.do(t, http.MethodGet, "/v1/me", pair.AccessToken, nil)
	var me map[string]string
	decode(t, w, &me)
	if me["user_id"] != "olga" || me["role"] != "operator" {
		t.Fatalf("unexpected identity %v", me)
	}

	w = e.do(t, http.MethodPost, "/v1/auth/refresh", "", gin.H{"refresh_token": pair.RefreshToken})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200 on refresh, got %d: %s", w.Code, w.Body.String())
	}
	w = e.do(t, http.MethodPost, "/v1/auth/refresh", "", gin.H{"refresh_token": pair.AccessToken})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected access token refused for refresh, got %d", w.Code)
	}
}

func TestStartCall_RunsScriptAndAudits(t *testing.T) {
	e := newAPI(t)
	tok := e.token(t, "olga", "operator")

	w := e.do(t, http.MethodPost, "/v1/calls", tok, gin.H{
		"to": "+15550002", "from": "+15550001", "script": "greeting",
		"params": gin.H{"text": "Hi"},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var snap callflow.Snapshot
	decode(t, w, &snap)
	if snap.CallSID != "CA001" || snap.Status != callflow.StatusQueued {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	w = e.do(t, http.MethodGet, "/v1/calls/CA001", tok, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected live call, got %d", w.Code)
	}

	markup, err := e.engine.HandleVoice(context.Background(), callflow.Fields{"CallSid": "CA001", "CallStatus": "in-progress"})
	if err != nil {
		t.Fatalf("voice: %v", err)
	}
	if !bytes.Contains([]byte(markup), []byte("<Say>Hi</Say>")) {
		t.Fatalf("expected greeting markup, got %s", markup)
	}

	events := e.audit.Events()
	if len(events) != 1 || events[0].Type != audit.EventTypeCallStarted || events[0].ActorUserID != "olga" || events[0].CallID != "CA001" {
		t.Fatalf("unexpected audit events %+v", events)
	}
	_ = e.engine.HandleStatus(context.Background(), callflow.Fields{"CallSid": "CA001", "CallStatus": "completed"})
}

func TestStartCall_Errors(t *testing.T) {
	e := newAPI(t)
	tok := e.token(t, "olga", "operator")

	cases := []struct {
		name string
		body gin.H
		code int
	}{
		{"unknown script", gin.H{"to": "+1", "from": "+2", "script": "nope"}, http.StatusNotFound},
		{"bad params", gin.H{"to": "+1", "from": "+2", "script": "forward"}, http.StatusBadRequest},
		{"missing to", gin.H{"from": "+2", "script": "greeting"}, http.StatusBadRequest},
		{"reserved option", gin.H{"to": "+1", "from": "+2", "script": "greeting", "options": gin.H{"Url": "https://evil"}}, http.StatusBadRequest},
	}
	for _, c := range cases {
		w := e.do(t, http.MethodPost, "/v1/calls", tok, c.body)
		if w.Code != c.code {
			t.Fatalf("%s: expected %d, got %d: %s", c.name, c.code, w.Code, w.Body.String())
		}
	}

	e.creator.err = errors.New("twilio down")
	w := e.do(t, http.MethodPost, "/v1/calls", tok, gin.H{"to": "+1", "from": "+2", "script": "greeting"})
	if w.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", w.Code)
	}
}

func TestViewerCannotStartCalls(t *testing.T) {
	e := newAPI(t)
	tok := e.token(t, "vic", "viewer")

	w := e.do(t, http.MethodPost, "/v1/calls", tok, gin.H{"to": "+1", "from": "+2", "script": "greeting"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", w.Code)
	}
	w = e.do(t, http.MethodGet, "/v1/calls", tok, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected viewer to list calls, got %d", w.Code)
	}
}

func TestCancelCall(t *testing.T) {
	e := newAPI(t)
	tok := e.token(t, "olga", "operator")

	if w := e.do(t, http.MethodPost, "/v1/calls/CA404/cancel", tok, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}

	s, err := e.engine.Call(context.Background(), "+15550002", "+15550001", nil)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	w := e.do(t, http.MethodPost, "/v1/calls/"+s.ID()+"/cancel", tok, nil)
	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if len(e.creator.canceled) != 1 || e.creator.canceled[0] != s.ID() {
		t.Fatalf("expected provider cancel, got %v", e.creator.canceled)
	}

	if err := e.engine.HandleStatus(context.Background(), callflow.Fields{"CallSid": s.ID(), "CallStatus": "in-progress"}); err != nil {
		t.Fatalf("status: %v", err)
	}
	s2, err := e.engine.Call(context.Background(), "+15550003", "+15550001", nil)
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if err := e.engine.HandleStatus(context.Background(), callflow.Fields{"CallSid": s2.ID(), "CallStatus": "in-progress"}); err != nil {
		t.Fatalf("status: %v", err)
	}
	w = e.do(t, http.MethodPost, "/v1/calls/"+s2.ID()+"/cancel", tok, nil)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for answered call, got %d", w.Code)
	}
}

func TestRecords(t *testing.T) {
	e := newAPI(t)
	tok := e.token(t, "vic", "viewer")
	_ = e.records.Insert(context.Background(), calls.Record{ID: "r1", CallSID: "CA1", Status: callflow.StatusCompleted})

	w := e.do(t, http.MethodGet, "/v1/records?limit=10", tok, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var body struct {
		Records []calls.Record `json:"records"`
	}
	decode(t, w, &body)
	if len(body.Records) != 1 || body.Records[0].CallSID != "CA1" {
		t.Fatalf("unexpected records %+v", body.Records)
	}

	if w := e.do(t, http.MethodGet, "/v1/records?limit=0", tok, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", w.Code)
	}
	if w := e.do(t, http.MethodGet, "/v1/records/CA2", tok, nil); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestCallsReport(t *testing.T) {
	e := newAPI(t)
	tok := e.token(t, "vic", "viewer")
	ended := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	_ = e.records.Insert(context.Background(), calls.Record{CallSID: "CA1", Direction: callflow.DirectionInbound, Status: callflow.StatusCompleted, DurationSeconds: 20, EndedAt: ended})
	_ = e.records.Insert(context.Background(), calls.Record{CallSID: "CA2", Direction: callflow.DirectionOutboundAPI, Status: callflow.StatusNoAnswer, EndedAt: ended})

	w := e.do(t, http.MethodGet, "/v1/reports/calls?from=2026-03-01T00:00:00Z&to=2026-03-02T00:00:00Z", tok, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var sum reporting.CallsSummary
	decode(t, w, &sum)
	if sum.TotalCalls != 2 || sum.CompletedCalls != 1 || sum.NoAnswerCalls != 1 || sum.ConnectionRate != 0.5 {
		t.Fatalf("unexpected summary %+v", sum)
	}

	w = e.do(t, http.MethodGet, "/v1/reports/calls?from=2026-03-01T00:00:00Z&to=2026-03-02T00:00:00Z&direction=inbound", tok, nil)
	decode(t, w, &sum)
	if sum.TotalCalls != 1 {
		t.Fatalf("expected direction filter, got %+v", sum)
	}

	if w := e.do(t, http.MethodGet, "/v1/reports/calls?from=yesterday", tok, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad range, got %d", w.Code)
	}
	if w := e.do(t, http.MethodGet, "/v1/reports/calls?from=2026-03-01T00:00:00Z&to=2026-03-02T00:00:00Z&direction=sideways", tok, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad direction, got %d", w.Code)
	}
}

func TestOverrides_AdminOnly(t *testing.T) {
	e := newAPI(t)
	admin := e.token(t, "alice", "admin")
	op := e.token(t, "olga", "operator")

	body := gin.H{"number": "+15550001", "script": "greeting", "ttl": "30m"}
	if w := e.do(t, http.MethodPost, "/v1/admin/overrides", op, body); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for operator, got %d", w.Code)
	}

	w := e.do(t, http.MethodPost, "/v1/admin/overrides", admin, body)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var o routing.Override
	decode(t, w, &o)
	if o.ID == "" || o.SetBy != "alice" {
		t.Fatalf("unexpected override %+v", o)
	}

	w = e.do(t, http.MethodGet, "/v1/admin/overrides", admin, nil)
	var list struct {
		Overrides []routing.Override `json:"overrides"`
	}
	decode(t, w, &list)
	if len(list.Overrides) != 1 {
		t.Fatalf("expected one override, got %+v", list.Overrides)
	}

	if w := e.do(t, http.MethodPost, "/v1/admin/overrides", admin, gin.H{"number": "+1", "script": "greeting", "ttl": "1000h"}); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for long ttl, got %d", w.Code)
	}

	if w := e.do(t, http.MethodDelete, "/v1/admin/overrides/+15550001", admin, nil); w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}

	events := e.audit.Events()
	if len(events) != 1 || events[0].Type != audit.EventTypeOverrideSet || events[0].OverrideID != o.ID {
		t.Fatalf("unexpected audit %+v", events)
	}
}

func TestAudit_AuditorAllowed(t *testing.T) {
	e := newAPI(t)
	if w := e.do(t, http.MethodGet, "/v1/admin/audit", e.token(t, "ann", "auditor"), nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200 for auditor, got %d", w.Code)
	}
	if w := e.do(t, http.MethodGet, "/v1/admin/audit", e.token(t, "olga", "operator"), nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for operator, got %d", w.Code)
	}
	if w := e.do(t, http.MethodGet, "/v1/calls", e.token(t, "ann", "auditor"), nil); w.Code != http.StatusForbidden {
		t.Fatalf("expected auditor kept out of calls, got %d", w.Code)
	}
}
