package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestNewWithWriter_LevelByEnv(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter("production", &buf).Debug("hidden")
	if buf.Len() != 0 {
		t.Fatalf("expected debug suppressed in production, got %s", buf.String())
	}

	NewWithWriter("local", &buf).Debug("shown")
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected json line: %v", err)
	}
	if rec["msg"] != "shown" || rec["service"] != "callscript" {
		t.Fatalf("unexpected record: %v", rec)
	}
}

func TestNewWithWriter_RedactsSecrets(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter("production", &buf).Info("twilio", "auth_token", "tok123", "call_sid", "CA1")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("expected json line: %v", err)
	}
	if rec["auth_token"] != "[redacted]" || rec["call_sid"] != "CA1" {
		t.Fatalf("unexpected record: %v", rec)
	}
}

func TestFrom_FallsBackToDefault(t *testing.T) {
	if From(context.Background()) == nil {
		t.Fatalf("expected default logger")
	}
	l := Discard()
	if From(With(context.Background(), l)) != l {
		t.Fatalf("expected stored logger")
	}
}

func TestMiddleware_RequestID(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer
	l := NewWithWriter("local", &buf)

	r := gin.New()
	r.Use(Middleware(l))
	r.GET("/x", func(c *gin.Context) {
		if From(c.Request.Context()) == nil || FromGin(c) == nil {
			t.Errorf("expected request logger")
		}
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(HeaderRequestID, "rid-1")
	r.ServeHTTP(w, req)

	if w.Header().Get(HeaderRequestID) != "rid-1" {
		t.Fatalf("expected request id echoed")
	}
	if !bytes.Contains(buf.Bytes(), []byte(`"request_id":"rid-1"`)) {
		t.Fatalf("expected request_id in log: %s", buf.String())
	}
}

func TestMiddleware_LogsCallSid(t *testing.T) {
	gin.SetMode(gin.TestMode)
	var buf bytes.Buffer

	r := gin.New()
	r.Use(Middleware(NewWithWriter("production", &buf)))
	r.POST("/twilio/status", func(c *gin.Context) {
		_ = c.Request.ParseForm()
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/twilio/status", strings.NewReader("CallSid=CA42&CallStatus=completed"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.ServeHTTP(httptest.NewRecorder(), req)

	if !bytes.Contains(buf.Bytes(), []byte(`"call_sid":"CA42"`)) {
		t.Fatalf("expected call_sid in log: %s", buf.String())
	}
}
