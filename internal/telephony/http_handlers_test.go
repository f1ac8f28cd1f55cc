package telephony

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"callscript/internal/callflow"

	"github.com/gin-gonic/gin"
)

type fakeRouter struct {
	markup string
	err    error
	got    callflow.Fields
}

func (f *fakeRouter) HandleVoice(_ context.Context, in callflow.Fields) (string, error) {
	f.got = in
	return f.markup, f.err
}

func (f *fakeRouter) HandleDial(ctx context.Context, in callflow.Fields) (string, error) {
	return f.HandleVoice(ctx, in)
}

func (f *fakeRouter) HandleInbound(ctx context.Context, in callflow.Fields) (string, error) {
	return f.HandleVoice(ctx, in)
}

func (f *fakeRouter) HandleStatus(_ context.Context, in callflow.Fields) error {
	f.got = in
	return f.err
}

func (f *fakeRouter) HandleAsyncDetection(ctx context.Context, in callflow.Fields) error {
	return f.HandleStatus(ctx, in)
}

func newCallbackServer(router CallbackRouter) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	RegisterCallbacks(r, CallbackHandler{Router: router})
	return r
}

func postForm(r http.Handler, path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestCallbackHandlerWritesTwiML(t *testing.T) {
	fr := &fakeRouter{markup: "<Response><Hangup/></Response>"}
	w := postForm(newCallbackServer(fr), callflow.PathVoice, url.Values{"CallSid": {"CA1"}, "Digits": {"3"}})

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/xml" {
		t.Fatalf("expected application/xml, got %q", ct)
	}
	if w.Body.String() != fr.markup {
		t.Fatalf("unexpected body %q", w.Body.String())
	}
	if fr.got["Digits"] != "3" {
		t.Fatalf("expected fields forwarded, got %v", fr.got)
	}
}

func TestCallbackHandlerErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		path string
		err  error
		code int
		xml  bool
	}{
		{"missing call sid", callflow.PathVoice, callflow.ErrMissingCallID, http.StatusBadRequest, false},
		{"routing warning", callflow.PathDial, &callflow.RoutingWarning{Class: "dial", CallID: "CA9", Reason: "unknown or ended call"}, http.StatusOK, true},
		{"status warning", callflow.PathStatus, &callflow.RoutingWarning{Class: "status", CallID: "CA9"}, http.StatusOK, true},
		{"engine failure", callflow.PathInbound, errors.New("boom"), http.StatusInternalServerError, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := postForm(newCallbackServer(&fakeRouter{err: tc.err}), tc.path, url.Values{"CallSid": {"CA9"}})
			if w.Code != tc.code {
				t.Fatalf("expected %d, got %d", tc.code, w.Code)
			}
			if tc.xml && !strings.Contains(w.Body.String(), "<Response>") {
				t.Fatalf("expected empty TwiML, got %q", w.Body.String())
			}
		})
	}
}

func TestCallbackHandlerStatusAcknowledges(t *testing.T) {
	fr := &fakeRouter{}
	w := postForm(newCallbackServer(fr), callflow.PathAsyncDetection, url.Values{"CallSid": {"CA1"}, "AnsweredBy": {"human"}})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if fr.got["AnsweredBy"] != "human" {
		t.Fatalf("expected fields forwarded")
	}
}

// Drives a real engine through the HTTP surface: inbound call, gather, digits.
func TestCallbackHandlerWithEngine(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng, err := callflow.NewEngine(ctx, callflow.Options{
		BaseURL: "https://voice.example.com",
		Inbound: callflow.InboundResolverFunc(func(context.Context, *callflow.Session) (callflow.Script, error) {
			return func(ctx context.Context, s *callflow.Session) error {
				g, err := s.Gather(callflow.Attrs{"numDigits": "1"})
				if err != nil {
					return err
				}
				if err := g.Say("Press any key", nil); err != nil {
					return err
				}
				next, err := s.SubmitResponse(false)
				if err != nil {
					return err
				}
				if _, err := next.Wait(ctx); err != nil {
					return err
				}
				if err := s.Say("Got "+s.Properties().Digits, nil); err != nil {
					return err
				}
				_, err = s.SubmitResponse(true)
				return err
			}, nil
		}),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	srv := newCallbackServer(eng)

	w := postForm(srv, callflow.PathInbound, url.Values{"CallSid": {"CA1"}, "To": {"+1555"}, "CallStatus": {"ringing"}})
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "<Gather") {
		t.Fatalf("expected gather, got %d %q", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `action="https://voice.example.com/twilio/voice"`) {
		t.Fatalf("expected injected action, got %q", w.Body.String())
	}

	w = postForm(srv, callflow.PathVoice, url.Values{"CallSid": {"CA1"}, "Digits": {"7"}, "CallStatus": {"in-progress"}})
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "Got 7") {
		t.Fatalf("expected digits echoed, got %d %q", w.Code, w.Body.String())
	}
	if strings.Contains(w.Body.String(), "<Redirect") {
		t.Fatalf("final markup must not redirect: %q", w.Body.String())
	}

	w = postForm(srv, callflow.PathStatus, url.Values{"CallSid": {"CA1"}, "CallStatus": {"completed"}})
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if _, ok := eng.Session("CA1"); ok {
		t.Fatalf("expected session removed after completion")
	}
}
