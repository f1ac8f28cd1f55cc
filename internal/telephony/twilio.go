package telephony

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"callscript/internal/callflow"

	twilio "github.com/twilio/twilio-go"
	"github.com/twilio/twilio-go/client"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// callsAPI is the part of the Twilio SDK's v2010 service the engine drives.
type callsAPI interface {
	CreateCall(params *openapi.CreateCallParams) (*openapi.ApiV2010Call, error)
	UpdateCall(sid string, params *openapi.UpdateCallParams) (*openapi.ApiV2010Call, error)
}

// TwilioClient places and cancels calls through the Twilio SDK. It satisfies
// callflow.CallCreator.
type TwilioClient struct {
	calls callsAPI
}

type TwilioClientConfig struct {
	AccountSID string
	AuthToken  string
	// BaseURL overrides the API root, e.g. for a local simulator.
	BaseURL string
	Timeout time.Duration
}

func NewTwilioClient(cfg TwilioClientConfig) (*TwilioClient, error) {
	if strings.TrimSpace(cfg.AccountSID) == "" || strings.TrimSpace(cfg.AuthToken) == "" {
		return nil, errors.New("telephony: twilio account sid and auth token required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	hc := &http.Client{Timeout: timeout}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		u, err := url.Parse(strings.TrimRight(base, "/"))
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("telephony: invalid twilio api base url %q", cfg.BaseURL)
		}
		hc.Transport = apiRootRewrite{root: u, next: http.DefaultTransport}
	}

	sdk := &client.Client{
		Credentials: client.NewCredentials(cfg.AccountSID, cfg.AuthToken),
		HTTPClient:  hc,
	}
	sdk.SetAccountSid(cfg.AccountSID)
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username:   cfg.AccountSID,
		Password:   cfg.AuthToken,
		AccountSid: cfg.AccountSID,
		Client:     sdk,
	})
	return &TwilioClient{calls: rest.Api}, nil
}

// apiRootRewrite points SDK requests at an alternate API root.
type apiRootRewrite struct {
	root *url.URL
	next http.RoundTripper
}

func (t apiRootRewrite) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.URL.Scheme = t.root.Scheme
	r.URL.Host = t.root.Host
	r.URL.Path = t.root.Path + r.URL.Path
	r.Host = t.root.Host
	return t.next.RoundTrip(r)
}

// callOptionSetters maps the extra REST parameters a script may pass to the
// SDK's typed setters.
var callOptionSetters = map[string]func(p *openapi.CreateCallParams, v string) error{
	"Timeout":                 intOption((*openapi.CreateCallParams).SetTimeout),
	"TimeLimit":               intOption((*openapi.CreateCallParams).SetTimeLimit),
	"MachineDetectionTimeout": intOption((*openapi.CreateCallParams).SetMachineDetectionTimeout),
	"MachineDetection":        stringOption((*openapi.CreateCallParams).SetMachineDetection),
	"AsyncAmd":                stringOption((*openapi.CreateCallParams).SetAsyncAmd),
	"CallerId":                stringOption((*openapi.CreateCallParams).SetCallerId),
	"SendDigits":              stringOption((*openapi.CreateCallParams).SetSendDigits),
	"Trim":                    stringOption((*openapi.CreateCallParams).SetTrim),
	"Record": func(p *openapi.CreateCallParams, v string) error {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return err
		}
		p.SetRecord(b)
		return nil
	},
}

func intOption(set func(*openapi.CreateCallParams, int) *openapi.CreateCallParams) func(*openapi.CreateCallParams, string) error {
	return func(p *openapi.CreateCallParams, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return err
		}
		set(p, n)
		return nil
	}
}

func stringOption(set func(*openapi.CreateCallParams, string) *openapi.CreateCallParams) func(*openapi.CreateCallParams, string) error {
	return func(p *openapi.CreateCallParams, v string) error {
		set(p, v)
		return nil
	}
}

func createCallParams(req callflow.CreateCallRequest) (*openapi.CreateCallParams, error) {
	p := &openapi.CreateCallParams{}
	for k, v := range req.Options {
		set, ok := callOptionSetters[k]
		if !ok {
			return nil, &callflow.ValidationError{Verb: "call", Field: k, Reason: callflow.ReasonUnsupported}
		}
		if err := set(p, v); err != nil {
			return nil, fmt.Errorf("telephony: call option %s: %w", k, err)
		}
	}
	p.SetTo(req.To)
	p.SetFrom(req.From)
	p.SetUrl(req.URL)
	p.SetMethod(http.MethodPost)
	if req.StatusCallback != "" {
		p.SetStatusCallback(req.StatusCallback)
		p.SetStatusCallbackMethod(http.MethodPost)
		p.SetStatusCallbackEvent(req.StatusCallbackEvents)
	}
	if req.AsyncAMDCallback != "" {
		p.SetAsyncAmdStatusCallback(req.AsyncAMDCallback)
		p.SetAsyncAmdStatusCallbackMethod(http.MethodPost)
	}
	return p, nil
}

// CreateCall places an outbound call. Routing parameters come from the
// engine; extra options go through the SDK's typed parameters.
func (c *TwilioClient) CreateCall(ctx context.Context, req callflow.CreateCallRequest) (callflow.CallRecord, error) {
	params, err := createCallParams(req)
	if err != nil {
		return callflow.CallRecord{}, err
	}
	if err := ctx.Err(); err != nil {
		return callflow.CallRecord{}, err
	}
	call, err := c.calls.CreateCall(params)
	if err != nil {
		return callflow.CallRecord{}, fmt.Errorf("telephony: create call: %w", err)
	}
	return callflow.CallRecord{
		SID:       deref(call.Sid),
		Status:    deref(call.Status),
		Direction: deref(call.Direction),
		To:        deref(call.To),
		From:      deref(call.From),
	}, nil
}

// CancelCall drops a queued or ringing call.
func (c *TwilioClient) CancelCall(ctx context.Context, callSID string) error {
	if strings.TrimSpace(callSID) == "" {
		return errors.New("telephony: call sid required")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	params := &openapi.UpdateCallParams{}
	params.SetStatus("canceled")
	if _, err := c.calls.UpdateCall(callSID, params); err != nil {
		return fmt.Errorf("telephony: cancel call %s: %w", callSID, err)
	}
	return nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
