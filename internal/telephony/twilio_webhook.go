package telephony

import (
	"net/http"
	"strings"

	"callscript/internal/callflow"
)

// ParseCallback reads a Twilio callback body into flat fields.
// Twilio sends application/x-www-form-urlencoded by default.
// Ref: https://www.twilio.com/docs/usage/webhooks/voice-webhooks
//
// Only POST body fields are taken; which of them reach a session is decided
// by the engine's field table.
func ParseCallback(r *http.Request) (callflow.Fields, error) {
	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	f := make(callflow.Fields, len(r.PostForm))
	for k := range r.PostForm {
		f[k] = strings.TrimSpace(r.PostFormValue(k))
	}
	return f, nil
}
