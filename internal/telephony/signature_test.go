package telephony

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

// sign computes the X-Twilio-Signature for a form POST the way Twilio does.
func sign(authToken, fullURL string, params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(fullURL)
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString(params.Get(k))
	}
	mac := hmac.New(sha1.New, []byte(authToken))
	mac.Write([]byte(b.String()))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Example from Twilio's webhook security documentation.
func TestSignatureKnownVector(t *testing.T) {
	params := url.Values{}
	params.Set("CallSid", "CA1234567890ABCDE")
	params.Set("Caller", "+12349013030")
	params.Set("Digits", "1234")
	params.Set("From", "+12349013030")
	params.Set("To", "+18005551212")

	const fullURL = "https://mycompany.com/myapp.php?foo=1&bar=2"
	const want = "0/KCTR6DLpKmkAf8muzZqo1nDgQ="
	if got := sign("12345", fullURL, params); got != want {
		t.Fatalf("unexpected signature %q", got)
	}
	if !ValidSignature("12345", fullURL, params, want) {
		t.Fatalf("expected documented signature to validate")
	}
}

func TestValidSignature(t *testing.T) {
	params := url.Values{"CallSid": {"CA1"}}
	sig := sign("secret", "https://voice.example.com/twilio/status", params)

	if !ValidSignature("secret", "https://voice.example.com/twilio/status", params, sig) {
		t.Fatalf("expected valid signature")
	}
	if ValidSignature("other", "https://voice.example.com/twilio/status", params, sig) {
		t.Fatalf("expected invalid signature for wrong token")
	}
	if ValidSignature("secret", "https://voice.example.com/twilio/status", params, "") {
		t.Fatalf("expected missing signature to be invalid")
	}
}

func TestRequireSignatureMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/twilio/status", RequireSignature("secret", "https://voice.example.com/"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	form := url.Values{"CallSid": {"CA1"}, "CallStatus": {"ringing"}}

	send := func(sig string) int {
		req := httptest.NewRequest(http.MethodPost, "/twilio/status", strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		if sig != "" {
			req.Header.Set(SignatureHeader, sig)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	if code := send(""); code != http.StatusForbidden {
		t.Fatalf("expected 403 without signature, got %d", code)
	}
	if code := send("bogus"); code != http.StatusForbidden {
		t.Fatalf("expected 403 for bad signature, got %d", code)
	}
	good := sign("secret", "https://voice.example.com/twilio/status", form)
	if code := send(good); code != http.StatusNoContent {
		t.Fatalf("expected 204 for good signature, got %d", code)
	}
}
