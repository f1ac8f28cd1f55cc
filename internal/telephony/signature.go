package telephony

import (
	"net/http"
	"net/url"
	"strings"

	"callscript/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/twilio/twilio-go/client"
)

const SignatureHeader = "X-Twilio-Signature"

// ValidSignature reports whether got is the X-Twilio-Signature Twilio would
// send for a POST of params to fullURL.
func ValidSignature(authToken, fullURL string, params url.Values, got string) bool {
	if got == "" {
		return false
	}
	v := client.NewRequestValidator(authToken)
	return v.Validate(fullURL, flattenForm(params), got)
}

// flattenForm keeps the first value of each field; Twilio callbacks never
// repeat a field.
func flattenForm(params url.Values) map[string]string {
	out := make(map[string]string, len(params))
	for k, vals := range params {
		if len(vals) > 0 {
			out[k] = vals[0]
		}
	}
	return out
}

// RequireSignature rejects callbacks whose signature does not match. The
// URL Twilio signed is rebuilt from the public base URL, since the service
// usually sits behind a proxy.
func RequireSignature(authToken, publicBaseURL string) gin.HandlerFunc {
	base := strings.TrimRight(publicBaseURL, "/")
	return func(c *gin.Context) {
		if err := c.Request.ParseForm(); err != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
			return
		}
		fullURL := base + c.Request.URL.RequestURI()
		if !ValidSignature(authToken, fullURL, c.Request.PostForm, c.GetHeader(SignatureHeader)) {
			logger.FromGin(c).Warn("twilio signature rejected", "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
			return
		}
		c.Next()
	}
}
