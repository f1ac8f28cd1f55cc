package telephony

import (
	"context"
	"errors"
	"net/http"

	"callscript/internal/callflow"
	"callscript/internal/routing"
	"callscript/pkg/logger"

	"github.com/gin-gonic/gin"
)

// CallbackRouter is the engine surface behind the Twilio callback endpoints.
type CallbackRouter interface {
	HandleVoice(ctx context.Context, f callflow.Fields) (string, error)
	HandleDial(ctx context.Context, f callflow.Fields) (string, error)
	HandleInbound(ctx context.Context, f callflow.Fields) (string, error)
	HandleStatus(ctx context.Context, f callflow.Fields) error
	HandleAsyncDetection(ctx context.Context, f callflow.Fields) error
}

// CallbackHandler converts Twilio callbacks to engine fields and writes TwiML.
//
// No call logic here.
type CallbackHandler struct {
	Router CallbackRouter
}

// RegisterCallbacks mounts the callback endpoints. mw runs before each
// handler (e.g. RequireSignature).
func RegisterCallbacks(r gin.IRoutes, h CallbackHandler, mw ...gin.HandlerFunc) {
	with := func(fn gin.HandlerFunc) []gin.HandlerFunc {
		return append(append([]gin.HandlerFunc(nil), mw...), fn)
	}
	r.POST(callflow.PathVoice, with(h.Voice)...)
	r.POST(callflow.PathDial, with(h.Dial)...)
	r.POST(callflow.PathInbound, with(h.Inbound)...)
	r.POST(callflow.PathStatus, with(h.Status)...)
	r.POST(callflow.PathAsyncDetection, with(h.AsyncDetection)...)
}

func (h CallbackHandler) Voice(c *gin.Context)   { h.markup(c, h.Router.HandleVoice) }
func (h CallbackHandler) Dial(c *gin.Context)    { h.markup(c, h.Router.HandleDial) }
func (h CallbackHandler) Inbound(c *gin.Context) { h.markup(c, h.Router.HandleInbound) }

func (h CallbackHandler) Status(c *gin.Context) {
	h.notify(c, h.Router.HandleStatus)
}

func (h CallbackHandler) AsyncDetection(c *gin.Context) {
	h.notify(c, h.Router.HandleAsyncDetection)
}

func (h CallbackHandler) markup(c *gin.Context, fn func(context.Context, callflow.Fields) (string, error)) {
	if h.Router == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call engine not configured"})
		return
	}
	f, ok := parseOrAbort(c)
	if !ok {
		return
	}
	twiml, err := fn(requestContext(c), f)
	if err != nil {
		writeCallbackError(c, f, err)
		return
	}
	writeTwiML(c, twiml)
}

func (h CallbackHandler) notify(c *gin.Context, fn func(context.Context, callflow.Fields) error) {
	if h.Router == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "call engine not configured"})
		return
	}
	f, ok := parseOrAbort(c)
	if !ok {
		return
	}
	if err := fn(requestContext(c), f); err != nil {
		writeCallbackError(c, f, err)
		return
	}
	writeTwiML(c, callflow.EmptyResponse())
}

// requestContext carries the request origin so override decisions can audit it.
func requestContext(c *gin.Context) context.Context {
	return routing.WithOrigin(c.Request.Context(), routing.Origin{
		ClientIP:  c.ClientIP(),
		RequestID: c.Writer.Header().Get(logger.HeaderRequestID),
	})
}

func parseOrAbort(c *gin.Context) (callflow.Fields, bool) {
	f, err := ParseCallback(c.Request)
	if err != nil {
		logger.FromGin(c).Warn("twilio callback parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid form"})
		return nil, false
	}
	return f, true
}

func writeCallbackError(c *gin.Context, f callflow.Fields, err error) {
	log := logger.FromGin(c).With("call_sid", f.CallSID())

	var warn *callflow.RoutingWarning
	switch {
	case errors.Is(err, callflow.ErrMissingCallID):
		log.Warn("twilio callback without CallSid")
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing CallSid"})
	case errors.As(err, &warn):
		// Acknowledge so Twilio does not retry or play an error to the caller.
		log.Warn("twilio callback not routed", "class", warn.Class, "reason", warn.Reason)
		writeTwiML(c, callflow.EmptyResponse())
	default:
		log.Error("twilio callback failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "callback failed"})
	}
}

func writeTwiML(c *gin.Context, twiml string) {
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}
