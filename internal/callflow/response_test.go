package callflow

import (
	"encoding/xml"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testLinks = NewLinks("https://voice.example.com/")

// verbNames lists the top-level verbs of a rendered document in order.
func verbNames(t *testing.T, markup string) []string {
	t.Helper()
	dec := xml.NewDecoder(strings.NewReader(markup))
	var names []string
	depth := 0
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		switch el := tok.(type) {
		case xml.StartElement:
			depth++
			if depth == 1 {
				require.Equal(t, "Response", el.Name.Local)
			}
			if depth == 2 {
				names = append(names, el.Name.Local)
			}
		case xml.EndElement:
			depth--
		}
	}
	return names
}

// verbAttr returns an attribute of the first element named verb, at any depth.
func verbAttr(t *testing.T, markup, verb, attr string) (string, bool) {
	t.Helper()
	dec := xml.NewDecoder(strings.NewReader(markup))
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return "", false
		}
		require.NoError(t, err)
		if el, ok := tok.(xml.StartElement); ok && el.Name.Local == verb {
			for _, a := range el.Attr {
				if a.Name.Local == attr {
					return a.Value, true
				}
			}
			return "", false
		}
	}
}

func TestNewLinks(t *testing.T) {
	assert.Equal(t, "https://voice.example.com/twilio/voice", testLinks.Voice)
	assert.Equal(t, "https://voice.example.com/twilio/dial", testLinks.Dial)
	assert.Equal(t, "https://voice.example.com/twilio/amd", testLinks.AsyncDetection)
}

func TestResponse_RendersVerbsInOrder(t *testing.T) {
	r := newResponse(scriptProfile, &testLinks)
	_, err := r.Append("Say", "hello & welcome", Attrs{"voice": "alice"})
	require.NoError(t, err)
	_, err = r.Append("Pause", "", Attrs{"length": "1"})
	require.NoError(t, err)
	_, err = r.Append("Hangup", "", nil)
	require.NoError(t, err)

	out, err := r.Render()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, xml.Header))
	assert.Equal(t, []string{"Say", "Pause", "Hangup"}, verbNames(t, out))
	assert.Contains(t, out, "hello &amp; welcome")

	voice, ok := verbAttr(t, out, "Say", "voice")
	require.True(t, ok)
	assert.Equal(t, "alice", voice)
}

func TestResponse_InjectsCallbackRouting(t *testing.T) {
	r := newResponse(scriptProfile, &testLinks)
	g, err := r.Append("Gather", "", Attrs{"numDigits": "1"})
	require.NoError(t, err)
	require.NoError(t, g.Say("Press one", nil))
	d, err := r.Append("Dial", "", Attrs{"timeout": "20"})
	require.NoError(t, err)
	require.NoError(t, d.Number("+15550001111", nil))

	out, err := r.Render()
	require.NoError(t, err)

	action, _ := verbAttr(t, out, "Gather", "action")
	assert.Equal(t, testLinks.Voice, action)
	method, _ := verbAttr(t, out, "Gather", "method")
	assert.Equal(t, "POST", method)

	action, _ = verbAttr(t, out, "Dial", "action")
	assert.Equal(t, testLinks.Dial, action)
	method, _ = verbAttr(t, out, "Dial", "method")
	assert.Equal(t, "POST", method)
}

func TestResponse_RendersNestedNouns(t *testing.T) {
	r := newResponse(scriptProfile, &testLinks)
	g, err := r.Append("Gather", "", Attrs{"numDigits": "1"})
	require.NoError(t, err)
	require.NoError(t, g.Say("Press one", Attrs{"voice": "alice"}))
	require.NoError(t, g.Pause(Attrs{"length": "2"}))
	d, err := r.Append("Dial", "", nil)
	require.NoError(t, err)
	require.NoError(t, d.Number("+15550001111", nil))
	require.NoError(t, d.Sip("sip:desk@pbx.example.com", nil))

	out, err := r.Render()
	require.NoError(t, err)
	assert.Equal(t, []string{"Gather", "Dial"}, verbNames(t, out))
	assert.Contains(t, out, `<Say voice="alice">Press one</Say><Pause length="2"></Pause></Gather>`)
	assert.Contains(t, out, `<Number>+15550001111</Number><Sip>sip:desk@pbx.example.com</Sip></Dial>`)
}

func TestResponse_RejectsReservedAndUnsupported(t *testing.T) {
	cases := []struct {
		name   string
		build  func(r *Response) error
		field  string
		reason string
	}{
		{
			name: "gather action",
			build: func(r *Response) error {
				_, err := r.Append("Gather", "", Attrs{"action": "https://evil.example.com"})
				return err
			},
			field:  "action",
			reason: ReasonReserved,
		},
		{
			name: "dial status callback via noun",
			build: func(r *Response) error {
				d, err := r.Append("Dial", "", nil)
				if err != nil {
					return err
				}
				return d.Number("+15550001111", Attrs{"statusCallback": "https://x"})
			},
			field:  "statusCallback",
			reason: ReasonReserved,
		},
		{
			name: "dial recording callback",
			build: func(r *Response) error {
				_, err := r.Append("Dial", "", Attrs{"recordingStatusCallback": "https://x"})
				return err
			},
			field:  "recordingStatusCallback",
			reason: ReasonReserved,
		},
		{
			name: "unknown attribute",
			build: func(r *Response) error {
				_, err := r.Append("Say", "hi", Attrs{"colour": "blue"})
				return err
			},
			field:  "colour",
			reason: ReasonUnsupported,
		},
		{
			name: "redirect verb",
			build: func(r *Response) error {
				_, err := r.Append("Redirect", "https://x", nil)
				return err
			},
			reason: ReasonUnsupported,
		},
		{
			name: "dial nested in gather",
			build: func(r *Response) error {
				g, err := r.Append("Gather", "", nil)
				if err != nil {
					return err
				}
				_, err = g.Nest("Dial", "+1555", nil)
				return err
			},
			reason: ReasonUnsupported,
		},
		{
			name: "set after build",
			build: func(r *Response) error {
				g, err := r.Append("Gather", "", nil)
				if err != nil {
					return err
				}
				return g.Set("method", "GET")
			},
			field:  "method",
			reason: ReasonReserved,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.build(newResponse(scriptProfile, &testLinks))
			var verr *ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tc.field, verr.Field)
			assert.Equal(t, tc.reason, verr.Reason)
		})
	}
}

func TestResponse_RedirectUsesNarrowProfile(t *testing.T) {
	r := newResponse(scriptProfile, &testLinks)
	_, err := r.Append("Say", "one moment", nil)
	require.NoError(t, err)
	require.NoError(t, r.redirect(testLinks.Voice))

	out, err := r.Render()
	require.NoError(t, err)
	assert.Equal(t, []string{"Say", "Redirect"}, verbNames(t, out))
	method, _ := verbAttr(t, out, "Redirect", "method")
	assert.Equal(t, "POST", method)
	assert.Contains(t, out, ">"+testLinks.Voice+"</Redirect>")
}

func TestEmptyResponse(t *testing.T) {
	assert.Empty(t, verbNames(t, EmptyResponse()))
}
