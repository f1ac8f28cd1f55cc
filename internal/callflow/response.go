package callflow

import (
	"bytes"
	"encoding/xml"
	"sort"
)

// Attrs are the attributes a script passes to a verb.
type Attrs map[string]string

// Element is one TwiML verb or noun under construction. Attributes and
// nested elements are validated when they are set.
type Element struct {
	name     string
	text     string
	attrs    []xml.Attr
	children []*Element

	rules   verbRules
	profile *profile
	links   *Links
}

// Name returns the verb name.
func (e *Element) Name() string { return e.name }

// Set validates and sets one attribute.
func (e *Element) Set(name, value string) error {
	if err := e.rules.check(e.name, name); err != nil {
		return err
	}
	e.setAttr(name, value)
	return nil
}

func (e *Element) setAttr(name, value string) {
	for i := range e.attrs {
		if e.attrs[i].Name.Local == name {
			e.attrs[i].Value = value
			return
		}
	}
	e.attrs = append(e.attrs, xml.Attr{Name: xml.Name{Local: name}, Value: value})
}

// Attr returns the value of an attribute and whether it is set.
func (e *Element) Attr(name string) (string, bool) {
	for _, a := range e.attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

// Nest appends a nested verb or noun (e.g. Say inside Gather, Number inside Dial).
func (e *Element) Nest(verb, text string, attrs Attrs) (*Element, error) {
	child, err := buildElement(e.profile, e.links, verb, text, attrs, true, e.rules)
	if err != nil {
		return nil, err
	}
	e.children = append(e.children, child)
	return child, nil
}

func (e *Element) Say(text string, attrs Attrs) error {
	_, err := e.Nest("Say", text, attrs)
	return err
}

func (e *Element) Play(url string, attrs Attrs) error {
	_, err := e.Nest("Play", url, attrs)
	return err
}

func (e *Element) Pause(attrs Attrs) error {
	_, err := e.Nest("Pause", "", attrs)
	return err
}

func (e *Element) Number(number string, attrs Attrs) error {
	_, err := e.Nest("Number", number, attrs)
	return err
}

func (e *Element) Sip(uri string, attrs Attrs) error {
	_, err := e.Nest("Sip", uri, attrs)
	return err
}

func (e *Element) Client(identity string, attrs Attrs) error {
	_, err := e.Nest("Client", identity, attrs)
	return err
}

func (e *Element) MarshalXML(enc *xml.Encoder, _ xml.StartElement) error {
	start := xml.StartElement{Name: xml.Name{Local: e.name}, Attr: e.attrs}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if e.text != "" {
		if err := enc.EncodeToken(xml.CharData(e.text)); err != nil {
			return err
		}
	}
	for _, c := range e.children {
		if err := c.MarshalXML(enc, xml.StartElement{}); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

func buildElement(p *profile, links *Links, verb, text string, attrs Attrs, nested bool, parent verbRules) (*Element, error) {
	rules, err := p.rules(verb, nested, parent)
	if err != nil {
		return nil, err
	}
	e := &Element{name: verb, text: text, rules: rules, profile: p, links: links}

	// Sorted so the rendered markup is stable.
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := e.Set(k, attrs[k]); err != nil {
			return nil, err
		}
	}

	switch rules.route {
	case routeVoice:
		e.setAttr("action", links.Voice)
		e.setAttr("method", "POST")
	case routeDial:
		e.setAttr("action", links.Dial)
		e.setAttr("method", "POST")
	}
	return e, nil
}

// Response is a TwiML document under construction.
type Response struct {
	profile *profile
	links   *Links
	verbs   []*Element
}

func newResponse(p *profile, links *Links) *Response {
	return &Response{profile: p, links: links}
}

// Append validates and appends a top-level verb.
func (r *Response) Append(verb, text string, attrs Attrs) (*Element, error) {
	e, err := buildElement(r.profile, r.links, verb, text, attrs, false, verbRules{})
	if err != nil {
		return nil, err
	}
	r.verbs = append(r.verbs, e)
	return e, nil
}

// Len is the number of top-level verbs.
func (r *Response) Len() int { return len(r.verbs) }

// redirect appends the return-to-engine instruction using the narrow profile.
func (r *Response) redirect(url string) error {
	e, err := buildElement(redirectProfile, r.links, "Redirect", url, Attrs{"method": "POST"}, false, verbRules{})
	if err != nil {
		return err
	}
	r.verbs = append(r.verbs, e)
	return nil
}

type twimlResponse struct {
	XMLName xml.Name   `xml:"Response"`
	Verbs   []*Element `xml:",any"`
}

// Render serialises the document.
func (r *Response) Render() (string, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(twimlResponse{Verbs: r.verbs}); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// EmptyResponse is the neutral acknowledgment returned when there is nothing to say.
func EmptyResponse() string {
	s, _ := newResponse(scriptProfile, &Links{}).Render()
	return s
}
