package scripts

import (
	"context"
	"errors"
	"strings"

	"callscript/internal/callflow"
)

// forward bridges the caller to a target and apologizes when the leg fails.
//
// params: target (E.164 number or sip: URI), timeout, caller_id, whisper,
// unavailable
func forward(p Params) (callflow.Script, error) {
	target := p.get("target", "")
	if target == "" {
		return nil, errors.New("scripts: forward needs a target")
	}
	timeout := p.get("timeout", "20")
	callerID := p.get("caller_id", "")
	whisper := p.get("whisper", "")
	unavailable := p.get("unavailable", "The person you are trying to reach is unavailable. Goodbye.")
	attrs := sayAttrs(p)

	return func(ctx context.Context, s *callflow.Session) error {
		ok, err := answered(ctx, s)
		if err != nil || !ok {
			return err
		}
		if whisper != "" {
			if err := s.Say(whisper, attrs); err != nil {
				return err
			}
		}

		dialAttrs := callflow.Attrs{"timeout": timeout}
		if callerID != "" {
			dialAttrs["callerId"] = callerID
		}
		d, err := s.Dial("", dialAttrs)
		if err != nil {
			return err
		}
		if strings.HasPrefix(target, "sip:") {
			err = d.Sip(target, nil)
		} else {
			err = d.Number(target, nil)
		}
		if err != nil {
			return err
		}

		next, err := s.SubmitResponse(false)
		if err != nil {
			return err
		}
		if _, err := next.Wait(ctx); err != nil {
			if callflow.IsCallEnded(err) {
				return nil
			}
			return err
		}

		if status := s.Properties().DialCallStatus; status != string(callflow.StatusCompleted) {
			if err := s.Say(unavailable, attrs); err != nil {
				return err
			}
		}
		if err := s.Hangup(); err != nil {
			return err
		}
		return finish(ctx, s)
	}, nil
}
