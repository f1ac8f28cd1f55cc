package scripts

import (
	"context"
	"fmt"

	"callscript/internal/callflow"
)

// menu gathers one digit and reads back the message bound to it.
//
// params: prompt, retries, voice, language, and one entry per digit
// ("1": "Our office is open nine to five.").
func menu(p Params) (callflow.Script, error) {
	prompt := p.get("prompt", "Please choose an option.")
	retries, err := p.int("retries", 2)
	if err != nil {
		return nil, err
	}
	options := map[string]string{}
	for _, d := range []string{"0", "1", "2", "3", "4", "5", "6", "7", "8", "9", "*", "#"} {
		if msg := p.get(d, ""); msg != "" {
			options[d] = msg
		}
	}
	if len(options) == 0 {
		return nil, fmt.Errorf("scripts: menu needs at least one digit option")
	}
	attrs := sayAttrs(p)

	return func(ctx context.Context, s *callflow.Session) error {
		ok, err := answered(ctx, s)
		if err != nil || !ok {
			return err
		}

		for attempt := 0; attempt <= retries; attempt++ {
			g, err := s.Gather(callflow.Attrs{"numDigits": "1", "timeout": "5"})
			if err != nil {
				return err
			}
			if err := g.Say(prompt, attrs); err != nil {
				return err
			}
			next, err := s.SubmitResponse(false)
			if err != nil {
				return err
			}
			if _, err := next.Wait(ctx); err != nil {
				if callflow.IsCallEnded(err) {
					// Caller hung up mid-menu.
					return nil
				}
				return err
			}

			digit := s.Properties().Digits
			if msg, ok := options[digit]; ok {
				if err := s.Say(msg, attrs); err != nil {
					return err
				}
				break
			}
			notice := "Sorry, that is not a valid option."
			if digit == "" {
				notice = "We did not receive your selection."
			}
			if err := s.Say(notice, attrs); err != nil {
				return err
			}
		}

		if err := s.Say(p.get("goodbye", "Goodbye."), attrs); err != nil {
			return err
		}
		if err := s.Hangup(); err != nil {
			return err
		}
		err = finish(ctx, s)
		if callflow.IsCallEnded(err) {
			return nil
		}
		return err
	}, nil
}
