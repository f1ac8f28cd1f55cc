package scripts

import (
	"context"

	"callscript/internal/callflow"
)

// greeting says one message and hangs up.
//
// params: text, voice, language
func greeting(p Params) (callflow.Script, error) {
	text := p.get("text", "Hello. This call was placed automatically. Goodbye.")
	attrs := sayAttrs(p)

	return func(ctx context.Context, s *callflow.Session) error {
		ok, err := answered(ctx, s)
		if err != nil || !ok {
			return err
		}
		if err := s.Say(text, attrs); err != nil {
			return err
		}
		if err := s.Hangup(); err != nil {
			return err
		}
		return finish(ctx, s)
	}, nil
}
