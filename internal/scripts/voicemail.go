package scripts

import (
	"context"
	"errors"
	"strings"
	"time"

	"callscript/internal/callflow"
)

const detectionSlice = 8 * time.Second

// voicemailDrop leaves a message on an answering machine and greets a human
// differently. The call must be placed with async machine detection.
//
// params: audio_url or text, human_text, max_wait_seconds, voice, language
func voicemailDrop(p Params) (callflow.Script, error) {
	audio := p.get("audio_url", "")
	text := p.get("text", "")
	if audio == "" && text == "" {
		return nil, errors.New("scripts: voicemail-drop needs audio_url or text")
	}
	human := p.get("human_text", "Hello. We will call you back shortly. Goodbye.")
	maxWait, err := p.int("max_wait_seconds", 30)
	if err != nil {
		return nil, err
	}
	attrs := sayAttrs(p)

	return func(ctx context.Context, s *callflow.Session) error {
		ok, err := answered(ctx, s)
		if err != nil || !ok {
			return err
		}

		deadline := time.Now().Add(time.Duration(maxWait) * time.Second)
		by, err := detect(ctx, s, deadline)
		if err != nil {
			if errors.Is(err, callflow.ErrSessionClosed) || callflow.IsCallEnded(err) {
				return nil
			}
			return err
		}

		if strings.HasPrefix(by, "machine") {
			if audio != "" {
				err = s.Play(audio, nil)
			} else {
				err = s.Say(text, attrs)
			}
		} else {
			err = s.Say(human, attrs)
		}
		if err != nil {
			return err
		}
		if err := s.Hangup(); err != nil {
			return err
		}
		return finish(ctx, s)
	}, nil
}

// detect waits for the machine detection result while keeping the pending
// webhook alive: each slice without a result answers with a short pause and
// resumes on the redirect. An unknown result after the deadline is treated
// as a human.
func detect(ctx context.Context, s *callflow.Session, deadline time.Time) (string, error) {
	for {
		sliceCtx, cancel := context.WithTimeout(ctx, detectionSlice)
		by, err := s.AwaitDetection(sliceCtx, 0)
		cancel()
		if err == nil {
			return by, nil
		}
		if !errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return "", err
		}
		if time.Now().After(deadline) {
			return "unknown", nil
		}
		if err := s.Pause(callflow.Attrs{"length": "1"}); err != nil {
			return "", err
		}
		next, err := s.SubmitResponse(false)
		if err != nil {
			return "", err
		}
		if _, err := next.Wait(ctx); err != nil {
			return "", err
		}
	}
}
