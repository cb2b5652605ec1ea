package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"strings"

	"mammo-assist/pkg"
)

// PartialFunc receives the growing model message after every stream
// increment.
type PartialFunc func(msg pkg.ChatMessage)

// SendMessage asks a follow-up question about an analysed case.  The user
// message is appended straight away; the reply is folded from the stream
// into a single trailing model message that is re-published after every
// increment.  A stream failure keeps whatever text already arrived and
// appends one fallback message.  Cancelling ctx stops the fold and keeps the
// partial reply.
func (s *CaseStore) SendMessage(ctx context.Context, id, text string, onPartial PartialFunc) (*pkg.PatientCase, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("%w: empty message", ErrInvalidInput)
	}
	c, err := s.Get(id)
	if err != nil {
		return nil, err
	}
	if c.AnalysisResult == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotAnalyzed, id)
	}
	prior := c.ChatHistory

	updated, err := s.update(ctx, id, func(c *pkg.PatientCase) error {
		if c.AnalysisResult == nil {
			return fmt.Errorf("%w: %s", ErrNotAnalyzed, id)
		}
		c.ChatHistory = append(c.ChatHistory, pkg.ChatMessage{Role: pkg.RoleUser, Text: text})
		return nil
	})
	if err != nil {
		return nil, err
	}

	stream, err := s.diag.StartFollowUp(ctx, *c.AnalysisResult, prior, text)
	if err != nil {
		log.Printf("chat start id=%s err=%v", id, err)
		return s.appendFallback(ctx, id, err)
	}
	defer stream.Close()

	var full strings.Builder
	modelAt := -1
	for {
		part, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				log.Printf("chat cancelled id=%s chars=%d", id, full.Len())
				return updated, ctx.Err()
			}
			log.Printf("chat stream id=%s chars=%d err=%v", id, full.Len(), err)
			return s.appendFallback(ctx, id, err)
		}
		prev := full.String()
		full.WriteString(part)
		msg := pkg.ChatMessage{Role: pkg.RoleModel, Text: full.String()}
		updated, err = s.update(ctx, id, func(c *pkg.PatientCase) error {
			// a reload can swap the history out from under the stream
			if modelAt >= 0 && modelAt < len(c.ChatHistory) &&
				c.ChatHistory[modelAt] == (pkg.ChatMessage{Role: pkg.RoleModel, Text: prev}) {
				c.ChatHistory[modelAt] = msg
				return nil
			}
			c.ChatHistory = append(c.ChatHistory, msg)
			modelAt = len(c.ChatHistory) - 1
			return nil
		})
		if err != nil {
			return nil, err
		}
		if onPartial != nil {
			onPartial(msg)
		}
	}
	log.Printf("chat reply id=%s chars=%d", id, full.Len())
	return updated, nil
}

func (s *CaseStore) appendFallback(ctx context.Context, id string, cause error) (*pkg.PatientCase, error) {
	updated, err := s.update(ctx, id, func(c *pkg.PatientCase) error {
		c.ChatHistory = append(c.ChatHistory, pkg.ChatMessage{Role: pkg.RoleModel, Text: FallbackReply})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, fmt.Errorf("%w: %v", ErrStream, cause)
}
