package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"quickstart-agent/internal/domain"
)

// TurnContext carries one inbound activity and the means to reply to it.
// It is only valid for the duration of the route callback.
type TurnContext struct {
	activity   domain.Activity
	sender     Sender
	transcript TranscriptLogger
	logger     *slog.Logger

	mu        sync.Mutex
	buffer    bool
	replies   []domain.Activity
	responded bool
}

func newTurnContext(activity domain.Activity, sender Sender, transcript TranscriptLogger, logger *slog.Logger) *TurnContext {
	return &TurnContext{
		activity:   activity,
		sender:     sender,
		transcript: transcript,
		logger:     logger,
		buffer:     activity.ExpectsReplies(),
	}
}

// Activity returns the inbound activity for this turn.
func (tc *TurnContext) Activity() domain.Activity {
	return tc.activity
}

// Responded reports whether at least one activity was sent during the turn.
func (tc *TurnContext) Responded() bool {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	return tc.responded
}

// SendText sends a plain text message to the conversation.
func (tc *TurnContext) SendText(ctx context.Context, text string) (domain.ResourceResponse, error) {
	return tc.SendActivity(ctx, domain.NewTextActivity(text))
}

// SendActivity addresses the activity to the inbound conversation and sends
// it. On expectReplies turns it is buffered for the HTTP response instead.
func (tc *TurnContext) SendActivity(ctx context.Context, activity domain.Activity) (domain.ResourceResponse, error) {
	if tc.sender == nil && !tc.buffer {
		return domain.ResourceResponse{}, errors.New("app: turn context has no sender")
	}
	out := applyConversationReference(activity, tc.activity)

	var res domain.ResourceResponse
	if tc.buffer {
		tc.mu.Lock()
		tc.replies = append(tc.replies, out)
		tc.mu.Unlock()
	} else {
		var err error
		res, err = tc.sender.SendActivity(ctx, out)
		if err != nil {
			return domain.ResourceResponse{}, err
		}
		if res.ID != "" {
			out.ID = res.ID
		}
	}

	tc.mu.Lock()
	tc.responded = true
	tc.mu.Unlock()

	if tc.transcript != nil {
		if err := tc.transcript.RecordOutbound(ctx, out); err != nil {
			tc.logger.WarnContext(ctx, "failed to record outbound activity",
				"conversation_id", out.Conversation.ID, "err", err)
		}
	}
	return res, nil
}

func (tc *TurnContext) bufferedReplies() []domain.Activity {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	out := make([]domain.Activity, len(tc.replies))
	copy(out, tc.replies)
	return out
}

// applyConversationReference fills the routing fields of an outgoing activity
// from the inbound one. Fields already set on the outgoing activity win.
func applyConversationReference(out, in domain.Activity) domain.Activity {
	if out.Type == "" {
		out.Type = domain.ActivityTypeMessage
	}
	if out.From.ID == "" {
		out.From = in.Recipient
	}
	if out.Recipient.ID == "" {
		out.Recipient = in.From
	}
	if out.Conversation.ID == "" {
		out.Conversation = in.Conversation
	}
	if out.ServiceURL == "" {
		out.ServiceURL = in.ServiceURL
	}
	if out.ChannelID == "" {
		out.ChannelID = in.ChannelID
	}
	if out.Locale == "" {
		out.Locale = in.Locale
	}
	if out.ReplyToID == "" {
		out.ReplyToID = in.ID
	}
	return out
}

// TurnState is the per-turn state bag handed to route handlers. It is not
// persisted between turns.
type TurnState struct {
	Conversation map[string]any
	User         map[string]any
	Temp         map[string]any
}

func NewTurnState() *TurnState {
	return &TurnState{
		Conversation: map[string]any{},
		User:         map[string]any{},
		Temp:         map[string]any{},
	}
}
