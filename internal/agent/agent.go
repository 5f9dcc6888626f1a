// Package agent holds the quickstart conversation behavior: greet members
// who join and echo every other message back.
package agent

import (
	"context"
	"errors"
	"log/slog"

	"quickstart-agent/internal/app"
	"quickstart-agent/internal/domain"
)

const (
	WelcomeText = "Hello and Welcome!"
	EchoPrefix  = "You said: "
)

// Router is the subset of app.Application the agent registers against.
type Router interface {
	OnConversationUpdate(event string, handler app.RouteHandler, rank app.RouteRank)
	OnActivity(activityType string, handler app.RouteHandler, rank app.RouteRank)
}

type Agent struct {
	logger *slog.Logger
}

// New registers the agent's routes on r.
func New(r Router, logger *slog.Logger) (*Agent, error) {
	if r == nil {
		return nil, errors.New("agent: router must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Agent{logger: logger}
	r.OnConversationUpdate(app.ConversationUpdateMembersAdded, a.WelcomeMessage, app.RankUnspecified)
	r.OnActivity(domain.ActivityTypeMessage, a.OnMessage, app.RankLast)
	return a, nil
}

// WelcomeMessage greets every added member other than the agent itself, in
// the order the members are listed.
func (a *Agent) WelcomeMessage(ctx context.Context, tc *app.TurnContext, _ *app.TurnState) error {
	activity := tc.Activity()
	a.logger.InfoContext(ctx, "welcome handler visited",
		"conversation_id", activity.Conversation.ID,
		"members_added", len(activity.MembersAdded))

	for _, member := range activity.MembersAdded {
		if member.ID == activity.Recipient.ID {
			continue
		}
		a.logger.InfoContext(ctx, "sending welcome", "member_id", member.ID)
		if _, err := tc.SendText(ctx, WelcomeText); err != nil {
			return err
		}
	}
	return nil
}

// OnMessage echoes the inbound text.
func (a *Agent) OnMessage(ctx context.Context, tc *app.TurnContext, _ *app.TurnState) error {
	text := tc.Activity().Text
	a.logger.InfoContext(ctx, "message handler visited", "text", text)
	_, err := tc.SendText(ctx, EchoPrefix+text)
	return err
}
