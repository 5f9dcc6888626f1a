package app

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"

	"quickstart-agent/internal/domain"
)

// RouteRank orders route evaluation. Lower ranks run first.
type RouteRank uint16

const (
	RankFirst       RouteRank = 0
	RankUnspecified RouteRank = 32767
	RankLast        RouteRank = 65535
)

const (
	ConversationUpdateMembersAdded   = "membersAdded"
	ConversationUpdateMembersRemoved = "membersRemoved"
)

// RouteHandler handles one turn.
type RouteHandler func(ctx context.Context, tc *TurnContext, state *TurnState) error

// RouteSelector decides whether a route applies to an activity.
type RouteSelector func(activity domain.Activity) bool

// TurnHook runs around route dispatch. Returning false from a before hook
// ends the turn without running a route.
type TurnHook func(ctx context.Context, tc *TurnContext, state *TurnState) (bool, error)

// Sender delivers outgoing activities to the channel.
type Sender interface {
	SendActivity(ctx context.Context, activity domain.Activity) (domain.ResourceResponse, error)
}

// TranscriptLogger records the activities of a conversation.
type TranscriptLogger interface {
	RecordInbound(ctx context.Context, activity domain.Activity) error
	RecordOutbound(ctx context.Context, activity domain.Activity) error
}

type route struct {
	selector RouteSelector
	handler  RouteHandler
	rank     RouteRank
	seq      int
}

// TurnResult describes the outcome of Process.
type TurnResult struct {
	Handled       bool
	ExpectReplies bool
	Replies       []domain.Activity
}

// Application holds the route table and dispatches inbound activities.
// Routes and hooks must be registered before the first call to Process.
type Application struct {
	sender     Sender
	transcript TranscriptLogger
	logger     *slog.Logger

	routes      []route
	beforeTurn  []TurnHook
	afterTurn   []TurnHook
	nextRouteID int
}

type Option func(*Application)

func WithTranscript(t TranscriptLogger) Option {
	return func(a *Application) {
		a.transcript = t
	}
}

func New(sender Sender, logger *slog.Logger, opts ...Option) (*Application, error) {
	if sender == nil {
		return nil, errors.New("app: sender must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &Application{sender: sender, logger: logger}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// AddRoute registers a handler for activities matched by selector.
func (a *Application) AddRoute(selector RouteSelector, handler RouteHandler, rank RouteRank) {
	a.routes = append(a.routes, route{
		selector: selector,
		handler:  handler,
		rank:     rank,
		seq:      a.nextRouteID,
	})
	a.nextRouteID++
	sort.SliceStable(a.routes, func(i, j int) bool {
		if a.routes[i].rank != a.routes[j].rank {
			return a.routes[i].rank < a.routes[j].rank
		}
		return a.routes[i].seq < a.routes[j].seq
	})
}

// OnActivity routes activities of the given type.
func (a *Application) OnActivity(activityType string, handler RouteHandler, rank RouteRank) {
	a.AddRoute(func(act domain.Activity) bool {
		return strings.EqualFold(act.Type, activityType)
	}, handler, rank)
}

// OnConversationUpdate routes conversationUpdate activities carrying the
// given event (membersAdded or membersRemoved).
func (a *Application) OnConversationUpdate(event string, handler RouteHandler, rank RouteRank) {
	a.AddRoute(func(act domain.Activity) bool {
		if !strings.EqualFold(act.Type, domain.ActivityTypeConversationUpdate) {
			return false
		}
		switch event {
		case ConversationUpdateMembersAdded:
			return len(act.MembersAdded) > 0
		case ConversationUpdateMembersRemoved:
			return len(act.MembersRemoved) > 0
		default:
			return false
		}
	}, handler, rank)
}

func (a *Application) OnBeforeTurn(hook TurnHook) {
	a.beforeTurn = append(a.beforeTurn, hook)
}

func (a *Application) OnAfterTurn(hook TurnHook) {
	a.afterTurn = append(a.afterTurn, hook)
}

// Process runs a single turn for the inbound activity. Errors raised by
// hooks and route handlers are returned unchanged.
func (a *Application) Process(ctx context.Context, activity domain.Activity) (TurnResult, error) {
	if err := validateActivity(&activity); err != nil {
		return TurnResult{}, newError(ErrorInvalidActivity, "activity_validation_failed", err)
	}

	if a.transcript != nil {
		if err := a.transcript.RecordInbound(ctx, activity); err != nil {
			a.logger.WarnContext(ctx, "failed to record inbound activity",
				"conversation_id", activity.Conversation.ID, "err", err)
		}
	}

	tc := newTurnContext(activity, a.sender, a.transcript, a.logger)
	state := NewTurnState()
	result := TurnResult{ExpectReplies: tc.buffer}

	proceed, err := runHooks(ctx, a.beforeTurn, tc, state)
	if err != nil {
		return TurnResult{}, err
	}
	if !proceed {
		a.logger.DebugContext(ctx, "turn stopped by before-turn hook", "activity_type", activity.Type)
		result.Replies = tc.bufferedReplies()
		return result, nil
	}

	for _, r := range a.routes {
		if !r.selector(activity) {
			continue
		}
		a.logger.DebugContext(ctx, "route selected",
			"activity_type", activity.Type, "rank", r.rank, "route", r.seq)
		if err := r.handler(ctx, tc, state); err != nil {
			return TurnResult{}, err
		}
		result.Handled = true
		break
	}
	if !result.Handled {
		a.logger.DebugContext(ctx, "no route matched activity", "activity_type", activity.Type)
	}

	if _, err := runHooks(ctx, a.afterTurn, tc, state); err != nil {
		return TurnResult{}, err
	}

	result.Replies = tc.bufferedReplies()
	return result, nil
}

func runHooks(ctx context.Context, hooks []TurnHook, tc *TurnContext, state *TurnState) (bool, error) {
	for _, hook := range hooks {
		ok, err := hook(ctx, tc, state)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}
