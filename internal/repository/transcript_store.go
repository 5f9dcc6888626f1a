package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"quickstart-agent/internal/domain"
)

const (
	skPrefixAct = "ACT#"
	skMeta      = "META#"
	defaultTTL  = 30 * 24 * time.Hour
)

// dynamodbAPI is the minimal DynamoDB interface required by TranscriptStore.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	TransactWriteItems(ctx context.Context, in *dynamodb.TransactWriteItemsInput, optFns ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error)
}

// TranscriptStore persists conversation activities in a single DynamoDB table.
type TranscriptStore struct {
	api       dynamodbAPI
	tableName string
	ttl       time.Duration
	now       func() time.Time
}

type Option func(*TranscriptStore)

// WithTTL sets how long transcript items live before DynamoDB expires them.
func WithTTL(d time.Duration) Option {
	return func(s *TranscriptStore) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// New creates a new TranscriptStore.
func New(api dynamodbAPI, tableName string, opts ...Option) (*TranscriptStore, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	s := &TranscriptStore{api: api, tableName: tableName, ttl: defaultTTL, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// convPK returns the DynamoDB partition key for a conversation.
func convPK(conversationID string) string {
	return "CONV#" + conversationID
}

// actSK orders activities by time; the activity id keeps same-instant writes distinct.
func actSK(ts time.Time, activityID string) string {
	return skPrefixAct + ts.UTC().Format(time.RFC3339Nano) + "#" + activityID
}

func (s *TranscriptStore) ttlValue(now time.Time) int64 {
	return now.Add(s.ttl).Unix()
}

// newEntry builds the transcript item for an activity recorded at now.
func (s *TranscriptStore) newEntry(a domain.Activity, direction string, now time.Time) domain.TranscriptEntry {
	activityID := a.ID
	if activityID == "" {
		activityID = uuid.NewString()
	}
	return domain.TranscriptEntry{
		PK:             convPK(a.Conversation.ID),
		SK:             actSK(now, activityID),
		ConversationID: a.Conversation.ID,
		ActivityID:     activityID,
		Type:           a.Type,
		Direction:      direction,
		FromID:         a.From.ID,
		RecipientID:    a.Recipient.ID,
		Text:           a.Text,
		TTL:            s.ttlValue(now),
	}
}

// RecordInbound writes the inbound activity and bumps the conversation turn
// counter in one transaction.
func (s *TranscriptStore) RecordInbound(ctx context.Context, a domain.Activity) error {
	if a.Conversation.ID == "" {
		return errors.New("repository: RecordInbound: conversation id is required")
	}
	now := s.now().UTC()
	entry := s.newEntry(a, domain.DirectionInbound, now)

	_, err := s.api.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []types.TransactWriteItem{
			{
				Put: &types.Put{
					TableName:           aws.String(s.tableName),
					Item:                entryItem(entry),
					ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
				},
			},
			{
				Update: &types.Update{
					TableName: aws.String(s.tableName),
					Key: map[string]types.AttributeValue{
						"PK": &types.AttributeValueMemberS{Value: entry.PK},
						"SK": &types.AttributeValueMemberS{Value: skMeta},
					},
					UpdateExpression: aws.String("SET conversationId = :cid, lastActivity = :now, #ttl = :ttl ADD turns :one"),
					ExpressionAttributeNames: map[string]string{
						"#ttl": "ttl",
					},
					ExpressionAttributeValues: map[string]types.AttributeValue{
						":cid": &types.AttributeValueMemberS{Value: a.Conversation.ID},
						":now": &types.AttributeValueMemberS{Value: now.Format(time.RFC3339)},
						":ttl": &types.AttributeValueMemberN{Value: strconv.FormatInt(s.ttlValue(now), 10)},
						":one": &types.AttributeValueMemberN{Value: "1"},
					},
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("repository: RecordInbound: %w", err)
	}
	return nil
}

// RecordOutbound writes an activity sent by the agent.
func (s *TranscriptStore) RecordOutbound(ctx context.Context, a domain.Activity) error {
	if a.Conversation.ID == "" {
		return errors.New("repository: RecordOutbound: conversation id is required")
	}
	entry := s.newEntry(a, domain.DirectionOutbound, s.now().UTC())

	_, err := s.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                entryItem(entry),
		ConditionExpression: aws.String("attribute_not_exists(PK) AND attribute_not_exists(SK)"),
	})
	if err != nil {
		return fmt.Errorf("repository: RecordOutbound: %w", err)
	}
	return nil
}

func entryItem(e domain.TranscriptEntry) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":             &types.AttributeValueMemberS{Value: e.PK},
		"SK":             &types.AttributeValueMemberS{Value: e.SK},
		"conversationId": &types.AttributeValueMemberS{Value: e.ConversationID},
		"activityId":     &types.AttributeValueMemberS{Value: e.ActivityID},
		"type":           &types.AttributeValueMemberS{Value: e.Type},
		"direction":      &types.AttributeValueMemberS{Value: e.Direction},
		"fromId":         &types.AttributeValueMemberS{Value: e.FromID},
		"recipientId":    &types.AttributeValueMemberS{Value: e.RecipientID},
		"text":           &types.AttributeValueMemberS{Value: e.Text},
		"ttl":            &types.AttributeValueMemberN{Value: strconv.FormatInt(e.TTL, 10)},
	}
}
