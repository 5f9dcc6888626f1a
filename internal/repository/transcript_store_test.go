package repository

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"

	"quickstart-agent/internal/domain"
)

type fakeDynamo struct {
	putErr       error
	txErr        error
	lastPutInput *dynamodb.PutItemInput
	lastTxInput  *dynamodb.TransactWriteItemsInput
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutInput = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, in *dynamodb.TransactWriteItemsInput, _ ...func(*dynamodb.Options)) (*dynamodb.TransactWriteItemsOutput, error) {
	f.lastTxInput = in
	return &dynamodb.TransactWriteItemsOutput{}, f.txErr
}

var fixedNow = time.Date(2026, 2, 25, 10, 0, 0, 0, time.UTC)

func mustNewStore(t *testing.T, db *fakeDynamo, opts ...Option) *TranscriptStore {
	t.Helper()
	s, err := New(db, "test-table", opts...)
	require.NoError(t, err)
	s.now = func() time.Time { return fixedNow }
	return s
}

func inbound(text string) domain.Activity {
	return domain.Activity{
		Type:         domain.ActivityTypeMessage,
		ID:           "act-1",
		From:         domain.ChannelAccount{ID: "user-1"},
		Recipient:    domain.ChannelAccount{ID: "bot"},
		Conversation: domain.ConversationAccount{ID: "abc"},
		Text:         text,
	}
}

func nAttr(t *testing.T, item map[string]types.AttributeValue, key string) string {
	t.Helper()
	v, ok := item[key].(*types.AttributeValueMemberN)
	require.True(t, ok, "attribute %q is not a number", key)
	return v.Value
}

func sAttr(t *testing.T, item map[string]types.AttributeValue, key string) string {
	t.Helper()
	v, ok := item[key].(*types.AttributeValueMemberS)
	require.True(t, ok, "attribute %q is not a string", key)
	return v.Value
}

func TestNew_NilAPI(t *testing.T) {
	_, err := New(nil, "test-table")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

func TestNew_EmptyTableName(t *testing.T) {
	_, err := New(&fakeDynamo{}, " ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be empty")
}

func TestRecordInbound_WritesEntryAndBumpsTurns(t *testing.T) {
	db := &fakeDynamo{}
	s := mustNewStore(t, db)

	require.NoError(t, s.RecordInbound(context.Background(), inbound("hello")))
	require.NotNil(t, db.lastTxInput)
	require.Len(t, db.lastTxInput.TransactItems, 2)

	put := db.lastTxInput.TransactItems[0].Put
	require.NotNil(t, put)
	require.Equal(t, "attribute_not_exists(PK) AND attribute_not_exists(SK)", *put.ConditionExpression)
	require.Equal(t, "CONV#abc", sAttr(t, put.Item, "PK"))
	require.Equal(t, "ACT#2026-02-25T10:00:00Z#act-1", sAttr(t, put.Item, "SK"))
	require.Equal(t, domain.DirectionInbound, sAttr(t, put.Item, "direction"))
	require.Equal(t, "hello", sAttr(t, put.Item, "text"))
	require.Equal(t, "user-1", sAttr(t, put.Item, "fromId"))

	update := db.lastTxInput.TransactItems[1].Update
	require.NotNil(t, update)
	require.Contains(t, *update.UpdateExpression, "ADD turns :one")
	require.Equal(t, skMeta, sAttr(t, update.Key, "SK"))
	require.Equal(t, "ttl", update.ExpressionAttributeNames["#ttl"])
}

func TestRecordInbound_Errors(t *testing.T) {
	s := mustNewStore(t, &fakeDynamo{txErr: errors.New("transaction canceled")})
	err := s.RecordInbound(context.Background(), inbound("hello"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "RecordInbound")

	act := inbound("hello")
	act.Conversation.ID = ""
	err = s.RecordInbound(context.Background(), act)
	require.ErrorContains(t, err, "conversation id is required")
}

func TestRecordOutbound_HappyPath(t *testing.T) {
	db := &fakeDynamo{}
	s := mustNewStore(t, db)

	act := inbound("You said: hello")
	act.ID = ""
	require.NoError(t, s.RecordOutbound(context.Background(), act))
	require.NotNil(t, db.lastPutInput)
	require.Equal(t, domain.DirectionOutbound, sAttr(t, db.lastPutInput.Item, "direction"))
	require.NotEmpty(t, sAttr(t, db.lastPutInput.Item, "activityId"), "missing ids are generated")
	require.Equal(t, "attribute_not_exists(PK) AND attribute_not_exists(SK)", *db.lastPutInput.ConditionExpression)
}

func TestRecordOutbound_DynamoError(t *testing.T) {
	s := mustNewStore(t, &fakeDynamo{putErr: errors.New("ProvisionedThroughputExceededException")})
	err := s.RecordOutbound(context.Background(), inbound("x"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "RecordOutbound")
}

func TestRecordInbound_ReadsClockOnce(t *testing.T) {
	db := &fakeDynamo{}
	s := mustNewStore(t, db, WithTTL(time.Hour))
	calls := 0
	s.now = func() time.Time {
		calls++
		return fixedNow.Add(time.Duration(calls-1) * time.Second)
	}

	require.NoError(t, s.RecordInbound(context.Background(), inbound("hello")))
	require.Equal(t, 1, calls)

	put := db.lastTxInput.TransactItems[0].Put
	update := db.lastTxInput.TransactItems[1].Update
	require.Equal(t, "ACT#2026-02-25T10:00:00Z#act-1", sAttr(t, put.Item, "SK"))
	require.Equal(t, "2026-02-25T10:00:00Z", sAttr(t, update.ExpressionAttributeValues, ":now"))

	wantTTL := strconv.FormatInt(fixedNow.Add(time.Hour).Unix(), 10)
	require.Equal(t, wantTTL, nAttr(t, put.Item, "ttl"))
	require.Equal(t, wantTTL, nAttr(t, update.ExpressionAttributeValues, ":ttl"))
}

func TestNewEntry_TTL(t *testing.T) {
	s := mustNewStore(t, &fakeDynamo{}, WithTTL(time.Hour))
	e := s.newEntry(inbound("hi"), domain.DirectionInbound, fixedNow)
	require.Equal(t, fixedNow.Add(time.Hour).Unix(), e.TTL)
	require.Equal(t, "ACT#2026-02-25T10:00:00Z#act-1", e.SK)

	s = mustNewStore(t, &fakeDynamo{})
	e = s.newEntry(inbound("hi"), domain.DirectionInbound, fixedNow)
	require.Equal(t, fixedNow.Add(30*24*time.Hour).Unix(), e.TTL)
}

func TestKeys(t *testing.T) {
	require.Equal(t, "CONV#my-conv", convPK("my-conv"))
	require.Equal(t, "ACT#2026-02-25T10:00:00Z#a1", actSK(fixedNow, "a1"))
}
