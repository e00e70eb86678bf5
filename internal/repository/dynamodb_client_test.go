package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/require"
)

type fakeDynamo struct {
	getOut          *dynamodb.GetItemOutput
	getErr          error
	putErr          error
	deleteErr       error
	lastGetInput    *dynamodb.GetItemInput
	lastPutInput    *dynamodb.PutItemInput
	lastDeleteInput *dynamodb.DeleteItemInput
}

func (f *fakeDynamo) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.lastGetInput = in
	return f.getOut, f.getErr
}

func (f *fakeDynamo) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.lastPutInput = in
	return &dynamodb.PutItemOutput{}, f.putErr
}

func (f *fakeDynamo) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.lastDeleteInput = in
	return &dynamodb.DeleteItemOutput{}, f.deleteErr
}

func mustNewDynamoStore(t *testing.T, db *fakeDynamo) *DynamoStore {
	t.Helper()
	s, err := NewDynamoStore(db, "test-table")
	require.NoError(t, err)
	return s
}

func sAttr(item map[string]types.AttributeValue, key string) string {
	return item[key].(*types.AttributeValueMemberS).Value
}

func nAttr(item map[string]types.AttributeValue, key string) string {
	return item[key].(*types.AttributeValueMemberN).Value
}

func TestDynamoGet_HappyPath(t *testing.T) {
	db := &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"PK":      &types.AttributeValueMemberS{Value: "CHAT#hotel_chat_wk_1"},
		"SK":      &types.AttributeValueMemberS{Value: skSnapshot},
		"payload": &types.AttributeValueMemberS{Value: `{"conversation_id":"c1"}`},
	}}}
	s := mustNewDynamoStore(t, db)

	v, ok, err := s.Get(context.Background(), "hotel_chat_wk_1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, `{"conversation_id":"c1"}`, v)
	require.Equal(t, "CHAT#hotel_chat_wk_1", sAttr(db.lastGetInput.Key, "PK"))
	require.Equal(t, skSnapshot, sAttr(db.lastGetInput.Key, "SK"))
	require.True(t, *db.lastGetInput.ConsistentRead)
}

func TestDynamoGet_Missing(t *testing.T) {
	s := mustNewDynamoStore(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{}})
	_, ok, err := s.Get(context.Background(), "k")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDynamoGet_Errors(t *testing.T) {
	s := mustNewDynamoStore(t, &fakeDynamo{getErr: errors.New("ResourceNotFoundException")})
	_, _, err := s.Get(context.Background(), "k")
	require.Error(t, err)
	require.Contains(t, err.Error(), "Get")

	s = mustNewDynamoStore(t, &fakeDynamo{getOut: &dynamodb.GetItemOutput{Item: map[string]types.AttributeValue{
		"payload": &types.AttributeValueMemberN{Value: "1"},
	}}})
	_, _, err = s.Get(context.Background(), "k")
	require.Error(t, err)
	require.Contains(t, err.Error(), "not a string")

	_, _, err = s.Get(context.Background(), " ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "required")
}

func TestDynamoSet_WritesPayloadAndTTL(t *testing.T) {
	db := &fakeDynamo{}
	s := mustNewDynamoStore(t, db)
	now := time.Date(2026, 2, 25, 10, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	require.NoError(t, s.Set(context.Background(), "k", `{"x":1}`))
	item := db.lastPutInput.Item
	require.Equal(t, "test-table", *db.lastPutInput.TableName)
	require.Equal(t, "CHAT#k", sAttr(item, "PK"))
	require.Equal(t, `{"x":1}`, sAttr(item, "payload"))
	require.Equal(t, "1772013600000", nAttr(item, "updatedAt"))
	require.Equal(t, "1772100000", nAttr(item, "ttl"))
}

func TestDynamoSet_Error(t *testing.T) {
	s := mustNewDynamoStore(t, &fakeDynamo{putErr: errors.New("ProvisionedThroughputExceededException")})
	err := s.Set(context.Background(), "k", "v")
	require.Error(t, err)
	require.Contains(t, err.Error(), "Set")
}

func TestDynamoDelete(t *testing.T) {
	db := &fakeDynamo{}
	s := mustNewDynamoStore(t, db)
	require.NoError(t, s.Delete(context.Background(), "k"))
	require.Equal(t, "CHAT#k", sAttr(db.lastDeleteInput.Key, "PK"))

	db.deleteErr = errors.New("boom")
	err := s.Delete(context.Background(), "k")
	require.Error(t, err)
	require.Contains(t, err.Error(), "Delete")
}

func TestChatPK(t *testing.T) {
	require.Equal(t, "CHAT#my-key", chatPK("my-key"))
}

func TestNewDynamoStore_NilAPI(t *testing.T) {
	_, err := NewDynamoStore(nil, "test-table")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be nil")
}

func TestNewDynamoStore_EmptyTableName(t *testing.T) {
	_, err := NewDynamoStore(&fakeDynamo{}, " ")
	require.Error(t, err)
	require.Contains(t, err.Error(), "must not be empty")
}
