package lock

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockDynamo struct {
	mock.Mock
}

func (m *MockDynamo) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.PutItemOutput), args.Error(1)
}

func (m *MockDynamo) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*dynamodb.DeleteItemOutput), args.Error(1)
}

func TestDynamoLockerAcquiresAndReleases(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 2, 0, 0, 0, time.UTC)
	client := new(MockDynamo)
	var lockedBy string
	client.On("PutItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
		until, ok := in.Item["lockUntil"].(*types.AttributeValueMemberN)
		id, idOK := in.Item["_id"].(*types.AttributeValueMemberS)
		by, byOK := in.Item["lockedBy"].(*types.AttributeValueMemberS)
		return aws.ToString(in.TableName) == "ShedLock" &&
			ok && until.Value == "1714529100000" &&
			idOK && id.Value == "formr-parta.execute" &&
			byOK && strings.HasPrefix(by.Value, "runner-1#")
	})).Run(func(args mock.Arguments) {
		in := args.Get(1).(*dynamodb.PutItemInput)
		lockedBy = in.Item["lockedBy"].(*types.AttributeValueMemberS).Value
	}).Return(&dynamodb.PutItemOutput{}, nil)
	client.On("DeleteItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.DeleteItemInput) bool {
		owner := in.ExpressionAttributeValues[":owner"].(*types.AttributeValueMemberS)
		return owner.Value == lockedBy
	})).Return(&dynamodb.DeleteItemOutput{}, nil)

	locker := NewDynamoLocker(client, "ShedLock", "runner-1")
	locker.now = func() time.Time { return fixed }

	lease, ok, err := locker.TryLock(context.Background(), "formr-parta.execute", 15*time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, lockedBy, lease.(*dynamoLease).token)
	require.NoError(t, lease.Unlock(context.Background()))

	client.AssertExpectations(t)
}

func TestDynamoLeasesCarryDistinctTokens(t *testing.T) {
	client := new(MockDynamo)
	client.On("PutItem", mock.Anything, mock.Anything).Return(&dynamodb.PutItemOutput{}, nil)
	client.On("DeleteItem", mock.Anything, mock.Anything).
		Return(nil, &types.ConditionalCheckFailedException{Message: aws.String("taken")})
	locker := NewDynamoLocker(client, "ShedLock", "runner-1")

	stale, _, err := locker.TryLock(context.Background(), "ltft.execute", time.Minute)
	require.NoError(t, err)
	current, _, err := locker.TryLock(context.Background(), "ltft.execute", time.Minute)
	require.NoError(t, err)
	require.NotEqual(t, stale.(*dynamoLease).token, current.(*dynamoLease).token)

	require.NoError(t, stale.Unlock(context.Background()), "a lock taken over is not an error")
	client.AssertCalled(t, "DeleteItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.DeleteItemInput) bool {
		owner := in.ExpressionAttributeValues[":owner"].(*types.AttributeValueMemberS)
		return owner.Value == stale.(*dynamoLease).token
	}))
}

func TestDynamoLockerHeldElsewhere(t *testing.T) {
	client := new(MockDynamo)
	client.On("PutItem", mock.Anything, mock.Anything).
		Return(nil, &types.ConditionalCheckFailedException{Message: aws.String("held")})

	lease, ok, err := NewDynamoLocker(client, "ShedLock", "runner-2").TryLock(context.Background(), "ltft.execute", time.Minute)

	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, lease)
}

func TestDynamoLockerError(t *testing.T) {
	boom := errors.New("no such table")
	client := new(MockDynamo)
	client.On("PutItem", mock.Anything, mock.Anything).Return(nil, boom)

	_, ok, err := NewDynamoLocker(client, "ShedLock", "runner-2").TryLock(context.Background(), "ltft.execute", time.Minute)

	assert.ErrorIs(t, err, boom)
	assert.False(t, ok)
}
