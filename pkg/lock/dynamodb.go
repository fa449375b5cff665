package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoAPI is the subset of the DynamoDB client used for locking.
type DynamoAPI interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

type lockItem struct {
	ID        string `dynamodbav:"_id"`
	LockUntil int64  `dynamodbav:"lockUntil"`
	LockedAt  int64  `dynamodbav:"lockedAt"`
	LockedBy  string `dynamodbav:"lockedBy"`
}

// DynamoLocker stores locks as items keyed by name. An item can be taken over
// once its lockUntil time has passed.
type DynamoLocker struct {
	client DynamoAPI
	table  string
	owner  string
	now    func() time.Time
}

func NewDynamoLocker(client DynamoAPI, table, owner string) *DynamoLocker {
	return &DynamoLocker{client: client, table: table, owner: owner, now: time.Now}
}

func (l *DynamoLocker) TryLock(ctx context.Context, name string, ttl time.Duration) (Lease, bool, error) {
	now := l.now().UTC()
	token := leaseToken(l.owner)
	item, err := attributevalue.MarshalMap(lockItem{
		ID:        name,
		LockUntil: now.Add(ttl).UnixMilli(),
		LockedAt:  now.UnixMilli(),
		LockedBy:  token,
	})
	if err != nil {
		return nil, false, fmt.Errorf("marshal lock %s: %w", name, err)
	}

	_, err = l.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(l.table),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(#id) OR #until <= :now"),
		ExpressionAttributeNames: map[string]string{
			"#id":    "_id",
			"#until": "lockUntil",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":now": &types.AttributeValueMemberN{Value: fmt.Sprint(now.UnixMilli())},
		},
	})
	if err != nil {
		var held *types.ConditionalCheckFailedException
		if errors.As(err, &held) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("acquire lock %s: %w", name, err)
	}
	return &dynamoLease{locker: l, name: name, token: token}, true, nil
}

type dynamoLease struct {
	locker *DynamoLocker
	name   string
	token  string
}

func (d *dynamoLease) Unlock(ctx context.Context) error {
	l := d.locker
	_, err := l.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(l.table),
		Key:                 map[string]types.AttributeValue{"_id": &types.AttributeValueMemberS{Value: d.name}},
		ConditionExpression: aws.String("#by = :owner"),
		ExpressionAttributeNames: map[string]string{
			"#by": "lockedBy",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":owner": &types.AttributeValueMemberS{Value: d.token},
		},
	})
	if err != nil {
		var taken *types.ConditionalCheckFailedException
		if errors.As(err, &taken) {
			return nil
		}
		return fmt.Errorf("release lock %s: %w", d.name, err)
	}
	return nil
}
