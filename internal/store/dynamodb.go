package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/learnstream/vod-pipeline/pkg/models"
)

// DynamoDBAPI is the subset of the DynamoDB client the store uses.
type DynamoDBAPI interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
}

// DynamoDB stores entity state in a single-table layout: one item per entity
// keyed by ENTITY#<id> / METADATA, shared with the API layer that created it.
type DynamoDB struct {
	client    DynamoDBAPI
	tableName string
}

// NewDynamoDB creates a DynamoDB entity store over an existing client.
func NewDynamoDB(client DynamoDBAPI, tableName string) (*DynamoDB, error) {
	if tableName == "" {
		return nil, errors.New("DynamoDB table name is required")
	}
	return &DynamoDB{client: client, tableName: tableName}, nil
}

type entityItem struct {
	Status         string `dynamodbav:"status"`
	PartitionLabel string `dynamodbav:"partition_label,omitempty"`
}

func entityKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: fmt.Sprintf("ENTITY#%s", id)},
		"sk": &types.AttributeValueMemberS{Value: "METADATA"},
	}
}

func (s *DynamoDB) getItem(ctx context.Context, id string) (*entityItem, error) {
	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key:       entityKey(id),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get entity: %w", err)
	}

	if result.Item == nil {
		return nil, models.ErrEntityNotFound
	}

	var item entityItem
	if err := attributevalue.UnmarshalMap(result.Item, &item); err != nil {
		return nil, fmt.Errorf("failed to unmarshal entity: %w", err)
	}

	return &item, nil
}

// GetStatus returns the current persisted status of an entity.
func (s *DynamoDB) GetStatus(ctx context.Context, id string) (models.MediaStatus, error) {
	item, err := s.getItem(ctx, id)
	if err != nil {
		return "", err
	}

	status := models.MediaStatus(item.Status)
	if !status.IsValid() {
		return "", fmt.Errorf("%w: %q", models.ErrInvalidStatus, item.Status)
	}

	return status, nil
}

// SetProcessing marks an entity as PROCESSING.
func (s *DynamoDB) SetProcessing(ctx context.Context, id string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.tableName),
		Key:              entityKey(id),
		UpdateExpression: aws.String("SET #status = :status, updated_at = :updated_at"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":     &types.AttributeValueMemberS{Value: string(models.StatusProcessing)},
			":updated_at": &types.AttributeValueMemberS{Value: now},
		},
		ConditionExpression: aws.String("attribute_exists(pk)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return models.ErrEntityNotFound
		}
		return fmt.Errorf("failed to mark entity processing: %w", err)
	}

	return nil
}

// Update writes the final status and output location.
func (s *DynamoDB) Update(ctx context.Context, id string, status models.MediaStatus, outputLocation string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key:       entityKey(id),
		UpdateExpression: aws.String(`
			SET #status = :status,
			    updated_at = :updated_at,
			    processed_at = :processed_at,
			    output_location = :output_location
		`),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":          &types.AttributeValueMemberS{Value: string(status)},
			":updated_at":      &types.AttributeValueMemberS{Value: now},
			":processed_at":    &types.AttributeValueMemberS{Value: now},
			":output_location": &types.AttributeValueMemberS{Value: outputLocation},
		},
		ConditionExpression: aws.String("attribute_exists(pk)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return models.ErrEntityNotFound
		}
		return fmt.Errorf("failed to update entity: %w", err)
	}

	return nil
}

// SetFailed records a terminal failure with its last error message.
func (s *DynamoDB) SetFailed(ctx context.Context, id string, lastError string) error {
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:        aws.String(s.tableName),
		Key:              entityKey(id),
		UpdateExpression: aws.String("SET #status = :status, updated_at = :updated_at, last_error = :last_error"),
		ExpressionAttributeNames: map[string]string{
			"#status": "status",
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":status":     &types.AttributeValueMemberS{Value: string(models.StatusFailed)},
			":updated_at": &types.AttributeValueMemberS{Value: now},
			":last_error": &types.AttributeValueMemberS{Value: lastError},
		},
		ConditionExpression: aws.String("attribute_exists(pk)"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return models.ErrEntityNotFound
		}
		return fmt.Errorf("failed to mark entity failed: %w", err)
	}

	return nil
}

// PartitionLabel returns the optional output-path partition label.
func (s *DynamoDB) PartitionLabel(ctx context.Context, id string) (string, error) {
	item, err := s.getItem(ctx, id)
	if err != nil {
		return "", err
	}
	return item.PartitionLabel, nil
}
