package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/saudeflow/clinic-intake/pkg/logging"
)

const jobTTL = 24 * time.Hour

// JobStatus represents the lifecycle of an intake job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// ErrJobNotFound indicates the requested job ID does not exist.
var ErrJobNotFound = errors.New("conversation: job not found")

type dynamoAPI interface {
	PutItem(context.Context, *dynamodb.PutItemInput, ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(context.Context, *dynamodb.UpdateItemInput, ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	GetItem(context.Context, *dynamodb.GetItemInput, ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
}

// JobRecord captures the persisted state of one intake job.
type JobRecord struct {
	JobID        string          `dynamodbav:"jobId" json:"jobId"`
	Status       JobStatus       `dynamodbav:"status" json:"status"`
	ContactID    string          `dynamodbav:"contactId,omitempty" json:"contactId,omitempty"`
	Inbound      *InboundMessage `dynamodbav:"inbound,omitempty" json:"inbound,omitempty"`
	Replies      []string        `dynamodbav:"replies,omitempty" json:"replies,omitempty"`
	FinalState   string          `dynamodbav:"finalState,omitempty" json:"finalState,omitempty"`
	RequestID    string          `dynamodbav:"requestId,omitempty" json:"requestId,omitempty"`
	ErrorMessage string          `dynamodbav:"errorMessage,omitempty" json:"errorMessage,omitempty"`
	CreatedAt    string          `dynamodbav:"createdAt" json:"createdAt"`
	UpdatedAt    string          `dynamodbav:"updatedAt" json:"updatedAt"`
	ExpiresAt    int64           `dynamodbav:"expiresAt,omitempty" json:"-"`
}

// JobRecorder persists new jobs and serves status lookups.
type JobRecorder interface {
	PutPending(ctx context.Context, job *JobRecord) error
	GetJob(ctx context.Context, jobID string) (*JobRecord, error)
}

// JobUpdater records job outcomes.
type JobUpdater interface {
	MarkCompleted(ctx context.Context, jobID string, result *TurnResult) error
	MarkFailed(ctx context.Context, jobID string, errMsg string) error
}

// JobStore persists job records to DynamoDB.
type JobStore struct {
	client    dynamoAPI
	tableName string
	logger    *logging.Logger
}

var _ JobRecorder = (*JobStore)(nil)
var _ JobUpdater = (*JobStore)(nil)

// NewJobStore builds a store backed by the provided DynamoDB client.
func NewJobStore(client dynamoAPI, tableName string, logger *logging.Logger) *JobStore {
	if client == nil {
		panic("conversation: dynamodb client cannot be nil")
	}
	if tableName == "" {
		panic("conversation: table name cannot be empty")
	}
	if logger == nil {
		logger = logging.Default()
	}

	return &JobStore{
		client:    client,
		tableName: tableName,
		logger:    logger,
	}
}

// PutPending inserts a new pending job record.
func (s *JobStore) PutPending(ctx context.Context, job *JobRecord) error {
	if job == nil {
		return errors.New("conversation: job cannot be nil")
	}
	now := time.Now().UTC()
	job.Status = JobStatusPending
	job.CreatedAt = now.Format(time.RFC3339Nano)
	job.UpdatedAt = job.CreatedAt
	if job.ExpiresAt == 0 {
		job.ExpiresAt = now.Add(jobTTL).Unix()
	}

	item, err := attributevalue.MarshalMap(job)
	if err != nil {
		return fmt.Errorf("conversation: failed to marshal job: %w", err)
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(jobId)"),
	})
	if err != nil {
		return fmt.Errorf("conversation: failed to persist job: %w", err)
	}
	return nil
}

// MarkCompleted updates a job with the final turn result.
func (s *JobStore) MarkCompleted(ctx context.Context, jobID string, result *TurnResult) error {
	if jobID == "" {
		return errors.New("conversation: jobID required")
	}
	if result == nil {
		result = &TurnResult{}
	}
	repliesAttr, err := attributevalue.Marshal(result.Replies)
	if err != nil {
		return fmt.Errorf("conversation: failed to marshal replies: %w", err)
	}
	requestID := ""
	if result.RequestID != uuid.Nil {
		requestID = result.RequestID.String()
	}

	return s.updateJob(
		ctx,
		jobID,
		map[string]types.AttributeValue{
			":status":  &types.AttributeValueMemberS{Value: string(JobStatusCompleted)},
			":replies": repliesAttr,
			":state":   &types.AttributeValueMemberS{Value: string(result.State)},
			":request": &types.AttributeValueMemberS{Value: requestID},
			":error":   &types.AttributeValueMemberS{Value: ""},
			":updated": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
		map[string]string{
			"#status":  "status",
			"#replies": "replies",
			"#state":   "finalState",
			"#error":   "errorMessage",
			"#updated": "updatedAt",
		},
		"SET #status = :status, #replies = :replies, #state = :state, requestId = :request, #error = :error, #updated = :updated",
	)
}

// MarkFailed updates a job to the failed state.
func (s *JobStore) MarkFailed(ctx context.Context, jobID string, errMsg string) error {
	if jobID == "" {
		return errors.New("conversation: jobID required")
	}
	return s.updateJob(
		ctx,
		jobID,
		map[string]types.AttributeValue{
			":status":  &types.AttributeValueMemberS{Value: string(JobStatusFailed)},
			":replies": &types.AttributeValueMemberNULL{Value: true},
			":error":   &types.AttributeValueMemberS{Value: errMsg},
			":updated": &types.AttributeValueMemberS{Value: time.Now().UTC().Format(time.RFC3339Nano)},
		},
		map[string]string{
			"#status":  "status",
			"#replies": "replies",
			"#error":   "errorMessage",
			"#updated": "updatedAt",
		},
		"SET #status = :status, #replies = :replies, #error = :error, #updated = :updated",
	)
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(ctx context.Context, jobID string) (*JobRecord, error) {
	if jobID == "" {
		return nil, errors.New("conversation: jobID required")
	}
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"jobId": &types.AttributeValueMemberS{Value: jobID},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("conversation: failed to fetch job: %w", err)
	}
	if out.Item == nil {
		return nil, ErrJobNotFound
	}

	var job JobRecord
	if err := attributevalue.UnmarshalMap(out.Item, &job); err != nil {
		return nil, fmt.Errorf("conversation: failed to decode job: %w", err)
	}
	return &job, nil
}

func (s *JobStore) updateJob(ctx context.Context, jobID string, values map[string]types.AttributeValue, names map[string]string, expression string) error {
	_, err := s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(s.tableName),
		Key: map[string]types.AttributeValue{
			"jobId": &types.AttributeValueMemberS{Value: jobID},
		},
		UpdateExpression:          aws.String(expression),
		ExpressionAttributeNames:  names,
		ExpressionAttributeValues: values,
		ConditionExpression:       aws.String("attribute_exists(jobId)"),
	})
	if err != nil {
		return fmt.Errorf("conversation: failed to update job %s: %w", jobID, err)
	}
	return nil
}
