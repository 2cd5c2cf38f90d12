package conversation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/saudeflow/clinic-intake/pkg/logging"
)

func TestJobStorePutPendingPersistsDefaults(t *testing.T) {
	mock := &mockDynamo{}
	store := NewJobStore(mock, "intake_jobs", logging.Default())

	job := &JobRecord{
		JobID:     "job-123",
		ContactID: "+5511999990000",
	}

	if err := store.PutPending(context.Background(), job); err != nil {
		t.Fatalf("PutPending returned error: %v", err)
	}

	if mock.putInput == nil {
		t.Fatalf("expected PutItem to be called")
	}

	var stored JobRecord
	if err := attributevalue.UnmarshalMap(mock.putInput.Item, &stored); err != nil {
		t.Fatalf("failed to unmarshal stored job: %v", err)
	}

	if stored.Status != JobStatusPending {
		t.Fatalf("expected status pending, got %s", stored.Status)
	}
	if stored.CreatedAt == "" || stored.UpdatedAt == "" {
		t.Fatal("expected timestamps to be populated")
	}
	if stored.ExpiresAt <= time.Now().Unix() {
		t.Fatal("expected TTL to be in the future")
	}

	if expr := mock.putInput.ConditionExpression; expr == nil || *expr != "attribute_not_exists(jobId)" {
		t.Fatalf("expected condition expression to prevent overwrites, got %v", expr)
	}
}

func TestJobStorePutPendingNilJob(t *testing.T) {
	store := NewJobStore(&mockDynamo{}, "intake_jobs", logging.Default())
	if err := store.PutPending(context.Background(), nil); err == nil {
		t.Fatal("expected error when job is nil")
	}
}

func TestJobStoreMarkCompletedUsesReservedAttributeNames(t *testing.T) {
	mock := &mockDynamo{}
	store := NewJobStore(mock, "intake_jobs", logging.Default())

	result := &TurnResult{
		Replies: []string{"Perfeito, agendado!"},
		State:   StateDone,
	}

	if err := store.MarkCompleted(context.Background(), "job-123", result); err != nil {
		t.Fatalf("MarkCompleted returned error: %v", err)
	}

	if len(mock.updateInputs) != 1 {
		t.Fatalf("expected 1 update call, got %d", len(mock.updateInputs))
	}

	update := mock.updateInputs[0]

	names := update.ExpressionAttributeNames
	if names["#replies"] != "replies" || names["#error"] != "errorMessage" {
		t.Fatalf("expected reserved attribute names to be aliased, got %v", names)
	}

	values := update.ExpressionAttributeValues
	status := values[":status"].(*types.AttributeValueMemberS).Value
	if status != string(JobStatusCompleted) {
		t.Fatalf("expected completed status, got %s", status)
	}
	state := values[":state"].(*types.AttributeValueMemberS).Value
	if state != string(StateDone) {
		t.Fatalf("expected final state to be recorded, got %s", state)
	}
	if _, ok := values[":replies"].(*types.AttributeValueMemberL); !ok {
		t.Fatalf("expected marshalled replies attribute, got %T", values[":replies"])
	}
}

func TestJobStoreMarkFailedSetsNullReplies(t *testing.T) {
	mock := &mockDynamo{}
	store := NewJobStore(mock, "intake_jobs", logging.Default())

	if err := store.MarkFailed(context.Background(), "job-123", "boom"); err != nil {
		t.Fatalf("MarkFailed returned error: %v", err)
	}

	update := mock.updateInputs[0]
	if _, ok := update.ExpressionAttributeValues[":replies"].(*types.AttributeValueMemberNULL); !ok {
		t.Fatalf("expected replies to be set to NULL, got %T", update.ExpressionAttributeValues[":replies"])
	}
}

func TestJobStoreMarkCompletedPropagatesError(t *testing.T) {
	mock := &mockDynamo{updateErr: errors.New("dynamo failed")}
	store := NewJobStore(mock, "intake_jobs", logging.Default())

	err := store.MarkCompleted(context.Background(), "job-1", &TurnResult{})
	if err == nil || !strings.Contains(err.Error(), "dynamo failed") {
		t.Fatalf("expected dynamo error, got %v", err)
	}
}

func TestJobStoreGetJobSuccess(t *testing.T) {
	mock := &mockDynamo{
		getOutput: &dynamodb.GetItemOutput{
			Item: map[string]types.AttributeValue{
				"jobId":  &types.AttributeValueMemberS{Value: "job-42"},
				"status": &types.AttributeValueMemberS{Value: string(JobStatusPending)},
			},
		},
	}
	store := NewJobStore(mock, "intake_jobs", logging.Default())

	job, err := store.GetJob(context.Background(), "job-42")
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if job.JobID != "job-42" || job.Status != JobStatusPending {
		t.Fatalf("unexpected job result: %#v", job)
	}
}

func TestJobStoreGetJobNotFound(t *testing.T) {
	mock := &mockDynamo{getOutput: &dynamodb.GetItemOutput{}}
	store := NewJobStore(mock, "intake_jobs", logging.Default())

	_, err := store.GetJob(context.Background(), "job-42")
	if !errors.Is(err, ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestJobStoreGetJobEmptyID(t *testing.T) {
	store := NewJobStore(&mockDynamo{}, "intake_jobs", logging.Default())
	if _, err := store.GetJob(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty jobID")
	}
}

type mockDynamo struct {
	putInput     *dynamodb.PutItemInput
	putErr       error
	updateInputs []*dynamodb.UpdateItemInput
	updateErr    error
	getOutput    *dynamodb.GetItemOutput
	getErr       error
}

func (m *mockDynamo) PutItem(ctx context.Context, input *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	m.putInput = input
	return &dynamodb.PutItemOutput{}, m.putErr
}

func (m *mockDynamo) UpdateItem(ctx context.Context, input *dynamodb.UpdateItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	m.updateInputs = append(m.updateInputs, input)
	if m.updateErr != nil {
		return nil, m.updateErr
	}
	return &dynamodb.UpdateItemOutput{}, nil
}

func (m *mockDynamo) GetItem(ctx context.Context, input *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if m.getOutput == nil {
		return &dynamodb.GetItemOutput{}, nil
	}
	return m.getOutput, nil
}
