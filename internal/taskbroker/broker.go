package taskbroker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/chicoryai/taskrunner/internal/model"
	"github.com/chicoryai/taskrunner/internal/queue"
)

// Broker composes a Store with a Queue to implement the create/update/list/
// cancel operations spec.md §4.3 calls the task broker's contract.
type Broker struct {
	store Store
	q     queue.Queue
	now   func() time.Time
}

// New builds a Broker over the given Store and Queue.
func New(store Store, q queue.Queue) *Broker {
	return &Broker{store: store, q: q, now: time.Now}
}

// CreateMessage implements spec.md §4.3's create_message: a user task is
// recorded COMPLETED immediately (it needs no further processing), a paired
// assistant task is recorded QUEUED, and a WorkItem is published for it.
//
// If publication fails, the pair is not left dangling in QUEUED forever: per
// spec.md §4.3's note that create_message failures must be visible, the
// assistant task is marked FAILED in the same call rather than silently
// orphaned on the queue.
func (b *Broker) CreateMessage(ctx context.Context, projectID, agentID, content string, metadata model.Metadata) (userTask, assistantTask *model.Task, err error) {
	now := b.now()
	pairKey := uuid.NewString()

	user := &model.Task{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		AgentID:   agentID,
		Role:      model.RoleUser,
		Content:   content,
		Status:    model.StatusCompleted,
		PairKey:   pairKey,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}
	assistant := &model.Task{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		AgentID:   agentID,
		Role:      model.RoleAssistant,
		Content:   "",
		Status:    model.StatusQueued,
		PairKey:   pairKey,
		Metadata:  metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := b.store.CreatePair(ctx, user, assistant); err != nil {
		return nil, nil, fmt.Errorf("create task pair: %w", err)
	}

	item := queue.WorkItem{
		TaskID:          user.ID,
		AssistantTaskID: assistant.ID,
		ProjectID:       projectID,
		AgentID:         agentID,
		Content:         content,
		Metadata:        metadata,
		Timestamp:       now,
		Action:          queue.ActionProcessAgentTask,
	}
	if err := b.q.Publish(ctx, item); err != nil {
		failedStatus := model.StatusFailed
		failedContent := MarshalAssistantContent(model.AssistantContent{
			Response:     model.FailedMessage,
			Error:        true,
			ErrorDetails: fmt.Sprintf("failed to enqueue task: %v", err),
		})
		_, updateErr := b.store.UpdateTask(ctx, projectID, agentID, assistant.ID, TaskUpdate{
			Status:  &failedStatus,
			Content: &failedContent,
		})
		if updateErr != nil {
			return nil, nil, fmt.Errorf("publish failed (%v) and marking task failed also failed: %w", err, updateErr)
		}
		assistant.Status = model.StatusFailed
		assistant.Content = failedContent
		return user, assistant, fmt.Errorf("publish work item: %w", err)
	}

	return user, assistant, nil
}

// UpdateTask applies a status/content patch, delegating state-machine
// enforcement to the Store implementation (ApplyTransition).
func (b *Broker) UpdateTask(ctx context.Context, projectID, agentID, taskID string, update TaskUpdate) (*model.Task, error) {
	return b.store.UpdateTask(ctx, projectID, agentID, taskID, update)
}

// GetTaskStatus fetches a single task, used by the polling-based
// cancellation check in internal/worker as well as the HTTP read path.
func (b *Broker) GetTaskStatus(ctx context.Context, projectID, agentID, taskID string) (*model.Task, error) {
	return b.store.GetTask(ctx, projectID, agentID, taskID)
}

// ListAgentTasks returns bounded task history for an agent.
func (b *Broker) ListAgentTasks(ctx context.Context, projectID, agentID string, opts ListOptions) ([]*model.Task, error) {
	return b.store.ListAgentTasks(ctx, projectID, agentID, opts)
}

// CancelTask marks an assistant task CANCELLED. Per T-3/P-3 this always
// wins over any later COMPLETED/FAILED write still in flight from a worker
// that has not yet observed the cancellation.
func (b *Broker) CancelTask(ctx context.Context, projectID, agentID, taskID string) (*model.Task, error) {
	cancelled := model.StatusCancelled
	content := MarshalAssistantContent(model.AssistantContent{
		Response:  model.CancelledMessage,
		Cancelled: true,
	})
	return b.store.UpdateTask(ctx, projectID, agentID, taskID, TaskUpdate{
		Status:  &cancelled,
		Content: &content,
	})
}

// MarshalAssistantContent renders an AssistantContent as the JSON string
// stored in a task's Content field, falling back to the bare response text
// if marshaling somehow fails.
func MarshalAssistantContent(content model.AssistantContent) string {
	data, err := json.Marshal(content)
	if err != nil {
		return content.Response
	}
	return string(data)
}
