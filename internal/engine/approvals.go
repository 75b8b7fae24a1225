package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-remediate/internal/models"
)

// ApprovalQueue holds deferred actions awaiting operator sign-off, in
// insertion order. Entries never expire. No internal locking; the executor
// serialises all access.
type ApprovalQueue struct {
	order []string
	byID  map[string]models.PendingApproval
}

// NewApprovalQueue returns an empty queue.
func NewApprovalQueue() *ApprovalQueue {
	return &ApprovalQueue{byID: make(map[string]models.PendingApproval)}
}

// Create parks an action and returns its pending-approval handle.
func (q *ApprovalQueue) Create(action models.Action, now time.Time) models.PendingApproval {
	approval := models.PendingApproval{
		ID:        uuid.NewString(),
		Action:    action,
		CreatedAt: now,
	}
	q.byID[approval.ID] = approval
	q.order = append(q.order, approval.ID)
	return approval
}

// Take removes and returns the approval with the given id.
func (q *ApprovalQueue) Take(id string) (models.PendingApproval, bool) {
	approval, ok := q.byID[id]
	if !ok {
		return models.PendingApproval{}, false
	}
	delete(q.byID, id)
	for i, candidate := range q.order {
		if candidate == id {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return approval, true
}

// List returns pending approvals oldest first.
func (q *ApprovalQueue) List() []models.PendingApproval {
	out := make([]models.PendingApproval, 0, len(q.order))
	for _, id := range q.order {
		out = append(out, q.byID[id])
	}
	return out
}

// Len reports the number of pending approvals.
func (q *ApprovalQueue) Len() int { return len(q.order) }
