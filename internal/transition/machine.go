// Package transition applies status changes to project actions under the
// rules of a project's workflow descriptor.
package transition

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bucketworks/boardwalk/internal/observability"
	"github.com/bucketworks/boardwalk/model"
)

// Directions of a horizontal board move.
const (
	Left  = -1
	Right = 1
)

// ActionMover is the slice of the action store the machine writes through.
type ActionMover interface {
	TransitionAction(ctx context.Context, actionID string, input model.TransitionInput) (model.ProjectAction, error)
}

// Result is the outcome of one transition request.
type Result struct {
	// Action is the post-transition record on success, or the input action
	// unchanged when the request was a no-op.
	Action model.ProjectAction

	// Moved reports whether a transition was issued and accepted.
	Moved bool
}

// Machine validates and executes status transitions. The machine holds no
// per-action state: the caller supplies the descriptor and its current view
// of the action, and concurrency control rides on the action's last_event_id.
type Machine struct {
	store   ActionMover
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewMachine creates a Machine writing through the given store.
func NewMachine(store ActionMover, logger *zap.Logger, metrics *observability.Metrics) *Machine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Machine{store: store, logger: logger, metrics: metrics}
}

// Transition moves an action to toStatus. A target that is unknown to the
// descriptor or equal to the current status is a no-op and never reaches the
// network. A stale-version rejection is returned as-is: the caller must
// re-fetch the action before retrying, the machine never re-issues a write
// with a token the server already rejected.
func (m *Machine) Transition(ctx context.Context, d model.WorkflowDescriptor, action model.ProjectAction, toStatus model.Status) (Result, error) {
	if !d.Has(toStatus) {
		m.logger.Debug("transition: target status not canonical, skipping",
			zap.String("action_id", action.ID),
			zap.String("to_status", toStatus.String()),
		)
		m.record("noop")
		return Result{Action: action}, nil
	}
	if toStatus == action.ActionStatus {
		m.record("noop")
		return Result{Action: action}, nil
	}

	correlationID := uuid.NewString()
	ctx, span := observability.StartSpan(ctx, "transition.apply",
		observability.AttrActionID.String(action.ID),
		observability.AttrToStatus.String(toStatus.String()),
		observability.AttrCorrelationID.String(correlationID),
	)

	updated, err := m.store.TransitionAction(ctx, action.ID, model.TransitionInput{
		ToStatus:            toStatus,
		ExpectedLastEventID: action.LastEventID,
		CorrelationID:       correlationID,
	})
	observability.EndSpanWithError(span, err)
	if err != nil {
		if model.IsStaleVersion(err) {
			m.record("conflict")
			if m.metrics != nil {
				m.metrics.RecordConflict("transition")
			}
			m.logger.Info("transition: stale token rejected",
				zap.String("action_id", action.ID),
				zap.Int64("expected_last_event_id", action.LastEventID),
			)
		} else {
			m.record("error")
		}
		return Result{Action: action}, err
	}

	m.record("applied")
	return Result{Action: updated, Moved: true}, nil
}

// MoveHorizontal shifts an action one pipeline position left or right.
// Out-of-bounds moves, and moves from a status the descriptor no longer
// knows, are no-ops.
func (m *Machine) MoveHorizontal(ctx context.Context, d model.WorkflowDescriptor, action model.ProjectAction, direction int) (Result, error) {
	idx := d.IndexOf(action.ActionStatus)
	if idx < 0 {
		m.logger.Debug("transition: current status not canonical, skipping move",
			zap.String("action_id", action.ID),
			zap.String("action_status", action.ActionStatus.String()),
		)
		return Result{Action: action}, nil
	}
	next := idx + direction
	if next < 0 || next >= len(d.CanonicalStatuses) {
		return Result{Action: action}, nil
	}
	return m.Transition(ctx, d, action, d.CanonicalStatuses[next])
}

func (m *Machine) record(result string) {
	if m.metrics != nil {
		m.metrics.RecordTransition(result)
	}
}
