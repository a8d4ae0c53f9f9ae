// Package backfill migrates a member's pre-collaboration task list into a
// project the first time an empty project meets a non-empty legacy list.
package backfill

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bucketworks/boardwalk/internal/observability"
	"github.com/bucketworks/boardwalk/model"
)

// ActionCreator is the slice of the action store the coordinator writes
// through.
type ActionCreator interface {
	CreateAction(ctx context.Context, projectID string, input model.CreateActionInput) (model.ProjectAction, error)
}

// Report counts the outcomes of one backfill run.
type Report struct {
	Created        int `json:"created"`
	AlreadyPresent int `json:"already_present"`
	Skipped        int `json:"skipped"`
}

// Total returns the number of legacy actions the run got through.
func (r Report) Total() int { return r.Created + r.AlreadyPresent + r.Skipped }

// ShouldRun evaluates the backfill gate: a project qualifies only while it
// has no native actions and the account still carries legacy ones. The
// caller must have both lists actually loaded; an upstream failure on either
// list disqualifies the evaluation rather than defaulting to zero.
func ShouldRun(nativeCount, legacyCount int) bool {
	return nativeCount == 0 && legacyCount > 0
}

// Coordinator copies legacy actions into a project one at a time. Runs are
// idempotent: every created action carries its legacy canonical id, so a
// re-run after a partial failure converts prior successes into
// duplicate-conflicts and counts them as already present.
type Coordinator struct {
	store   ActionCreator
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewCoordinator creates a Coordinator writing through the given store.
func NewCoordinator(store ActionCreator, logger *zap.Logger, metrics *observability.Metrics) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{store: store, logger: logger, metrics: metrics}
}

// Run migrates the given legacy actions into the project, sequentially and
// in input order. Inbox items and items without a usable title are skipped.
// A duplicate-conflict on create counts as already present. Any other error
// aborts the run; the report covers the work done up to that point and the
// remaining items are picked up by the next eligible run.
func (c *Coordinator) Run(ctx context.Context, projectID string, d model.WorkflowDescriptor, legacy []model.LegacyAction) (report Report, err error) {
	ctx, span := observability.StartSpan(ctx, "backfill.run",
		observability.AttrProjectID.String(projectID),
	)
	defer func() { observability.EndSpanWithError(span, err) }()

	for _, la := range legacy {
		if la.Bucket == model.BucketInbox {
			report.Skipped++
			c.recordAction("skipped")
			continue
		}
		if strings.TrimSpace(la.Name) == "" {
			report.Skipped++
			c.recordAction("skipped")
			continue
		}

		input := model.CreateActionInput{
			CanonicalID:  la.CanonicalID,
			Name:         la.Name,
			Description:  la.Description,
			ActionStatus: TargetStatus(d, la),
			OwnerText:    la.Delegate,
			DueAt:        dueDate(la),
			Tags:         la.Tags,
		}

		_, createErr := c.store.CreateAction(ctx, projectID, input)
		switch {
		case createErr == nil:
			report.Created++
			c.recordAction("created")
		case model.IsDuplicate(createErr):
			// A previous run already placed this one.
			report.AlreadyPresent++
			c.recordAction("already_present")
		default:
			c.recordRun("aborted")
			c.logger.Warn("backfill: run aborted",
				zap.String("project_id", projectID),
				zap.String("canonical_id", la.CanonicalID),
				zap.Int("created", report.Created),
				zap.Int("already_present", report.AlreadyPresent),
				zap.Int("skipped", report.Skipped),
				zap.Error(createErr),
			)
			return report, model.NewBackfillAbortedError(
				fmt.Sprintf("stopped at legacy action %q: %s", la.CanonicalID, createErr.Error()),
			)
		}
	}

	c.recordRun("completed")
	c.logger.Info("backfill: run completed",
		zap.String("project_id", projectID),
		zap.Int("created", report.Created),
		zap.Int("already_present", report.AlreadyPresent),
		zap.Int("skipped", report.Skipped),
	)
	return report, nil
}

// TargetStatus computes the native status a legacy action lands in:
// completed items go to the done-equivalent, someday to the default, waiting
// to the blocked-equivalent, everything else to the active-equivalent. The
// result is always a member of the descriptor's canonical statuses.
func TargetStatus(d model.WorkflowDescriptor, la model.LegacyAction) model.Status {
	var target model.Status
	switch {
	case la.CompletedAt != nil:
		target, _ = d.DoneStatus()
	case la.Bucket == model.BucketSomeday:
		target = d.DefaultStatus
	case la.Bucket == model.BucketWaiting:
		target, _ = d.BlockedStatus()
	default:
		target = activeEquivalent(d)
	}

	if !d.Has(target) {
		target = d.DefaultStatus
	}
	if !d.Has(target) && len(d.CanonicalStatuses) > 0 {
		target = d.CanonicalStatuses[0]
	}
	return target
}

// activeEquivalent picks the first canonical status that is neither the
// default nor tagged done or blocked, else the default. Descriptors with
// fewer than four distinct roles collapse onto the default this way.
func activeEquivalent(d model.WorkflowDescriptor) model.Status {
	for _, s := range d.CanonicalStatuses {
		if s == d.DefaultStatus || d.IsDone(s) || d.IsBlocked(s) {
			continue
		}
		return s
	}
	return d.DefaultStatus
}

// legacyDateFormats are the shapes legacy exports carry dates in.
var legacyDateFormats = []string{
	time.RFC3339,
	"2006-01-02",
	"2006-01-02 15:04:05",
}

// dueDate picks the best-effort due date: the first of due, scheduled, start
// that parses. Unparseable values are ignored rather than failing the item.
func dueDate(la model.LegacyAction) *time.Time {
	for _, raw := range []string{la.DueDate, la.ScheduledDate, la.StartDate} {
		if raw == "" {
			continue
		}
		for _, layout := range legacyDateFormats {
			if t, err := time.Parse(layout, raw); err == nil {
				t = t.UTC()
				return &t
			}
		}
	}
	return nil
}

func (c *Coordinator) recordAction(outcome string) {
	if c.metrics != nil {
		c.metrics.RecordBackfillAction(outcome)
	}
}

func (c *Coordinator) recordRun(result string) {
	if c.metrics != nil {
		c.metrics.RecordBackfillRun(result)
	}
}
