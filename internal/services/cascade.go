package services

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/vithaluntold/accute1-sub000/internal/apperr"
	"github.com/vithaluntold/accute1-sub000/internal/automation"
	"github.com/vithaluntold/accute1-sub000/pkg/models"
)

// AutomationActor is recorded as the completer of tasks finished by their
// own automation.
const AutomationActor = "automation"

// CompleteLeaf marks a subtask or checklist item completed and advances
// every auto-advance ancestor whose children are now all completed.
func (e *Engine) CompleteLeaf(ctx context.Context, leafType models.NodeType, leafID string) (res *CascadeResult, err error) {
	ref := models.NodeRef{Type: leafType, ID: leafID}
	ctx, span := e.startSpan(ctx, "CompleteLeaf", refAttrs(ref)...)
	defer func() { endSpan(span, err) }()

	if !leafType.IsLeaf() {
		return nil, apperr.Validation("%s is not a leaf type", leafType)
	}
	node, err := e.store.GetNode(ctx, ref)
	if err != nil {
		return nil, err
	}
	res = &CascadeResult{Trigger: ref, Status: models.StatusCompleted}
	wrote, err := e.store.TransitionStatus(ctx, ref, models.StatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("complete %s: %w", ref, err)
	}
	if !wrote {
		res.AlreadyCompleted = true
		return res, nil
	}
	e.countTransition(ctx, ref)
	res.Completed = append(res.Completed, ref)
	e.logger.Info("leaf completed", "node", ref.String(), "workflow_id", node.WorkflowID)

	if err := e.cascade(ctx, ref, res); err != nil {
		return res, err
	}
	return res, nil
}

// ReopenLeaf returns a completed leaf to pending and reverts the completed
// auto-advance ancestors above it.
func (e *Engine) ReopenLeaf(ctx context.Context, leafType models.NodeType, leafID string) (res *CascadeResult, err error) {
	ref := models.NodeRef{Type: leafType, ID: leafID}
	ctx, span := e.startSpan(ctx, "ReopenLeaf", refAttrs(ref)...)
	defer func() { endSpan(span, err) }()

	if !leafType.IsLeaf() {
		return nil, apperr.Validation("%s is not a leaf type", leafType)
	}
	if _, err := e.store.GetNode(ctx, ref); err != nil {
		return nil, err
	}
	res = &CascadeResult{Trigger: ref, Status: models.StatusPending}
	wrote, err := e.store.TransitionStatus(ctx, ref, models.StatusPending, models.StatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("reopen %s: %w", ref, err)
	}
	if !wrote {
		return res, nil
	}
	res.Reopened = append(res.Reopened, ref)
	if err := e.revertAncestors(ctx, ref, res); err != nil {
		return res, err
	}
	return res, nil
}

// CompleteTask completes a task explicitly. A task that requires review and
// has not been approved goes to pending_review instead.
func (e *Engine) CompleteTask(ctx context.Context, taskID, actorID string) (res *CascadeResult, err error) {
	ref := models.NodeRef{Type: models.NodeTask, ID: taskID}
	ctx, span := e.startSpan(ctx, "CompleteTask", append(refAttrs(ref), attribute.String("actor.id", actorID))...)
	defer func() { endSpan(span, err) }()

	node, err := e.store.GetNode(ctx, ref)
	if err != nil {
		return nil, err
	}
	res = &CascadeResult{Trigger: ref}
	if err := e.completeTask(ctx, node, actorID, res); err != nil {
		return res, err
	}
	return res, nil
}

func (e *Engine) completeTask(ctx context.Context, node *models.Node, actorID string, res *CascadeResult) error {
	if node.Completed() {
		res.AlreadyCompleted = true
		res.Status = models.StatusCompleted
		return nil
	}
	if node.ReviewRequired && node.ReviewStatus != models.ReviewApproved {
		return e.submitForReview(ctx, node.Ref, res)
	}

	wrote, err := e.store.TransitionStatus(ctx, node.Ref, models.StatusCompleted)
	if err != nil {
		return fmt.Errorf("complete %s: %w", node.Ref, err)
	}
	res.Status = models.StatusCompleted
	if !wrote {
		res.AlreadyCompleted = true
		return nil
	}
	e.countTransition(ctx, node.Ref)
	res.Completed = append(res.Completed, node.Ref)
	if actorID != "" {
		if err := e.store.SetCompletedBy(ctx, node.Ref.ID, actorID); err != nil {
			return fmt.Errorf("record completer of %s: %w", node.Ref, err)
		}
	}
	e.logger.Info("task completed", "task_id", node.Ref.ID, "workflow_id", node.WorkflowID, "actor", actorID)
	return e.cascade(ctx, node.Ref, res)
}

// submitForReview moves a task to pending_review. Both a fresh task and one
// whose review was rejected may be submitted.
func (e *Engine) submitForReview(ctx context.Context, ref models.NodeRef, res *CascadeResult) error {
	res.PendingReview = true
	res.Status = models.StatusInProgress
	if _, err := e.store.TransitionStatus(ctx, ref, models.StatusInProgress, models.StatusPending); err != nil {
		return fmt.Errorf("start %s: %w", ref, err)
	}
	for _, from := range []models.ReviewStatus{models.ReviewNone, models.ReviewRejected} {
		wrote, err := e.store.TransitionReview(ctx, ref.ID, from, models.ReviewPendingReview, "")
		if err != nil {
			return fmt.Errorf("submit %s for review: %w", ref, err)
		}
		if wrote {
			e.logger.Info("task awaiting review", "task_id", ref.ID)
			return nil
		}
	}
	return nil
}

// RunAutomation executes the task's condition-gated actions. When every
// attempted action succeeds the task is completed (or sent to review);
// otherwise it stays in_progress and the failures are in ActionResults.
func (e *Engine) RunAutomation(ctx context.Context, taskID string, extra map[string]any) (res *CascadeResult, err error) {
	ref := models.NodeRef{Type: models.NodeTask, ID: taskID}
	ctx, span := e.startSpan(ctx, "RunAutomation", refAttrs(ref)...)
	defer func() { endSpan(span, err) }()

	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	res = &CascadeResult{Trigger: ref}
	if task.Status == models.StatusCompleted {
		res.AlreadyCompleted = true
		res.Status = models.StatusCompleted
		return res, nil
	}
	// A task past its automation only waits on the reviewer; running the
	// actions again would repeat their side effects.
	switch task.ReviewStatus {
	case models.ReviewPendingReview:
		res.PendingReview = true
		res.Status = models.StatusInProgress
		return res, nil
	case models.ReviewApproved:
		node, err := e.store.GetNode(ctx, ref)
		if err != nil {
			return nil, err
		}
		if err := e.completeTask(ctx, node, task.ReviewedBy, res); err != nil {
			return res, err
		}
		return res, nil
	}
	if err := e.executor.ValidateSpecs(task.AutomationActions); err != nil {
		return nil, err
	}
	if _, err := e.store.TransitionStatus(ctx, ref, models.StatusInProgress, models.StatusPending); err != nil {
		return nil, fmt.Errorf("start %s: %w", ref, err)
	}

	res.ActionResults = e.executor.ExecuteSpecs(ctx, task.AutomationActions, automation.TaskContext{Task: task, Extra: extra})
	span.SetAttributes(attribute.Int("automation.actions", len(res.ActionResults)))
	if !automation.AllSucceeded(res.ActionResults) {
		res.Status = models.StatusInProgress
		e.logger.Warn("automation incomplete", "task_id", taskID,
			"failed", len(automation.Failures(res.ActionResults)), "attempted", len(res.ActionResults))
		return res, nil
	}

	node, err := e.store.GetNode(ctx, ref)
	if err != nil {
		return res, err
	}
	if err := e.completeTask(ctx, node, AutomationActor, res); err != nil {
		return res, err
	}
	return res, nil
}

// ApproveReview approves a task awaiting review, completes it and cascades.
// Approving an already approved and completed task is a no-op.
func (e *Engine) ApproveReview(ctx context.Context, taskID, actorID string) (res *CascadeResult, err error) {
	ref := models.NodeRef{Type: models.NodeTask, ID: taskID}
	ctx, span := e.startSpan(ctx, "ApproveReview", append(refAttrs(ref), attribute.String("actor.id", actorID))...)
	defer func() { endSpan(span, err) }()

	if _, err := e.store.GetNode(ctx, ref); err != nil {
		return nil, err
	}
	wrote, err := e.store.TransitionReview(ctx, taskID, models.ReviewPendingReview, models.ReviewApproved, actorID)
	if err != nil {
		return nil, fmt.Errorf("approve %s: %w", ref, err)
	}
	node, err := e.store.GetNode(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !wrote && node.ReviewStatus != models.ReviewApproved {
		return nil, apperr.Conflict("task %s is not pending review (review status %s)", taskID, node.ReviewStatus).
			WithDetail("review_status", node.ReviewStatus)
	}
	if wrote {
		e.logger.Info("review approved", "task_id", taskID, "actor", actorID)
	}

	res = &CascadeResult{Trigger: ref}
	if err := e.completeTask(ctx, node, actorID, res); err != nil {
		return res, err
	}
	return res, nil
}

// RejectReview sends a task awaiting review back to in_progress.
func (e *Engine) RejectReview(ctx context.Context, taskID, actorID string) (res *CascadeResult, err error) {
	ref := models.NodeRef{Type: models.NodeTask, ID: taskID}
	ctx, span := e.startSpan(ctx, "RejectReview", append(refAttrs(ref), attribute.String("actor.id", actorID))...)
	defer func() { endSpan(span, err) }()

	if _, err := e.store.GetNode(ctx, ref); err != nil {
		return nil, err
	}
	wrote, err := e.store.TransitionReview(ctx, taskID, models.ReviewPendingReview, models.ReviewRejected, actorID)
	if err != nil {
		return nil, fmt.Errorf("reject %s: %w", ref, err)
	}
	res = &CascadeResult{Trigger: ref, Status: models.StatusInProgress}
	if !wrote {
		node, err := e.store.GetNode(ctx, ref)
		if err != nil {
			return nil, err
		}
		if node.ReviewStatus == models.ReviewRejected {
			return res, nil
		}
		return nil, apperr.Conflict("task %s is not pending review (review status %s)", taskID, node.ReviewStatus).
			WithDetail("review_status", node.ReviewStatus)
	}
	if _, err := e.store.TransitionStatus(ctx, ref, models.StatusInProgress, models.StatusPending); err != nil {
		return nil, fmt.Errorf("reset %s: %w", ref, err)
	}
	e.logger.Info("review rejected", "task_id", taskID, "actor", actorID)
	return res, nil
}

// ReopenTask returns a completed task to in_progress and reverts the
// completed auto-advance ancestors above it. An approved review is cleared
// so the task is reviewed again.
func (e *Engine) ReopenTask(ctx context.Context, taskID, actorID string) (res *CascadeResult, err error) {
	ref := models.NodeRef{Type: models.NodeTask, ID: taskID}
	ctx, span := e.startSpan(ctx, "ReopenTask", append(refAttrs(ref), attribute.String("actor.id", actorID))...)
	defer func() { endSpan(span, err) }()

	if _, err := e.store.GetNode(ctx, ref); err != nil {
		return nil, err
	}
	res = &CascadeResult{Trigger: ref, Status: models.StatusInProgress}
	wrote, err := e.store.TransitionStatus(ctx, ref, models.StatusInProgress, models.StatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("reopen %s: %w", ref, err)
	}
	if !wrote {
		return res, nil
	}
	res.Reopened = append(res.Reopened, ref)
	if _, err := e.store.TransitionReview(ctx, taskID, models.ReviewApproved, models.ReviewNone, ""); err != nil {
		return res, fmt.Errorf("clear review of %s: %w", ref, err)
	}
	e.logger.Info("task reopened", "task_id", taskID, "actor", actorID)
	if err := e.revertAncestors(ctx, ref, res); err != nil {
		return res, err
	}
	return res, nil
}

// CompleteContainer completes a step or stage explicitly, runs its
// completion actions and cascades upward.
func (e *Engine) CompleteContainer(ctx context.Context, ref models.NodeRef, actorID string) (res *CascadeResult, err error) {
	ctx, span := e.startSpan(ctx, "CompleteContainer", append(refAttrs(ref), attribute.String("actor.id", actorID))...)
	defer func() { endSpan(span, err) }()

	if ref.Type != models.NodeStep && ref.Type != models.NodeStage {
		return nil, apperr.Validation("%s cannot be completed as a container", ref.Type)
	}
	node, err := e.store.GetNode(ctx, ref)
	if err != nil {
		return nil, err
	}
	res = &CascadeResult{Trigger: ref, Status: models.StatusCompleted}
	wrote, err := e.store.TransitionStatus(ctx, ref, models.StatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("complete %s: %w", ref, err)
	}
	if !wrote {
		res.AlreadyCompleted = true
		return res, nil
	}
	e.countTransition(ctx, ref)
	res.Completed = append(res.Completed, ref)
	e.logger.Info("container completed", "node", ref.String(), "workflow_id", node.WorkflowID, "actor", actorID)
	e.runOnComplete(ctx, *node, res)

	if err := e.cascade(ctx, ref, res); err != nil {
		return res, err
	}
	return res, nil
}

// CompleteWorkflow completes a workflow whose stages are all completed. The
// cascade never does this on its own.
func (e *Engine) CompleteWorkflow(ctx context.Context, workflowID, actorID string) (res *CascadeResult, err error) {
	ref := models.NodeRef{Type: models.NodeWorkflow, ID: workflowID}
	ctx, span := e.startSpan(ctx, "CompleteWorkflow", append(refAttrs(ref), attribute.String("actor.id", actorID))...)
	defer func() { endSpan(span, err) }()

	node, err := e.store.GetNode(ctx, ref)
	if err != nil {
		return nil, err
	}
	res = &CascadeResult{Trigger: ref, Status: models.StatusCompleted}
	if node.Completed() {
		res.AlreadyCompleted = true
		return res, nil
	}
	stages, err := e.store.GetChildren(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("load stages of %s: %w", ref, err)
	}
	var open []string
	for _, st := range stages {
		if !st.Completed() {
			open = append(open, st.Ref.ID)
		}
	}
	if len(open) > 0 {
		return nil, apperr.Validation("workflow %s has %d incomplete stages", workflowID, len(open)).
			WithDetail("incomplete_stage_ids", open)
	}

	wrote, err := e.store.TransitionStatus(ctx, ref, models.StatusCompleted)
	if err != nil {
		return nil, fmt.Errorf("complete %s: %w", ref, err)
	}
	if !wrote {
		res.AlreadyCompleted = true
		return res, nil
	}
	e.countTransition(ctx, ref)
	res.Completed = append(res.Completed, ref)
	e.logger.Info("workflow completed", "workflow_id", workflowID, "actor", actorID)
	return res, nil
}

// ResumeCascade re-runs the upward walk from a node that is already
// completed, finishing a cascade an earlier failure cut short. Only real
// writes fire completion actions, so repeating it is safe.
func (e *Engine) ResumeCascade(ctx context.Context, ref models.NodeRef) (res *CascadeResult, err error) {
	ctx, span := e.startSpan(ctx, "ResumeCascade", refAttrs(ref)...)
	defer func() { endSpan(span, err) }()

	node, err := e.store.GetNode(ctx, ref)
	if err != nil {
		return nil, err
	}
	if !node.Completed() {
		return nil, apperr.Validation("%s is %s; only completed nodes can resume a cascade", ref, node.Status)
	}
	res = &CascadeResult{Trigger: ref, Status: models.StatusCompleted}
	if ref.Type == models.NodeWorkflow {
		return res, nil
	}
	if err := e.cascade(ctx, ref, res); err != nil {
		return res, err
	}
	return res, nil
}

// cascade walks the ancestors of from, nearest first, completing each
// auto-advance container whose children are all completed. It stops at the
// first container that is already completed, opts out, still has open
// children, or was completed concurrently by another caller.
func (e *Engine) cascade(ctx context.Context, from models.NodeRef, res *CascadeResult) error {
	chain, err := e.store.Ancestors(ctx, from)
	if err != nil {
		return fmt.Errorf("resolve ancestors of %s: %w", from, err)
	}
	for _, anc := range chain {
		if anc.Completed() || !anc.AutoAdvance {
			return nil
		}
		children, err := e.store.GetChildren(ctx, anc.Ref)
		if err != nil {
			return fmt.Errorf("load children of %s: %w", anc.Ref, err)
		}
		if !allCompleted(children) {
			return nil
		}
		if anc.Ref.Type == models.NodeTask && anc.ReviewRequired && anc.ReviewStatus != models.ReviewApproved {
			return e.submitForReview(ctx, anc.Ref, res)
		}

		wrote, err := e.store.TransitionStatus(ctx, anc.Ref, models.StatusCompleted)
		if err != nil {
			return fmt.Errorf("advance %s: %w", anc.Ref, err)
		}
		if !wrote {
			e.logger.Debug("cascade yielded to concurrent writer", "node", anc.Ref.String())
			return nil
		}
		e.countTransition(ctx, anc.Ref)
		res.Completed = append(res.Completed, anc.Ref)
		e.logger.Info("auto-advanced", "node", anc.Ref.String(), "workflow_id", anc.WorkflowID, "trigger", res.Trigger.String())
		e.runOnComplete(ctx, anc, res)
	}
	return nil
}

// revertAncestors moves completed auto-advance ancestors back to
// in_progress, nearest first, stopping at the first one that is open or was
// completed by hand. A task awaiting review has its review withdrawn, and a
// reverted task loses its approval.
func (e *Engine) revertAncestors(ctx context.Context, from models.NodeRef, res *CascadeResult) error {
	chain, err := e.store.Ancestors(ctx, from)
	if err != nil {
		return fmt.Errorf("resolve ancestors of %s: %w", from, err)
	}
	for _, anc := range chain {
		if anc.Ref.Type == models.NodeTask && anc.ReviewStatus == models.ReviewPendingReview {
			return e.withdrawReview(ctx, anc.Ref)
		}
		if !anc.Completed() || !anc.AutoAdvance {
			return nil
		}
		wrote, err := e.store.TransitionStatus(ctx, anc.Ref, models.StatusInProgress, models.StatusCompleted)
		if err != nil {
			return fmt.Errorf("revert %s: %w", anc.Ref, err)
		}
		if !wrote {
			return nil
		}
		if anc.Ref.Type == models.NodeTask {
			if _, err := e.store.TransitionReview(ctx, anc.Ref.ID, models.ReviewApproved, models.ReviewNone, ""); err != nil {
				return fmt.Errorf("clear review of %s: %w", anc.Ref, err)
			}
		}
		res.Reopened = append(res.Reopened, anc.Ref)
		e.logger.Info("auto-advance reverted", "node", anc.Ref.String(), "trigger", res.Trigger.String())
	}
	return nil
}

// withdrawReview takes a task out of pending_review once one of its children
// is open again.
func (e *Engine) withdrawReview(ctx context.Context, ref models.NodeRef) error {
	wrote, err := e.store.TransitionReview(ctx, ref.ID, models.ReviewPendingReview, models.ReviewNone, "")
	if err != nil {
		return fmt.Errorf("withdraw review of %s: %w", ref, err)
	}
	if wrote {
		e.logger.Info("review withdrawn", "task_id", ref.ID)
	}
	return nil
}

// runOnComplete fires a container's completion actions. Failures are
// recorded and logged; they never undo the completion.
func (e *Engine) runOnComplete(ctx context.Context, node models.Node, res *CascadeResult) {
	if len(node.OnComplete) == 0 {
		return
	}
	results := e.executor.ExecuteSpecs(ctx, node.OnComplete, automation.TaskContext{Node: &node})
	if failed := automation.Failures(results); len(failed) > 0 {
		e.logger.Warn("completion actions failed", "node", node.Ref.String(), "failed", len(failed))
	}
	res.ActionResults = append(res.ActionResults, results...)
}

func allCompleted(nodes []models.Node) bool {
	for _, n := range nodes {
		if !n.Completed() {
			return false
		}
	}
	return true
}
