package repository

import (
	"context"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vithaluntold/accute1-sub000/internal/apperr"
	"github.com/vithaluntold/accute1-sub000/internal/requestctx"
	"github.com/vithaluntold/accute1-sub000/pkg/models"
)

// MemoryStore is an in-process Repository used in DEV mode and tests. A
// single mutex makes every conditional transition atomic, matching the
// guarantee the Postgres store gets from row-level UPDATE ... WHERE.
type MemoryStore struct {
	mu        sync.Mutex
	seq       int
	tenants   map[string]*models.Tenant
	workflows map[string]*models.Workflow
	stages    map[string]*models.Stage
	steps     map[string]*models.Step
	tasks     map[string]*models.Task
	subtasks  map[string]*models.Subtask
	checklist map[string]*models.ChecklistItem
	edges     map[string][]models.TaskDependency
	order     map[string]int
	now       func() time.Time
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tenants:   make(map[string]*models.Tenant),
		workflows: make(map[string]*models.Workflow),
		stages:    make(map[string]*models.Stage),
		steps:     make(map[string]*models.Step),
		tasks:     make(map[string]*models.Task),
		subtasks:  make(map[string]*models.Subtask),
		checklist: make(map[string]*models.ChecklistItem),
		edges:     make(map[string][]models.TaskDependency),
		order:     make(map[string]int),
		now:       time.Now,
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// track remembers insertion order to break ties between equal Order values.
func (s *MemoryStore) track(id string) {
	s.seq++
	s.order[id] = s.seq
}

func newID(id string) string {
	if id != "" {
		return id
	}
	return uuid.New().String()
}

func (s *MemoryStore) GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tenants {
		if t.Domain == domain {
			cp := *t
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("tenant", domain)
}

func (s *MemoryStore) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tenant.ID = newID(tenant.ID)
	now := s.now()
	tenant.CreatedAt, tenant.UpdatedAt = now, now
	cp := *tenant
	s.tenants[tenant.ID] = &cp
	return nil
}

func (s *MemoryStore) CreateWorkflow(ctx context.Context, wf *models.Workflow) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf.ID = newID(wf.ID)
	if wf.TenantID == "" {
		wf.TenantID = requestctx.TenantID(ctx)
	}
	if wf.Status == "" {
		wf.Status = models.StatusPending
	}
	now := s.now()
	wf.CreatedAt, wf.UpdatedAt = now, now
	cp := *wf
	s.workflows[wf.ID] = &cp
	s.track(wf.ID)
	return nil
}

func (s *MemoryStore) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[id]
	if !ok || !requestctx.Visible(ctx, wf.TenantID) {
		return nil, apperr.NotFound("workflow", id)
	}
	cp := *wf
	return &cp, nil
}

func (s *MemoryStore) ListWorkflows(ctx context.Context) ([]*models.Workflow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Workflow
	for _, wf := range s.workflows {
		if requestctx.Visible(ctx, wf.TenantID) {
			cp := *wf
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return s.order[out[i].ID] < s.order[out[j].ID] })
	return out, nil
}

func (s *MemoryStore) CreateStage(ctx context.Context, stage *models.Stage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[stage.WorkflowID]; !ok {
		return apperr.NotFound("workflow", stage.WorkflowID)
	}
	stage.ID = newID(stage.ID)
	if stage.Status == "" {
		stage.Status = models.StatusPending
	}
	cp := *stage
	s.stages[stage.ID] = &cp
	s.track(stage.ID)
	return nil
}

func (s *MemoryStore) CreateStep(ctx context.Context, step *models.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stage, ok := s.stages[step.StageID]
	if !ok {
		return apperr.NotFound("stage", step.StageID)
	}
	step.ID = newID(step.ID)
	step.WorkflowID = stage.WorkflowID
	if step.Status == "" {
		step.Status = models.StatusPending
	}
	cp := *step
	s.steps[step.ID] = &cp
	s.track(step.ID)
	return nil
}

func (s *MemoryStore) GetStep(ctx context.Context, id string) (*models.Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	step, ok := s.steps[id]
	if !ok || !requestctx.Visible(ctx, s.workflows[step.WorkflowID].TenantID) {
		return nil, apperr.NotFound("step", id)
	}
	cp := *step
	return &cp, nil
}

func (s *MemoryStore) CreateTask(ctx context.Context, task *models.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	step, ok := s.steps[task.StepID]
	if !ok || !requestctx.Visible(ctx, s.workflows[step.WorkflowID].TenantID) {
		return apperr.NotFound("step", task.StepID)
	}
	task.ID = newID(task.ID)
	task.WorkflowID = step.WorkflowID
	task.TenantID = s.workflows[step.WorkflowID].TenantID
	if task.Status == "" {
		task.Status = models.StatusPending
	}
	if task.Kind == "" {
		task.Kind = models.TaskKindManual
	}
	if task.ReviewStatus == "" {
		task.ReviewStatus = models.ReviewNone
	}
	now := s.now()
	task.CreatedAt, task.UpdatedAt = now, now
	s.tasks[task.ID] = copyTask(task)
	s.track(task.ID)
	return nil
}

func (s *MemoryStore) CreateSubtask(ctx context.Context, sub *models.Subtask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[sub.TaskID]; !ok {
		return apperr.NotFound("task", sub.TaskID)
	}
	sub.ID = newID(sub.ID)
	if sub.Status == "" {
		sub.Status = models.StatusPending
	}
	cp := *sub
	s.subtasks[sub.ID] = &cp
	s.track(sub.ID)
	return nil
}

func (s *MemoryStore) CreateChecklistItem(ctx context.Context, item *models.ChecklistItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[item.TaskID]; !ok {
		return apperr.NotFound("task", item.TaskID)
	}
	item.ID = newID(item.ID)
	cp := *item
	s.checklist[item.ID] = &cp
	s.track(item.ID)
	return nil
}

func (s *MemoryStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || !requestctx.Visible(ctx, t.TenantID) {
		return nil, apperr.NotFound("task", id)
	}
	return copyTask(t), nil
}

func (s *MemoryStore) ListWorkflowTasks(ctx context.Context, workflowID string) ([]*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[workflowID]
	if !ok || !requestctx.Visible(ctx, wf.TenantID) {
		return nil, apperr.NotFound("workflow", workflowID)
	}
	type keyed struct {
		task *models.Task
		key  [3]int
		seq  int
	}
	var rows []keyed
	for _, t := range s.tasks {
		if t.WorkflowID != workflowID {
			continue
		}
		step := s.steps[t.StepID]
		stage := s.stages[step.StageID]
		rows = append(rows, keyed{task: copyTask(t), key: [3]int{stage.Order, step.Order, t.Order}, seq: s.order[t.ID]})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].key != rows[j].key {
			a, b := rows[i].key, rows[j].key
			for k := range a {
				if a[k] != b[k] {
					return a[k] < b[k]
				}
			}
		}
		return rows[i].seq < rows[j].seq
	})
	out := make([]*models.Task, len(rows))
	for i, r := range rows {
		out[i] = r.task
	}
	return out, nil
}

func (s *MemoryStore) SetTaskField(ctx context.Context, taskID, field string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok || !requestctx.Visible(ctx, t.TenantID) {
		return apperr.NotFound("task", taskID)
	}
	if t.Fields == nil {
		t.Fields = make(map[string]any)
	}
	t.Fields[field] = value
	t.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) SetCompletedBy(ctx context.Context, taskID, actorID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok || !requestctx.Visible(ctx, t.TenantID) {
		return apperr.NotFound("task", taskID)
	}
	t.CompletedBy = actorID
	return nil
}

func (s *MemoryStore) GetNode(ctx context.Context, ref models.NodeRef) (*models.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.node(ref)
	if !ok || !requestctx.Visible(ctx, n.TenantID) {
		return nil, apperr.NotFound(string(ref.Type), ref.ID)
	}
	return &n, nil
}

func (s *MemoryStore) Ancestors(ctx context.Context, ref models.NodeRef) ([]models.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.node(ref)
	if !ok || !requestctx.Visible(ctx, n.TenantID) {
		return nil, apperr.NotFound(string(ref.Type), ref.ID)
	}
	var chain []models.Node
	for n.Parent != nil && n.Parent.Type != models.NodeWorkflow {
		parent, ok := s.node(*n.Parent)
		if !ok {
			return nil, apperr.NotFound(string(n.Parent.Type), n.Parent.ID)
		}
		chain = append(chain, parent)
		n = parent
	}
	return chain, nil
}

func (s *MemoryStore) GetChildren(ctx context.Context, parent models.NodeRef) ([]models.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.node(parent)
	if !ok || !requestctx.Visible(ctx, p.TenantID) {
		return nil, apperr.NotFound(string(parent.Type), parent.ID)
	}

	type child struct {
		node  models.Node
		order int
	}
	var kids []child
	add := func(ref models.NodeRef, order int) {
		n, _ := s.node(ref)
		kids = append(kids, child{node: n, order: order})
	}
	switch parent.Type {
	case models.NodeWorkflow:
		for id, st := range s.stages {
			if st.WorkflowID == parent.ID {
				add(models.NodeRef{Type: models.NodeStage, ID: id}, st.Order)
			}
		}
	case models.NodeStage:
		for id, st := range s.steps {
			if st.StageID == parent.ID {
				add(models.NodeRef{Type: models.NodeStep, ID: id}, st.Order)
			}
		}
	case models.NodeStep:
		for id, t := range s.tasks {
			if t.StepID == parent.ID {
				add(models.NodeRef{Type: models.NodeTask, ID: id}, t.Order)
			}
		}
	case models.NodeTask:
		for id, st := range s.subtasks {
			if st.TaskID == parent.ID {
				add(models.NodeRef{Type: models.NodeSubtask, ID: id}, st.Order)
			}
		}
		for id, it := range s.checklist {
			if it.TaskID == parent.ID {
				// checklist items sort after subtasks
				add(models.NodeRef{Type: models.NodeChecklistItem, ID: id}, it.Order+1<<20)
			}
		}
	}
	sort.Slice(kids, func(i, j int) bool {
		if kids[i].order != kids[j].order {
			return kids[i].order < kids[j].order
		}
		return s.order[kids[i].node.Ref.ID] < s.order[kids[j].node.Ref.ID]
	})
	out := make([]models.Node, len(kids))
	for i, k := range kids {
		out[i] = k.node
	}
	return out, nil
}

func (s *MemoryStore) TransitionStatus(ctx context.Context, ref models.NodeRef, to models.Status, from ...models.Status) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.node(ref)
	if !ok || !requestctx.Visible(ctx, n.TenantID) {
		return false, apperr.NotFound(string(ref.Type), ref.ID)
	}
	if !statusMatches(n.Status, to, from) {
		return false, nil
	}

	now := s.now()
	var completedAt *time.Time
	if to == models.StatusCompleted {
		completedAt = &now
	}
	switch ref.Type {
	case models.NodeWorkflow:
		w := s.workflows[ref.ID]
		w.Status, w.CompletedAt, w.UpdatedAt = to, completedAt, now
	case models.NodeStage:
		st := s.stages[ref.ID]
		st.Status, st.CompletedAt = to, completedAt
	case models.NodeStep:
		st := s.steps[ref.ID]
		st.Status, st.CompletedAt = to, completedAt
	case models.NodeTask:
		t := s.tasks[ref.ID]
		t.Status, t.CompletedAt, t.UpdatedAt = to, completedAt, now
		if to != models.StatusCompleted {
			t.CompletedBy = ""
		}
	case models.NodeSubtask:
		st := s.subtasks[ref.ID]
		st.Status, st.CompletedAt = leafStatus(to), completedAt
	case models.NodeChecklistItem:
		it := s.checklist[ref.ID]
		it.Checked, it.CheckedAt = to == models.StatusCompleted, completedAt
	}
	return true, nil
}

func (s *MemoryStore) TransitionReview(ctx context.Context, taskID string, from, to models.ReviewStatus, actorID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok || !requestctx.Visible(ctx, t.TenantID) {
		return false, apperr.NotFound("task", taskID)
	}
	if t.ReviewStatus != from {
		return false, nil
	}
	t.ReviewStatus = to
	if to == models.ReviewApproved || to == models.ReviewRejected {
		t.ReviewedBy = actorID
	}
	t.UpdatedAt = s.now()
	return true, nil
}

func (s *MemoryStore) ListDependencies(ctx context.Context, workflowID string) ([]models.TaskDependency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	wf, ok := s.workflows[workflowID]
	if !ok || !requestctx.Visible(ctx, wf.TenantID) {
		return nil, apperr.NotFound("workflow", workflowID)
	}
	return append([]models.TaskDependency(nil), s.edges[workflowID]...), nil
}

func (s *MemoryStore) UpsertDependency(ctx context.Context, dep models.TaskDependency) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if wf, ok := s.workflows[dep.WorkflowID]; !ok || !requestctx.Visible(ctx, wf.TenantID) {
		return apperr.NotFound("workflow", dep.WorkflowID)
	}
	s.upsertEdge(dep)
	return nil
}

// upsertEdge replaces or appends dep. Callers hold s.mu.
func (s *MemoryStore) upsertEdge(dep models.TaskDependency) {
	edges := s.edges[dep.WorkflowID]
	for i, e := range edges {
		if e.FromTaskID == dep.FromTaskID && e.ToTaskID == dep.ToTaskID {
			edges[i] = dep
			return
		}
	}
	s.edges[dep.WorkflowID] = append(edges, dep)
}

// UpsertDependencyIf runs check and the write under the store lock.
func (s *MemoryStore) UpsertDependencyIf(ctx context.Context, dep models.TaskDependency, check func([]models.TaskDependency) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if wf, ok := s.workflows[dep.WorkflowID]; !ok || !requestctx.Visible(ctx, wf.TenantID) {
		return apperr.NotFound("workflow", dep.WorkflowID)
	}
	if err := check(append([]models.TaskDependency(nil), s.edges[dep.WorkflowID]...)); err != nil {
		return err
	}
	s.upsertEdge(dep)
	return nil
}

func (s *MemoryStore) RemoveDependency(ctx context.Context, workflowID, fromTaskID, toTaskID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if wf, ok := s.workflows[workflowID]; !ok || !requestctx.Visible(ctx, wf.TenantID) {
		return false, apperr.NotFound("workflow", workflowID)
	}
	edges := s.edges[workflowID]
	for i, e := range edges {
		if e.FromTaskID == fromTaskID && e.ToTaskID == toTaskID {
			s.edges[workflowID] = append(edges[:i:i], edges[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// node builds the uniform view of ref. Callers hold s.mu.
func (s *MemoryStore) node(ref models.NodeRef) (models.Node, bool) {
	switch ref.Type {
	case models.NodeWorkflow:
		w, ok := s.workflows[ref.ID]
		if !ok {
			return models.Node{}, false
		}
		return models.Node{Ref: ref, TenantID: w.TenantID, WorkflowID: w.ID, Status: w.Status}, true
	case models.NodeStage:
		st, ok := s.stages[ref.ID]
		if !ok {
			return models.Node{}, false
		}
		return models.Node{
			Ref:         ref,
			Parent:      &models.NodeRef{Type: models.NodeWorkflow, ID: st.WorkflowID},
			TenantID:    s.workflows[st.WorkflowID].TenantID,
			WorkflowID:  st.WorkflowID,
			Status:      st.Status,
			AutoAdvance: st.AutoAdvance,
			OnComplete:  st.OnComplete,
		}, true
	case models.NodeStep:
		st, ok := s.steps[ref.ID]
		if !ok {
			return models.Node{}, false
		}
		return models.Node{
			Ref:         ref,
			Parent:      &models.NodeRef{Type: models.NodeStage, ID: st.StageID},
			TenantID:    s.workflows[st.WorkflowID].TenantID,
			WorkflowID:  st.WorkflowID,
			Status:      st.Status,
			AutoAdvance: st.AutoAdvance,
			OnComplete:  st.OnComplete,
		}, true
	case models.NodeTask:
		t, ok := s.tasks[ref.ID]
		if !ok {
			return models.Node{}, false
		}
		return models.Node{
			Ref:            ref,
			Parent:         &models.NodeRef{Type: models.NodeStep, ID: t.StepID},
			TenantID:       t.TenantID,
			WorkflowID:     t.WorkflowID,
			Status:         t.Status,
			AutoAdvance:    t.AutoAdvance,
			ReviewRequired: t.ReviewRequired,
			ReviewStatus:   t.ReviewStatus,
		}, true
	case models.NodeSubtask:
		st, ok := s.subtasks[ref.ID]
		if !ok {
			return models.Node{}, false
		}
		t := s.tasks[st.TaskID]
		return models.Node{
			Ref:        ref,
			Parent:     &models.NodeRef{Type: models.NodeTask, ID: st.TaskID},
			TenantID:   t.TenantID,
			WorkflowID: t.WorkflowID,
			Status:     st.Status,
		}, true
	case models.NodeChecklistItem:
		it, ok := s.checklist[ref.ID]
		if !ok {
			return models.Node{}, false
		}
		t := s.tasks[it.TaskID]
		status := models.StatusPending
		if it.Checked {
			status = models.StatusCompleted
		}
		return models.Node{
			Ref:        ref,
			Parent:     &models.NodeRef{Type: models.NodeTask, ID: it.TaskID},
			TenantID:   t.TenantID,
			WorkflowID: t.WorkflowID,
			Status:     status,
		}, true
	}
	return models.Node{}, false
}

func statusMatches(current, to models.Status, from []models.Status) bool {
	if len(from) == 0 {
		return current != to
	}
	for _, f := range from {
		if current == f {
			return true
		}
	}
	return false
}

// leafStatus folds in_progress into pending; leaves only have two states.
func leafStatus(s models.Status) models.Status {
	if s == models.StatusCompleted {
		return s
	}
	return models.StatusPending
}

func copyTask(t *models.Task) *models.Task {
	cp := *t
	cp.Fields = maps.Clone(t.Fields)
	cp.AutomationActions = append([]models.ActionSpec(nil), t.AutomationActions...)
	return &cp
}
