package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vithaluntold/accute1-sub000/internal/apperr"
	"github.com/vithaluntold/accute1-sub000/internal/requestctx"
	"github.com/vithaluntold/accute1-sub000/pkg/models"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresStore is the PostgreSQL implementation of Repository. Every status
// change is a single conditional UPDATE, so concurrent cascades racing on the
// same row see exactly one writer.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)
	for _, name := range names {
		body, err := migrations.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := s.db.Exec(ctx, string(body)); err != nil {
			return fmt.Errorf("apply %s: %w", name, err)
		}
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *PostgresStore) GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	var t models.Tenant
	err := s.db.QueryRow(ctx,
		"SELECT id, name, domain, created_at, updated_at FROM tenants WHERE domain = $1", domain).
		Scan(&t.ID, &t.Name, &t.Domain, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, notFound(err, "tenant", domain)
	}
	return &t, nil
}

func (s *PostgresStore) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	tenant.ID = newID(tenant.ID)
	return s.db.QueryRow(ctx,
		"INSERT INTO tenants (id, name, domain) VALUES ($1, $2, $3) RETURNING created_at, updated_at",
		tenant.ID, tenant.Name, tenant.Domain).
		Scan(&tenant.CreatedAt, &tenant.UpdatedAt)
}

func (s *PostgresStore) CreateWorkflow(ctx context.Context, wf *models.Workflow) error {
	wf.ID = newID(wf.ID)
	if wf.TenantID == "" {
		wf.TenantID = requestctx.TenantID(ctx)
	}
	if wf.Status == "" {
		wf.Status = models.StatusPending
	}
	return s.db.QueryRow(ctx,
		"INSERT INTO workflows (id, tenant_id, name, status) VALUES ($1, $2, $3, $4) RETURNING created_at, updated_at",
		wf.ID, wf.TenantID, wf.Name, string(wf.Status)).
		Scan(&wf.CreatedAt, &wf.UpdatedAt)
}

const workflowColumns = "id, tenant_id, name, status, created_at, updated_at, completed_at"

func scanWorkflow(row pgx.Row) (*models.Workflow, error) {
	var wf models.Workflow
	var status string
	if err := row.Scan(&wf.ID, &wf.TenantID, &wf.Name, &status, &wf.CreatedAt, &wf.UpdatedAt, &wf.CompletedAt); err != nil {
		return nil, err
	}
	wf.Status = models.Status(status)
	return &wf, nil
}

func (s *PostgresStore) GetWorkflow(ctx context.Context, id string) (*models.Workflow, error) {
	wf, err := scanWorkflow(s.db.QueryRow(ctx,
		"SELECT "+workflowColumns+" FROM workflows WHERE id = $1 AND ($2 = '' OR tenant_id = $2)",
		id, requestctx.TenantID(ctx)))
	if err != nil {
		return nil, notFound(err, "workflow", id)
	}
	return wf, nil
}

func (s *PostgresStore) ListWorkflows(ctx context.Context) ([]*models.Workflow, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+workflowColumns+" FROM workflows WHERE ($1 = '' OR tenant_id = $1) ORDER BY created_at, id",
		requestctx.TenantID(ctx))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateStage(ctx context.Context, stage *models.Stage) error {
	stage.ID = newID(stage.ID)
	if stage.Status == "" {
		stage.Status = models.StatusPending
	}
	onComplete, err := encodeJSON(stage.OnComplete)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx,
		"INSERT INTO stages (id, workflow_id, name, sort_order, auto_advance, status, on_complete) VALUES ($1, $2, $3, $4, $5, $6, $7::jsonb)",
		stage.ID, stage.WorkflowID, stage.Name, stage.Order, stage.AutoAdvance, string(stage.Status), onComplete)
	return foreignKey(err, "workflow", stage.WorkflowID)
}

func (s *PostgresStore) CreateStep(ctx context.Context, step *models.Step) error {
	step.ID = newID(step.ID)
	if step.Status == "" {
		step.Status = models.StatusPending
	}
	onComplete, err := encodeJSON(step.OnComplete)
	if err != nil {
		return err
	}
	err = s.db.QueryRow(ctx,
		`INSERT INTO steps (id, stage_id, workflow_id, name, sort_order, auto_advance, status, on_complete)
		 SELECT $1, sg.id, sg.workflow_id, $3::text, $4::int, $5::bool, $6::text, $7::jsonb FROM stages sg WHERE sg.id = $2
		 RETURNING workflow_id`,
		step.ID, step.StageID, step.Name, step.Order, step.AutoAdvance, string(step.Status), onComplete).
		Scan(&step.WorkflowID)
	return notFound(err, "stage", step.StageID)
}

func (s *PostgresStore) GetStep(ctx context.Context, id string) (*models.Step, error) {
	var st models.Step
	var status string
	var onComplete []byte
	err := s.db.QueryRow(ctx,
		`SELECT st.id, st.stage_id, st.workflow_id, st.name, st.sort_order, st.auto_advance, st.status, st.on_complete, st.completed_at
		   FROM steps st JOIN workflows w ON w.id = st.workflow_id
		  WHERE st.id = $1 AND ($2 = '' OR w.tenant_id = $2)`,
		id, requestctx.TenantID(ctx)).
		Scan(&st.ID, &st.StageID, &st.WorkflowID, &st.Name, &st.Order, &st.AutoAdvance, &status, &onComplete, &st.CompletedAt)
	if err != nil {
		return nil, notFound(err, "step", id)
	}
	st.Status = models.Status(status)
	if err := decodeJSON(onComplete, &st.OnComplete); err != nil {
		return nil, err
	}
	return &st, nil
}

func (s *PostgresStore) CreateTask(ctx context.Context, task *models.Task) error {
	err := s.db.QueryRow(ctx,
		`SELECT st.workflow_id, w.tenant_id FROM steps st JOIN workflows w ON w.id = st.workflow_id
		  WHERE st.id = $1 AND ($2 = '' OR w.tenant_id = $2)`,
		task.StepID, requestctx.TenantID(ctx)).Scan(&task.WorkflowID, &task.TenantID)
	if err != nil {
		return notFound(err, "step", task.StepID)
	}

	task.ID = newID(task.ID)
	if task.Status == "" {
		task.Status = models.StatusPending
	}
	if task.Kind == "" {
		task.Kind = models.TaskKindManual
	}
	if task.ReviewStatus == "" {
		task.ReviewStatus = models.ReviewNone
	}
	actions, err := encodeJSON(task.AutomationActions)
	if err != nil {
		return err
	}
	fields, err := encodeJSON(task.Fields)
	if err != nil {
		return err
	}
	return s.db.QueryRow(ctx,
		`INSERT INTO tasks (id, step_id, workflow_id, name, sort_order, kind, status, auto_advance,
		                    automation_actions, review_required, review_status, estimated_minutes, fields)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::jsonb, $10, $11, $12, $13::jsonb)
		 RETURNING created_at, updated_at`,
		task.ID, task.StepID, task.WorkflowID, task.Name, task.Order, string(task.Kind), string(task.Status),
		task.AutoAdvance, actions, task.ReviewRequired, string(task.ReviewStatus), task.EstimatedMinutes, fields).
		Scan(&task.CreatedAt, &task.UpdatedAt)
}

func (s *PostgresStore) CreateSubtask(ctx context.Context, sub *models.Subtask) error {
	sub.ID = newID(sub.ID)
	if sub.Status == "" {
		sub.Status = models.StatusPending
	}
	_, err := s.db.Exec(ctx,
		"INSERT INTO subtasks (id, task_id, name, sort_order, status) VALUES ($1, $2, $3, $4, $5)",
		sub.ID, sub.TaskID, sub.Name, sub.Order, string(sub.Status))
	return foreignKey(err, "task", sub.TaskID)
}

func (s *PostgresStore) CreateChecklistItem(ctx context.Context, item *models.ChecklistItem) error {
	item.ID = newID(item.ID)
	_, err := s.db.Exec(ctx,
		"INSERT INTO checklist_items (id, task_id, label, sort_order, checked) VALUES ($1, $2, $3, $4, $5)",
		item.ID, item.TaskID, item.Label, item.Order, item.Checked)
	return foreignKey(err, "task", item.TaskID)
}

const taskColumns = `t.id, t.step_id, t.workflow_id, w.tenant_id, t.name, t.sort_order, t.kind, t.status,
	t.auto_advance, t.automation_actions, t.review_required, t.review_status, t.reviewed_by,
	t.estimated_minutes, t.fields, t.completed_by, t.completed_at, t.created_at, t.updated_at`

func scanTask(row pgx.Row) (*models.Task, error) {
	var t models.Task
	var kind, status, review string
	var actions, fields []byte
	err := row.Scan(&t.ID, &t.StepID, &t.WorkflowID, &t.TenantID, &t.Name, &t.Order, &kind, &status,
		&t.AutoAdvance, &actions, &t.ReviewRequired, &review, &t.ReviewedBy,
		&t.EstimatedMinutes, &fields, &t.CompletedBy, &t.CompletedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Kind, t.Status, t.ReviewStatus = models.TaskKind(kind), models.Status(status), models.ReviewStatus(review)
	if err := decodeJSON(actions, &t.AutomationActions); err != nil {
		return nil, fmt.Errorf("task %s automation actions: %w", t.ID, err)
	}
	if err := decodeJSON(fields, &t.Fields); err != nil {
		return nil, fmt.Errorf("task %s fields: %w", t.ID, err)
	}
	return &t, nil
}

func (s *PostgresStore) GetTask(ctx context.Context, id string) (*models.Task, error) {
	t, err := scanTask(s.db.QueryRow(ctx,
		"SELECT "+taskColumns+" FROM tasks t JOIN workflows w ON w.id = t.workflow_id WHERE t.id = $1 AND ($2 = '' OR w.tenant_id = $2)",
		id, requestctx.TenantID(ctx)))
	if err != nil {
		return nil, notFound(err, "task", id)
	}
	return t, nil
}

func (s *PostgresStore) ListWorkflowTasks(ctx context.Context, workflowID string) ([]*models.Task, error) {
	if _, err := s.GetWorkflow(ctx, workflowID); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+taskColumns+`
		   FROM tasks t
		   JOIN steps st ON st.id = t.step_id
		   JOIN stages sg ON sg.id = st.stage_id
		   JOIN workflows w ON w.id = t.workflow_id
		  WHERE t.workflow_id = $1
		  ORDER BY sg.sort_order, st.sort_order, t.sort_order, t.created_at, t.id`,
		workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetTaskField(ctx context.Context, taskID, field string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return apperr.Validation("field %s: value is not JSON encodable: %v", field, err)
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE tasks t SET fields = COALESCE(t.fields, '{}'::jsonb) || jsonb_build_object($2::text, $3::jsonb), updated_at = now()
		   FROM workflows w
		  WHERE t.id = $1 AND w.id = t.workflow_id AND ($4 = '' OR w.tenant_id = $4)`,
		taskID, field, raw, requestctx.TenantID(ctx))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("task", taskID)
	}
	return nil
}

func (s *PostgresStore) SetCompletedBy(ctx context.Context, taskID, actorID string) error {
	tag, err := s.db.Exec(ctx,
		`UPDATE tasks t SET completed_by = $2
		   FROM workflows w
		  WHERE t.id = $1 AND w.id = t.workflow_id AND ($3 = '' OR w.tenant_id = $3)`,
		taskID, actorID, requestctx.TenantID(ctx))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("task", taskID)
	}
	return nil
}

const nodeColumns = "node_type, id, parent_type, parent_id, workflow_id, tenant_id, status, auto_advance, review_required, review_status, on_complete"

func scanNode(row pgx.Row) (models.Node, error) {
	var n models.Node
	var nodeType, status, review string
	var parentType, parentID *string
	var onComplete []byte
	err := row.Scan(&nodeType, &n.Ref.ID, &parentType, &parentID, &n.WorkflowID, &n.TenantID,
		&status, &n.AutoAdvance, &n.ReviewRequired, &review, &onComplete)
	if err != nil {
		return n, err
	}
	n.Ref.Type, n.Status = models.NodeType(nodeType), models.Status(status)
	if n.Ref.Type == models.NodeTask {
		n.ReviewStatus = models.ReviewStatus(review)
	}
	if parentType != nil && parentID != nil {
		n.Parent = &models.NodeRef{Type: models.NodeType(*parentType), ID: *parentID}
	}
	if err := decodeJSON(onComplete, &n.OnComplete); err != nil {
		return n, fmt.Errorf("%s on_complete: %w", n.Ref, err)
	}
	return n, nil
}

func (s *PostgresStore) GetNode(ctx context.Context, ref models.NodeRef) (*models.Node, error) {
	n, err := scanNode(s.db.QueryRow(ctx,
		"SELECT "+nodeColumns+" FROM hierarchy_nodes WHERE node_type = $1 AND id = $2 AND ($3 = '' OR tenant_id = $3)",
		string(ref.Type), ref.ID, requestctx.TenantID(ctx)))
	if err != nil {
		return nil, notFound(err, string(ref.Type), ref.ID)
	}
	return &n, nil
}

// Ancestors walks the parent chain in one recursive query.
func (s *PostgresStore) Ancestors(ctx context.Context, ref models.NodeRef) ([]models.Node, error) {
	if _, err := s.GetNode(ctx, ref); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx,
		`WITH RECURSIVE chain AS (
		     SELECT p.node_type, p.id, p.parent_type, p.parent_id, 0 AS depth
		       FROM hierarchy_nodes c
		       JOIN hierarchy_nodes p ON p.node_type = c.parent_type AND p.id = c.parent_id
		      WHERE c.node_type = $1 AND c.id = $2
		     UNION ALL
		     SELECT p.node_type, p.id, p.parent_type, p.parent_id, chain.depth + 1
		       FROM chain
		       JOIN hierarchy_nodes p ON p.node_type = chain.parent_type AND p.id = chain.parent_id
		 )
		 SELECT `+prefixed("n", nodeColumns)+`
		   FROM chain JOIN hierarchy_nodes n ON n.node_type = chain.node_type AND n.id = chain.id
		  WHERE n.node_type <> 'workflow'
		  ORDER BY chain.depth`,
		string(ref.Type), ref.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chain []models.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		chain = append(chain, n)
	}
	return chain, rows.Err()
}

func (s *PostgresStore) GetChildren(ctx context.Context, parent models.NodeRef) ([]models.Node, error) {
	if _, err := s.GetNode(ctx, parent); err != nil {
		return nil, err
	}
	rows, err := s.db.Query(ctx,
		"SELECT "+nodeColumns+" FROM hierarchy_nodes WHERE parent_type = $1 AND parent_id = $2 ORDER BY sort_order, id",
		string(parent.Type), parent.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

var statusTables = map[models.NodeType]string{
	models.NodeWorkflow: "workflows",
	models.NodeStage:    "stages",
	models.NodeStep:     "steps",
	models.NodeTask:     "tasks",
	models.NodeSubtask:  "subtasks",
}

func (s *PostgresStore) TransitionStatus(ctx context.Context, ref models.NodeRef, to models.Status, from ...models.Status) (bool, error) {
	table, ok := statusTables[ref.Type]
	if !ok && ref.Type != models.NodeChecklistItem {
		return false, apperr.Validation("unknown node type %q", ref.Type)
	}
	if err := s.visible(ctx, ref); err != nil {
		return false, err
	}
	if ref.Type == models.NodeChecklistItem {
		return s.transitionChecklist(ctx, ref.ID, to, from)
	}
	target := to
	if ref.Type == models.NodeSubtask {
		target = leafStatus(to)
	}

	set := "status = $2::text, completed_at = CASE WHEN $2::text = 'completed' THEN now() END"
	switch ref.Type {
	case models.NodeTask:
		set += ", completed_by = CASE WHEN $2::text = 'completed' THEN completed_by ELSE '' END, updated_at = now()"
	case models.NodeWorkflow:
		set += ", updated_at = now()"
	}
	query := "UPDATE " + table + " SET " + set + " WHERE id = $1"
	args := []any{ref.ID, string(target)}
	if len(from) == 0 {
		query += " AND status <> $2::text"
	} else {
		query += " AND status = ANY($3::text[])"
		args = append(args, statusStrings(from))
	}

	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) transitionChecklist(ctx context.Context, id string, to models.Status, from []models.Status) (bool, error) {
	checked := to == models.StatusCompleted
	query := "UPDATE checklist_items SET checked = $2, checked_at = CASE WHEN $2 THEN now() END WHERE id = $1"
	args := []any{id, checked}
	if len(from) == 0 {
		query += " AND checked <> $2"
	} else {
		allowed := make([]bool, 0, len(from))
		for _, f := range from {
			allowed = append(allowed, f == models.StatusCompleted)
		}
		query += " AND checked = ANY($3::bool[])"
		args = append(args, allowed)
	}
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) TransitionReview(ctx context.Context, taskID string, from, to models.ReviewStatus, actorID string) (bool, error) {
	if err := s.visible(ctx, models.NodeRef{Type: models.NodeTask, ID: taskID}); err != nil {
		return false, err
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE tasks SET review_status = $3,
		        reviewed_by = CASE WHEN $3 IN ('approved', 'rejected') THEN $4 ELSE reviewed_by END,
		        updated_at = now()
		  WHERE id = $1 AND review_status = $2`,
		taskID, string(from), string(to), actorID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// querier is satisfied by the pool and by a transaction.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func (s *PostgresStore) ListDependencies(ctx context.Context, workflowID string) ([]models.TaskDependency, error) {
	if _, err := s.GetWorkflow(ctx, workflowID); err != nil {
		return nil, err
	}
	return listDependencies(ctx, s.db, workflowID)
}

func listDependencies(ctx context.Context, q querier, workflowID string) ([]models.TaskDependency, error) {
	rows, err := q.Query(ctx,
		"SELECT workflow_id, from_task_id, to_task_id, type, lag_minutes FROM task_dependencies WHERE workflow_id = $1 ORDER BY from_task_id, to_task_id",
		workflowID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.TaskDependency
	for rows.Next() {
		var d models.TaskDependency
		var typ string
		if err := rows.Scan(&d.WorkflowID, &d.FromTaskID, &d.ToTaskID, &typ, &d.LagMinutes); err != nil {
			return nil, err
		}
		d.Type = models.DependencyType(typ)
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertDependency(ctx context.Context, dep models.TaskDependency) error {
	if _, err := s.GetWorkflow(ctx, dep.WorkflowID); err != nil {
		return err
	}
	return upsertDependency(ctx, s.db, dep)
}

// UpsertDependencyIf holds a transaction-scoped advisory lock keyed on the
// workflow id while it reads the edges, runs check and writes dep.
func (s *PostgresStore) UpsertDependencyIf(ctx context.Context, dep models.TaskDependency, check func([]models.TaskDependency) error) error {
	if _, err := s.GetWorkflow(ctx, dep.WorkflowID); err != nil {
		return err
	}
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext('task_dependencies:' || $1))", dep.WorkflowID); err != nil {
		return fmt.Errorf("lock dependencies of %s: %w", dep.WorkflowID, err)
	}
	edges, err := listDependencies(ctx, tx, dep.WorkflowID)
	if err != nil {
		return err
	}
	if err := check(edges); err != nil {
		return err
	}
	if err := upsertDependency(ctx, tx, dep); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func upsertDependency(ctx context.Context, q querier, dep models.TaskDependency) error {
	_, err := q.Exec(ctx,
		`INSERT INTO task_dependencies (workflow_id, from_task_id, to_task_id, type, lag_minutes)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (from_task_id, to_task_id) DO UPDATE SET type = EXCLUDED.type, lag_minutes = EXCLUDED.lag_minutes`,
		dep.WorkflowID, dep.FromTaskID, dep.ToTaskID, string(dep.Type), dep.LagMinutes)
	return foreignKey(err, "workflow", dep.WorkflowID)
}

func (s *PostgresStore) RemoveDependency(ctx context.Context, workflowID, fromTaskID, toTaskID string) (bool, error) {
	if _, err := s.GetWorkflow(ctx, workflowID); err != nil {
		return false, err
	}
	tag, err := s.db.Exec(ctx,
		"DELETE FROM task_dependencies WHERE workflow_id = $1 AND from_task_id = $2 AND to_task_id = $3",
		workflowID, fromTaskID, toTaskID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// visible returns NotFound unless ref exists in the caller's tenant. A
// node's tenant never changes, so checking ahead of the write is enough.
func (s *PostgresStore) visible(ctx context.Context, ref models.NodeRef) error {
	var one int
	err := s.db.QueryRow(ctx,
		"SELECT 1 FROM hierarchy_nodes WHERE node_type = $1 AND id = $2 AND ($3 = '' OR tenant_id = $3)",
		string(ref.Type), ref.ID, requestctx.TenantID(ctx)).Scan(&one)
	return notFound(err, string(ref.Type), ref.ID)
}

func notFound(err error, kind, id string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(kind, id)
	}
	return err
}

// foreignKey maps a foreign key violation (SQLSTATE 23503) to NotFound.
func foreignKey(err error, kind, id string) error {
	var coded interface{ SQLState() string }
	if errors.As(err, &coded) && coded.SQLState() == "23503" {
		return apperr.NotFound(kind, id)
	}
	return err
}

func encodeJSON[T any](v T) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(raw) == "null" {
		return nil, nil
	}
	return raw, nil
}

func decodeJSON(raw []byte, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}

func statusStrings(in []models.Status) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = string(s)
	}
	return out
}

func prefixed(alias, columns string) string {
	cols := strings.Split(columns, ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}
