package seed

import (
	"context"
	"fmt"

	"github.com/vithaluntold/accute1-sub000/internal/logging"
	"github.com/vithaluntold/accute1-sub000/internal/repository"
	"github.com/vithaluntold/accute1-sub000/pkg/models"
)

// Store is what seeding writes through.
type Store interface {
	repository.TemplateStore
	CreateTask(ctx context.Context, task *models.Task) error
}

// Engine adds dependency edges with cycle checking and validates actions.
type Engine interface {
	AddDependency(ctx context.Context, dep models.TaskDependency) (*models.TaskDependency, error)
	ValidateActions(specs []models.ActionSpec) error
}

// Result reports what Instantiate created.
type Result struct {
	Workflow     *models.Workflow
	TaskIDs      map[string]string
	Dependencies int
}

// Seeder instantiates templates.
type Seeder struct {
	store  Store
	engine Engine
	logger *logging.Logger
}

// NewSeeder creates a Seeder.
func NewSeeder(store Store, engine Engine, logger *logging.Logger) *Seeder {
	return &Seeder{store: store, engine: engine, logger: logger}
}

// Exists reports whether the caller's tenant already has a workflow named name.
func (s *Seeder) Exists(ctx context.Context, name string) (bool, error) {
	workflows, err := s.store.ListWorkflows(ctx)
	if err != nil {
		return false, err
	}
	for _, wf := range workflows {
		if wf.Name == name {
			return true, nil
		}
	}
	return false, nil
}

type plannedTask struct {
	key  string
	task *models.Task
	subs []string
	list []string
}

// Instantiate creates a workflow for tenantID from tpl. Every action spec is
// decoded and validated before the first row is written.
func (s *Seeder) Instantiate(ctx context.Context, tpl *Template, tenantID string) (*Result, error) {
	if err := tpl.Check(); err != nil {
		return nil, err
	}

	type plannedStep struct {
		step  *models.Step
		tasks []plannedTask
	}
	type plannedStage struct {
		stage *models.Stage
		steps []plannedStep
	}
	stages := make([]plannedStage, 0, len(tpl.Stages))
	for i, st := range tpl.Stages {
		onComplete, err := s.actions(st.OnComplete, "stage "+st.Name)
		if err != nil {
			return nil, err
		}
		ps := plannedStage{stage: &models.Stage{Name: st.Name, Order: i, AutoAdvance: boolOr(st.AutoAdvance, true), OnComplete: onComplete}}
		for j, sp := range st.Steps {
			onComplete, err := s.actions(sp.OnComplete, "step "+sp.Name)
			if err != nil {
				return nil, err
			}
			pstep := plannedStep{step: &models.Step{Name: sp.Name, Order: j, AutoAdvance: boolOr(sp.AutoAdvance, true), OnComplete: onComplete}}
			for k, tk := range sp.Tasks {
				automation, err := s.actions(tk.Automation, "task "+tk.Key)
				if err != nil {
					return nil, err
				}
				pstep.tasks = append(pstep.tasks, plannedTask{
					key: tk.Key,
					task: &models.Task{
						Name:              tk.Name,
						Order:             k,
						Kind:              models.TaskKind(tk.Kind),
						AutoAdvance:       boolOr(tk.AutoAdvance, true),
						ReviewRequired:    tk.ReviewRequired,
						EstimatedMinutes:  tk.EstimatedMinutes,
						Fields:            tk.Fields,
						AutomationActions: automation,
					},
					subs: tk.Subtasks,
					list: tk.Checklist,
				})
			}
			ps.steps = append(ps.steps, pstep)
		}
		stages = append(stages, ps)
	}

	wf := &models.Workflow{TenantID: tenantID, Name: tpl.Name}
	if err := s.store.CreateWorkflow(ctx, wf); err != nil {
		return nil, fmt.Errorf("create workflow %q: %w", tpl.Name, err)
	}
	res := &Result{Workflow: wf, TaskIDs: make(map[string]string)}

	for _, ps := range stages {
		ps.stage.WorkflowID = wf.ID
		if err := s.store.CreateStage(ctx, ps.stage); err != nil {
			return res, fmt.Errorf("create stage %q: %w", ps.stage.Name, err)
		}
		for _, pstep := range ps.steps {
			pstep.step.StageID = ps.stage.ID
			if err := s.store.CreateStep(ctx, pstep.step); err != nil {
				return res, fmt.Errorf("create step %q: %w", pstep.step.Name, err)
			}
			for _, pt := range pstep.tasks {
				if err := s.createTask(ctx, pstep.step.ID, pt); err != nil {
					return res, err
				}
				res.TaskIDs[pt.key] = pt.task.ID
			}
		}
	}

	for _, d := range tpl.Dependencies {
		_, err := s.engine.AddDependency(ctx, models.TaskDependency{
			WorkflowID: wf.ID,
			FromTaskID: res.TaskIDs[d.From],
			ToTaskID:   res.TaskIDs[d.To],
			Type:       models.DependencyType(d.Type),
			LagMinutes: d.LagMinutes,
		})
		if err != nil {
			return res, fmt.Errorf("dependency %s -> %s: %w", d.From, d.To, err)
		}
		res.Dependencies++
	}

	s.logger.Info("workflow seeded", "name", wf.Name, "workflow_id", wf.ID,
		"tasks", len(res.TaskIDs), "dependencies", res.Dependencies)
	return res, nil
}

func (s *Seeder) actions(raw []any, owner string) ([]models.ActionSpec, error) {
	specs, err := decodeActions(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", owner, err)
	}
	if err := s.engine.ValidateActions(specs); err != nil {
		return nil, fmt.Errorf("%s: %w", owner, err)
	}
	return specs, nil
}

func (s *Seeder) createTask(ctx context.Context, stepID string, pt plannedTask) error {
	pt.task.StepID = stepID
	if err := s.store.CreateTask(ctx, pt.task); err != nil {
		return fmt.Errorf("create task %q: %w", pt.key, err)
	}
	for i, name := range pt.subs {
		if err := s.store.CreateSubtask(ctx, &models.Subtask{TaskID: pt.task.ID, Name: name, Order: i}); err != nil {
			return fmt.Errorf("create subtask of %q: %w", pt.key, err)
		}
	}
	for i, label := range pt.list {
		if err := s.store.CreateChecklistItem(ctx, &models.ChecklistItem{TaskID: pt.task.ID, Label: label, Order: i}); err != nil {
			return fmt.Errorf("create checklist item of %q: %w", pt.key, err)
		}
	}
	return nil
}
