package dependency

import (
	"math"

	"github.com/vithaluntold/accute1-sub000/internal/apperr"
	"github.com/vithaluntold/accute1-sub000/pkg/models"
)

// Anchor selects the latest finish of tasks with no successors.
type Anchor string

const (
	// AnchorSink pins each sink to its own earliest finish.
	AnchorSink Anchor = "sink"
	// AnchorProject pins every sink to the project's latest earliest finish.
	AnchorProject Anchor = "project"
)

// DefaultDurationMinutes is one working day, used for tasks without an estimate.
const DefaultDurationMinutes = 24 * 60

// Options tune the critical-path computation.
type Options struct {
	DefaultDuration int
	Anchor          Anchor
}

func (o Options) duration(t *models.Task) int {
	if t.EstimatedMinutes != nil {
		return max(*t.EstimatedMinutes, 0)
	}
	if o.DefaultDuration > 0 {
		return o.DefaultDuration
	}
	return DefaultDurationMinutes
}

// CriticalPath runs the forward and backward passes over tasks and edges.
// Tasks are reported in input order. A cyclic edge set is a ValidationError
// carrying the cycle task ids.
func CriticalPath(workflowID string, tasks []*models.Task, edges []models.TaskDependency, opts Options) (*models.CriticalPath, error) {
	ids := make([]string, len(tasks))
	byID := make(map[string]*models.Task, len(tasks))
	for i, t := range tasks {
		ids[i] = t.ID
		byID[t.ID] = t
	}
	g := NewGraph(ids, edges)

	order, ok := g.TopologicalOrder()
	if !ok {
		var cycleIDs []string
		for _, comp := range g.Cycles() {
			cycleIDs = append(cycleIDs, comp...)
		}
		return nil, apperr.Validation("workflow %s has cyclic dependencies", workflowID).
			WithDetail("cycle_task_ids", cycleIDs)
	}

	dur := make(map[string]int, len(ids))
	es := make(map[string]int, len(ids))
	ef := make(map[string]int, len(ids))
	for _, id := range order {
		d := opts.duration(byID[id])
		dur[id] = d
		start := 0
		for _, e := range g.Predecessors(id) {
			p := e.FromTaskID
			switch e.Type {
			case models.StartToStart:
				start = max(start, es[p]+e.LagMinutes)
			case models.FinishToFinish:
				start = max(start, ef[p]+e.LagMinutes-d)
			case models.StartToFinish:
				start = max(start, es[p]+e.LagMinutes-d)
			default:
				start = max(start, ef[p]+e.LagMinutes)
			}
		}
		es[id] = start
		ef[id] = start + d
	}

	project := 0
	for _, id := range order {
		project = max(project, ef[id])
	}

	ls := make(map[string]int, len(ids))
	lf := make(map[string]int, len(ids))
	for i := len(order) - 1; i >= 0; i-- {
		id := order[i]
		d := dur[id]
		succs := g.Successors(id)
		if len(succs) == 0 {
			if opts.Anchor == AnchorProject {
				lf[id] = project
			} else {
				lf[id] = ef[id]
			}
			ls[id] = lf[id] - d
			continue
		}
		finish := math.MaxInt
		for _, e := range succs {
			s := e.ToTaskID
			switch e.Type {
			case models.StartToStart:
				finish = min(finish, ls[s]-e.LagMinutes+d)
			case models.FinishToFinish:
				finish = min(finish, lf[s]-e.LagMinutes)
			case models.StartToFinish:
				finish = min(finish, lf[s]-e.LagMinutes+d)
			default:
				finish = min(finish, ls[s]-e.LagMinutes)
			}
		}
		if opts.Anchor == AnchorProject {
			finish = min(finish, project)
		}
		lf[id] = finish
		ls[id] = finish - d
	}

	result := &models.CriticalPath{
		WorkflowID:      workflowID,
		ProjectDuration: project,
		Tasks:           make([]models.TaskSchedule, 0, len(ids)),
		CriticalTaskIDs: []string{},
	}
	for _, id := range ids {
		slack := ls[id] - es[id]
		ts := models.TaskSchedule{
			TaskID:         id,
			Name:           byID[id].Name,
			Duration:       dur[id],
			EarliestStart:  es[id],
			EarliestFinish: ef[id],
			LatestStart:    ls[id],
			LatestFinish:   lf[id],
			Slack:          slack,
			Critical:       slack == 0,
		}
		result.Tasks = append(result.Tasks, ts)
		if ts.Critical {
			result.CriticalTaskIDs = append(result.CriticalTaskIDs, id)
		}
	}
	return result, nil
}

// Validate checks the whole edge set: every cycle and every edge pointing
// outside taskIDs.
func Validate(taskIDs []string, edges []models.TaskDependency) models.DependencyValidation {
	g := NewGraph(taskIDs, edges)
	v := models.DependencyValidation{DanglingEdges: g.Dangling()}
	for _, comp := range g.Cycles() {
		v.CycleTaskIDs = append(v.CycleTaskIDs, comp...)
	}
	v.Valid = len(v.CycleTaskIDs) == 0 && len(v.DanglingEdges) == 0
	return v
}
