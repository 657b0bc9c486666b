package seed

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vithaluntold/accute1-sub000/internal/apperr"
	"github.com/vithaluntold/accute1-sub000/internal/automation"
	"github.com/vithaluntold/accute1-sub000/internal/capability"
	"github.com/vithaluntold/accute1-sub000/internal/logging"
	"github.com/vithaluntold/accute1-sub000/internal/repository"
	"github.com/vithaluntold/accute1-sub000/internal/requestctx"
	"github.com/vithaluntold/accute1-sub000/internal/services"
	"github.com/vithaluntold/accute1-sub000/pkg/models"
)

func newSeeder(t *testing.T) (*Seeder, *repository.MemoryStore, *services.Engine) {
	t.Helper()
	logger := logging.Discard()
	store := repository.NewMemoryStore()
	engine := services.NewEngine(store,
		automation.NewExecutor(capability.NewProvider(store, logger, capability.Options{}), logger),
		logger, services.Options{})
	return NewSeeder(store, engine, logger), store, engine
}

const small = `
name: Payroll run
stages:
  - name: Run
    steps:
      - name: Process
        tasks:
          - key: collect
            name: Collect timesheets
            estimated_minutes: 30
            subtasks: [Remind staff]
          - key: calculate
            name: Calculate pay
            estimated_minutes: 60
            checklist: [Overtime checked]
dependencies:
  - from: collect
    to: calculate
`

func TestParseRejectsBadTemplates(t *testing.T) {
	cases := map[string]string{
		"empty":         ``,
		"unknown key":   "name: x\nstagez: []\n",
		"no stages":     "name: x\nstages: []\n",
		"missing key":   "name: x\nstages:\n  - name: s\n    steps:\n      - name: p\n        tasks:\n          - name: t\n",
		"duplicate key": "name: x\nstages:\n  - name: s\n    steps:\n      - name: p\n        tasks:\n          - {key: a, name: t}\n          - {key: a, name: u}\n",
		"unknown dep":   "name: x\nstages:\n  - name: s\n    steps:\n      - name: p\n        tasks:\n          - {key: a, name: t}\ndependencies:\n  - {from: a, to: b}\n",
		"bad dep type":  "name: x\nstages:\n  - name: s\n    steps:\n      - name: p\n        tasks:\n          - {key: a, name: t}\n          - {key: b, name: u}\ndependencies:\n  - {from: a, to: b, type: before}\n",
		"cycle":         "name: x\nstages:\n  - name: s\n    steps:\n      - name: p\n        tasks:\n          - {key: a, name: t}\n          - {key: b, name: u}\ndependencies:\n  - {from: a, to: b}\n  - {from: b, to: a}\n",
		"self":          "name: x\nstages:\n  - name: s\n    steps:\n      - name: p\n        tasks:\n          - {key: a, name: t}\ndependencies:\n  - {from: a, to: a}\n",
	}
	for name, src := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(src))
			require.Error(t, err)
			assert.True(t, apperr.IsValidation(err), err.Error())
		})
	}
}

func TestBuiltinTemplatesParse(t *testing.T) {
	tpls, err := Builtin()
	require.NoError(t, err)
	require.Len(t, tpls, 2)
	assert.Equal(t, "Year-end audit", tpls[0].Name)
	assert.Equal(t, "Individual tax return", tpls[1].Name)
}

func TestInstantiateBuildsHierarchy(t *testing.T) {
	ctx := requestctx.WithTenant(context.Background(), "tenant-a")
	s, store, engine := newSeeder(t)
	tpl, err := Parse(strings.NewReader(small))
	require.NoError(t, err)

	res, err := s.Instantiate(ctx, tpl, "tenant-a")
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", res.Workflow.TenantID)
	assert.Len(t, res.TaskIDs, 2)
	assert.Equal(t, 1, res.Dependencies)

	collect, err := store.GetTask(ctx, res.TaskIDs["collect"])
	require.NoError(t, err)
	assert.True(t, collect.AutoAdvance)
	kids, err := store.GetChildren(ctx, models.NodeRef{Type: models.NodeTask, ID: collect.ID})
	require.NoError(t, err)
	assert.Len(t, kids, 1)

	cp, err := engine.ComputeCriticalPath(ctx, res.Workflow.ID)
	require.NoError(t, err)
	assert.Equal(t, 90, cp.ProjectDuration)

	exists, err := s.Exists(ctx, "Payroll run")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = s.Exists(requestctx.WithTenant(context.Background(), "tenant-b"), "Payroll run")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestInstantiateBuiltinTemplates(t *testing.T) {
	ctx := requestctx.WithTenant(context.Background(), "tenant-a")
	s, store, _ := newSeeder(t)
	tpls, err := Builtin()
	require.NoError(t, err)

	for _, tpl := range tpls {
		res, err := s.Instantiate(ctx, tpl, "tenant-a")
		require.NoError(t, err, tpl.Name)
		assert.Equal(t, len(tpl.Dependencies), res.Dependencies)
	}

	res, err := store.ListWorkflows(ctx)
	require.NoError(t, err)
	assert.Len(t, res, 2)
}

func TestInstantiateRejectsInvalidActionsBeforeWriting(t *testing.T) {
	ctx := requestctx.WithTenant(context.Background(), "tenant-a")
	s, store, _ := newSeeder(t)
	tpl, err := Parse(strings.NewReader(`
name: Broken
stages:
  - name: s
    steps:
      - name: p
        tasks:
          - key: a
            name: t
            automation:
              - actions:
                  - type: notify
                    params: {target: ops}
`))
	require.NoError(t, err)

	_, err = s.Instantiate(ctx, tpl, "tenant-a")
	require.Error(t, err)
	assert.True(t, apperr.IsValidation(err))

	wfs, err := store.ListWorkflows(ctx)
	require.NoError(t, err)
	assert.Empty(t, wfs)
}
