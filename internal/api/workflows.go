// Package api exposes the workflow engine over REST.
package api

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/vithaluntold/accute1-sub000/internal/apperr"
	"github.com/vithaluntold/accute1-sub000/internal/requestctx"
	"github.com/vithaluntold/accute1-sub000/internal/services"
	"github.com/vithaluntold/accute1-sub000/pkg/models"
)

// Server holds the dependencies for the API server.
type Server struct {
	Engine *services.Engine
}

// NewServer creates a new Server.
func NewServer(engine *services.Engine) *Server {
	return &Server{Engine: engine}
}

// Register mounts the engine routes on g.
func (s *Server) Register(g *echo.Group) {
	g.GET("/workflows", s.ListWorkflows)
	g.POST("/workflows/:id/complete", s.CompleteWorkflow)
	g.POST("/workflows/:id/dependencies", s.AddDependency)
	g.DELETE("/workflows/:id/dependencies/:from/:to", s.RemoveDependency)
	g.GET("/workflows/:id/dependencies/validate", s.ValidateDependencies)
	g.GET("/workflows/:id/critical-path", s.CriticalPath)

	g.POST("/stages/:id/complete", s.completeContainer(models.NodeStage))
	g.POST("/steps/:id/complete", s.completeContainer(models.NodeStep))

	g.GET("/tasks/:id", s.GetTask)
	g.POST("/tasks/:id/complete", s.CompleteTask)
	g.POST("/tasks/:id/reopen", s.ReopenTask)
	g.POST("/tasks/:id/automation", s.RunAutomation)
	g.POST("/tasks/:id/approve", s.ApproveReview)
	g.POST("/tasks/:id/reject", s.RejectReview)
	g.GET("/tasks/:id/dependencies", s.ListDependencies)

	g.POST("/subtasks/:id/complete", s.completeLeaf(models.NodeSubtask))
	g.POST("/subtasks/:id/reopen", s.reopenLeaf(models.NodeSubtask))
	g.POST("/checklist-items/:id/check", s.completeLeaf(models.NodeChecklistItem))
	g.POST("/checklist-items/:id/uncheck", s.reopenLeaf(models.NodeChecklistItem))

	g.POST("/cascade/:type/:id/resume", s.ResumeCascade)
}

// requestValidator plugs validator/v10 into echo's Context.Validate.
type requestValidator struct {
	v *validator.Validate
}

// NewValidator returns the echo validator used for request bodies.
func NewValidator() echo.Validator {
	return &requestValidator{v: validator.New()}
}

func (rv *requestValidator) Validate(i any) error {
	if err := rv.v.Struct(i); err != nil {
		return apperr.Validation("%v", err)
	}
	return nil
}

func bindAndValidate(c echo.Context, dst any) error {
	if err := c.Bind(dst); err != nil {
		return apperr.Validation("invalid request body: %v", err)
	}
	return c.Validate(dst)
}

func actor(c echo.Context) string {
	return requestctx.ActorID(c.Request().Context())
}

// ListWorkflows returns the workflows of the caller's tenant
// (GET /api/v1/workflows)
func (s *Server) ListWorkflows(c echo.Context) error {
	workflows, err := s.Engine.ListWorkflows(c.Request().Context())
	if err != nil {
		return err
	}
	if workflows == nil {
		workflows = []*models.Workflow{}
	}
	return c.JSON(http.StatusOK, workflows)
}

// GetTask returns one task
// (GET /api/v1/tasks/:id)
func (s *Server) GetTask(c echo.Context) error {
	task, err := s.Engine.GetTask(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, task)
}

func (s *Server) completeLeaf(typ models.NodeType) echo.HandlerFunc {
	return func(c echo.Context) error {
		res, err := s.Engine.CompleteLeaf(c.Request().Context(), typ, c.Param("id"))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, res)
	}
}

func (s *Server) reopenLeaf(typ models.NodeType) echo.HandlerFunc {
	return func(c echo.Context) error {
		res, err := s.Engine.ReopenLeaf(c.Request().Context(), typ, c.Param("id"))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, res)
	}
}

func (s *Server) completeContainer(typ models.NodeType) echo.HandlerFunc {
	return func(c echo.Context) error {
		ref := models.NodeRef{Type: typ, ID: c.Param("id")}
		res, err := s.Engine.CompleteContainer(c.Request().Context(), ref, actor(c))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, res)
	}
}

// CompleteTask completes a task or submits it for review
// (POST /api/v1/tasks/:id/complete)
func (s *Server) CompleteTask(c echo.Context) error {
	res, err := s.Engine.CompleteTask(c.Request().Context(), c.Param("id"), actor(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// ReopenTask (POST /api/v1/tasks/:id/reopen)
func (s *Server) ReopenTask(c echo.Context) error {
	res, err := s.Engine.ReopenTask(c.Request().Context(), c.Param("id"), actor(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

type automationRequest struct {
	Context map[string]any `json:"context"`
}

// RunAutomation executes a task's automation actions. Partial failure is a
// 200 whose action_results carry the failures.
// (POST /api/v1/tasks/:id/automation)
func (s *Server) RunAutomation(c echo.Context) error {
	var req automationRequest
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&req); err != nil {
			return apperr.Validation("invalid request body: %v", err)
		}
	}
	res, err := s.Engine.RunAutomation(c.Request().Context(), c.Param("id"), req.Context)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// ApproveReview (POST /api/v1/tasks/:id/approve)
func (s *Server) ApproveReview(c echo.Context) error {
	res, err := s.Engine.ApproveReview(c.Request().Context(), c.Param("id"), actor(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// RejectReview (POST /api/v1/tasks/:id/reject)
func (s *Server) RejectReview(c echo.Context) error {
	res, err := s.Engine.RejectReview(c.Request().Context(), c.Param("id"), actor(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// CompleteWorkflow (POST /api/v1/workflows/:id/complete)
func (s *Server) CompleteWorkflow(c echo.Context) error {
	res, err := s.Engine.CompleteWorkflow(c.Request().Context(), c.Param("id"), actor(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

// ResumeCascade (POST /api/v1/cascade/:type/:id/resume)
func (s *Server) ResumeCascade(c echo.Context) error {
	typ, err := models.ParseNodeType(c.Param("type"))
	if err != nil {
		return apperr.Validation("%v", err)
	}
	res, err := s.Engine.ResumeCascade(c.Request().Context(), models.NodeRef{Type: typ, ID: c.Param("id")})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

type dependencyRequest struct {
	FromTaskID string `json:"from_task_id" validate:"required"`
	ToTaskID   string `json:"to_task_id" validate:"required"`
	Type       string `json:"type"`
	LagMinutes int    `json:"lag_minutes"`
}

// AddDependency adds or updates an edge
// (POST /api/v1/workflows/:id/dependencies)
func (s *Server) AddDependency(c echo.Context) error {
	var req dependencyRequest
	if err := bindAndValidate(c, &req); err != nil {
		return err
	}
	dep, err := s.Engine.AddDependency(c.Request().Context(), models.TaskDependency{
		WorkflowID: c.Param("id"),
		FromTaskID: req.FromTaskID,
		ToTaskID:   req.ToTaskID,
		Type:       models.DependencyType(req.Type),
		LagMinutes: req.LagMinutes,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, dep)
}

// RemoveDependency (DELETE /api/v1/workflows/:id/dependencies/:from/:to)
func (s *Server) RemoveDependency(c echo.Context) error {
	if err := s.Engine.RemoveDependency(c.Request().Context(), c.Param("id"), c.Param("from"), c.Param("to")); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

// ListDependencies (GET /api/v1/tasks/:id/dependencies)
func (s *Server) ListDependencies(c echo.Context) error {
	deps, err := s.Engine.ListDependencies(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, deps)
}

// CriticalPath (GET /api/v1/workflows/:id/critical-path)
func (s *Server) CriticalPath(c echo.Context) error {
	cp, err := s.Engine.ComputeCriticalPath(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, cp)
}

// ValidateDependencies (GET /api/v1/workflows/:id/dependencies/validate)
func (s *Server) ValidateDependencies(c echo.Context) error {
	v, err := s.Engine.ValidateDependencies(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, v)
}
