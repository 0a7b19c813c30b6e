package httpserver

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/projectpulse/projectpulse/internal/domain"
	apperrors "github.com/projectpulse/projectpulse/internal/errors"
)

type createProjectRequest struct {
	ProjectID string `json:"projectId"`
	ClientID  string `json:"clientId"`
	Title     string `json:"title"`
}

func (s *Server) handleCreateProject(c echo.Context) error {
	var req createProjectRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if req.ProjectID == "" {
		return apperrors.ValidationError("projectId is required")
	}

	project, err := s.projects.CreateProject(c.Request().Context(), req.ProjectID, req.ClientID, req.Title)
	if err != nil {
		return apperrors.InternalError("failed to create project", err)
	}

	if err := c.JSON(http.StatusCreated, project); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

type pushProgressRequest struct {
	Progress json.RawMessage `json:"progress"`
}

func (s *Server) handlePushProgress(c echo.Context) error {
	projectID := c.Param("id")

	var req pushProgressRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if len(req.Progress) == 0 {
		return apperrors.ValidationError("progress payload is required")
	}

	if err := s.broadcaster.PushProgressUpdate(c.Request().Context(), projectID, req.Progress); err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, map[string]string{"status": "ok"}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

type pushStatusRequest struct {
	Status string         `json:"status"`
	Extra  map[string]any `json:"extra"`
}

func (s *Server) handlePushStatus(c echo.Context) error {
	projectID := c.Param("id")

	var req pushStatusRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	status := domain.ProjectStatus(req.Status)
	if !status.Valid() {
		return apperrors.ValidationError(fmt.Sprintf("unknown status %q", req.Status))
	}

	if err := s.broadcaster.PushStatusChange(c.Request().Context(), projectID, status, req.Extra); err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, map[string]string{"status": "ok"}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

type pushCompletionRequest struct {
	Report json.RawMessage `json:"report"`
}

func (s *Server) handlePushCompletion(c echo.Context) error {
	projectID := c.Param("id")

	var req pushCompletionRequest
	if err := c.Bind(&req); err != nil {
		return apperrors.ValidationError("invalid request body")
	}
	if len(req.Report) == 0 {
		return apperrors.ValidationError("report is required")
	}

	if err := s.broadcaster.PushCompletion(c.Request().Context(), projectID, req.Report); err != nil {
		return err
	}

	if err := c.JSON(http.StatusOK, map[string]string{"status": "ok"}); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleGetReport(c echo.Context) error {
	report, err := s.projects.GetProjectReport(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}

	if err := c.JSONBlob(http.StatusOK, report); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}

func (s *Server) handleStats(c echo.Context) error {
	if err := c.JSON(http.StatusOK, s.hub.Stats()); err != nil {
		return fmt.Errorf("failed to send JSON response: %w", err)
	}
	return nil
}
