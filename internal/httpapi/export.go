package httpapi

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"pulsecheck/internal/report"
	"pulsecheck/internal/storage/sqlite"
)

func (s *Server) handleExport(c echo.Context) error {
	sessionID := c.QueryParam("sessionId")
	if sessionID == "" {
		return errorJSON(c, http.StatusBadRequest, "sessionId is required")
	}
	format := c.QueryParam("format")
	if format == "" {
		format = "md"
	}
	if format != "md" && format != "eml" {
		return errorJSON(c, http.StatusBadRequest, fmt.Sprintf("unsupported export format %q", format))
	}

	d, err := s.store.GetSession(c.Request().Context(), userID(c), sessionID)
	if errors.Is(err, sqlite.ErrNotFound) {
		return errorJSON(c, http.StatusNotFound, "session not found")
	}
	if err != nil {
		s.logger.Error("export load failed", zap.String("session_id", sessionID), zap.Error(err))
		return errorJSON(c, http.StatusInternalServerError, "could not load session")
	}

	r := report.Report{
		Team:        s.cfg.TeamName,
		Date:        d.UpdatedAt.In(s.cfg.Location),
		Items:       d.Items,
		Preferences: d.Preferences,
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", report.Filename(r, format)))
	if format == "eml" {
		return c.Blob(http.StatusOK, "message/rfc822", []byte(report.EML(r)))
	}
	return c.Blob(http.StatusOK, "text/markdown; charset=utf-8", []byte(report.Markdown(r)))
}
