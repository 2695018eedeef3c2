package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"pulsecheck/internal/domain"
	"pulsecheck/internal/storage/sqlite"
)

type sessionsResponse struct {
	Sessions []sqlite.Session `json:"sessions"`
}

func (s *Server) handleListSessions(c echo.Context) error {
	from, to, err := sessionRange(c.QueryParam("filter"), c.QueryParam("date"), s.now(), s.cfg.Location)
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, err.Error())
	}
	sessions, err := s.store.ListSessions(c.Request().Context(), userID(c), from, to)
	if err != nil {
		s.logger.Error("list sessions failed", zap.Error(err))
		return errorJSON(c, http.StatusInternalServerError, "could not list sessions")
	}
	if sessions == nil {
		sessions = []sqlite.Session{}
	}
	return c.JSON(http.StatusOK, sessionsResponse{Sessions: sessions})
}

func (s *Server) handleGetSession(c echo.Context) error {
	d, err := s.store.GetSession(c.Request().Context(), userID(c), c.Param("id"))
	if errors.Is(err, sqlite.ErrNotFound) {
		return errorJSON(c, http.StatusNotFound, "session not found")
	}
	if err != nil {
		s.logger.Error("get session failed", zap.String("session_id", c.Param("id")), zap.Error(err))
		return errorJSON(c, http.StatusInternalServerError, "could not load session")
	}
	return c.JSON(http.StatusOK, withEmptySlices(d))
}

type updateSessionRequest struct {
	Title       *string                  `json:"title"`
	Items       []domain.ClassifiedItem  `json:"items"`
	Preferences *domain.AgentPreferences `json:"preferences"`
}

func (s *Server) handleUpdateSession(c echo.Context) error {
	var req updateSessionRequest
	if err := c.Bind(&req); err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}
	for i, item := range req.Items {
		if err := item.Validate(); err != nil {
			return errorJSON(c, http.StatusBadRequest, fmt.Sprintf("items[%d]: %v", i, err))
		}
	}
	if req.Preferences != nil {
		if err := req.Preferences.Validate(); err != nil {
			return errorJSON(c, http.StatusBadRequest, err.Error())
		}
	}

	d, err := s.store.UpdateSession(c.Request().Context(), userID(c), c.Param("id"), sqlite.SessionUpdate{
		Title:       req.Title,
		Items:       req.Items,
		Preferences: req.Preferences,
	})
	if errors.Is(err, sqlite.ErrNotFound) {
		return errorJSON(c, http.StatusNotFound, "session not found")
	}
	if err != nil {
		s.logger.Error("update session failed", zap.String("session_id", c.Param("id")), zap.Error(err))
		return errorJSON(c, http.StatusInternalServerError, "could not update session")
	}
	return c.JSON(http.StatusOK, withEmptySlices(d))
}

func withEmptySlices(d sqlite.SessionDetail) sqlite.SessionDetail {
	if d.Notes == nil {
		d.Notes = []sqlite.Note{}
	}
	if d.Items == nil {
		d.Items = []domain.ClassifiedItem{}
	}
	if d.Messages == nil {
		d.Messages = []sqlite.Message{}
	}
	return d
}

// sessionRange turns a list filter into a [from, to) window of local days.
// An empty filter leaves both ends open.
func sessionRange(filter, date string, now time.Time, loc *time.Location) (time.Time, time.Time, error) {
	now = now.In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)
	switch filter {
	case "", "all":
		return time.Time{}, time.Time{}, nil
	case "today":
		return today, today.AddDate(0, 0, 1), nil
	case "yesterday":
		return today.AddDate(0, 0, -1), today, nil
	case "last7days":
		return today.AddDate(0, 0, -6), today.AddDate(0, 0, 1), nil
	case "date":
		if date == "" {
			return time.Time{}, time.Time{}, errors.New("date is required for filter=date")
		}
		day, err := time.ParseInLocation("2006-01-02", date, loc)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", date)
		}
		return day, day.AddDate(0, 0, 1), nil
	default:
		return time.Time{}, time.Time{}, fmt.Errorf("unknown filter %q", filter)
	}
}
