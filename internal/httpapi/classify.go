package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	gocache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"

	"pulsecheck/internal/agent"
	"pulsecheck/internal/domain"
	"pulsecheck/internal/report"
	"pulsecheck/internal/storage/sqlite"
)

const (
	maxClassifyBody = 1 << 20
	notifyTimeout   = 15 * time.Second
	persistTimeout  = 10 * time.Second
)

type classifyRequest struct {
	Notes       string                  `json:"notes"`
	SessionID   string                  `json:"sessionId,omitempty"`
	Answers     []domain.UserAnswer     `json:"answers,omitempty"`
	Preferences domain.AgentPreferences `json:"preferences"`
	Team        string                  `json:"team,omitempty"`
	Timeframe   string                  `json:"timeframe,omitempty"`
}

type classifyResult struct {
	Items       []domain.ClassifiedItem `json:"items"`
	Preferences domain.AgentPreferences `json:"preferences"`
}

type llmInfo struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

type classifyResponse struct {
	SessionID   string                    `json:"sessionId"`
	Result      classifyResult            `json:"result"`
	Questions   []domain.FollowUpQuestion `json:"questions"`
	Preferences domain.AgentPreferences   `json:"preferences"`
	LLM         llmInfo                   `json:"llm"`
}

func (s *Server) handleClassify(c echo.Context) error {
	user := userID(c)
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxClassifyBody))
	if err != nil {
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}

	key := dedupeKey(user, body)
	if s.dedupe != nil {
		if cached, found := s.dedupe.Get(key); found {
			s.logger.Info("classify duplicate absorbed", zap.String("user", user))
			return c.JSONBlob(http.StatusOK, cached.([]byte))
		}
	}

	var req classifyRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.logger.Warn("invalid classify request", zap.Error(err))
		return errorJSON(c, http.StatusBadRequest, "invalid request body")
	}

	in := domain.ClassificationInput{
		Notes:       req.Notes,
		Preferences: req.Preferences,
		Team:        req.Team,
		Timeframe:   req.Timeframe,
		Answers:     req.Answers,
	}
	if in.Team == "" {
		in.Team = s.cfg.TeamName
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), s.cfg.TurnTimeout)
	defer cancel()

	if req.SessionID != "" && len(req.Answers) > 0 {
		prev, err := s.store.LatestResult(ctx, user, req.SessionID)
		switch {
		case err == nil:
			in.Previous = &prev
		case errors.Is(err, sqlite.ErrNotFound):
			s.logger.Info("classify follow-up for unknown session", zap.String("session_id", req.SessionID))
		default:
			s.logger.Warn("load previous result failed", zap.String("session_id", req.SessionID), zap.Error(err))
		}
	}

	outcome, err := s.classifier.Run(ctx, in)
	if err != nil {
		if errors.Is(err, agent.ErrInvalidInput) {
			return errorJSON(c, http.StatusBadRequest, err.Error())
		}
		s.logger.Error("classify failed", zap.String("user", user), zap.Error(err))
		return errorJSON(c, http.StatusBadGateway, "could not classify notes")
	}

	// A turn that used up its budget must still be recorded.
	saveCtx, cancelSave := context.WithTimeout(context.WithoutCancel(c.Request().Context()), persistTimeout)
	defer cancelSave()
	sessionID, err := s.store.SaveTurn(saveCtx, sqlite.Turn{
		SessionID:   req.SessionID,
		UserID:      user,
		Notes:       req.Notes,
		Items:       outcome.Items,
		Preferences: outcome.Preferences,
		Questions:   outcome.Questions,
		Answers:     req.Answers,
		Prompt:      auditPrompt(outcome.Turn.Prompt),
		Output:      outcome.Turn.Raw,
	})
	if err != nil {
		s.logger.Error("save turn failed", zap.String("user", user), zap.Error(err))
		return errorJSON(c, http.StatusInternalServerError, "could not save session")
	}

	if outcome.Done() {
		s.deliver(c.Request().Context(), in.Team, outcome)
	}

	// First-turn items stay hidden until the questions are answered.
	items := outcome.Items
	if !outcome.Done() && len(req.Answers) == 0 {
		items = []domain.ClassifiedItem{}
	}
	blob, err := json.Marshal(classifyResponse{
		SessionID:   sessionID,
		Result:      classifyResult{Items: items, Preferences: outcome.Preferences},
		Questions:   outcome.Questions,
		Preferences: outcome.Preferences,
		LLM:         llmInfo{Provider: outcome.Turn.Provider, Model: outcome.Turn.Model},
	})
	if err != nil {
		return err
	}
	if s.dedupe != nil {
		s.dedupe.Set(key, blob, gocache.DefaultExpiration)
	}
	return c.JSONBlob(http.StatusOK, blob)
}

// deliver writes the finished report to ReportDir and posts it to the
// notifier. Failures are logged; the turn itself already succeeded.
func (s *Server) deliver(ctx context.Context, team string, outcome agent.Outcome) {
	r := report.Report{
		Team:        team,
		Date:        s.now().In(s.cfg.Location),
		Items:       outcome.Items,
		Preferences: outcome.Preferences,
	}
	if s.cfg.ReportDir != "" {
		s.writeReports(r)
	}
	if s.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()
	if err := s.notifier.PostReport(ctx, r); err != nil {
		s.logger.Warn("report notification failed", zap.Error(err))
	}
}

func (s *Server) writeReports(r report.Report) {
	mdPath, err := report.WriteMarkdownFile(r, s.cfg.ReportDir)
	if err != nil {
		s.logger.Warn("write markdown report failed", zap.String("dir", s.cfg.ReportDir), zap.Error(err))
		return
	}
	emlPath, err := report.WriteEmailDraftFile(r, s.cfg.ReportDir)
	if err != nil {
		s.logger.Warn("write email draft failed", zap.String("dir", s.cfg.ReportDir), zap.Error(err))
		return
	}
	s.logger.Info("report written", zap.String("markdown", mdPath), zap.String("email", emlPath))
}

func dedupeKey(user string, body []byte) string {
	sum := sha256.Sum256(body)
	return "classify:" + user + ":" + hex.EncodeToString(sum[:])
}

func auditPrompt(p agent.Prompt) string {
	if p.System == "" && p.User == "" {
		return ""
	}
	return "SYSTEM:\n" + p.System + "\n\nUSER:\n" + p.User
}
