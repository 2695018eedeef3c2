package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"pulsecheck/internal/domain"
)

var ErrNotFound = errors.New("session not found")

const (
	RoleUser   = "USER"
	RoleSystem = "SYSTEM"
	RoleAgent  = "AGENT"

	KindNote     = "NOTE"
	KindQuestion = "QUESTION"
	KindAnswer   = "ANSWER"
)

// Store persists classification sessions. Each turn appends a note, a new
// set of status items tagged with the turn number, and audit messages.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id         TEXT PRIMARY KEY,
		user_id    TEXT NOT NULL,
		title      TEXT DEFAULT '',
		turns      INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user_started ON sessions(user_id, started_at);

	CREATE TABLE IF NOT EXISTS notes (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		content    TEXT NOT NULL,
		source     TEXT NOT NULL DEFAULT 'USER',
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_notes_session ON notes(session_id);

	CREATE TABLE IF NOT EXISTS status_items (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		turn       INTEGER NOT NULL,
		type       TEXT NOT NULL,
		content    TEXT NOT NULL,
		confidence REAL NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_status_items_session_turn ON status_items(session_id, turn);

	CREATE TABLE IF NOT EXISTS messages (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
		turn       INTEGER NOT NULL,
		role       TEXT NOT NULL,
		kind       TEXT NOT NULL,
		content    TEXT NOT NULL,
		created_at DATETIME NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id);

	CREATE TABLE IF NOT EXISTS preferences (
		session_id       TEXT PRIMARY KEY REFERENCES sessions(id) ON DELETE CASCADE,
		pov              TEXT DEFAULT '',
		format           TEXT DEFAULT '',
		tone             TEXT DEFAULT '',
		attribution_name TEXT DEFAULT '',
		updated_at       DATETIME NOT NULL
	);
	`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"-"`
	Title     string    `json:"title"`
	Turns     int       `json:"turns"`
	StartedAt time.Time `json:"startedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	NoteCount int       `json:"noteCount"`
	ItemCount int       `json:"itemCount"`
}

type Note struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"createdAt"`
}

type Message struct {
	ID        int64     `json:"id"`
	Turn      int       `json:"turn"`
	Role      string    `json:"role"`
	Kind      string    `json:"kind"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}

type SessionDetail struct {
	Session
	Notes       []Note                  `json:"notes"`
	Items       []domain.ClassifiedItem `json:"items"`
	Preferences domain.AgentPreferences `json:"preferences"`
	Messages    []Message               `json:"messages"`
}

// Turn is everything one classification turn hands to persistence.
type Turn struct {
	SessionID   string
	UserID      string
	Notes       string
	Items       []domain.ClassifiedItem
	Preferences domain.AgentPreferences
	Questions   []domain.FollowUpQuestion
	Answers     []domain.UserAnswer
	Prompt      string
	Output      string
}

// SaveTurn creates the session when SessionID is empty or unknown to the
// user, then records the turn. It returns the session id.
func (s *Store) SaveTurn(ctx context.Context, t Turn) (string, error) {
	now := s.now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	sessionID := t.SessionID
	var turn int
	if sessionID != "" {
		err := tx.QueryRowContext(ctx,
			`SELECT turns FROM sessions WHERE id = ? AND user_id = ?`, sessionID, t.UserID,
		).Scan(&turn)
		if errors.Is(err, sql.ErrNoRows) {
			sessionID = ""
		} else if err != nil {
			return "", err
		}
	}
	if sessionID == "" {
		sessionID = uuid.NewString()
		turn = 0
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sessions (id, user_id, title, turns, started_at, updated_at) VALUES (?, ?, ?, 0, ?, ?)`,
			sessionID, t.UserID, defaultTitle(now), now, now,
		); err != nil {
			return "", fmt.Errorf("create session: %w", err)
		}
	}
	turn++

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET turns = ?, updated_at = ? WHERE id = ?`, turn, now, sessionID,
	); err != nil {
		return "", err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO notes (session_id, content, source, created_at) VALUES (?, ?, 'USER', ?)`,
		sessionID, t.Notes, now,
	); err != nil {
		return "", fmt.Errorf("insert note: %w", err)
	}

	if err := insertItems(ctx, tx, sessionID, turn, t.Items, now); err != nil {
		return "", err
	}

	msgStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO messages (session_id, turn, role, kind, content, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return "", err
	}
	defer msgStmt.Close()

	type msg struct{ role, kind, content string }
	var msgs []msg
	for _, a := range t.Answers {
		msgs = append(msgs, msg{RoleUser, KindAnswer, string(a.Field) + ": " + a.Answer})
	}
	if t.Prompt != "" {
		msgs = append(msgs, msg{RoleSystem, KindNote, t.Prompt})
	}
	if t.Output != "" {
		msgs = append(msgs, msg{RoleAgent, KindAnswer, t.Output})
	}
	for _, q := range t.Questions {
		msgs = append(msgs, msg{RoleAgent, KindQuestion, q.Question})
	}
	for _, m := range msgs {
		if _, err := msgStmt.ExecContext(ctx, sessionID, turn, m.role, m.kind, m.content, now); err != nil {
			return "", fmt.Errorf("insert message: %w", err)
		}
	}

	if !t.Preferences.IsEmpty() {
		if err := upsertPreferences(ctx, tx, sessionID, t.Preferences, now); err != nil {
			return "", err
		}
	}

	return sessionID, tx.Commit()
}

func insertItems(ctx context.Context, tx *sql.Tx, sessionID string, turn int, items []domain.ClassifiedItem, now time.Time) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO status_items (session_id, turn, type, content, confidence, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, item := range items {
		if _, err := stmt.ExecContext(ctx, sessionID, turn, string(item.Type), item.Text, item.Confidence, now); err != nil {
			return fmt.Errorf("insert status item: %w", err)
		}
	}
	return nil
}

func upsertPreferences(ctx context.Context, tx *sql.Tx, sessionID string, p domain.AgentPreferences, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO preferences (session_id, pov, format, tone, attribution_name, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET
		   pov = excluded.pov, format = excluded.format, tone = excluded.tone,
		   attribution_name = excluded.attribution_name, updated_at = excluded.updated_at`,
		sessionID, string(p.POV), string(p.Format), string(p.Tone), p.AttributionName, now,
	)
	if err != nil {
		return fmt.Errorf("upsert preferences: %w", err)
	}
	return nil
}

// ListSessions returns the user's sessions newest first. A zero from or to
// leaves that side of the range open.
func (s *Store) ListSessions(ctx context.Context, userID string, from, to time.Time) ([]Session, error) {
	query := `SELECT s.id, s.user_id, s.title, s.turns, s.started_at, s.updated_at,
		(SELECT COUNT(*) FROM notes n WHERE n.session_id = s.id),
		(SELECT COUNT(*) FROM status_items i WHERE i.session_id = s.id AND i.turn = s.turns)
		FROM sessions s WHERE s.user_id = ?`
	args := []any{userID}
	if !from.IsZero() {
		query += ` AND s.started_at >= ?`
		args = append(args, from.UTC())
	}
	if !to.IsZero() {
		query += ` AND s.started_at < ?`
		args = append(args, to.UTC())
	}
	query += ` ORDER BY s.started_at DESC, s.id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var sess Session
		if err := rows.Scan(&sess.ID, &sess.UserID, &sess.Title, &sess.Turns, &sess.StartedAt, &sess.UpdatedAt,
			&sess.NoteCount, &sess.ItemCount); err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

// GetSession returns the session with its latest items. Sessions owned by
// another user are reported as ErrNotFound.
func (s *Store) GetSession(ctx context.Context, userID, id string) (SessionDetail, error) {
	var d SessionDetail
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, turns, started_at, updated_at FROM sessions WHERE id = ? AND user_id = ?`,
		id, userID,
	).Scan(&d.ID, &d.UserID, &d.Title, &d.Turns, &d.StartedAt, &d.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return d, ErrNotFound
	}
	if err != nil {
		return d, err
	}

	if d.Notes, err = s.notes(ctx, id); err != nil {
		return d, err
	}
	if d.Items, err = s.items(ctx, id, d.Turns); err != nil {
		return d, err
	}
	if d.Messages, err = s.messages(ctx, id); err != nil {
		return d, err
	}
	if d.Preferences, err = s.preferences(ctx, id); err != nil {
		return d, err
	}
	d.NoteCount = len(d.Notes)
	d.ItemCount = len(d.Items)
	return d, nil
}

// LatestResult is the previous-turn value a follow-up round resolves against.
func (s *Store) LatestResult(ctx context.Context, userID, id string) (domain.ClassificationResult, error) {
	d, err := s.GetSession(ctx, userID, id)
	if err != nil {
		return domain.ClassificationResult{}, err
	}
	return domain.ClassificationResult{Items: d.Items, Preferences: d.Preferences}, nil
}

type SessionUpdate struct {
	Title       *string
	Items       []domain.ClassifiedItem
	Preferences *domain.AgentPreferences
}

// UpdateSession applies manual edits. Replacing items rewrites the latest
// turn's items in place.
func (s *Store) UpdateSession(ctx context.Context, userID, id string, upd SessionUpdate) (SessionDetail, error) {
	now := s.now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return SessionDetail{}, err
	}
	defer tx.Rollback()

	var turns int
	err = tx.QueryRowContext(ctx, `SELECT turns FROM sessions WHERE id = ? AND user_id = ?`, id, userID).Scan(&turns)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionDetail{}, ErrNotFound
	}
	if err != nil {
		return SessionDetail{}, err
	}

	if upd.Title != nil {
		if _, err := tx.ExecContext(ctx, `UPDATE sessions SET title = ? WHERE id = ?`, *upd.Title, id); err != nil {
			return SessionDetail{}, err
		}
	}
	if upd.Items != nil {
		if turns == 0 {
			turns = 1
			if _, err := tx.ExecContext(ctx, `UPDATE sessions SET turns = 1 WHERE id = ?`, id); err != nil {
				return SessionDetail{}, err
			}
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM status_items WHERE session_id = ? AND turn = ?`, id, turns); err != nil {
			return SessionDetail{}, err
		}
		if err := insertItems(ctx, tx, id, turns, upd.Items, now); err != nil {
			return SessionDetail{}, err
		}
	}
	if upd.Preferences != nil {
		if err := upsertPreferences(ctx, tx, id, upd.Preferences.Normalized(), now); err != nil {
			return SessionDetail{}, err
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE sessions SET updated_at = ? WHERE id = ?`, now, id); err != nil {
		return SessionDetail{}, err
	}
	if err := tx.Commit(); err != nil {
		return SessionDetail{}, err
	}
	return s.GetSession(ctx, userID, id)
}

// DeleteSessionsBefore removes sessions last updated before cutoff along
// with their notes, items, messages and preferences.
func (s *Store) DeleteSessionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE updated_at < ?`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) notes(ctx context.Context, sessionID string) ([]Note, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, source, created_at FROM notes WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Note
	for rows.Next() {
		var n Note
		if err := rows.Scan(&n.ID, &n.Content, &n.Source, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (s *Store) items(ctx context.Context, sessionID string, turn int) ([]domain.ClassifiedItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT type, content, confidence FROM status_items WHERE session_id = ? AND turn = ? ORDER BY id`,
		sessionID, turn)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []domain.ClassifiedItem{}
	for rows.Next() {
		var item domain.ClassifiedItem
		var t string
		if err := rows.Scan(&t, &item.Text, &item.Confidence); err != nil {
			return nil, err
		}
		item.Type = domain.StatusType(t)
		out = append(out, item)
	}
	return out, rows.Err()
}

func (s *Store) messages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, turn, role, kind, content, created_at FROM messages WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.Turn, &m.Role, &m.Kind, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *Store) preferences(ctx context.Context, sessionID string) (domain.AgentPreferences, error) {
	var p domain.AgentPreferences
	var pov, format, tone string
	err := s.db.QueryRowContext(ctx,
		`SELECT pov, format, tone, attribution_name FROM preferences WHERE session_id = ?`, sessionID,
	).Scan(&pov, &format, &tone, &p.AttributionName)
	if errors.Is(err, sql.ErrNoRows) {
		return p, nil
	}
	if err != nil {
		return p, err
	}
	p.POV = domain.POV(pov)
	p.Format = domain.Format(format)
	p.Tone = domain.Tone(tone)
	return p, nil
}

func defaultTitle(t time.Time) string {
	return "Session " + t.Format("2006-01-02")
}
