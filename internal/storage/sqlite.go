package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database with methods for profiles, sessions,
// transcripts and score reports.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "salesdojo.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(field, v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing %s: %w", field, err)
	}
	return t, nil
}

// isUniqueViolation reports whether err came from a UNIQUE or PRIMARY KEY
// constraint. modernc.org/sqlite does not export typed constraint errors.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed")
}

type rowScanner interface {
	Scan(dest ...any) error
}

// --- Profiles ---

const profileColumns = `user_id, company_id, display_name, total_xp, level, is_manager, created_at, updated_at`

func scanProfile(row rowScanner) (Profile, error) {
	var p Profile
	var createdAt, updatedAt string
	if err := row.Scan(&p.UserID, &p.CompanyID, &p.DisplayName, &p.TotalXP, &p.Level, &p.IsManager, &createdAt, &updatedAt); err != nil {
		return Profile{}, err
	}
	var err error
	if p.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Profile{}, err
	}
	if p.UpdatedAt, err = parseTime("updated_at", updatedAt); err != nil {
		return Profile{}, err
	}
	return p, nil
}

// GetProfile returns the profile for userID or ErrNotFound.
func (s *Store) GetProfile(ctx context.Context, userID string) (Profile, error) {
	p, err := scanProfile(s.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM profiles WHERE user_id = ?`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, ErrNotFound
	}
	if err != nil {
		return Profile{}, fmt.Errorf("loading profile %s: %w", userID, err)
	}
	return p, nil
}

// EnsureProfile inserts p unless a profile for p.UserID already exists, and
// returns the stored row. created reports whether the insert happened.
// An existing profile is never modified.
func (s *Store) EnsureProfile(ctx context.Context, p Profile) (stored Profile, created bool, err error) {
	now := formatTime(time.Now())
	level := p.Level
	if level < 1 {
		level = 1
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, company_id, display_name, total_xp, level, is_manager, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO NOTHING`,
		p.UserID, p.CompanyID, p.DisplayName, p.TotalXP, level, p.IsManager, now, now,
	)
	if err != nil {
		return Profile{}, false, fmt.Errorf("inserting profile %s: %w", p.UserID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Profile{}, false, err
	}
	stored, err = s.GetProfile(ctx, p.UserID)
	if err != nil {
		return Profile{}, false, err
	}
	return stored, n == 1, nil
}

// Leaderboard returns the profiles of companyID ranked by level, then XP,
// both descending. Display name and user id break remaining ties so that
// repeated reads return the same order.
func (s *Store) Leaderboard(ctx context.Context, companyID string, limit int) ([]LeaderboardEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, display_name, total_xp, level
		FROM profiles
		WHERE company_id = ?
		ORDER BY level DESC, total_xp DESC, display_name ASC, user_id ASC
		LIMIT ?`, companyID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying leaderboard: %w", err)
	}
	defer rows.Close()

	var entries []LeaderboardEntry
	for rows.Next() {
		var e LeaderboardEntry
		if err := rows.Scan(&e.UserID, &e.DisplayName, &e.TotalXP, &e.Level); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// --- Sessions ---

const sessionColumns = `id, user_id, company_id, industry, difficulty, persona, difficulty_label, created_at, ended_at`

func scanSession(row rowScanner) (Session, error) {
	var ss Session
	var createdAt string
	var endedAt sql.NullString
	if err := row.Scan(&ss.ID, &ss.UserID, &ss.CompanyID, &ss.Industry, &ss.Difficulty,
		&ss.Persona, &ss.DifficultyLabel, &createdAt, &endedAt); err != nil {
		return Session{}, err
	}
	var err error
	if ss.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return Session{}, err
	}
	if endedAt.Valid {
		t, err := parseTime("ended_at", endedAt.String)
		if err != nil {
			return Session{}, err
		}
		ss.EndedAt = &t
	}
	return ss, nil
}

func (s *Store) CreateSession(ctx context.Context, ss Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, company_id, industry, difficulty, persona, difficulty_label, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ss.ID, ss.UserID, ss.CompanyID, ss.Industry, ss.Difficulty, ss.Persona, ss.DifficultyLabel,
		formatTime(ss.CreatedAt),
	)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *Store) GetSession(ctx context.Context, id string) (Session, error) {
	ss, err := scanSession(s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, fmt.Errorf("loading session %s: %w", id, err)
	}
	return ss, nil
}

// ListSessions returns the sessions owned by userID within companyID, newest first.
func (s *Store) ListSessions(ctx context.Context, companyID, userID string, limit int) ([]Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions WHERE company_id = ? AND user_id = ?
		ORDER BY created_at DESC LIMIT ?`, companyID, userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var results []Session
	for rows.Next() {
		ss, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, ss)
	}
	return results, rows.Err()
}

// EndSession stamps ended_at if it is still unset. changed is false when the
// session had already ended; the existing timestamp is left untouched.
func (s *Store) EndSession(ctx context.Context, id string, at time.Time) (changed bool, err error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ? WHERE id = ? AND ended_at IS NULL`, formatTime(at), id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	if _, err := s.GetSession(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// --- Messages ---

func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, role, content, sequence, created_at
		FROM messages WHERE session_id = ? ORDER BY sequence ASC`, sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing messages: %w", err)
	}
	defer rows.Close()

	var results []Message
	for rows.Next() {
		var m Message
		var createdAt string
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.Sequence, &createdAt); err != nil {
			return nil, err
		}
		if m.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
			return nil, err
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

// AppendTurn writes the rep message and the prospect reply as the next two
// messages of the session in one transaction. afterSeq is the sequence of the
// last message the caller read; if the transcript has moved on, or the
// session has ended, ErrConflict is returned and nothing is written.
func (s *Store) AppendTurn(ctx context.Context, sessionID string, afterSeq int, repContent, replyContent string, at time.Time) ([]Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning turn transaction: %w", err)
	}
	defer tx.Rollback()

	var endedAt sql.NullString
	err = tx.QueryRowContext(ctx, `SELECT ended_at FROM sessions WHERE id = ?`, sessionID).Scan(&endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("checking session: %w", err)
	}
	if endedAt.Valid {
		return nil, ErrConflict
	}

	var current int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) FROM messages WHERE session_id = ?`, sessionID,
	).Scan(&current); err != nil {
		return nil, fmt.Errorf("reading sequence: %w", err)
	}
	if current != afterSeq {
		return nil, ErrConflict
	}

	created := formatTime(at)
	pair := []Message{
		{SessionID: sessionID, Role: RoleUser, Content: repContent, Sequence: afterSeq + 1, CreatedAt: at.UTC()},
		{SessionID: sessionID, Role: RoleAssistant, Content: replyContent, Sequence: afterSeq + 2, CreatedAt: at.UTC()},
	}
	for i := range pair {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO messages (session_id, role, content, sequence, created_at)
			VALUES (?, ?, ?, ?, ?) RETURNING id`,
			pair[i].SessionID, pair[i].Role, pair[i].Content, pair[i].Sequence, created,
		).Scan(&pair[i].ID)
		if isUniqueViolation(err) {
			return nil, ErrConflict
		}
		if err != nil {
			return nil, fmt.Errorf("inserting %s message: %w", pair[i].Role, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing turn: %w", err)
	}
	return pair, nil
}

// --- Score reports ---

func (s *Store) GetScoreReport(ctx context.Context, sessionID string) (ScoreReport, error) {
	var r ScoreReport
	var scoresJSON, createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, session_id, company_id, user_id, scores_json, summary, xp_earned, degraded, created_at
		FROM score_reports WHERE session_id = ?`, sessionID,
	).Scan(&r.ID, &r.SessionID, &r.CompanyID, &r.UserID, &scoresJSON, &r.Summary, &r.XPEarned, &r.Degraded, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return ScoreReport{}, ErrNotFound
	}
	if err != nil {
		return ScoreReport{}, fmt.Errorf("loading score report: %w", err)
	}
	if err := json.Unmarshal([]byte(scoresJSON), &r.Scores); err != nil {
		return ScoreReport{}, fmt.Errorf("decoding scores: %w", err)
	}
	if r.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return ScoreReport{}, err
	}
	return r, nil
}

// RecordEvaluation closes a session in one transaction: it stamps ended_at
// (only if unset), inserts the score report and credits the report's XP to
// the owning profile. If the session was already ended, ErrConflict is
// returned and nothing is written, so a retried evaluation never credits twice.
func (s *Store) RecordEvaluation(ctx context.Context, ev Evaluation) (EvaluationResult, error) {
	r := ev.Report
	if ev.LevelFor == nil {
		return EvaluationResult{}, fmt.Errorf("recording evaluation: LevelFor is required")
	}
	if r.XPEarned < 0 {
		return EvaluationResult{}, fmt.Errorf("recording evaluation: negative xp %d", r.XPEarned)
	}
	scoresJSON, err := json.Marshal(r.Scores)
	if err != nil {
		return EvaluationResult{}, fmt.Errorf("encoding scores: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return EvaluationResult{}, fmt.Errorf("beginning evaluation transaction: %w", err)
	}
	defer tx.Rollback()

	ended := formatTime(ev.EndedAt)
	res, err := tx.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ? WHERE id = ? AND company_id = ? AND user_id = ? AND ended_at IS NULL`,
		ended, r.SessionID, r.CompanyID, r.UserID)
	if err != nil {
		return EvaluationResult{}, fmt.Errorf("ending session: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return EvaluationResult{}, err
	}
	if n != 1 {
		return EvaluationResult{}, ErrConflict
	}

	var out EvaluationResult
	err = tx.QueryRowContext(ctx, `
		INSERT INTO score_reports (session_id, company_id, user_id, scores_json, summary, xp_earned, degraded, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?) RETURNING id`,
		r.SessionID, r.CompanyID, r.UserID, string(scoresJSON), r.Summary, r.XPEarned, r.Degraded, ended,
	).Scan(&out.ReportID)
	if isUniqueViolation(err) {
		return EvaluationResult{}, ErrConflict
	}
	if err != nil {
		return EvaluationResult{}, fmt.Errorf("inserting score report: %w", err)
	}

	var total int
	err = tx.QueryRowContext(ctx,
		`SELECT total_xp FROM profiles WHERE user_id = ? AND company_id = ?`, r.UserID, r.CompanyID,
	).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return EvaluationResult{}, ErrNotFound
	}
	if err != nil {
		return EvaluationResult{}, fmt.Errorf("reading profile xp: %w", err)
	}

	out.NewTotalXP = total + r.XPEarned
	out.NewLevel = ev.LevelFor(out.NewTotalXP)
	if _, err := tx.ExecContext(ctx,
		`UPDATE profiles SET total_xp = ?, level = ?, updated_at = ? WHERE user_id = ?`,
		out.NewTotalXP, out.NewLevel, ended, r.UserID,
	); err != nil {
		return EvaluationResult{}, fmt.Errorf("crediting profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return EvaluationResult{}, fmt.Errorf("committing evaluation: %w", err)
	}
	return out, nil
}
