package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	db *pgxpool.Pool
}

func New(db *pgxpool.Pool) *Store {
	return &Store{db: db}
}

// Ping verifies database connectivity. Used by the readiness probe.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// CallSession represents one assisted call from start to stop.
type CallSession struct {
	ID                 string     `json:"id"`
	Mode               string     `json:"mode"`
	SampleRate         int        `json:"sample_rate"`
	Channels           int        `json:"channels"`
	StartedAt          time.Time  `json:"started_at"`
	EndedAt            *time.Time `json:"ended_at,omitempty"`
	RecordingPath      *string    `json:"recording_path,omitempty"`
	Status             string     `json:"status"`
	Summary            *string    `json:"summary,omitempty"`
	EstimatedCostCents *int       `json:"estimated_cost_cents,omitempty"`
}

// Utterance is a finalized speech turn persisted for a session.
type Utterance struct {
	ID           string    `json:"id"`
	SessionID    string    `json:"session_id"`
	ChannelIndex int       `json:"channel_index"`
	SpeakerID    *int      `json:"speaker_id,omitempty"`
	SpeakerLabel string    `json:"speaker_label"`
	Text         string    `json:"text"`
	StartMS      *int64    `json:"start_ms,omitempty"`
	EndMS        *int64    `json:"end_ms,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// CallSessionListItem is a session row plus its utterance count for list views.
type CallSessionListItem struct {
	CallSession
	UtteranceCount int `json:"utterance_count"`
}

// SessionDetail is a session with its full ordered transcript.
type SessionDetail struct {
	CallSession
	Utterances []Utterance `json:"utterances"`
}

// ============================================================================
// Call session operations
// ============================================================================

// InsertCallSession records a newly started session with status 'active'.
func (s *Store) InsertCallSession(ctx context.Context, cs CallSession) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO call_sessions (id, mode, sample_rate, channels, started_at, recording_path, status)
		VALUES ($1, $2, $3, $4, $5, $6, 'active')
	`, cs.ID, cs.Mode, cs.SampleRate, cs.Channels, cs.StartedAt, cs.RecordingPath)
	return err
}

// EndCallSession marks a session terminal. The first recorded ended_at wins, so
// a late duplicate stop does not move the timestamp.
func (s *Store) EndCallSession(ctx context.Context, id string, status string, at time.Time, costCents *int) error {
	_, err := s.db.Exec(ctx, `
		UPDATE call_sessions
		SET status = $2,
		    ended_at = COALESCE(ended_at, $3),
		    estimated_cost_cents = COALESCE($4, estimated_cost_cents)
		WHERE id = $1
	`, id, status, at, costCents)
	return err
}

// UpdateCallSession applies a partial update. Absent keys keep their current value.
func (s *Store) UpdateCallSession(ctx context.Context, id string, updates map[string]any) error {
	_, err := s.db.Exec(ctx, `
		UPDATE call_sessions
		SET summary = COALESCE($2, summary),
		    status = COALESCE($3, status),
		    recording_path = COALESCE($4, recording_path),
		    estimated_cost_cents = COALESCE($5, estimated_cost_cents)
		WHERE id = $1
	`, id, updates["summary"], updates["status"], updates["recording_path"],
		updates["estimated_cost_cents"])
	return err
}

// MarkStaleActiveSessions flags sessions left 'active' by a previous process as
// interrupted. Called once at startup, before any new session can begin.
func (s *Store) MarkStaleActiveSessions(ctx context.Context) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE call_sessions
		SET status = 'interrupted',
		    ended_at = COALESCE(ended_at, NOW())
		WHERE status = 'active'
	`)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *Store) ListCallSessions(ctx context.Context, limit int) ([]CallSessionListItem, error) {
	rows, err := s.db.Query(ctx, `
		SELECT cs.id, cs.mode, cs.sample_rate, cs.channels, cs.started_at, cs.ended_at,
		       cs.recording_path, cs.status, cs.summary, cs.estimated_cost_cents, u.n
		FROM call_sessions cs
		LEFT JOIN (
			SELECT session_id, COUNT(*) AS n FROM utterances GROUP BY session_id
		) u ON u.session_id = cs.id
		ORDER BY cs.started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []CallSessionListItem
	for rows.Next() {
		var item CallSessionListItem
		var count *int64
		if err := rows.Scan(&item.ID, &item.Mode, &item.SampleRate, &item.Channels,
			&item.StartedAt, &item.EndedAt, &item.RecordingPath, &item.Status,
			&item.Summary, &item.EstimatedCostCents, &count); err != nil {
			return nil, err
		}
		if count != nil {
			item.UtteranceCount = int(*count)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

// GetSessionDetail returns a session with its transcript. The caller maps
// pgx.ErrNoRows to not-found.
func (s *Store) GetSessionDetail(ctx context.Context, id string) (SessionDetail, error) {
	var out SessionDetail
	err := s.db.QueryRow(ctx, `
		SELECT id, mode, sample_rate, channels, started_at, ended_at,
		       recording_path, status, summary, estimated_cost_cents
		FROM call_sessions
		WHERE id = $1
	`, id).Scan(&out.ID, &out.Mode, &out.SampleRate, &out.Channels, &out.StartedAt,
		&out.EndedAt, &out.RecordingPath, &out.Status, &out.Summary, &out.EstimatedCostCents)
	if err != nil {
		return SessionDetail{}, err
	}

	// Transcript (optional)
	rows, err := s.db.Query(ctx, `
		SELECT id, session_id, channel_index, speaker_id, speaker_label, text, start_ms, end_ms, created_at
		FROM utterances
		WHERE session_id = $1
		ORDER BY created_at ASC, start_ms ASC
	`, id)
	if err != nil {
		return out, nil
	}
	defer rows.Close()

	for rows.Next() {
		var u Utterance
		if err := rows.Scan(&u.ID, &u.SessionID, &u.ChannelIndex, &u.SpeakerID,
			&u.SpeakerLabel, &u.Text, &u.StartMS, &u.EndMS, &u.CreatedAt); err != nil {
			return out, nil
		}
		out.Utterances = append(out.Utterances, u)
	}

	return out, nil
}

// InsertUtterance stores a finalized turn. The utterance ID comes from the
// live pipeline so suggestion events can reference the stored row; replayed
// inserts are no-ops.
func (s *Store) InsertUtterance(ctx context.Context, sessionID string, u Utterance) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO utterances (id, session_id, channel_index, speaker_id, speaker_label, text, start_ms, end_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING
	`, u.ID, sessionID, u.ChannelIndex, u.SpeakerID, u.SpeakerLabel, u.Text, u.StartMS, u.EndMS)
	return err
}

// DeleteSessionsOlderThan removes sessions started before the cutoff and
// returns the recording paths of the deleted rows so the caller can unlink
// the WAV files. Utterances go with their session via the FK cascade.
func (s *Store) DeleteSessionsOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := s.db.Query(ctx, `
		DELETE FROM call_sessions
		WHERE started_at < $1
		RETURNING recording_path
	`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p *string
		if err := rows.Scan(&p); err != nil {
			return paths, err
		}
		if p != nil && *p != "" {
			paths = append(paths, *p)
		}
	}
	return paths, rows.Err()
}

// ============================================================================
// API session operations
// ============================================================================

// CreateAPISession records the hash of an issued auth token.
func (s *Store) CreateAPISession(ctx context.Context, tokenHash string, expiresAt time.Time) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO api_sessions (token_hash, expires_at)
		VALUES ($1, $2)
	`, tokenHash, expiresAt)
	return err
}

// RevokeAPISession revokes a session by token hash.
func (s *Store) RevokeAPISession(ctx context.Context, tokenHash string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE api_sessions SET revoked_at = NOW() WHERE token_hash = $1
	`, tokenHash)
	return err
}

// IsAPISessionValid checks if a session is valid (not revoked and not expired).
func (s *Store) IsAPISessionValid(ctx context.Context, tokenHash string) (bool, error) {
	var valid bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM api_sessions
			WHERE token_hash = $1 AND revoked_at IS NULL AND expires_at > NOW()
		)
	`, tokenHash).Scan(&valid)
	return valid, err
}
