// Package store persists interview sessions in Postgres. The session row is
// a document keyed by invite token; transcript and frames are jsonb arrays
// mutated only via atomic append.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/T-Harsha-Vardhan/kt-pro-api/pkg/interview"
)

// ErrNotFound is returned when no session exists for a token.
var ErrNotFound = errors.New("session not found")

type Store struct {
	pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// Create inserts a new pending session.
func (s *Store) Create(ctx context.Context, sess *interview.Session) error {
	participant, err := json.Marshal(sess.Participant)
	if err != nil {
		return fmt.Errorf("marshal participant: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO interview_sessions (token, participant, status)
		VALUES ($1, $2, $3)
	`, sess.Token, participant, string(interview.StatusPending))
	if err != nil {
		return fmt.Errorf("insert session: %w", err)
	}
	return nil
}

// FindByToken loads one session document, or ErrNotFound.
func (s *Store) FindByToken(ctx context.Context, token string) (*interview.Session, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT token, participant, status, started_at, ended_at,
		       resumption_handle, transcript, frames, audio_url,
		       document, document_markdown
		FROM interview_sessions
		WHERE token = $1
	`, token)

	var (
		sess             interview.Session
		participantJSON  []byte
		status           string
		resumptionHandle *string
		transcriptJSON   []byte
		framesJSON       []byte
		audioURL         *string
		documentJSON     []byte
		documentMarkdown *string
	)
	err := row.Scan(&sess.Token, &participantJSON, &status, &sess.StartedAt, &sess.EndedAt,
		&resumptionHandle, &transcriptJSON, &framesJSON, &audioURL,
		&documentJSON, &documentMarkdown)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select session: %w", err)
	}

	sess.Status = interview.Status(status)
	if err := json.Unmarshal(participantJSON, &sess.Participant); err != nil {
		return nil, fmt.Errorf("decode participant: %w", err)
	}
	if err := json.Unmarshal(transcriptJSON, &sess.Transcript); err != nil {
		return nil, fmt.Errorf("decode transcript: %w", err)
	}
	if err := json.Unmarshal(framesJSON, &sess.Frames); err != nil {
		return nil, fmt.Errorf("decode frames: %w", err)
	}
	if resumptionHandle != nil {
		sess.ResumptionHandle = *resumptionHandle
	}
	if audioURL != nil {
		sess.AudioURL = *audioURL
	}
	if documentMarkdown != nil {
		sess.DocumentMarkdown = *documentMarkdown
	}
	if len(documentJSON) > 0 {
		var doc interview.Document
		if err := json.Unmarshal(documentJSON, &doc); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		sess.Document = &doc
	}
	return &sess, nil
}

// UpdateFields applies a partial update as one atomic UPDATE statement.
func (s *Store) UpdateFields(ctx context.Context, token string, fields Fields) error {
	query, args, err := buildUpdate(token, fields)
	if err != nil {
		return err
	}
	if query == "" {
		return nil
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update session fields: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendTranscript appends one utterance to the session transcript array.
func (s *Store) AppendTranscript(ctx context.Context, token string, u interview.Utterance) error {
	payload, err := json.Marshal([]interview.Utterance{u})
	if err != nil {
		return fmt.Errorf("marshal utterance: %w", err)
	}
	return s.appendArray(ctx, token, "transcript", payload)
}

// AppendFrame appends one stored-frame reference to the session frame list.
func (s *Store) AppendFrame(ctx context.Context, token string, ref interview.FrameRef) error {
	payload, err := json.Marshal([]interview.FrameRef{ref})
	if err != nil {
		return fmt.Errorf("marshal frame ref: %w", err)
	}
	return s.appendArray(ctx, token, "frames", payload)
}

func (s *Store) appendArray(ctx context.Context, token, column string, elems []byte) error {
	// column is one of two fixed names, never caller input.
	query := fmt.Sprintf(`
		UPDATE interview_sessions
		SET %s = %s || $2::jsonb, updated_at = now()
		WHERE token = $1
	`, column, column)
	tag, err := s.pool.Exec(ctx, query, token, elems)
	if err != nil {
		return fmt.Errorf("append %s: %w", column, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
