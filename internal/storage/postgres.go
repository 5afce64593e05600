// Package storage appends chat and transcription entries to
// consultation records. Writes are best-effort: the relay never waits
// on them and failures are logged, not retried.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"

	"github.com/vitalink/telecare/internal/domain"
)

const connectAttempts = 5

// Connect opens the consultation database, retrying briefly so the
// service survives the database coming up after it.
func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	var lastErr error
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err == nil {
			log.Info().Str("module", "storage").Msg("database connected")
			return db, nil
		}

		lastErr = err
		_ = db.Close()
		log.Warn().Err(err).Str("module", "storage").
			Int("attempt", attempt).Msg("database not ready, retrying")

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
	return nil, fmt.Errorf("connect database: %w", lastErr)
}

// ConsultationStore appends entries to a consultation record by room
// id. Each entry is one INSERT, so concurrent appends for the same
// room cannot overwrite each other.
type ConsultationStore struct {
	db *sql.DB
}

func NewConsultationStore(db *sql.DB) *ConsultationStore {
	return &ConsultationStore{db: db}
}

func (s *ConsultationStore) AppendChatMessage(ctx context.Context, room domain.RoomID, msg domain.ChatMessage) error {
	query := `
		INSERT INTO consultation_messages (
			room_id, sender_id, sender_role, content, attachment_url, created_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`
	var attachmentURL sql.NullString
	if msg.Attachment != nil {
		attachmentURL = sql.NullString{String: msg.Attachment.URL, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, query,
		string(room),
		string(msg.SenderID),
		string(msg.SenderRole),
		msg.Content,
		attachmentURL,
		msg.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append chat message: %w", err)
	}
	return nil
}

func (s *ConsultationStore) AppendTranscription(ctx context.Context, room domain.RoomID, entry domain.TranscriptionEntry) error {
	query := `
		INSERT INTO consultation_transcripts (
			room_id, sender_role, text, created_at
		) VALUES ($1, $2, $3, $4)
	`
	_, err := s.db.ExecContext(ctx, query,
		string(room),
		string(entry.SenderRole),
		entry.Text,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("append transcription: %w", err)
	}
	return nil
}
