package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

// PostgresSink stores events in the session_events table.
type PostgresSink struct {
	db  *sqlx.DB
	log *zap.Logger
}

// NewPostgresSink connects to dsn, retrying while the database comes up, and
// creates the schema if needed.
func NewPostgresSink(ctx context.Context, dsn string, log *zap.Logger) (*PostgresSink, error) {
	if log == nil {
		log = zap.NewNop()
	}
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &PostgresSink{db: db, log: log.Named("audit-postgres")}

	ebo := backoff.NewExponentialBackOff()
	ebo.InitialInterval = 500 * time.Millisecond
	ebo.MaxElapsedTime = 30 * time.Second
	ping := func() error {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			s.log.Warn("Database not ready", zap.Error(err))
			return err
		}
		return nil
	}
	if err := backoff.Retry(ping, backoff.WithContext(ebo, ctx)); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *PostgresSink) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS session_events (
		id BIGSERIAL PRIMARY KEY,
		occurred_at TIMESTAMPTZ NOT NULL,
		action VARCHAR(16) NOT NULL,
		result VARCHAR(16) NOT NULL,
		room_id VARCHAR(128) NOT NULL DEFAULT '',
		participant_id VARCHAR(64) NOT NULL,
		peer_id VARCHAR(64) NOT NULL DEFAULT '',
		remote_addr VARCHAR(64) NOT NULL DEFAULT '',
		detail TEXT NOT NULL DEFAULT ''
	);
	CREATE INDEX IF NOT EXISTS idx_session_events_room ON session_events(room_id, occurred_at);
	CREATE INDEX IF NOT EXISTS idx_session_events_participant ON session_events(participant_id);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

const insertEvents = `
	INSERT INTO session_events
		(occurred_at, action, result, room_id, participant_id, peer_id, remote_addr, detail)
	VALUES
		(:occurred_at, :action, :result, :room_id, :participant_id, :peer_id, :remote_addr, :detail)`

func (s *PostgresSink) Write(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	if _, err := s.db.NamedExecContext(ctx, insertEvents, events); err != nil {
		return fmt.Errorf("failed to insert %d audit events: %w", len(events), err)
	}
	return nil
}

func (s *PostgresSink) Close() error {
	return s.db.Close()
}
