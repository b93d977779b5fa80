// Package postgres opens the database handle and bootstraps the schema.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Open connects to PostgreSQL and verifies the connection.
func Open(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	return db, nil
}

// schema is the engine's DDL. Idempotent so startup can apply it every time.
//
// The unique index on recipients (run_id, department_id) is load-bearing: it
// is what makes concurrent activation retries safe.
const schema = `
CREATE TABLE IF NOT EXISTS compliance_runs (
	id            UUID PRIMARY KEY,
	title         TEXT NOT NULL,
	description   TEXT NOT NULL DEFAULT '',
	frequency     TEXT NOT NULL,
	recurring_day INT  NOT NULL DEFAULT 0,
	start_date    TIMESTAMPTZ NOT NULL,
	due_date      TIMESTAMPTZ NOT NULL,
	status        TEXT NOT NULL,
	created_by    UUID NOT NULL,
	created_at    TIMESTAMPTZ NOT NULL,
	updated_at    TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS questions (
	id        UUID PRIMARY KEY,
	run_id    UUID NOT NULL REFERENCES compliance_runs(id) ON DELETE CASCADE,
	position  INT  NOT NULL,
	text      TEXT NOT NULL,
	type      TEXT NOT NULL,
	required  BOOLEAN NOT NULL DEFAULT FALSE,
	options   TEXT[] ,
	max_score INT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS questions_run_idx ON questions (run_id, position);

CREATE TABLE IF NOT EXISTS department_targets (
	run_id        UUID NOT NULL REFERENCES compliance_runs(id) ON DELETE CASCADE,
	department_id UUID NOT NULL,
	PRIMARY KEY (run_id, department_id)
);

CREATE TABLE IF NOT EXISTS recipients (
	id                  UUID PRIMARY KEY,
	run_id              UUID NOT NULL REFERENCES compliance_runs(id) ON DELETE CASCADE,
	user_id             UUID NOT NULL,
	department_id       UUID NOT NULL,
	access_token        TEXT NOT NULL,
	email_sent          BOOLEAN NOT NULL DEFAULT FALSE,
	email_sent_at       TIMESTAMPTZ,
	survey_completed    BOOLEAN NOT NULL DEFAULT FALSE,
	survey_completed_at TIMESTAMPTZ,
	UNIQUE (run_id, department_id),
	UNIQUE (access_token)
);
CREATE INDEX IF NOT EXISTS recipients_run_idx ON recipients (run_id);

CREATE TABLE IF NOT EXISTS responses (
	id           UUID PRIMARY KEY,
	recipient_id UUID NOT NULL REFERENCES recipients(id) ON DELETE CASCADE,
	question_id  UUID NOT NULL,
	answer       TEXT NOT NULL,
	comment      TEXT NOT NULL DEFAULT '',
	submitted_at TIMESTAMPTZ NOT NULL,
	UNIQUE (recipient_id, question_id)
);
`

// EnsureSchema applies the engine DDL.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
