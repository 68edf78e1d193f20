package persistence

import (
	"database/sql"
	"fmt"
)

const schema = `
CREATE TABLE IF NOT EXISTS plans (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL,
	team_id      TEXT NOT NULL,
	status       TEXT NOT NULL,
	user_request TEXT NOT NULL,
	facts        TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMP NOT NULL,
	completed_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_plans_user ON plans(user_id, created_at);

CREATE TABLE IF NOT EXISTS plan_steps (
	plan_id  TEXT NOT NULL REFERENCES plans(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	agent    TEXT NOT NULL,
	action   TEXT NOT NULL,
	status   TEXT NOT NULL,
	result   TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (plan_id, position)
);

CREATE TABLE IF NOT EXISTS teams (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	config_yaml TEXT NOT NULL,
	created_at  TIMESTAMP NOT NULL
);
`

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}
