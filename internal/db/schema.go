package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// ensureSchema applies idempotent DDL. If the driver rejects a multi-statement
// script it falls back to running statements one by one.
func ensureSchema(ctx context.Context, db *sql.DB, driver Driver) error {
	var schema string
	switch driver {
	case DriverSQLite:
		schema = schemaSQLite
	case DriverPostgres:
		schema = schemaPostgres
	}
	if _, err := db.ExecContext(ctx, schema); err == nil {
		return nil
	}
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("db: schema failed at %q: %w", firstLine(stmt), err)
		}
	}
	return nil
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

const schemaSQLite = `
CREATE TABLE IF NOT EXISTS exams (
  id INTEGER PRIMARY KEY,
  code TEXT NOT NULL,
  title TEXT NOT NULL,
  time_limit_minutes INTEGER NOT NULL,
  passing_score INTEGER NOT NULL DEFAULT 0,
  questions_per_mock_test INTEGER NOT NULL,
  created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS questions (
  id INTEGER PRIMARY KEY,
  exam_id INTEGER NOT NULL REFERENCES exams(id),
  type TEXT NOT NULL,
  position INTEGER NOT NULL,
  published BOOLEAN NOT NULL DEFAULT 1,
  options_json TEXT NOT NULL,
  groups_json TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS questions_exam_idx ON questions (exam_id, position);

CREATE TABLE IF NOT EXISTS entitlements (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  exam_id INTEGER NOT NULL,
  device_fingerprint TEXT,
  status TEXT NOT NULL DEFAULT 'active',
  lock_reason TEXT,
  locked_at INTEGER,
  expires_at INTEGER NOT NULL,
  created_at INTEGER NOT NULL,
  last_accessed_at INTEGER
);
CREATE INDEX IF NOT EXISTS entitlements_user_exam_idx ON entitlements (user_id, exam_id);

CREATE TABLE IF NOT EXISTS access_events (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  id TEXT NOT NULL UNIQUE,
  entitlement_id TEXT NOT NULL REFERENCES entitlements(id),
  action TEXT NOT NULL,
  admin_identity TEXT,
  reason TEXT,
  device_fingerprint TEXT NOT NULL DEFAULT '',
  ip_address TEXT NOT NULL DEFAULT '',
  user_agent TEXT NOT NULL DEFAULT '',
  created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS access_events_entitlement_idx ON access_events (entitlement_id, seq);

CREATE TABLE IF NOT EXISTS attempts (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  exam_id INTEGER NOT NULL,
  question_ids_json TEXT NOT NULL,
  total_questions INTEGER NOT NULL,
  status TEXT NOT NULL,
  started_at INTEGER NOT NULL,
  expires_at INTEGER NOT NULL,
  score INTEGER,
  correct_answers INTEGER,
  completed_at INTEGER,
  draw_seed INTEGER NOT NULL DEFAULT 0
);
CREATE UNIQUE INDEX IF NOT EXISTS attempts_one_active_idx ON attempts (user_id, exam_id) WHERE status = 'in_progress';
CREATE INDEX IF NOT EXISTS attempts_user_idx ON attempts (user_id, started_at);

CREATE TABLE IF NOT EXISTS attempt_answers (
  id TEXT PRIMARY KEY,
  attempt_id TEXT NOT NULL REFERENCES attempts(id),
  question_id INTEGER NOT NULL,
  selected_json TEXT,
  is_marked_for_review BOOLEAN NOT NULL DEFAULT 0,
  is_correct BOOLEAN,
  time_spent_seconds INTEGER,
  updated_at INTEGER NOT NULL,
  UNIQUE (attempt_id, question_id)
);

CREATE TABLE IF NOT EXISTS event_log (
  seq INTEGER PRIMARY KEY AUTOINCREMENT,
  site_id TEXT NOT NULL DEFAULT 'local',
  typ TEXT NOT NULL,
  key TEXT NOT NULL,
  data TEXT NOT NULL,
  created_at INTEGER NOT NULL
);
`

const schemaPostgres = `
CREATE TABLE IF NOT EXISTS exams (
  id BIGINT PRIMARY KEY,
  code TEXT NOT NULL,
  title TEXT NOT NULL,
  time_limit_minutes INTEGER NOT NULL,
  passing_score INTEGER NOT NULL DEFAULT 0,
  questions_per_mock_test INTEGER NOT NULL,
  created_at BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS questions (
  id BIGINT PRIMARY KEY,
  exam_id BIGINT NOT NULL REFERENCES exams(id),
  type TEXT NOT NULL,
  position INTEGER NOT NULL,
  published BOOLEAN NOT NULL DEFAULT TRUE,
  options_json TEXT NOT NULL,
  groups_json TEXT NOT NULL DEFAULT '[]'
);
CREATE INDEX IF NOT EXISTS questions_exam_idx ON questions (exam_id, position);

CREATE TABLE IF NOT EXISTS entitlements (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  exam_id BIGINT NOT NULL,
  device_fingerprint TEXT,
  status TEXT NOT NULL DEFAULT 'active',
  lock_reason TEXT,
  locked_at BIGINT,
  expires_at BIGINT NOT NULL,
  created_at BIGINT NOT NULL,
  last_accessed_at BIGINT
);
CREATE INDEX IF NOT EXISTS entitlements_user_exam_idx ON entitlements (user_id, exam_id);

CREATE TABLE IF NOT EXISTS access_events (
  seq BIGSERIAL PRIMARY KEY,
  id TEXT NOT NULL UNIQUE,
  entitlement_id TEXT NOT NULL REFERENCES entitlements(id),
  action TEXT NOT NULL,
  admin_identity TEXT,
  reason TEXT,
  device_fingerprint TEXT NOT NULL DEFAULT '',
  ip_address TEXT NOT NULL DEFAULT '',
  user_agent TEXT NOT NULL DEFAULT '',
  created_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS access_events_entitlement_idx ON access_events (entitlement_id, seq);

CREATE TABLE IF NOT EXISTS attempts (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  exam_id BIGINT NOT NULL,
  question_ids_json TEXT NOT NULL,
  total_questions INTEGER NOT NULL,
  status TEXT NOT NULL,
  started_at BIGINT NOT NULL,
  expires_at BIGINT NOT NULL,
  score INTEGER,
  correct_answers INTEGER,
  completed_at BIGINT,
  draw_seed BIGINT NOT NULL DEFAULT 0
);
CREATE UNIQUE INDEX IF NOT EXISTS attempts_one_active_idx ON attempts (user_id, exam_id) WHERE status = 'in_progress';
CREATE INDEX IF NOT EXISTS attempts_user_idx ON attempts (user_id, started_at);

CREATE TABLE IF NOT EXISTS attempt_answers (
  id TEXT PRIMARY KEY,
  attempt_id TEXT NOT NULL REFERENCES attempts(id),
  question_id BIGINT NOT NULL,
  selected_json TEXT,
  is_marked_for_review BOOLEAN NOT NULL DEFAULT FALSE,
  is_correct BOOLEAN,
  time_spent_seconds INTEGER,
  updated_at BIGINT NOT NULL,
  UNIQUE (attempt_id, question_id)
);

CREATE TABLE IF NOT EXISTS event_log (
  seq BIGSERIAL PRIMARY KEY,
  site_id TEXT NOT NULL DEFAULT 'local',
  typ TEXT NOT NULL,
  key TEXT NOT NULL,
  data TEXT NOT NULL,
  created_at BIGINT NOT NULL
);
`
