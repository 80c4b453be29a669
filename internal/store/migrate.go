package store

import (
	"context"
	"database/sql"
)

// schema is idempotent; it runs on every start.
const schema = `
CREATE TABLE IF NOT EXISTS students (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL,
	email           TEXT NOT NULL UNIQUE,
	phone           TEXT NOT NULL DEFAULT '',
	course          TEXT NOT NULL DEFAULT '',
	fee             BIGINT CHECK (fee IS NULL OR fee >= 0),
	profile_picture TEXT,
	joined_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS attendance (
	id           TEXT PRIMARY KEY,
	student_id   TEXT REFERENCES students(id),
	date         DATE NOT NULL,
	timing       TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'present' CHECK (status = 'present'),
	session_name TEXT,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS ux_attendance_member
	ON attendance (date, timing, student_id) WHERE student_id IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_attendance_session ON attendance (date, timing);
CREATE INDEX IF NOT EXISTS idx_attendance_student ON attendance (student_id);

CREATE TABLE IF NOT EXISTS payment_orders (
	id         TEXT PRIMARY KEY,
	student_id TEXT NOT NULL REFERENCES students(id),
	amount     BIGINT NOT NULL CHECK (amount > 0),
	currency   TEXT NOT NULL,
	receipt    TEXT NOT NULL,
	status     TEXT NOT NULL,
	payment_id TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS fee_records (
	id         TEXT PRIMARY KEY,
	student_id TEXT NOT NULL REFERENCES students(id),
	amount     BIGINT NOT NULL CHECK (amount > 0),
	status     TEXT NOT NULL CHECK (status IN ('paid', 'pending')),
	payment_id TEXT UNIQUE,
	order_id   TEXT REFERENCES payment_orders(id),
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_fee_records_student ON fee_records (student_id);

CREATE TABLE IF NOT EXISTS applications (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	email      TEXT NOT NULL,
	phone      TEXT NOT NULL DEFAULT '',
	course     TEXT NOT NULL DEFAULT '',
	message    TEXT,
	status     TEXT NOT NULL DEFAULT 'pending',
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// Migrate creates the academy tables when missing.
func Migrate(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, schema)
	return err
}
