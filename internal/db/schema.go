package db

import (
	"database/sql"
	"fmt"
)

// schema is the full database schema.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id            INTEGER PRIMARY KEY,
    email         TEXT NOT NULL COLLATE NOCASE,
    name          TEXT NOT NULL DEFAULT '',
    password_hash TEXT NOT NULL,
    role          TEXT NOT NULL DEFAULT 'employee' CHECK (role IN ('admin', 'manager', 'employee')),
    active        INTEGER NOT NULL DEFAULT 1,
    failsafe      INTEGER NOT NULL DEFAULT 0,
    created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    deleted_at    DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email_active
    ON users(email COLLATE NOCASE) WHERE deleted_at IS NULL;

CREATE UNIQUE INDEX IF NOT EXISTS idx_users_failsafe
    ON users(failsafe) WHERE failsafe = 1;

CREATE TABLE IF NOT EXISTS products (
    id             TEXT PRIMARY KEY,
    seq            INTEGER NOT NULL UNIQUE,
    name           TEXT NOT NULL,
    description    TEXT,
    sku            TEXT,
    category       TEXT,
    quantity       INTEGER NOT NULL DEFAULT 0 CHECK (quantity >= 0),
    min_stock      INTEGER NOT NULL DEFAULT 0 CHECK (min_stock >= 0),
    max_stock      INTEGER NOT NULL DEFAULT 0 CHECK (max_stock >= 0),
    last_restocked DATETIME,
    created_by     INTEGER REFERENCES users(id),
    created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS counters (
    name  TEXT PRIMARY KEY,
    value INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS handovers (
    id                   INTEGER PRIMARY KEY,
    product_id           TEXT NOT NULL REFERENCES products(id) ON DELETE CASCADE,
    employee_id          INTEGER NOT NULL REFERENCES users(id),
    quantity             INTEGER NOT NULL CHECK (quantity > 0),
    returned_quantity    INTEGER NOT NULL DEFAULT 0 CHECK (returned_quantity >= 0),
    status               TEXT NOT NULL CHECK (status IN ('pending', 'handed_over', 'returned', 'rejected')),
    purpose              TEXT,
    notes                TEXT,
    approval_notes       TEXT,
    return_notes         TEXT,
    rejection_reason     TEXT,
    requested_by         INTEGER REFERENCES users(id),
    handed_over_by       INTEGER REFERENCES users(id),
    returned_by          INTEGER REFERENCES users(id),
    rejected_by          INTEGER REFERENCES users(id),
    hand_over_date       DATETIME,
    expected_return_date DATETIME,
    actual_return_date   DATETIME,
    rejected_at          DATETIME,
    created_at           DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at           DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    CHECK (returned_quantity <= quantity)
);

CREATE INDEX IF NOT EXISTS idx_handovers_status ON handovers(status, created_at);
CREATE INDEX IF NOT EXISTS idx_handovers_employee ON handovers(employee_id, created_at);
CREATE INDEX IF NOT EXISTS idx_handovers_product ON handovers(product_id, created_at);

CREATE TABLE IF NOT EXISTS settings (
    key   TEXT PRIMARY KEY,
    value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS revoked_tokens (
    jti        TEXT PRIMARY KEY,
    expires_at DATETIME NOT NULL
);
`

// EnsureSchema creates all tables and indexes if they don't already exist.
func EnsureSchema(db *sql.DB) error {
	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}
