// Package ledger records export outcomes so repeated runs over a contract corpus can be audited.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

const (
	StatusOK          = "ok"
	StatusSyntaxError = "syntax_error"
	StatusFailed      = "failed"
)

// Entry is one export attempt.
type Entry struct {
	SourcePath string
	SourceHash string // keccak256 of the source bytes, 0x-prefixed; empty when the file could not be read
	OutputPath string
	Status     string
	Error      string
	Compiler   string
	ExportedAt time.Time
}

type Recorder interface {
	Record(ctx context.Context, e Entry) error
}

// NopRecorder discards entries.
type NopRecorder struct{}

func (NopRecorder) Record(context.Context, Entry) error { return nil }

const tableSchema = `
CREATE TABLE IF NOT EXISTS ast_exports (
    source_path VARCHAR(768) NOT NULL PRIMARY KEY COMMENT 'Absolute source path',
    source_hash CHAR(66) NULL COMMENT 'keccak256 of the source',
    output_path TEXT NULL COMMENT 'Written AST file',
    status VARCHAR(16) NOT NULL COMMENT 'ok | syntax_error | failed',
    error_text TEXT NULL COMMENT 'Failure detail',
    compiler VARCHAR(255) NULL COMMENT 'solc binary used',
    exported_at DATETIME NOT NULL COMMENT 'Last attempt',
    INDEX idx_status (status),
    INDEX idx_source_hash (source_hash)
) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci COMMENT='Solidity AST export ledger';
`

const upsertSQL = `
INSERT INTO ast_exports (source_path, source_hash, output_path, status, error_text, compiler, exported_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    source_hash = VALUES(source_hash),
    output_path = VALUES(output_path),
    status = VALUES(status),
    error_text = VALUES(error_text),
    compiler = VALUES(compiler),
    exported_at = VALUES(exported_at)`

// MySQLRecorder upserts entries into the ast_exports table, keyed by source path.
type MySQLRecorder struct {
	db *sql.DB
}

// NewMySQLRecorder 确保表存在后返回 recorder
func NewMySQLRecorder(ctx context.Context, db *sql.DB) (*MySQLRecorder, error) {
	if db == nil {
		return nil, errors.New("ledger: db is nil")
	}
	if _, err := db.ExecContext(ctx, tableSchema); err != nil {
		return nil, fmt.Errorf("ledger: create table: %w", err)
	}
	return &MySQLRecorder{db: db}, nil
}

func (r *MySQLRecorder) Record(ctx context.Context, e Entry) error {
	if e.ExportedAt.IsZero() {
		e.ExportedAt = time.Now()
	}
	_, err := r.db.ExecContext(ctx, upsertSQL,
		e.SourcePath,
		nullString(e.SourceHash),
		nullString(e.OutputPath),
		e.Status,
		nullString(e.Error),
		nullString(e.Compiler),
		e.ExportedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("ledger: record %s: %w", e.SourcePath, err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
