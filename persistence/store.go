package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/EvnyaGH/NewsAICopy/logger"
	"github.com/EvnyaGH/NewsAICopy/retry"
	"github.com/EvnyaGH/NewsAICopy/types"
)

const (
	DefaultTable = "arxiv_papers"

	// maxBindParams is the PostgreSQL limit on parameters per statement.
	maxBindParams = 65535
)

// DB is the part of *pgxpool.Pool the store uses.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Connect creates a connection pool. Connections are opened lazily, so an
// unreachable server surfaces on first use where it can be retried.
func Connect(ctx context.Context, connString string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("invalid postgres url: %w", err)
	}
	cfg.MaxConns = 4
	cfg.ConnConfig.RuntimeParams["application_name"] = "arxiv-ingestor"

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	return pool, nil
}

// Options configures a Store
type Options struct {
	Table               string
	Policy              retry.Policy
	StatementTimeout    time.Duration
	SkipSchemaBootstrap bool
}

// Store writes papers with idempotent, all-or-nothing upserts.
type Store struct {
	db          DB
	table       string
	policy      retry.Policy
	timeout     time.Duration
	skipSchema  bool
	schemaReady bool
	dedup       *Deduplicator
	logger      *logger.Logger
}

// NewStore creates a Store on db.
func NewStore(db DB, opts Options, log *logger.Logger) *Store {
	if opts.Table == "" {
		opts.Table = DefaultTable
	}
	if opts.Policy.MaxAttempts == 0 {
		opts.Policy = retry.DefaultPolicy()
	}
	return &Store{
		db:         db,
		table:      opts.Table,
		policy:     opts.Policy,
		timeout:    opts.StatementTimeout,
		skipSchema: opts.SkipSchemaBootstrap,
		dedup:      NewDeduplicator(log),
		logger:     log,
	}
}

// SaveResult summarizes one SavePapers call
type SaveResult struct {
	Requested  int                `json:"requested"`
	Written    int                `json:"written"`
	Attempts   int                `json:"attempts"`
	Statements int                `json:"statements"`
	Dedup      DeduplicationStats `json:"dedup"`
	Duration   time.Duration      `json:"duration"`
}

// SavePapers upserts records keyed on (arxiv_id, version) in one transaction.
// Transient failures are retried according to the store's policy; other
// failures roll back and return immediately.
func (s *Store) SavePapers(ctx context.Context, records []types.Record) (SaveResult, error) {
	started := time.Now()
	result := SaveResult{Requested: len(records)}

	rows := make([]PaperRow, 0, len(records))
	for _, r := range records {
		row, err := NewPaperRow(r)
		if err != nil {
			return result, fmt.Errorf("failed to build row for %q: %w", r.ID, err)
		}
		rows = append(rows, row)
	}

	rows, result.Dedup = s.dedup.Deduplicate(rows)
	if len(rows) == 0 {
		s.logger.Info("No papers to upsert")
		return result, nil
	}

	err := s.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		result.Attempts = attempt
		written, statements, err := s.saveOnce(ctx, rows)
		if err != nil {
			return err
		}
		result.Written = written
		result.Statements = statements
		return nil
	}, IsTransient, func(attempt int, delay time.Duration, err error) {
		s.logger.Warn("Transient database error, retrying", map[string]interface{}{
			"attempt":      attempt,
			"max_attempts": s.policy.MaxAttempts,
			"delay_ms":     delay.Milliseconds(),
			"error":        err.Error(),
		})
	})
	result.Duration = time.Since(started)
	if err != nil {
		return result, err
	}

	s.logger.InfoWithDuration("Papers upserted", result.Duration, map[string]interface{}{
		"table":      s.table,
		"rows":       len(rows),
		"written":    result.Written,
		"attempts":   result.Attempts,
		"statements": result.Statements,
	})
	return result, nil
}

func (s *Store) saveOnce(ctx context.Context, rows []PaperRow) (written, statements int, err error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if !s.skipSchema && !s.schemaReady {
		if err := s.EnsureSchema(ctx); err != nil {
			return 0, 0, err
		}
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("error beginning transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Warn("Error rolling back transaction", map[string]interface{}{"error": rbErr.Error()})
		}
	}()

	for _, chunk := range chunkRows(rows, maxBindParams/len(Columns)) {
		query, args := BuildUpsert(s.table, chunk)
		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return 0, 0, fmt.Errorf("upsert into %s failed: %w", s.table, err)
		}
		written += int(tag.RowsAffected())
		statements++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("error committing transaction: %w", err)
	}
	return written, statements, nil
}

// EnsureSchema creates the papers table and its unique key when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, CreateTableSQL(s.table)); err != nil {
		return fmt.Errorf("error creating %s table: %w", s.table, err)
	}
	s.schemaReady = true
	return nil
}

// BuildUpsert renders one multi-row INSERT ... ON CONFLICT (arxiv_id, version)
// DO UPDATE statement that overwrites every non-key column.
func BuildUpsert(table string, rows []PaperRow) (string, []any) {
	var b strings.Builder
	args := make([]any, 0, len(rows)*len(Columns))

	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", quoteTable(table), strings.Join(Columns, ", "))
	for i, row := range rows {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j := range Columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", len(args)+j+1)
		}
		b.WriteByte(')')
		args = append(args, row.Args()...)
	}

	b.WriteString(" ON CONFLICT (arxiv_id, version) DO UPDATE SET ")
	for i, col := range Columns[2:] {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s = EXCLUDED.%s", col, col)
	}
	b.WriteString(", ingested_at = now()")

	return b.String(), args
}

// CreateTableSQL returns the DDL for the papers table.
func CreateTableSQL(table string) string {
	constraint := pgx.Identifier{lastPart(table) + "_arxiv_id_version_key"}.Sanitize()
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id SERIAL PRIMARY KEY,
	arxiv_id TEXT NOT NULL,
	version INTEGER NOT NULL,
	title TEXT,
	authors JSONB,
	affiliations JSONB,
	published_at TIMESTAMPTZ,
	updated_at TIMESTAMPTZ,
	journal_ref TEXT,
	doi TEXT,
	primary_category TEXT,
	categories JSONB,
	abstract TEXT,
	comment TEXT,
	abs_url TEXT,
	pdf_url TEXT,
	links JSONB,
	file_path TEXT,
	meta_json JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	ingested_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	CONSTRAINT %s UNIQUE (arxiv_id, version)
)`, quoteTable(table), constraint)
}

func chunkRows(rows []PaperRow, size int) [][]PaperRow {
	if size < 1 {
		size = 1
	}
	var chunks [][]PaperRow
	for start := 0; start < len(rows); start += size {
		end := start + size
		if end > len(rows) {
			end = len(rows)
		}
		chunks = append(chunks, rows[start:end])
	}
	return chunks
}

func quoteTable(table string) string {
	return pgx.Identifier(strings.Split(table, ".")).Sanitize()
}

func lastPart(table string) string {
	parts := strings.Split(table, ".")
	return parts[len(parts)-1]
}
