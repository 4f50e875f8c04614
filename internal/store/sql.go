package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/drblury/bifrost/internal/runtime/jsoncodec"
)

const columns = `created_at, source, model, log_hash, log_size_bytes, log_lines, log_content,
	response, response_size_bytes, duration_seconds, prompt_template, prompt_version,
	config, tags, service_name, environment, tokens_used, status, error_message`

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

func (d dialect) String() string {
	if d == dialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// SQL stores records in SQLite or PostgreSQL through database/sql.
type SQL struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

// OpenSQLite opens (creating if needed) the database file. ":memory:" keeps
// the database in process.
func OpenSQLite(ctx context.Context, file string) (*SQL, error) {
	if file == "" {
		file = "bifrost.db"
	}
	db, err := sql.Open("sqlite3", file+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return newSQL(ctx, db, dialectSQLite)
}

// OpenPostgres connects with a postgres:// URL or key=value DSN.
func OpenPostgres(ctx context.Context, dsn string) (*SQL, error) {
	if dsn == "" {
		return nil, errors.New("store: postgres url is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL database: %w", err)
	}
	return newSQL(ctx, db, dialectPostgres)
}

func newSQL(ctx context.Context, db *sql.DB, d dialect) (*SQL, error) {
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	if err := migrateUp(ctx, db, d); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQL{db: db, dialect: d, now: time.Now}, nil
}

func (s *SQL) placeholders(n int) string {
	out := make([]byte, 0, n*4)
	for i := 1; i <= n; i++ {
		if i > 1 {
			out = append(out, ", "...)
		}
		if s.dialect == dialectPostgres {
			out = fmt.Appendf(out, "$%d", i)
		} else {
			out = append(out, '?')
		}
	}
	return string(out)
}

func (s *SQL) param(n int) string {
	if s.dialect == dialectPostgres {
		return fmt.Sprintf("$%d", n)
	}
	return "?"
}

// SaveAnalysis inserts one record and returns its id.
func (s *SQL) SaveAnalysis(ctx context.Context, a Analysis) (int64, error) {
	r := newRecord(a, s.now())

	cfgJSON, err := jsoncodec.Marshal(r.Config)
	if err != nil {
		return 0, fmt.Errorf("store: encode config: %w", err)
	}
	var tags any
	if s.dialect == dialectPostgres {
		tags = pq.Array(r.Tags)
	} else {
		encoded, err := jsoncodec.Marshal(r.Tags)
		if err != nil {
			return 0, fmt.Errorf("store: encode tags: %w", err)
		}
		tags = string(encoded)
	}

	args := []any{
		r.CreatedAt, r.Source, r.Model, r.LogHash, r.LogSizeBytes, r.LogLines, r.LogContent,
		r.Response, r.ResponseSizeBytes, r.DurationSeconds, r.PromptTemplate, r.PromptVersion,
		string(cfgJSON), tags, nullString(r.ServiceName), nullString(r.Environment),
		nullInt(r.TokensUsed), r.Status, nullString(r.ErrorMessage),
	}
	query := "INSERT INTO analysis_results (" + columns + ") VALUES (" + s.placeholders(len(args)) + ")"

	if s.dialect == dialectPostgres {
		var id int64
		if err := s.db.QueryRowContext(ctx, query+" RETURNING id", args...).Scan(&id); err != nil {
			return 0, fmt.Errorf("store: insert analysis: %w", err)
		}
		return id, nil
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("store: insert analysis: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: read inserted id: %w", err)
	}
	return id, nil
}

// GetAnalysis loads one record by id.
func (s *SQL) GetAnalysis(ctx context.Context, id int64) (*Record, error) {
	query := "SELECT id, " + columns + " FROM analysis_results WHERE id = " + s.param(1)

	var (
		r        Record
		cfgRaw   string
		tagsJSON string
		tagsArr  pq.StringArray
		service  sql.NullString
		env      sql.NullString
		tokens   sql.NullInt64
		errMsg   sql.NullString
		tagsDest any = &tagsJSON
	)
	if s.dialect == dialectPostgres {
		tagsDest = &tagsArr
	}

	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&r.ID, &r.CreatedAt, &r.Source, &r.Model, &r.LogHash, &r.LogSizeBytes, &r.LogLines, &r.LogContent,
		&r.Response, &r.ResponseSizeBytes, &r.DurationSeconds, &r.PromptTemplate, &r.PromptVersion,
		&cfgRaw, tagsDest, &service, &env, &tokens, &r.Status, &errMsg,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: load analysis %d: %w", id, err)
	}

	if err := jsoncodec.Unmarshal([]byte(cfgRaw), &r.Config); err != nil {
		return nil, fmt.Errorf("store: decode config: %w", err)
	}
	if s.dialect == dialectPostgres {
		r.Tags = []string(tagsArr)
	} else if err := jsoncodec.Unmarshal([]byte(tagsJSON), &r.Tags); err != nil {
		return nil, fmt.Errorf("store: decode tags: %w", err)
	}
	r.ServiceName = service.String
	r.Environment = env.String
	r.ErrorMessage = errMsg.String
	if tokens.Valid {
		n := int(tokens.Int64)
		r.TokensUsed = &n
	}
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}

// Close closes the database handle.
func (s *SQL) Close() error {
	return s.db.Close()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n *int) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*n), Valid: true}
}
