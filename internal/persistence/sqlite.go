package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // pure-Go SQLite driver (no CGO required)

	"sentinel/internal/model"
)

var migrations = []struct {
	version int
	sql     string
}{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_versions (
    version     INTEGER PRIMARY KEY,
    applied_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS raw_events (
    id          TEXT PRIMARY KEY,
    event_type  TEXT NOT NULL,
    producer    TEXT NOT NULL,
    ts          INTEGER NOT NULL,
    mcp_tag     TEXT NOT NULL DEFAULT '',
    payload     TEXT NOT NULL,
    created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_raw_events_ts ON raw_events(ts DESC);
CREATE INDEX IF NOT EXISTS idx_raw_events_mcp_tag ON raw_events(mcp_tag);

CREATE TABLE IF NOT EXISTS rpc_events (
    raw_event_id TEXT PRIMARY KEY REFERENCES raw_events(id) ON DELETE CASCADE,
    task         TEXT NOT NULL DEFAULT '',
    method       TEXT NOT NULL DEFAULT '',
    params       TEXT NOT NULL DEFAULT '',
    result       TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS file_events (
    raw_event_id TEXT PRIMARY KEY REFERENCES raw_events(id) ON DELETE CASCADE,
    payload      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS process_events (
    raw_event_id TEXT PRIMARY KEY REFERENCES raw_events(id) ON DELETE CASCADE,
    payload      TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS tool_catalog (
    mcp_tag      TEXT NOT NULL,
    producer     TEXT NOT NULL,
    tool_slug    TEXT NOT NULL,
    title        TEXT NOT NULL DEFAULT '',
    description  TEXT NOT NULL DEFAULT '',
    input_schema TEXT NOT NULL DEFAULT '',
    annotations  TEXT NOT NULL DEFAULT '',
    created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (mcp_tag, producer, tool_slug)
);

CREATE TABLE IF NOT EXISTS engine_results (
    id           TEXT PRIMARY KEY,
    raw_event_id TEXT NOT NULL DEFAULT '',
    server_name  TEXT NOT NULL DEFAULT '',
    producer     TEXT NOT NULL DEFAULT '',
    detector     TEXT NOT NULL,
    severity     TEXT NOT NULL,
    evaluation   INTEGER NOT NULL DEFAULT 0,
    findings     TEXT NOT NULL DEFAULT '[]',
    event_type   TEXT NOT NULL DEFAULT '',
    analysis_text TEXT NOT NULL DEFAULT '',
    created_at   DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_engine_results_created_at ON engine_results(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_engine_results_detector    ON engine_results(detector);
CREATE INDEX IF NOT EXISTS idx_engine_results_severity    ON engine_results(severity);
`,
	},
}

// sqliteStore is the SQLite-backed implementation of Store.
type sqliteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path and
// runs all pending schema migrations. Pass ":memory:" for an in-memory store.
func NewSQLiteStore(path string) (Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	s := &sqliteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *sqliteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_versions (
        version    INTEGER PRIMARY KEY,
        applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
    )`)
	if err != nil {
		return fmt.Errorf("create schema_versions: %w", err)
	}

	for _, m := range migrations {
		var count int
		err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_versions WHERE version = ?`, m.version).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %d: %w", m.version, err)
		}
		if count > 0 {
			continue
		}

		if _, err := s.db.Exec(m.sql); err != nil {
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_versions(version) VALUES(?)`, m.version); err != nil {
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
	}
	return nil
}

func (s *sqliteStore) Close() error { return s.db.Close() }

func (s *sqliteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// ─── Raw / typed events ──────────────────────────────────────────────────

func (s *sqliteStore) InsertRawEvent(ctx context.Context, event *model.Event) (string, error) {
	id := uuid.NewString()
	payload, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO raw_events(id, event_type, producer, ts, mcp_tag, payload)
        VALUES(?,?,?,?,?,?)
    `, id, string(event.EventType), string(event.Producer), event.Ts, event.McpTag, string(payload))
	if err != nil {
		return "", fmt.Errorf("insert raw event: %w", err)
	}
	return id, nil
}

func (s *sqliteStore) InsertRPCEvent(ctx context.Context, event *model.Event, rawEventID string) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO rpc_events(raw_event_id, task, method, params, result)
        VALUES(?,?,?,?,?)
        ON CONFLICT(raw_event_id) DO NOTHING
    `, rawEventID, event.Data.Task, event.Data.Message.Method,
		string(event.Data.Message.Params), string(event.Data.Message.Result))
	if err != nil {
		return fmt.Errorf("insert rpc event: %w", err)
	}
	return nil
}

func (s *sqliteStore) InsertFileEvent(ctx context.Context, event *model.Event, rawEventID string) error {
	payload, _ := json.Marshal(event.Data)
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO file_events(raw_event_id, payload) VALUES(?,?)
        ON CONFLICT(raw_event_id) DO NOTHING
    `, rawEventID, string(payload))
	if err != nil {
		return fmt.Errorf("insert file event: %w", err)
	}
	return nil
}

func (s *sqliteStore) InsertProcessEvent(ctx context.Context, event *model.Event, rawEventID string) error {
	payload, _ := json.Marshal(event.Data)
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO process_events(raw_event_id, payload) VALUES(?,?)
        ON CONFLICT(raw_event_id) DO NOTHING
    `, rawEventID, string(payload))
	if err != nil {
		return fmt.Errorf("insert process event: %w", err)
	}
	return nil
}

// ─── Tool catalog ─────────────────────────────────────────────────────────

func (s *sqliteStore) InsertToolCatalog(ctx context.Context, descriptors []model.ToolDescriptor) ([]model.ToolDescriptor, error) {
	if len(descriptors) == 0 {
		return nil, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var inserted []model.ToolDescriptor
	for _, d := range descriptors {
		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM tool_catalog WHERE mcp_tag=? AND producer=? AND tool_slug=?`,
			d.McpTag, string(d.Producer), d.ToolSlug,
		).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("check tool_catalog: %w", err)
		}
		if exists > 0 {
			continue
		}

		_, err = tx.ExecContext(ctx, `
            INSERT INTO tool_catalog(mcp_tag, producer, tool_slug, title, description, input_schema, annotations)
            VALUES(?,?,?,?,?,?,?)
        `, d.McpTag, string(d.Producer), d.ToolSlug, d.Title, d.Description,
			string(d.InputSchema), string(d.Annotations))
		if err != nil {
			return nil, fmt.Errorf("insert tool_catalog: %w", err)
		}
		inserted = append(inserted, d)
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return inserted, nil
}

func (s *sqliteStore) QueryToolsBy(ctx context.Context, mcpTag string, producer model.Producer) ([]model.ToolDescriptor, error) {
	rows, err := s.db.QueryContext(ctx, `
        SELECT mcp_tag, producer, tool_slug, title, description, input_schema, annotations
        FROM tool_catalog WHERE mcp_tag=? AND producer=?
    `, mcpTag, string(producer))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.ToolDescriptor
	for rows.Next() {
		var d model.ToolDescriptor
		var producerStr, inputSchema, annotations string
		if err := rows.Scan(&d.McpTag, &producerStr, &d.ToolSlug, &d.Title, &d.Description, &inputSchema, &annotations); err != nil {
			return nil, err
		}
		d.Producer = model.Producer(producerStr)
		d.InputSchema = json.RawMessage(inputSchema)
		d.Annotations = json.RawMessage(annotations)
		result = append(result, d)
	}
	return result, rows.Err()
}

// ─── Engine results ───────────────────────────────────────────────────────

func (s *sqliteStore) InsertEngineResult(ctx context.Context, result *model.Result, rawEventID, serverName string, producer model.Producer) (string, error) {
	if result == nil || result.Severity == model.SeverityNone {
		return "", nil
	}

	id := uuid.NewString()
	findings, err := json.Marshal(result.Findings)
	if err != nil {
		return "", fmt.Errorf("marshal findings: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
        INSERT INTO engine_results(id, raw_event_id, server_name, producer, detector, severity, evaluation, findings, event_type, analysis_text)
        VALUES(?,?,?,?,?,?,?,?,?,?)
    `, id, rawEventID, serverName, string(producer), result.Detector, string(result.Severity),
		result.Evaluation, string(findings), string(result.EventType), result.AnalysisText)
	if err != nil {
		return "", fmt.Errorf("insert engine result: %w", err)
	}
	return id, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────

// parseTime handles multiple SQLite datetime formats.
func parseTime(s string) (time.Time, error) {
	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05Z07:00",
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}
	for _, l := range layouts {
		if t, err := time.Parse(l, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse time %q", s)
}
