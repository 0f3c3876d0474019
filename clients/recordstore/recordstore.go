package recordstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"flowsentry/config"
)

// Alert record statuses.
const (
	StatusAccepted = "accepted"
	StatusRejected = "rejected"
)

// AlertRecord is one persisted alert decision. Accepted records count against
// the per-window caps and drive the cooldown; rejected records keep the audit
// trail with the rejection reason in Notes.
type AlertRecord struct {
	ID          string     `db:"id"`
	Instrument  string     `db:"instrument"`
	Kind        string     `db:"kind"`
	Direction   string     `db:"direction"`
	Confidence  float64    `db:"confidence"`
	Headline    string     `db:"headline"`
	Status      string     `db:"status"`
	Notes       string     `db:"notes"`
	Payload     string     `db:"payload"`
	WindowStart time.Time  `db:"window_start"`
	ExpiresAt   *time.Time `db:"expires_at"`
	CreatedAt   time.Time  `db:"created_at"`
	UpdatedAt   time.Time  `db:"updated_at"`
}

// AlertUpdate carries the fields refreshed by an update-in-place.
type AlertUpdate struct {
	Confidence float64
	Headline   string
	Notes      string
	Payload    string
	ExpiresAt  *time.Time
}

// TraceRecord is one persisted analysis cycle outcome.
type TraceRecord struct {
	ID           string    `db:"id"`
	Instrument   string    `db:"instrument"`
	Decision     string    `db:"decision"`
	Confidence   float64   `db:"confidence"`
	Candidates   int       `db:"candidates"`
	LatencyMs    int64     `db:"latency_ms"`
	InputTokens  int       `db:"input_tokens"`
	OutputTokens int       `db:"output_tokens"`
	CostUSD      float64   `db:"cost_usd"`
	Note         string    `db:"note"`
	CreatedAt    time.Time `db:"created_at"`
}

// Store persists alert decisions and analysis traces.
type Store interface {
	InsertAlert(ctx context.Context, rec *AlertRecord) error
	UpdateAlert(ctx context.Context, id string, upd AlertUpdate) error
	// CountAlertsSince counts accepted alerts for instrument+kind created at
	// or after since.
	CountAlertsSince(ctx context.Context, instrument, kind string, since time.Time) (int, error)
	// LatestAcceptedSince returns the most recent accepted alert for
	// instrument+kind created at or after since, or nil when there is none.
	LatestAcceptedSince(ctx context.Context, instrument, kind string, since time.Time) (*AlertRecord, error)
	InsertTrace(ctx context.Context, rec *TraceRecord) error
	Close() error
}

// New returns a postgres-backed store when a DSN is configured, otherwise an
// in-memory store.
func New(logger *zap.Logger, cfg *config.Config) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Store.PostgresDSN == "" {
		logger.Info("record store: postgres not configured, using in-memory store")
		return NewMemoryStore(), nil
	}
	return NewPostgresStore(logger, cfg.Store.PostgresDSN)
}

const schema = `
CREATE TABLE IF NOT EXISTS alerts (
	id TEXT PRIMARY KEY,
	instrument TEXT NOT NULL,
	kind TEXT NOT NULL,
	direction TEXT NOT NULL DEFAULT '',
	confidence DOUBLE PRECISION NOT NULL,
	headline TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL,
	notes TEXT NOT NULL DEFAULT '',
	payload TEXT NOT NULL DEFAULT '',
	window_start TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_alerts_lookup ON alerts (instrument, kind, status, created_at DESC);

CREATE TABLE IF NOT EXISTS analysis_traces (
	id TEXT PRIMARY KEY,
	instrument TEXT NOT NULL,
	decision TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL,
	candidates INT NOT NULL DEFAULT 0,
	latency_ms BIGINT NOT NULL DEFAULT 0,
	input_tokens INT NOT NULL DEFAULT 0,
	output_tokens INT NOT NULL DEFAULT 0,
	cost_usd DOUBLE PRECISION NOT NULL DEFAULT 0,
	note TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_traces_lookup ON analysis_traces (instrument, created_at DESC);
`

// PostgresStore persists records in postgres via sqlx.
type PostgresStore struct {
	logger *zap.Logger
	db     *sqlx.DB
}

func NewPostgresStore(logger *zap.Logger, dsn string) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}

	logger.Info("record store: connected to postgres")

	return &PostgresStore{logger: logger, db: db}, nil
}

func (s *PostgresStore) InsertAlert(ctx context.Context, rec *AlertRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = rec.CreatedAt

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO alerts (
			id, instrument, kind, direction, confidence, headline,
			status, notes, payload, window_start, expires_at, created_at, updated_at
		) VALUES (
			:id, :instrument, :kind, :direction, :confidence, :headline,
			:status, :notes, :payload, :window_start, :expires_at, :created_at, :updated_at
		)`, rec)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateAlert(ctx context.Context, id string, upd AlertUpdate) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE alerts
		SET confidence = $2, headline = $3, notes = $4, payload = $5,
		    expires_at = $6, updated_at = $7
		WHERE id = $1`,
		id, upd.Confidence, upd.Headline, upd.Notes, upd.Payload, upd.ExpiresAt, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update alert: %w", err)
	}
	n, err := res.RowsAffected()
	if err == nil && n == 0 {
		return fmt.Errorf("update alert: no record with id %s", id)
	}
	return nil
}

func (s *PostgresStore) CountAlertsSince(ctx context.Context, instrument, kind string, since time.Time) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM alerts
		WHERE instrument = $1 AND kind = $2 AND status = $3 AND created_at >= $4`,
		instrument, kind, StatusAccepted, since)
	if err != nil {
		return 0, fmt.Errorf("count alerts: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) LatestAcceptedSince(ctx context.Context, instrument, kind string, since time.Time) (*AlertRecord, error) {
	var rec AlertRecord
	err := s.db.GetContext(ctx, &rec, `
		SELECT * FROM alerts
		WHERE instrument = $1 AND kind = $2 AND status = $3 AND created_at >= $4
		ORDER BY created_at DESC
		LIMIT 1`,
		instrument, kind, StatusAccepted, since)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest alert: %w", err)
	}
	return &rec, nil
}

func (s *PostgresStore) InsertTrace(ctx context.Context, rec *TraceRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO analysis_traces (
			id, instrument, decision, confidence, candidates, latency_ms,
			input_tokens, output_tokens, cost_usd, note, created_at
		) VALUES (
			:id, :instrument, :decision, :confidence, :candidates, :latency_ms,
			:input_tokens, :output_tokens, :cost_usd, :note, :created_at
		)`, rec)
	if err != nil {
		return fmt.Errorf("insert trace: %w", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// MemoryStore keeps records in memory. It backs local runs and tests where
// no postgres is available.
type MemoryStore struct {
	mu     sync.Mutex
	alerts []*AlertRecord
	traces []*TraceRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) InsertAlert(ctx context.Context, rec *AlertRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.UpdatedAt = rec.CreatedAt

	stored := *rec
	s.alerts = append(s.alerts, &stored)
	return nil
}

func (s *MemoryStore) UpdateAlert(ctx context.Context, id string, upd AlertUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.alerts {
		if rec.ID == id {
			rec.Confidence = upd.Confidence
			rec.Headline = upd.Headline
			rec.Notes = upd.Notes
			rec.Payload = upd.Payload
			rec.ExpiresAt = upd.ExpiresAt
			rec.UpdatedAt = time.Now().UTC()
			return nil
		}
	}
	return fmt.Errorf("update alert: no record with id %s", id)
}

func (s *MemoryStore) CountAlertsSince(ctx context.Context, instrument, kind string, since time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	count := 0
	for _, rec := range s.alerts {
		if rec.Instrument == instrument && rec.Kind == kind &&
			rec.Status == StatusAccepted && !rec.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) LatestAcceptedSince(ctx context.Context, instrument, kind string, since time.Time) (*AlertRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matches []*AlertRecord
	for _, rec := range s.alerts {
		if rec.Instrument == instrument && rec.Kind == kind &&
			rec.Status == StatusAccepted && !rec.CreatedAt.Before(since) {
			matches = append(matches, rec)
		}
	}
	if len(matches) == 0 {
		return nil, nil
	}
	sort.Slice(matches, func(i, j int) bool {
		return matches[i].CreatedAt.After(matches[j].CreatedAt)
	})
	latest := *matches[0]
	return &latest, nil
}

func (s *MemoryStore) InsertTrace(ctx context.Context, rec *TraceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	stored := *rec
	s.traces = append(s.traces, &stored)
	return nil
}

// Alerts returns a snapshot of stored alert records, newest last.
func (s *MemoryStore) Alerts() []AlertRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]AlertRecord, 0, len(s.alerts))
	for _, rec := range s.alerts {
		out = append(out, *rec)
	}
	return out
}

// Traces returns a snapshot of stored traces, newest last.
func (s *MemoryStore) Traces() []TraceRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TraceRecord, 0, len(s.traces))
	for _, rec := range s.traces {
		out = append(out, *rec)
	}
	return out
}

func (s *MemoryStore) Close() error {
	return nil
}
