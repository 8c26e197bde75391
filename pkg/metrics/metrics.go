package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/pario-ai/stagegate/pkg/models"
)

// Log is the append-only event log shared by the routing policy, the
// budget enforcer and the reporting commands.
type Log interface {
	// Append stores an event. ID and CreatedAt are filled in when empty.
	Append(ctx context.Context, ev models.Event) error
	// Query returns events matching opts, newest first.
	Query(ctx context.Context, opts models.EventQueryOpts) ([]models.Event, error)
	// ApprovalCounts counts approvals and rejections of stage 2 analysis
	// for band since the given time. A zero since means all history.
	ApprovalCounts(ctx context.Context, band models.Band, since time.Time) (approvals, rejections int64, err error)
	// ApprovedTokens sums the estimated tokens of approved decisions since
	// the given time. An empty band matches every band.
	ApprovedTokens(ctx context.Context, band models.Band, since time.Time) (int64, error)
	// Stats returns event counts grouped by band and decision.
	Stats(ctx context.Context) ([]models.DecisionStat, error)
	// Close releases resources.
	Close() error
}

// SQLiteLog implements Log with a SQLite database.
type SQLiteLog struct {
	db  *sql.DB
	now func() time.Time
}

const createEventsTable = `
CREATE TABLE IF NOT EXISTS events (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	event_type TEXT NOT NULL,
	feature TEXT NOT NULL,
	decision TEXT NOT NULL,
	band TEXT NOT NULL DEFAULT '',
	complexity_score INTEGER NOT NULL DEFAULT 0,
	estimated_tokens INTEGER NOT NULL DEFAULT 0,
	recommended_pattern TEXT NOT NULL DEFAULT '',
	reason TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_band_time ON events(feature, band, created_at);
CREATE INDEX IF NOT EXISTS idx_events_time ON events(created_at);
`

// New opens the metrics database at dbPath and runs migrations.
func New(dbPath string) (*SQLiteLog, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("open metrics db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(createEventsTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate metrics db: %w", err)
	}
	return &SQLiteLog{db: db, now: time.Now}, nil
}

// Append inserts an event.
func (l *SQLiteLog) Append(ctx context.Context, ev models.Event) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = l.now()
	}
	var meta string
	if len(ev.Metadata) > 0 {
		b, err := json.Marshal(ev.Metadata)
		if err != nil {
			return fmt.Errorf("encode metadata: %w", err)
		}
		meta = string(b)
	}

	_, err := l.db.ExecContext(ctx,
		`INSERT INTO events
		(id, event_type, feature, decision, band, complexity_score, estimated_tokens,
		 recommended_pattern, reason, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.EventType, ev.Feature, string(ev.Decision), string(ev.Band),
		ev.ComplexityScore, ev.EstimatedTokens, ev.RecommendedPattern, ev.Reason,
		meta, ev.CreatedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// Query returns events matching the given options.
func (l *SQLiteLog) Query(ctx context.Context, opts models.EventQueryOpts) ([]models.Event, error) {
	q := `SELECT id, event_type, feature, decision, band, complexity_score, estimated_tokens,
		recommended_pattern, reason, metadata, created_at
		FROM events WHERE 1=1`
	var args []any

	if opts.EventType != "" {
		q += " AND event_type = ?"
		args = append(args, opts.EventType)
	}
	if opts.Feature != "" {
		q += " AND feature = ?"
		args = append(args, opts.Feature)
	}
	if opts.Decision != "" {
		q += " AND decision = ?"
		args = append(args, string(opts.Decision))
	}
	if opts.Band != "" {
		q += " AND band = ?"
		args = append(args, string(opts.Band))
	}
	if !opts.Since.IsZero() {
		q += " AND created_at >= ?"
		args = append(args, opts.Since.UnixNano())
	}
	if !opts.Until.IsZero() {
		q += " AND created_at < ?"
		args = append(args, opts.Until.UnixNano())
	}

	q += " ORDER BY created_at DESC, seq DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var e models.Event
		var decision, band, meta string
		var createdAt int64
		if err := rows.Scan(
			&e.ID, &e.EventType, &e.Feature, &decision, &band,
			&e.ComplexityScore, &e.EstimatedTokens, &e.RecommendedPattern, &e.Reason,
			&meta, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Decision = models.Decision(decision)
		e.Band = models.Band(band)
		e.CreatedAt = time.Unix(0, createdAt)
		if meta != "" {
			if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
				logrus.WithError(err).WithField("event", e.ID).Warn("[METRICS] unreadable metadata, dropped")
				e.Metadata = nil
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ApprovalCounts counts approved and rejected stage 2 outcomes for band.
func (l *SQLiteLog) ApprovalCounts(ctx context.Context, band models.Band, since time.Time) (int64, int64, error) {
	var approvals, rejections int64
	err := l.db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN decision IN (?, ?) THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN decision = ? THEN 1 ELSE 0 END), 0)
		 FROM events
		 WHERE feature = ? AND band = ? AND created_at >= ?`,
		string(models.DecisionAutoApprove), string(models.DecisionUserApprove),
		string(models.DecisionUserReject),
		models.FeatureStage2, string(band), sinceNanos(since),
	).Scan(&approvals, &rejections)
	if err != nil {
		return 0, 0, fmt.Errorf("approval counts: %w", err)
	}
	return approvals, rejections, nil
}

// ApprovedTokens sums estimated tokens of auto-approved decisions.
func (l *SQLiteLog) ApprovedTokens(ctx context.Context, band models.Band, since time.Time) (int64, error) {
	q := `SELECT COALESCE(SUM(estimated_tokens), 0) FROM events
		WHERE event_type = ? AND decision = ? AND created_at >= ?`
	args := []any{models.EventRoutingDecision, string(models.DecisionAutoApprove), sinceNanos(since)}
	if band != "" {
		q += " AND band = ?"
		args = append(args, string(band))
	}

	var total int64
	if err := l.db.QueryRowContext(ctx, q, args...).Scan(&total); err != nil {
		return 0, fmt.Errorf("approved tokens: %w", err)
	}
	return total, nil
}

// Stats returns event counts grouped by band and decision.
func (l *SQLiteLog) Stats(ctx context.Context) ([]models.DecisionStat, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT band, decision, count(*) FROM events
		 GROUP BY band, decision ORDER BY band, decision`)
	if err != nil {
		return nil, fmt.Errorf("decision stats: %w", err)
	}
	defer rows.Close()

	var stats []models.DecisionStat
	for rows.Next() {
		var s models.DecisionStat
		var band, decision string
		if err := rows.Scan(&band, &decision, &s.Count); err != nil {
			return nil, fmt.Errorf("scan decision stat: %w", err)
		}
		s.Band = models.Band(band)
		s.Decision = models.Decision(decision)
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Close releases the database connection.
func (l *SQLiteLog) Close() error {
	return l.db.Close()
}

func sinceNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}
