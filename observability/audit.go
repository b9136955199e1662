package observability

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AuditEntry records one extraction call.
type AuditEntry struct {
	EntryID   string
	Timestamp time.Time
	RequestID string
	Operation string // "extract", "extract_file", "batch_item"
	Transport string // "http", "mcp", "cli", "library"

	Source      string // file path, when known
	MimeType    string
	Extractor   string
	InputBytes  int64
	OutputChars int
	CacheHit    bool

	ErrorCode    int
	ErrorKind    string
	ErrorStage   string
	ErrorMessage string
	DurationMs   int64

	Status string // "success", "error", "cancelled"
}

// AuditFilter controls query results from the audit log.
type AuditFilter struct {
	StartTime *time.Time
	EndTime   *time.Time
	MimeType  string
	Status    string
	Limit     int    // default 100
	OrderBy   string // "timestamp" or "duration_ms"
	OrderDir  string // "ASC" or "DESC"
}

// AuditLogger persists extraction audit entries asynchronously.
type AuditLogger struct {
	db     *sql.DB
	logger *slog.Logger
	ch     chan *AuditEntry
	stop   chan struct{}
	done   chan struct{}
}

// NewAuditLogger creates an async audit logger. Recommended bufferSize: 1000.
func NewAuditLogger(db *sql.DB, bufferSize int, logger *slog.Logger) *AuditLogger {
	if bufferSize <= 0 {
		bufferSize = 1000
	}
	if logger == nil {
		logger = slog.Default()
	}
	a := &AuditLogger{
		db:     db,
		logger: logger,
		ch:     make(chan *AuditEntry, bufferSize),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	go a.flushLoop()
	return a
}

// Log inserts an audit entry synchronously.
func (a *AuditLogger) Log(ctx context.Context, entry *AuditEntry) error {
	if a == nil {
		return nil
	}
	fillDefaults(entry)
	return a.insert(ctx, entry)
}

// LogAsync queues an entry for async persistence.
// Falls back to synchronous insert if the buffer is full.
func (a *AuditLogger) LogAsync(entry *AuditEntry) {
	if a == nil || entry == nil {
		return
	}
	fillDefaults(entry)
	select {
	case a.ch <- entry:
	default:
		a.logger.Warn("observability audit buffer full, sync fallback", "request_id", entry.RequestID)
		if err := a.insert(context.Background(), entry); err != nil {
			a.logger.Error("observability audit: sync fallback failed", "error", err)
		}
	}
}

// Query retrieves audit entries matching the given filter.
func (a *AuditLogger) Query(ctx context.Context, f AuditFilter) ([]*AuditEntry, error) {
	q := `SELECT entry_id, timestamp, request_id, operation, transport, source,
		mime_type, extractor, input_bytes, output_chars, cache_hit,
		error_code, error_kind, error_stage, error_message, duration_ms, status
		FROM extraction_audit WHERE 1=1`
	var args []any

	if f.StartTime != nil {
		q += " AND timestamp >= ?"
		args = append(args, f.StartTime.Unix())
	}
	if f.EndTime != nil {
		q += " AND timestamp <= ?"
		args = append(args, f.EndTime.Unix())
	}
	if f.MimeType != "" {
		q += " AND mime_type = ?"
		args = append(args, f.MimeType)
	}
	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, f.Status)
	}

	orderBy := "timestamp"
	if f.OrderBy != "" {
		switch f.OrderBy {
		case "timestamp", "duration_ms", "mime_type", "status":
			orderBy = f.OrderBy
		default:
			return nil, fmt.Errorf("invalid order_by column: %q", f.OrderBy)
		}
	}
	orderDir := "DESC"
	if f.OrderDir != "" {
		switch strings.ToUpper(f.OrderDir) {
		case "ASC", "DESC":
			orderDir = strings.ToUpper(f.OrderDir)
		default:
			return nil, fmt.Errorf("invalid order_dir: %q", f.OrderDir)
		}
	}
	q += fmt.Sprintf(" ORDER BY %s %s, rowid %s", orderBy, orderDir, orderDir)

	limit := 100
	if f.Limit > 0 {
		limit = f.Limit
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := a.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		var e AuditEntry
		var ts int64
		var cacheHit int
		if err := rows.Scan(
			&e.EntryID, &ts, &e.RequestID, &e.Operation, &e.Transport, &e.Source,
			&e.MimeType, &e.Extractor, &e.InputBytes, &e.OutputChars, &cacheHit,
			&e.ErrorCode, &e.ErrorKind, &e.ErrorStage, &e.ErrorMessage, &e.DurationMs, &e.Status,
		); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Timestamp = time.Unix(ts, 0)
		e.CacheHit = cacheHit != 0
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// Cleanup deletes audit entries older than retentionDays.
func (a *AuditLogger) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	threshold := time.Now().AddDate(0, 0, -retentionDays).Unix()
	result, err := a.db.ExecContext(ctx, "DELETE FROM extraction_audit WHERE timestamp < ?", threshold)
	if err != nil {
		return 0, fmt.Errorf("cleanup audit log: %w", err)
	}
	return result.RowsAffected()
}

// Close drains the buffer and stops the flush goroutine.
func (a *AuditLogger) Close() error {
	if a == nil {
		return nil
	}
	close(a.stop)
	<-a.done
	return nil
}

func fillDefaults(e *AuditEntry) {
	if e.EntryID == "" {
		e.EntryID = "audit_" + uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.Status == "" {
		if e.ErrorMessage != "" {
			e.Status = "error"
		} else {
			e.Status = "success"
		}
	}
}

const insertAudit = `INSERT INTO extraction_audit
	(entry_id, timestamp, request_id, operation, transport, source,
	 mime_type, extractor, input_bytes, output_chars, cache_hit,
	 error_code, error_kind, error_stage, error_message, duration_ms, status)
	VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`

func auditArgs(e *AuditEntry) []any {
	cacheHit := 0
	if e.CacheHit {
		cacheHit = 1
	}
	return []any{
		e.EntryID, e.Timestamp.Unix(), e.RequestID, e.Operation, e.Transport, e.Source,
		e.MimeType, e.Extractor, e.InputBytes, e.OutputChars, cacheHit,
		e.ErrorCode, e.ErrorKind, e.ErrorStage, e.ErrorMessage, e.DurationMs, e.Status,
	}
}

func (a *AuditLogger) flushLoop() {
	defer close(a.done)
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	batch := make([]*AuditEntry, 0, 100)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		tx, err := a.db.BeginTx(ctx, nil)
		if err != nil {
			a.logger.Error("observability audit: begin tx", "error", err)
			return
		}
		stmt, err := tx.PrepareContext(ctx, insertAudit)
		if err != nil {
			tx.Rollback()
			a.logger.Error("observability audit: prepare", "error", err)
			return
		}
		defer stmt.Close()

		for _, e := range batch {
			if _, err := stmt.ExecContext(ctx, auditArgs(e)...); err != nil {
				a.logger.Error("observability audit: insert", "error", err, "entry_id", e.EntryID)
			}
		}
		if err := tx.Commit(); err != nil {
			a.logger.Error("observability audit: commit", "error", err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-a.stop:
			for {
				select {
				case e := <-a.ch:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		case e := <-a.ch:
			batch = append(batch, e)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (a *AuditLogger) insert(ctx context.Context, e *AuditEntry) error {
	_, err := a.db.ExecContext(ctx, insertAudit, auditArgs(e)...)
	return err
}
