package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"voiceai/internal/domain"
)

var usageMigrations = []Migration{
	{
		Version:     1,
		Description: "create usage table",
		Up: func(ctx context.Context, tx *sql.Tx) error {
			_, err := tx.ExecContext(ctx, `
				CREATE TABLE IF NOT EXISTS usage (
					id                INTEGER PRIMARY KEY AUTOINCREMENT,
					prompt_tokens     INTEGER NOT NULL CHECK (prompt_tokens >= 0),
					completion_tokens INTEGER NOT NULL CHECK (completion_tokens >= 0),
					total_tokens      INTEGER NOT NULL CHECK (total_tokens >= 0),
					timestamp         INTEGER NOT NULL,
					model             TEXT    NOT NULL DEFAULT ''
				);
				CREATE INDEX IF NOT EXISTS idx_usage_timestamp ON usage(timestamp);
			`)
			return err
		},
	},
}

// UsageLog is the append-only record of token usage. Records are never
// updated or deleted.
type UsageLog struct {
	db  *DB
	now func() time.Time

	mu       sync.Mutex
	watchers map[chan []domain.UsageRecord]struct{}
}

type UsageOption func(*UsageLog)

func WithClock(now func() time.Time) UsageOption {
	return func(l *UsageLog) {
		l.now = now
	}
}

func NewUsageLog(ctx context.Context, db *DB, opts ...UsageOption) (*UsageLog, error) {
	if err := db.Migrate(ctx, "usage", usageMigrations); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStorage, err)
	}

	l := &UsageLog{
		db:       db,
		now:      time.Now,
		watchers: make(map[chan []domain.UsageRecord]struct{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Append stores one usage event with a fresh id and the current timestamp.
func (l *UsageLog) Append(ctx context.Context, model string, usage domain.UsageCounts) (domain.UsageRecord, error) {
	if !usage.Consistent() {
		return domain.UsageRecord{}, fmt.Errorf("invalid usage counters %+v", usage)
	}

	record := domain.UsageRecord{
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		TotalTokens:      usage.TotalTokens,
		Timestamp:        l.now().UnixMilli(),
		Model:            model,
	}

	err := l.db.Tx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO usage (prompt_tokens, completion_tokens, total_tokens, timestamp, model)
			 VALUES (?, ?, ?, ?, ?)`,
			record.PromptTokens, record.CompletionTokens, record.TotalTokens, record.Timestamp, record.Model,
		)
		if err != nil {
			return err
		}
		record.ID, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return domain.UsageRecord{}, fmt.Errorf("%w: appending usage: %w", domain.ErrStorage, err)
	}

	l.notify(ctx)

	return record, nil
}

// List returns every record, newest first. Records sharing a timestamp are
// ordered by insertion, latest first.
func (l *UsageLog) List(ctx context.Context) ([]domain.UsageRecord, error) {
	return l.query(ctx, -1)
}

// Recent returns at most limit records, newest first.
func (l *UsageLog) Recent(ctx context.Context, limit int) ([]domain.UsageRecord, error) {
	if limit <= 0 {
		return l.List(ctx)
	}
	return l.query(ctx, limit)
}

func (l *UsageLog) query(ctx context.Context, limit int) ([]domain.UsageRecord, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT id, prompt_tokens, completion_tokens, total_tokens, timestamp, model
		 FROM usage
		 ORDER BY timestamp DESC, id DESC
		 LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: listing usage: %w", domain.ErrStorage, err)
	}
	defer rows.Close()

	records := []domain.UsageRecord{}
	for rows.Next() {
		var r domain.UsageRecord
		if err := rows.Scan(&r.ID, &r.PromptTokens, &r.CompletionTokens, &r.TotalTokens, &r.Timestamp, &r.Model); err != nil {
			return nil, fmt.Errorf("%w: scanning usage: %w", domain.ErrStorage, err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: listing usage: %w", domain.ErrStorage, err)
	}
	return records, nil
}

func (l *UsageLog) Totals(ctx context.Context) (domain.UsageTotals, error) {
	var t domain.UsageTotals
	err := l.db.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(prompt_tokens), 0),
		        COALESCE(SUM(completion_tokens), 0),
		        COALESCE(SUM(total_tokens), 0)
		 FROM usage`,
	).Scan(&t.Requests, &t.PromptTokens, &t.CompletionTokens, &t.TotalTokens)
	if err != nil {
		return domain.UsageTotals{}, fmt.Errorf("%w: summing usage: %w", domain.ErrStorage, err)
	}
	return t, nil
}

// Watch emits the current list immediately and again after every append,
// until ctx is done. Slow readers only ever see the latest snapshot.
func (l *UsageLog) Watch(ctx context.Context) (<-chan []domain.UsageRecord, error) {
	initial, err := l.List(ctx)
	if err != nil {
		return nil, err
	}

	ch := make(chan []domain.UsageRecord, 1)
	ch <- initial

	l.mu.Lock()
	l.watchers[ch] = struct{}{}
	l.mu.Unlock()

	go func() {
		<-ctx.Done()
		l.mu.Lock()
		delete(l.watchers, ch)
		close(ch)
		l.mu.Unlock()
	}()

	return ch, nil
}

func (l *UsageLog) notify(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.watchers) == 0 {
		return
	}

	snapshot, err := l.List(ctx)
	if err != nil {
		return
	}

	for ch := range l.watchers {
		select {
		case <-ch:
		default:
		}
		ch <- append([]domain.UsageRecord(nil), snapshot...)
	}
}
