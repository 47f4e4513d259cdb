package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/loykin/mcmanager/internal/history"
)

// Sink appends events to a MergeTree table over the native protocol.
type Sink struct {
	conn  driver.Conn
	table string
}

type eventRow struct {
	Type       string    `ch:"type"`
	OccurredAt time.Time `ch:"occurred_at"`
	Server     string    `ch:"server"`
	PID        uint32    `ch:"pid"`
	Detail     string    `ch:"detail"`
}

// New connects to addr (host:port) as the default user and creates table
// when it is missing.
func New(addr, table string) (*Sink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr:        []string{addr},
		Auth:        clickhouse.Auth{Database: "default", Username: "default"},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse open %s: %w", addr, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("clickhouse ping %s: %w", addr, err)
	}
	s := &Sink{conn: conn, table: table}
	if err := s.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+table+` (
			type LowCardinality(String),
			occurred_at DateTime64(6, 'UTC'),
			server LowCardinality(String),
			pid UInt32,
			detail String
		) ENGINE = MergeTree()
		PARTITION BY toYYYYMM(occurred_at)
		ORDER BY (server, occurred_at)`); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("clickhouse create %s: %w", table, err)
	}
	return s, nil
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	err := s.conn.Exec(ctx,
		`INSERT INTO `+s.table+` (type, occurred_at, server, pid, detail) VALUES (?, ?, ?, ?, ?)`,
		string(e.Type), e.OccurredAt.UTC(), e.Server, uint32(max(e.PID, 0)), e.Detail)
	if err != nil {
		return fmt.Errorf("clickhouse insert %s: %w", e.Type, err)
	}
	return nil
}

// Recent returns up to limit events, newest first. An empty server
// matches every server.
func (s *Sink) Recent(ctx context.Context, server string, limit int) ([]history.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []eventRow
	err := s.conn.Select(ctx, &rows, `
		SELECT type, occurred_at, server, pid, detail FROM `+s.table+`
		WHERE (? = '' OR server = ?)
		ORDER BY occurred_at DESC
		LIMIT ?`, server, server, limit)
	if err != nil {
		return nil, err
	}
	out := make([]history.Event, 0, len(rows))
	for _, r := range rows {
		out = append(out, history.Event{
			Type:       history.EventType(r.Type),
			OccurredAt: r.OccurredAt.UTC(),
			Server:     r.Server,
			PID:        int(r.PID),
			Detail:     r.Detail,
		})
	}
	return out, nil
}

// Count returns how many events are stored for server.
func (s *Sink) Count(ctx context.Context, server string) (uint64, error) {
	var n uint64
	err := s.conn.QueryRow(ctx, `SELECT count() FROM `+s.table+` WHERE server = ?`, server).Scan(&n)
	return n, err
}

func (s *Sink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
