package ch

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"consumo/internal/models"
)

// Options configures the ClickHouse connection
type Options struct {
	Host     string
	Port     int
	Database string
	User     string
	Password string
	UseTLS   bool
	// ConnectAttempts bounds the ping retries at startup; zero means 5
	ConnectAttempts uint64
}

// Journal mirrors every recorded reading into ClickHouse for analytics
type Journal struct {
	conn   clickhouse.Conn
	logger *zap.Logger
}

// NewJournal opens the connection and waits until the server answers a ping
func NewJournal(ctx context.Context, opts Options, logger *zap.Logger) (*Journal, error) {
	options := &clickhouse.Options{
		Addr:     []string{fmt.Sprintf("%s:%d", opts.Host, opts.Port)},
		Protocol: clickhouse.Native,
		Auth: clickhouse.Auth{
			Database: opts.Database,
			Username: opts.User,
			Password: opts.Password,
		},
		DialTimeout: 10 * time.Second,
	}
	if opts.UseTLS {
		options.TLS = &tls.Config{}
	}

	conn, err := clickhouse.Open(options)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	attempts := opts.ConnectAttempts
	if attempts == 0 {
		attempts = 5
	}
	retry := backoff.NewExponentialBackOff()
	retry.InitialInterval = 500 * time.Millisecond
	retry.MaxInterval = 5 * time.Second

	ping := func() error {
		return conn.Ping(ctx)
	}
	notify := func(err error, wait time.Duration) {
		logger.Warn("ClickHouse ping failed, retrying", zap.Error(err), zap.Duration("retry_in", wait))
	}
	if err := backoff.RetryNotify(ping, backoff.WithContext(backoff.WithMaxRetries(retry, attempts), ctx), notify); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}

	return &Journal{conn: conn, logger: logger}, nil
}

// Record appends a reading. Re-recording the same (user, id) pair is collapsed by the table engine.
func (j *Journal) Record(ctx context.Context, r models.Reading) error {
	err := j.conn.Exec(ctx,
		`INSERT INTO readings (user_id, reading_id, distance, volume, price, partial, date) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.User, uint32(r.ReadingID), int32(r.Distance), r.Volume, r.Price, r.Partial, r.Date.UTC())
	if err != nil {
		return fmt.Errorf("failed to record reading: %w", err)
	}
	return nil
}

// Readings returns the journaled readings of a user ordered by id
func (j *Journal) Readings(ctx context.Context, user int64) ([]models.Reading, error) {
	rows, err := j.conn.Query(ctx,
		`SELECT user_id, reading_id, distance, volume, price, partial, date
		 FROM readings FINAL WHERE user_id = ? ORDER BY reading_id`, user)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings: %w", err)
	}
	defer rows.Close()

	var readings []models.Reading
	for rows.Next() {
		var (
			r        models.Reading
			id       uint32
			distance int32
		)
		if err := rows.Scan(&r.User, &id, &distance, &r.Volume, &r.Price, &r.Partial, &r.Date); err != nil {
			return nil, fmt.Errorf("failed to scan reading: %w", err)
		}
		r.ReadingID = int(id)
		r.Distance = int(distance)
		readings = append(readings, r)
	}
	return readings, rows.Err()
}

// Close closes the database connection
func (j *Journal) Close() error {
	if j.conn != nil {
		return j.conn.Close()
	}
	return nil
}
