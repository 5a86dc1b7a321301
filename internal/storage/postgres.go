package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/org/authguard/pkg/models"
)

// PostgresBackend is a Backend backed by PostgreSQL.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend opens a pgxpool connection and returns a ready backend.
func NewPostgresBackend(ctx context.Context, connStr string) (*PostgresBackend, error) {
	cfg, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing postgres config: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return &PostgresBackend{pool: pool}, nil
}

func (p *PostgresBackend) Close() {
	p.pool.Close()
}

// --- Credential items ---

func (p *PostgresBackend) PutItem(ctx context.Context, item *models.CredentialItem) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO credential_items (key, ciphertext, nonce, expires_at, require_auth, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (key) DO UPDATE
		 SET ciphertext = EXCLUDED.ciphertext,
		     nonce = EXCLUDED.nonce,
		     expires_at = EXCLUDED.expires_at,
		     require_auth = EXCLUDED.require_auth,
		     updated_at = EXCLUDED.updated_at`,
		item.Key, item.Ciphertext, item.Nonce, item.ExpiresAt, item.RequireAuth,
		item.CreatedAt, item.UpdatedAt,
	)
	return err
}

func (p *PostgresBackend) GetItem(ctx context.Context, key string) (*models.CredentialItem, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT key, ciphertext, nonce, expires_at, require_auth, created_at, updated_at
		 FROM credential_items WHERE key = $1`,
		key,
	)
	var item models.CredentialItem
	err := row.Scan(&item.Key, &item.Ciphertext, &item.Nonce, &item.ExpiresAt,
		&item.RequireAuth, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (p *PostgresBackend) DeleteItem(ctx context.Context, key string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM credential_items WHERE key = $1`, key)
	return err
}

func (p *PostgresBackend) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT key FROM credential_items WHERE key LIKE $1 ORDER BY key`,
		prefix+"%",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

func (p *PostgresBackend) CountItems(ctx context.Context, prefix string) (int64, error) {
	var count int64
	err := p.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM credential_items WHERE key LIKE $1`,
		prefix+"%",
	).Scan(&count)
	return count, err
}

// --- Audit ---

func (p *PostgresBackend) WriteAuditEvent(ctx context.Context, e *models.AuditEvent) error {
	metaJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		metaJSON = []byte("{}")
	}
	_, err = p.pool.Exec(ctx,
		`INSERT INTO audit_log (request_id, timestamp, event_type, device_id, action, decision, reason, response_code, response_time_ms, client_ip, metadata)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		e.RequestID, e.Timestamp, e.EventType, e.DeviceID, e.Action,
		e.Decision, e.Reason, e.ResponseCode, e.ResponseTimeMs, e.ClientIP, metaJSON,
	)
	return err
}

func (p *PostgresBackend) QueryAuditLog(ctx context.Context, filter AuditFilter) ([]*models.AuditEvent, error) {
	query := strings.Builder{}
	query.WriteString(`SELECT id, request_id, timestamp, event_type, device_id, action, decision, reason, response_code, response_time_ms, client_ip, metadata FROM audit_log WHERE 1=1`)
	args := []any{}
	n := 1
	if filter.DeviceID != "" {
		fmt.Fprintf(&query, ` AND device_id = $%d`, n)
		args = append(args, filter.DeviceID)
		n++
	}
	if filter.EventType != "" {
		fmt.Fprintf(&query, ` AND event_type = $%d`, n)
		args = append(args, filter.EventType)
		n++
	}
	if filter.Since != nil {
		fmt.Fprintf(&query, ` AND timestamp >= $%d`, n)
		args = append(args, filter.Since)
		n++
	}
	query.WriteString(` ORDER BY timestamp DESC`)
	if filter.Limit > 0 {
		fmt.Fprintf(&query, ` LIMIT $%d`, n)
		args = append(args, filter.Limit)
		n++
	}
	if filter.Offset > 0 {
		fmt.Fprintf(&query, ` OFFSET $%d`, n)
		args = append(args, filter.Offset)
	}

	rows, err := p.pool.Query(ctx, query.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.AuditEvent
	for rows.Next() {
		var e models.AuditEvent
		var metaJSON []byte
		var ts time.Time
		if err := rows.Scan(&e.ID, &e.RequestID, &ts, &e.EventType, &e.DeviceID,
			&e.Action, &e.Decision, &e.Reason, &e.ResponseCode, &e.ResponseTimeMs,
			&e.ClientIP, &metaJSON); err != nil {
			return nil, err
		}
		e.Timestamp = ts
		json.Unmarshal(metaJSON, &e.Metadata) //nolint:errcheck
		events = append(events, &e)
	}
	return events, rows.Err()
}
