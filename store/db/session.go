package db

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
)

// SessionRecord is the durable representation of a session. The payload
// holds the serialized session document; the expiry window is reset on
// every write, never on read.
type SessionRecord struct {
	ID        string
	Ticker    string
	Payload   []byte
	CreatedAt time.Time
	ExpiresAt time.Time
}

// UpsertSession writes a session record, resetting its expiry to
// now+ttl. Both inserts and updates refresh the window.
func (d *DB) UpsertSession(ctx context.Context, record *SessionRecord, ttl time.Duration) error {
	now := time.Now()
	record.ExpiresAt = now.Add(ttl)
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}

	query := `
		INSERT INTO session (id, ticker, payload, created_ts, expires_ts)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id)
		DO UPDATE SET
			payload = EXCLUDED.payload,
			expires_ts = EXCLUDED.expires_ts
	`
	_, err := d.conn.ExecContext(ctx, query,
		record.ID, record.Ticker, record.Payload, record.CreatedAt.Unix(), record.ExpiresAt.Unix())
	if err != nil {
		return errors.Wrap(err, "failed to upsert session")
	}
	return nil
}

// GetSession loads a session record by id. Expired records are treated
// as absent; nil, nil means not found.
func (d *DB) GetSession(ctx context.Context, id string) (*SessionRecord, error) {
	query := `
		SELECT id, ticker, payload, created_ts, expires_ts
		FROM session
		WHERE id = ? AND expires_ts > ?
	`

	var (
		record    SessionRecord
		createdTs int64
		expiresTs int64
	)
	err := d.conn.QueryRowContext(ctx, query, id, time.Now().Unix()).Scan(
		&record.ID, &record.Ticker, &record.Payload, &createdTs, &expiresTs,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to load session")
	}

	record.CreatedAt = time.Unix(createdTs, 0)
	record.ExpiresAt = time.Unix(expiresTs, 0)
	return &record, nil
}

// DeleteSession removes a session record. Deleting a missing record is
// not an error.
func (d *DB) DeleteSession(ctx context.Context, id string) error {
	if _, err := d.conn.ExecContext(ctx, `DELETE FROM session WHERE id = ?`, id); err != nil {
		return errors.Wrap(err, "failed to delete session")
	}
	return nil
}

// DeleteExpiredSessions removes records whose expiry has passed and
// returns the number of rows dropped.
func (d *DB) DeleteExpiredSessions(ctx context.Context) (int64, error) {
	result, err := d.conn.ExecContext(ctx, `DELETE FROM session WHERE expires_ts <= ?`, time.Now().Unix())
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete expired sessions")
	}
	return result.RowsAffected()
}
