package syncqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/halcyonbio/biosync-core/internal/infrastructure/database"
)

// syncOrder ranks rows the way the sync engine drains them: highest
// priority first, oldest first within a priority.
const syncOrder = `
	CASE priority
		WHEN 'critical' THEN 3
		WHEN 'high' THEN 2
		WHEN 'normal' THEN 1
		ELSE 0
	END DESC,
	created_at ASC,
	id ASC`

const itemColumns = `id, kind, payload, device_id, user_id, priority, status,
	attempt_count, last_attempt_at, error, remote_response, force_overwrite,
	created_at`

// SQLiteStore is the durable Store implementation backed by the embedded
// SQLite database. Every write is a single statement, so each item change
// commits atomically.
type SQLiteStore struct {
	db *database.DB
}

// NewSQLiteStore creates a store on an open database. The schema comes
// from the embedded migrations, applied at startup.
func NewSQLiteStore(db *database.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Add persists a new item.
func (s *SQLiteStore) Add(ctx context.Context, item *Item) error {
	if err := validate(item); err != nil {
		return err
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	if item.Priority == "" {
		item.Priority = PriorityNormal
	}
	if item.Status == "" {
		item.Status = StatusPending
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_items (
			id, kind, payload, device_id, user_id, priority, status,
			attempt_count, last_attempt_at, error, remote_response,
			force_overwrite, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, string(item.Kind), string(item.Payload), item.DeviceID,
		item.UserID, string(item.Priority), string(item.Status),
		item.AttemptCount, encodeTimePtr(item.LastAttemptAt), item.Error,
		item.RemoteResponse, boolToInt(item.ForceOverwrite),
		item.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("inserting sync item %s: %w", item.ID, err)
	}
	return nil
}

// Update rewrites an existing item by ID.
func (s *SQLiteStore) Update(ctx context.Context, item *Item) error {
	if err := validate(item); err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE sync_items SET
			kind = ?, payload = ?, device_id = ?, user_id = ?,
			priority = ?, status = ?, attempt_count = ?,
			last_attempt_at = ?, error = ?, remote_response = ?,
			force_overwrite = ?
		WHERE id = ?`,
		string(item.Kind), string(item.Payload), item.DeviceID, item.UserID,
		string(item.Priority), string(item.Status), item.AttemptCount,
		encodeTimePtr(item.LastAttemptAt), item.Error, item.RemoteResponse,
		boolToInt(item.ForceOverwrite), item.ID,
	)
	if err != nil {
		return fmt.Errorf("updating sync item %s: %w", item.ID, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("updating sync item %s: %w", item.ID, err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrItemNotFound, item.ID)
	}
	return nil
}

// Delete removes an item by ID.
func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sync_items WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting sync item %s: %w", id, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting sync item %s: %w", id, err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	return nil
}

// Get fetches one item by ID.
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Item, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM sync_items WHERE id = ?`, id)

	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading sync item %s: %w", id, err)
	}
	return item, nil
}

// GetByStatus lists items in a status in sync order.
func (s *SQLiteStore) GetByStatus(ctx context.Context, status Status) ([]*Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM sync_items WHERE status = ? ORDER BY `+syncOrder,
		string(status))
	if err != nil {
		return nil, fmt.Errorf("listing %s sync items: %w", status, err)
	}
	defer rows.Close() //nolint:errcheck // Read-only cursor

	return collectItems(rows)
}

// GetAll lists every item in sync order.
func (s *SQLiteStore) GetAll(ctx context.Context) ([]*Item, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM sync_items ORDER BY `+syncOrder)
	if err != nil {
		return nil, fmt.Errorf("listing sync items: %w", err)
	}
	defer rows.Close() //nolint:errcheck // Read-only cursor

	return collectItems(rows)
}

// Count returns the total number of items.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sync_items`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting sync items: %w", err)
	}
	return n, nil
}

// CountByStatus returns the number of items in a status.
func (s *SQLiteStore) CountByStatus(ctx context.Context, status Status) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sync_items WHERE status = ?`, string(status)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting %s sync items: %w", status, err)
	}
	return n, nil
}

// Clear removes every item.
func (s *SQLiteStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sync_items`); err != nil {
		return fmt.Errorf("clearing sync items: %w", err)
	}
	return nil
}

func validate(item *Item) error {
	if item == nil || item.ID == "" {
		return fmt.Errorf("%w: missing ID", ErrInvalidItem)
	}
	if !item.Kind.Valid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidItem, item.Kind)
	}
	if len(item.Payload) == 0 {
		return fmt.Errorf("%w: empty payload", ErrInvalidItem)
	}
	return nil
}

// scanner covers both sql.Row and sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanItem(row scanner) (*Item, error) {
	var (
		item          Item
		kind          string
		payload       string
		priority      string
		status        string
		lastAttemptAt sql.NullString
		errText       sql.NullString
		remoteResp    sql.NullString
		force         int
		createdAt     string
	)

	err := row.Scan(
		&item.ID, &kind, &payload, &item.DeviceID, &item.UserID,
		&priority, &status, &item.AttemptCount, &lastAttemptAt,
		&errText, &remoteResp, &force, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	item.Kind = Kind(kind)
	item.Payload = []byte(payload)
	item.Priority = Priority(priority)
	item.Status = Status(status)
	item.Error = errText.String
	item.RemoteResponse = remoteResp.String
	item.ForceOverwrite = force != 0

	if item.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if lastAttemptAt.Valid && lastAttemptAt.String != "" {
		at, err := time.Parse(time.RFC3339, lastAttemptAt.String)
		if err != nil {
			return nil, fmt.Errorf("parsing last_attempt_at: %w", err)
		}
		item.LastAttemptAt = &at
	}

	return &item, nil
}

func collectItems(rows *sql.Rows) ([]*Item, error) {
	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning sync item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating sync items: %w", err)
	}
	return items, nil
}

func encodeTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
