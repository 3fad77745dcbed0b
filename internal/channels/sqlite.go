package channels

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// SQLiteStore implements Store over a SQLite database. It is the default
// backend for single-instance deployments.
type SQLiteStore struct {
	db *sql.DB
}

// InitSQLite opens the database at dbPath and runs migrations.
func InitSQLite(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// DB exposes the underlying handle so sibling stores (mention cache) can
// share the connection.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS channels (
			id TEXT PRIMARY KEY,
			organization_id TEXT NOT NULL,
			provider_identifier TEXT NOT NULL,
			internal_id TEXT NOT NULL,
			name TEXT NOT NULL,
			picture TEXT DEFAULT '',
			token TEXT DEFAULT '',
			refresh_token TEXT DEFAULT '',
			token_expiration DATETIME,
			disabled BOOLEAN DEFAULT 0,
			in_between_steps BOOLEAN DEFAULT 0,
			refresh_needed BOOLEAN DEFAULT 0,
			posting_times TEXT DEFAULT '[]',
			customer_id TEXT DEFAULT '',
			root_internal_id TEXT DEFAULT '',
			additional_settings TEXT DEFAULT '',
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			deleted_at DATETIME
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_channels_identity
			ON channels(organization_id, provider_identifier, internal_id)`,
		`CREATE INDEX IF NOT EXISTS idx_channels_org ON channels(organization_id)`,
		`CREATE INDEX IF NOT EXISTS idx_channels_expiration ON channels(token_expiration)`,
	}

	for _, query := range queries {
		if _, err := s.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute migration query: %w", err)
		}
	}

	return nil
}

const channelColumns = `id, organization_id, provider_identifier, internal_id, name, picture,
	token, refresh_token, token_expiration, disabled, in_between_steps, refresh_needed,
	posting_times, customer_id, root_internal_id, additional_settings, created_at, updated_at, deleted_at`

func (s *SQLiteStore) Upsert(ctx context.Context, ch *Channel) (*Channel, error) {
	if ch.ID == "" {
		ch.ID = uuid.NewString()
	}
	if ch.PostingTimes == "" {
		ch.PostingTimes = "[]"
	}

	query := `INSERT INTO channels (id, organization_id, provider_identifier, internal_id, name,
			picture, token, refresh_token, token_expiration, disabled, in_between_steps,
			refresh_needed, posting_times, customer_id, root_internal_id, additional_settings)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(organization_id, provider_identifier, internal_id) DO UPDATE SET
			name = excluded.name,
			picture = excluded.picture,
			token = excluded.token,
			refresh_token = excluded.refresh_token,
			token_expiration = excluded.token_expiration,
			disabled = 0,
			in_between_steps = excluded.in_between_steps,
			refresh_needed = 0,
			additional_settings = excluded.additional_settings,
			deleted_at = NULL,
			updated_at = CURRENT_TIMESTAMP`

	_, err := s.db.ExecContext(ctx, query,
		ch.ID, ch.OrganizationID, ch.ProviderIdentifier, ch.InternalID, ch.Name,
		ch.Picture, ch.Token, ch.RefreshToken, nullTime(ch.TokenExpiration), ch.Disabled,
		ch.InBetweenSteps, ch.RefreshNeeded, ch.PostingTimes, ch.CustomerID,
		ch.RootInternalID, ch.AdditionalSettings)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert channel: %w", err)
	}

	return s.findByIdentity(ctx, ch.OrganizationID, ch.ProviderIdentifier, ch.InternalID)
}

func (s *SQLiteStore) findByIdentity(ctx context.Context, orgID, provider, internalID string) (*Channel, error) {
	query := `SELECT ` + channelColumns + ` FROM channels
		WHERE organization_id = ? AND provider_identifier = ? AND internal_id = ?`
	return scanChannel(s.db.QueryRowContext(ctx, query, orgID, provider, internalID))
}

func (s *SQLiteStore) UpdateTokens(ctx context.Context, id string, update TokenUpdate) error {
	query := `UPDATE channels SET token = ?, refresh_token = ?, token_expiration = ?,
			additional_settings = ?, refresh_needed = 0, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`

	_, err := s.db.ExecContext(ctx, query,
		update.Token, update.RefreshToken, nullTime(update.Expiration), update.AdditionalSettings, id)
	if err != nil {
		return fmt.Errorf("failed to update channel tokens: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetDisabled(ctx context.Context, id string, disabled bool) error {
	query := `UPDATE channels SET disabled = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, query, disabled, id); err != nil {
		return fmt.Errorf("failed to set channel disabled: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SetRefreshNeeded(ctx context.Context, id string, needed bool) error {
	query := `UPDATE channels SET refresh_needed = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, query, needed, id); err != nil {
		return fmt.Errorf("failed to set channel refresh flag: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Rename(ctx context.Context, orgID, id, name string) error {
	query := `UPDATE channels SET name = ?, updated_at = CURRENT_TIMESTAMP
		WHERE organization_id = ? AND id = ? AND deleted_at IS NULL`
	if _, err := s.db.ExecContext(ctx, query, name, orgID, id); err != nil {
		return fmt.Errorf("failed to rename channel: %w", err)
	}
	return nil
}

func (s *SQLiteStore) AssignGroup(ctx context.Context, orgID, id, customerID string) error {
	query := `UPDATE channels SET customer_id = ?, updated_at = CURRENT_TIMESTAMP
		WHERE organization_id = ? AND id = ? AND deleted_at IS NULL`
	if _, err := s.db.ExecContext(ctx, query, customerID, orgID, id); err != nil {
		return fmt.Errorf("failed to assign channel group: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Find(ctx context.Context, orgID, id string) (*Channel, error) {
	query := `SELECT ` + channelColumns + ` FROM channels
		WHERE organization_id = ? AND id = ? AND deleted_at IS NULL`
	return scanChannel(s.db.QueryRowContext(ctx, query, orgID, id))
}

func (s *SQLiteStore) FindByForeignAccount(ctx context.Context, provider, internalID string) (*Channel, error) {
	query := `SELECT ` + channelColumns + ` FROM channels
		WHERE provider_identifier = ? AND internal_id = ? AND deleted_at IS NULL`
	return scanChannel(s.db.QueryRowContext(ctx, query, provider, internalID))
}

func (s *SQLiteStore) List(ctx context.Context, orgID string) ([]*Channel, error) {
	query := `SELECT ` + channelColumns + ` FROM channels
		WHERE organization_id = ? AND deleted_at IS NULL ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	defer rows.Close()

	return collectChannels(rows)
}

func (s *SQLiteStore) SoftDelete(ctx context.Context, orgID, id string) error {
	query := `UPDATE channels SET deleted_at = CURRENT_TIMESTAMP, updated_at = CURRENT_TIMESTAMP
		WHERE organization_id = ? AND id = ? AND deleted_at IS NULL`
	if _, err := s.db.ExecContext(ctx, query, orgID, id); err != nil {
		return fmt.Errorf("failed to delete channel: %w", err)
	}
	return nil
}

func (s *SQLiteStore) CountActive(ctx context.Context, orgID string) (int, error) {
	query := `SELECT COUNT(*) FROM channels
		WHERE organization_id = ? AND deleted_at IS NULL AND disabled = 0`

	var count int
	if err := s.db.QueryRowContext(ctx, query, orgID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count active channels: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) WasConnectedBefore(ctx context.Context, orgID, provider, internalID string) (bool, error) {
	query := `SELECT COUNT(*) FROM channels
		WHERE organization_id = ? AND provider_identifier = ? AND internal_id = ? AND deleted_at IS NOT NULL`

	var count int
	if err := s.db.QueryRowContext(ctx, query, orgID, provider, internalID).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check connection history: %w", err)
	}
	return count > 0, nil
}

func (s *SQLiteStore) ListExpiring(ctx context.Context, before time.Time) ([]*Channel, error) {
	query := `SELECT ` + channelColumns + ` FROM channels
		WHERE deleted_at IS NULL AND disabled = 0 AND refresh_token != ''
			AND token_expiration IS NOT NULL AND token_expiration < ?
		ORDER BY token_expiration ASC`

	rows, err := s.db.QueryContext(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring channels: %w", err)
	}
	defer rows.Close()

	return collectChannels(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanChannel(row rowScanner) (*Channel, error) {
	ch := &Channel{}
	var expiration, deletedAt sql.NullTime

	err := row.Scan(&ch.ID, &ch.OrganizationID, &ch.ProviderIdentifier, &ch.InternalID,
		&ch.Name, &ch.Picture, &ch.Token, &ch.RefreshToken, &expiration, &ch.Disabled,
		&ch.InBetweenSteps, &ch.RefreshNeeded, &ch.PostingTimes, &ch.CustomerID,
		&ch.RootInternalID, &ch.AdditionalSettings, &ch.CreatedAt, &ch.UpdatedAt, &deletedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan channel: %w", err)
	}

	if expiration.Valid {
		ch.TokenExpiration = expiration.Time
	}
	if deletedAt.Valid {
		t := deletedAt.Time
		ch.DeletedAt = &t
	}
	return ch, nil
}

func collectChannels(rows *sql.Rows) ([]*Channel, error) {
	var list []*Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, ch)
	}
	return list, rows.Err()
}

func nullTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t
}
