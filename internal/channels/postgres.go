package channels

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// PostgresStore implements Store over PostgreSQL via the pgx stdlib
// driver, for multi-instance deployments.
type PostgresStore struct {
	db *sql.DB
}

// InitPostgres connects using the given DSN and runs migrations.
func InitPostgres(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// DB exposes the underlying handle so sibling stores (mention cache) can
// share the connection.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) migrate() error {
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
			token_expiration TIMESTAMPTZ,
			disabled BOOLEAN DEFAULT FALSE,
			in_between_steps BOOLEAN DEFAULT FALSE,
			refresh_needed BOOLEAN DEFAULT FALSE,
			posting_times TEXT DEFAULT '[]',
			customer_id TEXT DEFAULT '',
			root_internal_id TEXT DEFAULT '',
			additional_settings TEXT DEFAULT '',
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW(),
			deleted_at TIMESTAMPTZ
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

func (s *PostgresStore) Upsert(ctx context.Context, ch *Channel) (*Channel, error) {
	if ch.ID == "" {
		ch.ID = uuid.NewString()
	}
	if ch.PostingTimes == "" {
		ch.PostingTimes = "[]"
	}

	query := `INSERT INTO channels (id, organization_id, provider_identifier, internal_id, name,
			picture, token, refresh_token, token_expiration, disabled, in_between_steps,
			refresh_needed, posting_times, customer_id, root_internal_id, additional_settings)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT(organization_id, provider_identifier, internal_id) DO UPDATE SET
			name = excluded.name,
			picture = excluded.picture,
			token = excluded.token,
			refresh_token = excluded.refresh_token,
			token_expiration = excluded.token_expiration,
			disabled = FALSE,
			in_between_steps = excluded.in_between_steps,
			refresh_needed = FALSE,
			additional_settings = excluded.additional_settings,
			deleted_at = NULL,
			updated_at = NOW()
		RETURNING ` + channelColumns

	return scanChannel(s.db.QueryRowContext(ctx, query,
		ch.ID, ch.OrganizationID, ch.ProviderIdentifier, ch.InternalID, ch.Name,
		ch.Picture, ch.Token, ch.RefreshToken, nullTime(ch.TokenExpiration), ch.Disabled,
		ch.InBetweenSteps, ch.RefreshNeeded, ch.PostingTimes, ch.CustomerID,
		ch.RootInternalID, ch.AdditionalSettings))
}

func (s *PostgresStore) UpdateTokens(ctx context.Context, id string, update TokenUpdate) error {
	query := `UPDATE channels SET token = $1, refresh_token = $2, token_expiration = $3,
			additional_settings = $4, refresh_needed = FALSE, updated_at = NOW()
		WHERE id = $5`

	_, err := s.db.ExecContext(ctx, query,
		update.Token, update.RefreshToken, nullTime(update.Expiration), update.AdditionalSettings, id)
	if err != nil {
		return fmt.Errorf("failed to update channel tokens: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetDisabled(ctx context.Context, id string, disabled bool) error {
	query := `UPDATE channels SET disabled = $1, updated_at = NOW() WHERE id = $2`
	if _, err := s.db.ExecContext(ctx, query, disabled, id); err != nil {
		return fmt.Errorf("failed to set channel disabled: %w", err)
	}
	return nil
}

func (s *PostgresStore) SetRefreshNeeded(ctx context.Context, id string, needed bool) error {
	query := `UPDATE channels SET refresh_needed = $1, updated_at = NOW() WHERE id = $2`
	if _, err := s.db.ExecContext(ctx, query, needed, id); err != nil {
		return fmt.Errorf("failed to set channel refresh flag: %w", err)
	}
	return nil
}

func (s *PostgresStore) Rename(ctx context.Context, orgID, id, name string) error {
	query := `UPDATE channels SET name = $1, updated_at = NOW()
		WHERE organization_id = $2 AND id = $3 AND deleted_at IS NULL`
	if _, err := s.db.ExecContext(ctx, query, name, orgID, id); err != nil {
		return fmt.Errorf("failed to rename channel: %w", err)
	}
	return nil
}

func (s *PostgresStore) AssignGroup(ctx context.Context, orgID, id, customerID string) error {
	query := `UPDATE channels SET customer_id = $1, updated_at = NOW()
		WHERE organization_id = $2 AND id = $3 AND deleted_at IS NULL`
	if _, err := s.db.ExecContext(ctx, query, customerID, orgID, id); err != nil {
		return fmt.Errorf("failed to assign channel group: %w", err)
	}
	return nil
}

func (s *PostgresStore) Find(ctx context.Context, orgID, id string) (*Channel, error) {
	query := `SELECT ` + channelColumns + ` FROM channels
		WHERE organization_id = $1 AND id = $2 AND deleted_at IS NULL`
	return scanChannel(s.db.QueryRowContext(ctx, query, orgID, id))
}

func (s *PostgresStore) FindByForeignAccount(ctx context.Context, provider, internalID string) (*Channel, error) {
	query := `SELECT ` + channelColumns + ` FROM channels
		WHERE provider_identifier = $1 AND internal_id = $2 AND deleted_at IS NULL`
	return scanChannel(s.db.QueryRowContext(ctx, query, provider, internalID))
}

func (s *PostgresStore) List(ctx context.Context, orgID string) ([]*Channel, error) {
	query := `SELECT ` + channelColumns + ` FROM channels
		WHERE organization_id = $1 AND deleted_at IS NULL ORDER BY created_at ASC`

	rows, err := s.db.QueryContext(ctx, query, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list channels: %w", err)
	}
	defer rows.Close()

	return collectChannels(rows)
}

func (s *PostgresStore) SoftDelete(ctx context.Context, orgID, id string) error {
	query := `UPDATE channels SET deleted_at = NOW(), updated_at = NOW()
		WHERE organization_id = $1 AND id = $2 AND deleted_at IS NULL`
	if _, err := s.db.ExecContext(ctx, query, orgID, id); err != nil {
		return fmt.Errorf("failed to delete channel: %w", err)
	}
	return nil
}

func (s *PostgresStore) CountActive(ctx context.Context, orgID string) (int, error) {
	query := `SELECT COUNT(*) FROM channels
		WHERE organization_id = $1 AND deleted_at IS NULL AND disabled = FALSE`

	var count int
	if err := s.db.QueryRowContext(ctx, query, orgID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count active channels: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) WasConnectedBefore(ctx context.Context, orgID, provider, internalID string) (bool, error) {
	query := `SELECT COUNT(*) FROM channels
		WHERE organization_id = $1 AND provider_identifier = $2 AND internal_id = $3 AND deleted_at IS NOT NULL`

	var count int
	if err := s.db.QueryRowContext(ctx, query, orgID, provider, internalID).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check connection history: %w", err)
	}
	return count > 0, nil
}

func (s *PostgresStore) ListExpiring(ctx context.Context, before time.Time) ([]*Channel, error) {
	query := `SELECT ` + channelColumns + ` FROM channels
		WHERE deleted_at IS NULL AND disabled = FALSE AND refresh_token != ''
			AND token_expiration IS NOT NULL AND token_expiration < $1
		ORDER BY token_expiration ASC`

	rows, err := s.db.QueryContext(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("failed to list expiring channels: %w", err)
	}
	defer rows.Close()

	return collectChannels(rows)
}
