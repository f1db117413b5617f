// Package store is the persistence layer for campaigns. PostgreSQL is the
// source of truth: the campaign document (segments, rules, tests, variants)
// is stored as a JSONB snapshot with extracted columns for listing, and a
// version counter for optimistic locking.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rcabral/switchyard/internal/campaign"
)

// Typed errors the API layer maps onto HTTP statuses.
var (
	ErrNotFound        = errors.New("campaign not found")
	ErrDuplicate       = errors.New("campaign already exists")
	ErrVersionConflict = errors.New("campaign was modified concurrently")
)

// CampaignRecord pairs the campaign document with its persistence metadata.
type CampaignRecord struct {
	Campaign  *campaign.Campaign
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CampaignRepository defines the persistence operations for campaigns.
type CampaignRepository interface {
	// CreateCampaign inserts a new campaign and fills in version and
	// timestamps on the record.
	CreateCampaign(ctx context.Context, rec *CampaignRecord) error

	// GetCampaign loads one campaign by id. Returns ErrNotFound when absent.
	GetCampaign(ctx context.Context, id string) (*CampaignRecord, error)

	// ListCampaigns retrieves a page of campaigns plus the total count,
	// ordered by most recently updated first.
	ListCampaigns(ctx context.Context, limit, offset int) ([]*CampaignRecord, int64, error)

	// UpdateCampaign persists the document if the stored version still
	// matches rec.Version, then bumps it. Returns ErrVersionConflict on a
	// lost race and ErrNotFound when the campaign is gone.
	UpdateCampaign(ctx context.Context, rec *CampaignRecord) error

	// DeleteCampaign removes a campaign. Returns ErrNotFound when absent.
	DeleteCampaign(ctx context.Context, id string) error

	// ListAllCampaigns returns every campaign, for the syncer's full
	// publication cycle.
	ListAllCampaigns(ctx context.Context) ([]*CampaignRecord, error)
}

// Compile-time check.
var _ CampaignRepository = (*PostgresStore)(nil)

// PostgresStore implements CampaignRepository on a pgx pool.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore creates the repository.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	if db == nil {
		panic("store: database pool cannot be nil")
	}
	return &PostgresStore{db: db}
}

// CreateCampaign inserts the campaign document. RETURNING fills in the
// server-generated metadata.
func (s *PostgresStore) CreateCampaign(ctx context.Context, rec *CampaignRecord) error {
	doc, err := json.Marshal(rec.Campaign)
	if err != nil {
		return fmt.Errorf("failed to serialize campaign %q: %w", rec.Campaign.ID, err)
	}

	query := `
		INSERT INTO campaigns (id, name, document)
		VALUES ($1, $2, $3)
		RETURNING version, created_at, updated_at
	`

	err = s.db.QueryRow(ctx, query,
		rec.Campaign.ID,
		rec.Campaign.Name,
		doc,
	).Scan(&rec.Version, &rec.CreatedAt, &rec.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: %q", ErrDuplicate, rec.Campaign.ID)
		}
		return fmt.Errorf("failed to insert campaign: %w", err)
	}

	return nil
}

// GetCampaign loads one campaign document by id.
func (s *PostgresStore) GetCampaign(ctx context.Context, id string) (*CampaignRecord, error) {
	query := `
		SELECT document, version, created_at, updated_at
		FROM campaigns
		WHERE id = $1
	`

	var (
		doc []byte
		rec CampaignRecord
	)
	err := s.db.QueryRow(ctx, query, id).Scan(&doc, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to load campaign %q: %w", id, err)
	}

	rec.Campaign = &campaign.Campaign{}
	if err := json.Unmarshal(doc, rec.Campaign); err != nil {
		return nil, fmt.Errorf("failed to deserialize campaign %q: %w", id, err)
	}

	return &rec, nil
}

// ListCampaigns returns a page of campaigns and the total count.
func (s *PostgresStore) ListCampaigns(ctx context.Context, limit, offset int) ([]*CampaignRecord, int64, error) {
	var total int64
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM campaigns`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count campaigns: %w", err)
	}

	if total == 0 {
		return []*CampaignRecord{}, 0, nil
	}

	query := `
		SELECT document, version, created_at, updated_at
		FROM campaigns
		ORDER BY updated_at DESC, id
		LIMIT $1 OFFSET $2
	`

	rows, err := s.db.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	records, err := scanCampaignRows(rows, limit)
	if err != nil {
		return nil, 0, err
	}

	return records, total, nil
}

// UpdateCampaign writes the document guarded by the version counter.
func (s *PostgresStore) UpdateCampaign(ctx context.Context, rec *CampaignRecord) error {
	doc, err := json.Marshal(rec.Campaign)
	if err != nil {
		return fmt.Errorf("failed to serialize campaign %q: %w", rec.Campaign.ID, err)
	}

	query := `
		UPDATE campaigns
		SET name = $2, document = $3, version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $4
		RETURNING version, updated_at
	`

	err = s.db.QueryRow(ctx, query,
		rec.Campaign.ID,
		rec.Campaign.Name,
		doc,
		rec.Version,
	).Scan(&rec.Version, &rec.UpdatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Either the row is gone or someone updated it first.
			// One extra query resolves which.
			var exists bool
			checkErr := s.db.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM campaigns WHERE id = $1)`, rec.Campaign.ID,
			).Scan(&exists)
			if checkErr != nil {
				return fmt.Errorf("failed to update campaign %q: %w", rec.Campaign.ID, checkErr)
			}
			if !exists {
				return fmt.Errorf("%w: %q", ErrNotFound, rec.Campaign.ID)
			}
			return fmt.Errorf("%w: %q", ErrVersionConflict, rec.Campaign.ID)
		}
		return fmt.Errorf("failed to update campaign %q: %w", rec.Campaign.ID, err)
	}

	return nil
}

// DeleteCampaign removes a campaign row.
func (s *PostgresStore) DeleteCampaign(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM campaigns WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete campaign %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return nil
}

// ListAllCampaigns loads every campaign document for snapshot publication.
func (s *PostgresStore) ListAllCampaigns(ctx context.Context) ([]*CampaignRecord, error) {
	query := `
		SELECT document, version, created_at, updated_at
		FROM campaigns
		ORDER BY id
	`

	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	return scanCampaignRows(rows, 0)
}

func scanCampaignRows(rows pgx.Rows, capacityHint int) ([]*CampaignRecord, error) {
	records := make([]*CampaignRecord, 0, capacityHint)

	for rows.Next() {
		var (
			doc []byte
			rec CampaignRecord
		)
		if err := rows.Scan(&doc, &rec.Version, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan campaign row: %w", err)
		}

		rec.Campaign = &campaign.Campaign{}
		if err := json.Unmarshal(doc, rec.Campaign); err != nil {
			return nil, fmt.Errorf("failed to deserialize campaign: %w", err)
		}
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return records, nil
}
