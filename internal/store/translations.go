package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rcabral/switchyard/internal/campaign"
	"github.com/rcabral/switchyard/internal/experiment"
)

// Compile-time check: winner promotion reads translations through this store.
var _ experiment.TranslationSource = (*TranslationStore)(nil)

// TranslationStore reads and writes the localized content sets attached to
// landing pages.
type TranslationStore struct {
	db *pgxpool.Pool
}

// NewTranslationStore creates the store.
func NewTranslationStore(db *pgxpool.Pool) *TranslationStore {
	if db == nil {
		panic("store: database pool cannot be nil")
	}
	return &TranslationStore{db: db}
}

// TranslationsForPage returns the translations attached to a landing page,
// ordered by locale for determinism. A page with no translations yields an
// empty slice, not an error.
func (s *TranslationStore) TranslationsForPage(ctx context.Context, landingPageID string) ([]campaign.Translation, error) {
	query := `
		SELECT locale, content_ref
		FROM landing_page_translations
		WHERE landing_page_id = $1
		ORDER BY locale
	`

	rows, err := s.db.Query(ctx, query, landingPageID)
	if err != nil {
		return nil, fmt.Errorf("failed to load translations for page %q: %w", landingPageID, err)
	}
	defer rows.Close()

	translations := []campaign.Translation{}
	for rows.Next() {
		var tr campaign.Translation
		if err := rows.Scan(&tr.Locale, &tr.ContentRef); err != nil {
			return nil, fmt.Errorf("failed to scan translation row: %w", err)
		}
		translations = append(translations, tr)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return translations, nil
}

// UpsertTranslation writes one locale's content reference for a landing page.
func (s *TranslationStore) UpsertTranslation(ctx context.Context, landingPageID string, tr campaign.Translation) error {
	query := `
		INSERT INTO landing_page_translations (landing_page_id, locale, content_ref)
		VALUES ($1, $2, $3)
		ON CONFLICT (landing_page_id, locale)
		DO UPDATE SET content_ref = EXCLUDED.content_ref
	`

	if _, err := s.db.Exec(ctx, query, landingPageID, tr.Locale, tr.ContentRef); err != nil {
		return fmt.Errorf("failed to upsert translation %q/%q: %w", landingPageID, tr.Locale, err)
	}

	return nil
}
