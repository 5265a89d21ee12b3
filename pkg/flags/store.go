package flags

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/platinummonkey/tenantry/pkg/apperrors"
)

const flagColumns = `id, key, name, description, default_enabled`

// Store handles feature flag persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new flag store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ListFlags lists every flag definition by key
func (s *Store) ListFlags(ctx context.Context) ([]Flag, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+flagColumns+` FROM feature_flags ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("failed to list flags: %w", err)
	}
	defer rows.Close()

	flags := []Flag{}
	for rows.Next() {
		var f Flag
		if err := rows.Scan(&f.ID, &f.Key, &f.Name, &f.Description, &f.DefaultEnabled); err != nil {
			return nil, fmt.Errorf("failed to scan flag: %w", err)
		}
		flags = append(flags, f)
	}
	return flags, rows.Err()
}

// ListOverrides returns the organization's override rows keyed by flag id
func (s *Store) ListOverrides(ctx context.Context, orgID int64) (map[int64]*Override, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT organization_id, flag_id, platform_enabled, org_enabled, updated_at
		FROM org_feature_flags WHERE organization_id = $1
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to list overrides: %w", err)
	}
	defer rows.Close()

	overrides := make(map[int64]*Override)
	for rows.Next() {
		var o Override
		if err := rows.Scan(&o.OrganizationID, &o.FlagID, &o.PlatformEnabled, &o.OrgEnabled, &o.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan override: %w", err)
		}
		overrides[o.FlagID] = &o
	}
	return overrides, rows.Err()
}

// Lookup returns a flag by key and the organization's override, if any
func (s *Store) Lookup(ctx context.Context, orgID int64, key string) (Flag, *Override, error) {
	var (
		f               Flag
		platformEnabled sql.NullBool
		orgEnabled      sql.NullBool
		updatedAt       sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT f.id, f.key, f.name, f.description, f.default_enabled,
			o.platform_enabled, o.org_enabled, o.updated_at
		FROM feature_flags f
		LEFT JOIN org_feature_flags o ON o.flag_id = f.id AND o.organization_id = $2
		WHERE f.key = $1
	`, key, orgID).Scan(&f.ID, &f.Key, &f.Name, &f.Description, &f.DefaultEnabled,
		&platformEnabled, &orgEnabled, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Flag{}, nil, apperrors.NotFound("flag %q not found", key)
	}
	if err != nil {
		return Flag{}, nil, fmt.Errorf("failed to look up flag: %w", err)
	}
	if !platformEnabled.Valid {
		return f, nil, nil
	}
	return f, &Override{
		OrganizationID:  orgID,
		FlagID:          f.ID,
		PlatformEnabled: platformEnabled.Bool,
		OrgEnabled:      orgEnabled.Bool,
		UpdatedAt:       updatedAt.Time,
	}, nil
}

// UpdateOverride runs apply against the locked override row for (org, flag)
// and writes the result, all in one transaction. The first write for a pair
// seeds the row from the flag's current default. If apply returns an error
// nothing is written.
func (s *Store) UpdateOverride(ctx context.Context, orgID, flagID int64, at time.Time, apply func(Flag, *Override) error) (Flag, *Override, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Flag{}, nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var f Flag
	err = tx.QueryRowContext(ctx, `SELECT `+flagColumns+` FROM feature_flags WHERE id = $1`, flagID).
		Scan(&f.ID, &f.Key, &f.Name, &f.Description, &f.DefaultEnabled)
	if errors.Is(err, sql.ErrNoRows) {
		return Flag{}, nil, apperrors.NotFound("flag %d not found", flagID)
	}
	if err != nil {
		return Flag{}, nil, fmt.Errorf("failed to get flag: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO org_feature_flags (organization_id, flag_id, platform_enabled, org_enabled, updated_at)
		VALUES ($1, $2, $3, true, $4)
		ON CONFLICT (organization_id, flag_id) DO NOTHING
	`, orgID, flagID, f.DefaultEnabled, at)
	if err != nil {
		return Flag{}, nil, fmt.Errorf("failed to seed override: %w", err)
	}

	o := Override{OrganizationID: orgID, FlagID: flagID}
	err = tx.QueryRowContext(ctx, `
		SELECT platform_enabled, org_enabled FROM org_feature_flags
		WHERE organization_id = $1 AND flag_id = $2
		FOR UPDATE
	`, orgID, flagID).Scan(&o.PlatformEnabled, &o.OrgEnabled)
	if err != nil {
		return Flag{}, nil, fmt.Errorf("failed to lock override: %w", err)
	}

	if err := apply(f, &o); err != nil {
		return Flag{}, nil, err
	}
	o.UpdatedAt = at

	_, err = tx.ExecContext(ctx, `
		UPDATE org_feature_flags SET platform_enabled = $3, org_enabled = $4, updated_at = $5
		WHERE organization_id = $1 AND flag_id = $2
	`, orgID, flagID, o.PlatformEnabled, o.OrgEnabled, at)
	if err != nil {
		return Flag{}, nil, fmt.Errorf("failed to update override: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Flag{}, nil, fmt.Errorf("failed to commit override: %w", err)
	}
	return f, &o, nil
}

// CreateFlag inserts a flag definition
func (s *Store) CreateFlag(ctx context.Context, f *Flag) error {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO feature_flags (key, name, description, default_enabled)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`, f.Key, f.Name, f.Description, f.DefaultEnabled).Scan(&f.ID)
	return apperrors.FromPQ(err, fmt.Sprintf("flag %q already exists", f.Key), "create flag")
}
