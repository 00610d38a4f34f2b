package models

import "time"

// MigrationSourceENUMType migration data source ENUM
type MigrationSourceENUMType string

const (
	// MigrationSourceLegacyKV data migrated from the legacy key-value store
	MigrationSourceLegacyKV MigrationSourceENUMType = "LEGACY_KV_STORE"
)

// MigrationMarker per-owner marker recording that the one-time legacy store
// migration has been attempted
//
// Once this marker exists for an owner, the migration routine is a no-op.
type MigrationMarker struct {
	// OwnerID the traveler the migration ran for
	OwnerID string `json:"owner_id" gorm:"column:owner_id;primaryKey;unique" validate:"required"`

	// Source where the migrated data came from
	Source MigrationSourceENUMType `json:"source" gorm:"column:source;not null" validate:"required,migration_source"`

	// MigratedAt when the migration ran
	MigratedAt time.Time `json:"migrated_at" gorm:"column:migrated_at;not null"`

	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}
