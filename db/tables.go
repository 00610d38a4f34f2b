package db

import (
	"context"

	"github.com/tripforms/valise/models"
	"gorm.io/gorm"
)

// --------------------------------------------------------------------------------------
// System audit events

// SystemEventAuditDBEntry system audit event DB entry
type SystemEventAuditDBEntry struct {
	models.SystemEventAudit
}

// TableName hard code table name
func (SystemEventAuditDBEntry) TableName() string {
	return "system_audit_events"
}

// --------------------------------------------------------------------------------------
// Encryption keys

// EncryptionKeyDBEntry encryption key DB entry
type EncryptionKeyDBEntry struct {
	models.EncryptionKey
}

// TableName hard code table name
func (EncryptionKeyDBEntry) TableName() string {
	return "encryption_keys"
}

// --------------------------------------------------------------------------------------
// Sealed traveler records

// SealedRecordDBEntry sealed traveler record DB entry
type SealedRecordDBEntry struct {
	models.SealedRecord
	EncKey EncryptionKeyDBEntry `gorm:"constraint:OnDelete:CASCADE;foreignKey:EncKeyID" validate:"-"`
}

// TableName hard code table name
func (SealedRecordDBEntry) TableName() string {
	return "sealed_records"
}

// --------------------------------------------------------------------------------------
// Migration markers

// MigrationMarkerDBEntry legacy store migration marker DB entry
type MigrationMarkerDBEntry struct {
	models.MigrationMarker
}

// TableName hard code table name
func (MigrationMarkerDBEntry) TableName() string {
	return "migration_markers"
}

// --------------------------------------------------------------------------------------

// DefineTables prepare a database with all tables
//
// Meant for deployments which do not run schema migrations, and for tests.
func DefineTables(_ context.Context, db *gorm.DB) error {
	return db.AutoMigrate(
		SystemEventAuditDBEntry{},
		EncryptionKeyDBEntry{},
		SealedRecordDBEntry{},
		MigrationMarkerDBEntry{},
	)
}
