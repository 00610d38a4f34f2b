package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"gorm.io/datatypes"
)

// SystemEventTypeENUMType system event type ENUM value type
type SystemEventTypeENUMType string

const (
	// SystemEventTypeRecordSaved a traveler record is created or updated
	SystemEventTypeRecordSaved SystemEventTypeENUMType = "RECORD_SAVED"

	// SystemEventTypeRecordDeleted a traveler record is deleted
	SystemEventTypeRecordDeleted SystemEventTypeENUMType = "RECORD_DELETED"

	// SystemEventTypeOwnerDataWiped all records of one owner are deleted
	SystemEventTypeOwnerDataWiped SystemEventTypeENUMType = "OWNER_DATA_WIPED"

	// SystemEventTypeMigrationCompleted legacy store migration attempted for an owner
	SystemEventTypeMigrationCompleted SystemEventTypeENUMType = "MIGRATION_COMPLETED"

	// SystemEventTypeConflictResolved legacy store / sealed store conflicts discarded
	SystemEventTypeConflictResolved SystemEventTypeENUMType = "CONFLICT_RESOLVED"

	// SystemEventTypeNewEncryptionKey new encryption key is being added
	SystemEventTypeNewEncryptionKey SystemEventTypeENUMType = "ADD_NEW_ENCRYPTION_KEY"

	// SystemEventTypeActivateEncryptionKey an encryption key is activated
	SystemEventTypeActivateEncryptionKey SystemEventTypeENUMType = "ACTIVATE_ENCRYPTION_KEY"

	// SystemEventTypeDeactivateEncryptionKey an encryption key is deactivated
	SystemEventTypeDeactivateEncryptionKey SystemEventTypeENUMType = "DEACTIVATE_ENCRYPTION_KEY"
)

// SystemEventAudit recording of events occurring at the system level
type SystemEventAudit struct {
	// ID audit entry ID
	ID string `json:"id" gorm:"column:id;primaryKey;unique" validate:"required"`
	// EventType system event type
	EventType SystemEventTypeENUMType `json:"type" gorm:"column:type;not null" validate:"required,system_event_type"`
	// Metadata a metadata relating to the event
	Metadata datatypes.JSON `json:"metadata,omitempty" gorm:"column:metadata;default:null"`
	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}

// ParseMetadata parse the metadata based on the event type
func (a SystemEventAudit) ParseMetadata(validator *validator.Validate) (interface{}, error) {
	switch a.EventType {
	// Traveler record related system audit events
	case SystemEventTypeRecordSaved:
		fallthrough
	case SystemEventTypeRecordDeleted:
		var parsed SystemEventRecordRelated
		if err := json.Unmarshal(a.Metadata, &parsed); err != nil {
			return nil, fmt.Errorf("system event '%s' metadata parse failed [%w]", a.EventType, err)
		}
		return parsed, validator.Struct(&parsed)

	// Owner related system audit events
	case SystemEventTypeOwnerDataWiped:
		var parsed SystemEventOwnerRelated
		if err := json.Unmarshal(a.Metadata, &parsed); err != nil {
			return nil, fmt.Errorf("system event '%s' metadata parse failed [%w]", a.EventType, err)
		}
		return parsed, validator.Struct(&parsed)

	// Migration related system audit events
	case SystemEventTypeMigrationCompleted:
		var parsed SystemEventMigrationRelated
		if err := json.Unmarshal(a.Metadata, &parsed); err != nil {
			return nil, fmt.Errorf("system event '%s' metadata parse failed [%w]", a.EventType, err)
		}
		return parsed, validator.Struct(&parsed)

	// Conflict resolution related system audit events
	case SystemEventTypeConflictResolved:
		var parsed SystemEventConflictRelated
		if err := json.Unmarshal(a.Metadata, &parsed); err != nil {
			return nil, fmt.Errorf("system event '%s' metadata parse failed [%w]", a.EventType, err)
		}
		return parsed, validator.Struct(&parsed)

	// Encryption key related system audit events
	case SystemEventTypeNewEncryptionKey:
		fallthrough
	case SystemEventTypeActivateEncryptionKey:
		fallthrough
	case SystemEventTypeDeactivateEncryptionKey:
		var parsed SystemEventEncKeyRelated
		if err := json.Unmarshal(a.Metadata, &parsed); err != nil {
			return nil, fmt.Errorf("system event '%s' metadata parse failed [%w]", a.EventType, err)
		}
		return parsed, validator.Struct(&parsed)
	}
	return nil, nil
}

// SystemEventRecordRelated system event metadata related to one traveler record
type SystemEventRecordRelated struct {
	// OwnerID the traveler owning the record
	OwnerID string `json:"owner_id" validate:"required"`
	// RecordType the traveler record type
	RecordType RecordTypeENUMType `json:"record_type" validate:"required,record_type"`
	// RecordID the record ID
	RecordID string `json:"record_id" validate:"required"`
}

// SystemEventOwnerRelated system event metadata related to one owner
type SystemEventOwnerRelated struct {
	// OwnerID the traveler the event relates to
	OwnerID string `json:"owner_id" validate:"required"`
}

// SystemEventMigrationRelated system event metadata for legacy store migration
type SystemEventMigrationRelated struct {
	// OwnerID the traveler the migration ran for
	OwnerID string `json:"owner_id" validate:"required"`
	// Source where the migrated data came from
	Source MigrationSourceENUMType `json:"source" validate:"required,migration_source"`
	// MigratedTypes the record types successfully migrated
	MigratedTypes []RecordTypeENUMType `json:"migrated_types" validate:"dive,record_type"`
	// Errors per-record-type migration failures
	Errors []string `json:"errors,omitempty"`
}

// SystemEventConflictRelated system event metadata for conflict resolution
type SystemEventConflictRelated struct {
	// OwnerID the traveler the conflicts belong to
	OwnerID string `json:"owner_id" validate:"required"`
	// ConflictCount number of conflicting fields discarded
	ConflictCount int `json:"conflict_count"`
	// Fields the conflicting field names, prefixed with the record type
	Fields []string `json:"fields,omitempty"`
}

// SystemEventEncKeyRelated system event metadata related to encryption key
type SystemEventEncKeyRelated struct {
	// KeyID the encryption key added
	KeyID string `json:"key_id" validate:"required,uuid_rfc4122"`
}
