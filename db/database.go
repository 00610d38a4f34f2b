// Package db - persistence layer
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/tripforms/valise/models"
	"gorm.io/gorm"
)

// CommonListEntryQueryFilter common query filter when listing data entries
type CommonListEntryQueryFilter struct {
	Limit  *int
	Offset *int
}

// SystemEventQueryFilter audit event query filter conditions
type SystemEventQueryFilter struct {
	CommonListEntryQueryFilter
	// EventTypes the specific event types to query for
	EventTypes []models.SystemEventTypeENUMType
	// EventsAfter filter for events after this timestamp
	EventsAfter *time.Time
	// EventsBefore filter for events before this timestamp
	EventsBefore *time.Time
}

// EncryptionKeyQueryFilter encryption key query filer conditions
type EncryptionKeyQueryFilter struct {
	CommonListEntryQueryFilter
	// TargetState the specific states to query for
	TargetState []models.EncryptionKeyStateENUMType
}

// Database the database handle for interacting with the database
type Database interface {
	// ------------------------------------------------------------------------------------
	// System audit events

	/*
		RecordSystemEvent record a new system audit event

			@param ctx context.Context - execution context
			@param eventType models.SystemEventTypeENUMType - the event type
			@param metadata interface{} - event metadata, nil when none
			@return the recorded event
	*/
	RecordSystemEvent(
		ctx context.Context, eventType models.SystemEventTypeENUMType, metadata interface{},
	) (models.SystemEventAudit, error)

	/*
		ListSystemEvents list captured system events

			@param ctx context.Context - execution context
			@param filters SystemEventQueryFilter - entry listing filter
			@return list of system events
	*/
	ListSystemEvents(
		ctx context.Context, filters SystemEventQueryFilter,
	) ([]models.SystemEventAudit, error)

	// ------------------------------------------------------------------------------------
	// Encryption keys

	/*
		RecordEncryptionKey record an encrypted symmetric encryption key

			@param ctx context.Context - execution context
			@param encKeyMaterial []byte - encrypted key material
			@returns the key entry
	*/
	RecordEncryptionKey(ctx context.Context, encKeyMaterial []byte) (models.EncryptionKey, error)

	/*
		GetEncryptionKey fetch one encryption key

			@param ctx context.Context - execution context
			@param keyID string - the encryption key ID
			@return key entry
	*/
	GetEncryptionKey(ctx context.Context, keyID string) (models.EncryptionKey, error)

	/*
		ListEncryptionKeys list encryption keys

			@param ctx context.Context - execution context
			@param filters EncryptionKeyQueryFilter - entry listing filter
			@return list of keys
	*/
	ListEncryptionKeys(
		ctx context.Context, filters EncryptionKeyQueryFilter,
	) ([]models.EncryptionKey, error)

	/*
		MarkEncryptionKeyActive mark encryption key is active

			@param ctx context.Context - execution context
			@param keyID string - the encryption key ID
	*/
	MarkEncryptionKeyActive(ctx context.Context, keyID string) error

	/*
		MarkEncryptionKeyInactive mark encryption key is inactive

			@param ctx context.Context - execution context
			@param keyID string - the encryption key ID
	*/
	MarkEncryptionKeyInactive(ctx context.Context, keyID string) error

	// ------------------------------------------------------------------------------------
	// Sealed traveler records

	/*
		UpsertSealedRecord create or replace the sealed record of one
		(owner, record type) pair

			The envelope ID and creation timestamp of an existing row are retained.

			@param ctx context.Context - execution context
			@param sealed models.SealedRecord - the sealed envelope to store
			@returns the stored envelope
	*/
	UpsertSealedRecord(
		ctx context.Context, sealed models.SealedRecord,
	) (models.SealedRecord, error)

	/*
		GetSealedRecord fetch the sealed record of one (owner, record type) pair

			@param ctx context.Context - execution context
			@param ownerID string - the record owner
			@param recordType models.RecordTypeENUMType - the record type
			@returns the envelope, or nil when the owner has no such record
	*/
	GetSealedRecord(
		ctx context.Context, ownerID string, recordType models.RecordTypeENUMType,
	) (*models.SealedRecord, error)

	/*
		GetSealedRecordsForOwner fetch all sealed records of one owner

			Absent record types map to nil entries.

			@param ctx context.Context - execution context
			@param ownerID string - the record owner
			@returns envelope per record type
	*/
	GetSealedRecordsForOwner(
		ctx context.Context, ownerID string,
	) (map[models.RecordTypeENUMType]*models.SealedRecord, error)

	/*
		DeleteSealedRecord delete the sealed record of one (owner, record type) pair

			Deleting an absent record is a NOOP.

			@param ctx context.Context - execution context
			@param ownerID string - the record owner
			@param recordType models.RecordTypeENUMType - the record type
	*/
	DeleteSealedRecord(
		ctx context.Context, ownerID string, recordType models.RecordTypeENUMType,
	) error

	/*
		DeleteOwnerRecords delete all sealed records of one owner

			@param ctx context.Context - execution context
			@param ownerID string - the record owner
	*/
	DeleteOwnerRecords(ctx context.Context, ownerID string) error

	// ------------------------------------------------------------------------------------
	// Migration markers

	/*
		NeedsMigration whether the one-time legacy store migration has yet to run
		for this owner

			@param ctx context.Context - execution context
			@param ownerID string - the record owner
			@returns true when no migration marker exists
	*/
	NeedsMigration(ctx context.Context, ownerID string) (bool, error)

	/*
		GetMigrationStatus fetch the migration marker of one owner

			@param ctx context.Context - execution context
			@param ownerID string - the record owner
			@returns the marker, or nil when migration has not run
	*/
	GetMigrationStatus(ctx context.Context, ownerID string) (*models.MigrationMarker, error)

	/*
		MarkMigrationComplete write the migration marker for one owner

			A NOOP returning the existing marker when one already exists.

			@param ctx context.Context - execution context
			@param ownerID string - the record owner
			@param source models.MigrationSourceENUMType - where the migrated data came from
			@param migrated []models.RecordTypeENUMType - the record types successfully migrated
			@param migrationErrors []string - per-record-type migration failures
			@returns the marker
	*/
	MarkMigrationComplete(
		ctx context.Context,
		ownerID string,
		source models.MigrationSourceENUMType,
		migrated []models.RecordTypeENUMType,
		migrationErrors []string,
	) (models.MigrationMarker, error)
}

// databaseImpl implements Database
type databaseImpl struct {
	goutils.Component
	db        *gorm.DB
	validator *validator.Validate
}

// newDatabase define a new database client
func newDatabase(_ context.Context, sqlClient *gorm.DB) (Database, error) {
	logTags := log.Fields{"package": "valise", "module": "db", "component": "db-client"}

	instance := &databaseImpl{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		db:        sqlClient,
		validator: validator.New(),
	}

	if err := models.RegisterWithValidator(instance.validator); err != nil {
		return nil, fmt.Errorf("failed to install custom validation macros [%w]", err)
	}

	return instance, nil
}
