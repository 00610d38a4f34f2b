package db

import (
	"context"
	"fmt"
	"time"

	"github.com/tripforms/valise/models"
)

// getMigrationMarkerEntry find the migration marker of one owner
//
// A nil entry means the migration has not run for that owner.
func (d *databaseImpl) getMigrationMarkerEntry(ownerID string) (*MigrationMarkerDBEntry, error) {
	var entries []MigrationMarkerDBEntry
	dbErr := d.db.Where("owner_id = ?", ownerID).Find(&entries).Error
	if dbErr != nil {
		return nil, fmt.Errorf("failed to read migration markers table [%w]", dbErr)
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

/*
NeedsMigration whether the one-time legacy store migration has yet to run for this owner

	@param ctx context.Context - execution context
	@param ownerID string - the record owner
	@returns true when no migration marker exists
*/
func (d *databaseImpl) NeedsMigration(_ context.Context, ownerID string) (bool, error) {
	entry, err := d.getMigrationMarkerEntry(ownerID)
	if err != nil {
		return false, fmt.Errorf("failed to fetch migration marker of %s [%w]", ownerID, err)
	}
	return entry == nil, nil
}

/*
GetMigrationStatus fetch the migration marker of one owner

	@param ctx context.Context - execution context
	@param ownerID string - the record owner
	@returns the marker, or nil when migration has not run
*/
func (d *databaseImpl) GetMigrationStatus(
	_ context.Context, ownerID string,
) (*models.MigrationMarker, error) {
	entry, err := d.getMigrationMarkerEntry(ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch migration marker of %s [%w]", ownerID, err)
	}
	if entry == nil {
		return nil, nil
	}
	result := entry.MigrationMarker
	return &result, nil
}

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
func (d *databaseImpl) MarkMigrationComplete(
	ctx context.Context,
	ownerID string,
	source models.MigrationSourceENUMType,
	migrated []models.RecordTypeENUMType,
	migrationErrors []string,
) (models.MigrationMarker, error) {
	existing, err := d.getMigrationMarkerEntry(ownerID)
	if err != nil {
		return models.MigrationMarker{}, fmt.Errorf(
			"failed to fetch migration marker of %s [%w]", ownerID, err,
		)
	}
	if existing != nil {
		// NOOP
		return existing.MigrationMarker, nil
	}

	newEntry := MigrationMarkerDBEntry{
		MigrationMarker: models.MigrationMarker{
			OwnerID:    ownerID,
			Source:     source,
			MigratedAt: time.Now(),
		},
	}

	if err := d.validator.Struct(&newEntry); err != nil {
		return models.MigrationMarker{}, fmt.Errorf(
			"new migration marker of %s is not valid [%w]", ownerID, err,
		)
	}

	if tmp := d.db.Create(&newEntry); tmp.Error != nil {
		return models.MigrationMarker{}, fmt.Errorf(
			"new migration marker of %s failed insert [%w]", ownerID, tmp.Error,
		)
	}

	// Record this event
	if _, err := d.RecordSystemEvent(
		ctx,
		models.SystemEventTypeMigrationCompleted,
		models.SystemEventMigrationRelated{
			OwnerID:       ownerID,
			Source:        source,
			MigratedTypes: migrated,
			Errors:        migrationErrors,
		},
	); err != nil {
		return models.MigrationMarker{}, fmt.Errorf(
			"failed to log migration complete audit event [%w]", err,
		)
	}

	return newEntry.MigrationMarker, nil
}
