package db

import (
	"context"
	"fmt"

	"github.com/tripforms/valise/models"
)

// getSealedRecordEntry find the sealed record entry of one (owner, type) pair
//
// A nil entry means the owner has no record of that type.
func (d *databaseImpl) getSealedRecordEntry(
	ownerID string, recordType models.RecordTypeENUMType,
) (*SealedRecordDBEntry, error) {
	var entries []SealedRecordDBEntry
	dbErr := d.db.
		Where("owner_id = ?", ownerID).
		Where("record_type = ?", recordType).
		Find(&entries).Error
	if dbErr != nil {
		return nil, fmt.Errorf("failed to read sealed records table [%w]", dbErr)
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return &entries[0], nil
}

/*
UpsertSealedRecord create or replace the sealed record of one (owner, record type) pair

	The envelope ID and creation timestamp of an existing row are retained.

	@param ctx context.Context - execution context
	@param sealed models.SealedRecord - the sealed envelope to store
	@returns the stored envelope
*/
func (d *databaseImpl) UpsertSealedRecord(
	ctx context.Context, sealed models.SealedRecord,
) (models.SealedRecord, error) {
	existing, err := d.getSealedRecordEntry(sealed.OwnerID, sealed.RecordType)
	if err != nil {
		return models.SealedRecord{}, fmt.Errorf(
			"failed to probe for existing '%s' record of %s [%w]",
			sealed.RecordType, sealed.OwnerID, err,
		)
	}

	if existing != nil {
		// Replace the payload in place
		existing.EncKeyID = sealed.EncKeyID
		existing.EncPayload = sealed.EncPayload
		existing.EncNonce = sealed.EncNonce
		existing.UpdatedAt = sealed.UpdatedAt

		if err := d.validator.Struct(existing); err != nil {
			return models.SealedRecord{}, fmt.Errorf(
				"updated '%s' record of %s is not valid [%w]", sealed.RecordType, sealed.OwnerID, err,
			)
		}

		if tmp := d.db.Save(existing); tmp.Error != nil {
			return models.SealedRecord{}, fmt.Errorf(
				"updated '%s' record of %s failed write [%w]",
				sealed.RecordType, sealed.OwnerID, tmp.Error,
			)
		}

		if _, err := d.RecordSystemEvent(
			ctx,
			models.SystemEventTypeRecordSaved,
			models.SystemEventRecordRelated{
				OwnerID: existing.OwnerID, RecordType: existing.RecordType, RecordID: existing.ID,
			},
		); err != nil {
			return models.SealedRecord{}, fmt.Errorf(
				"failed to log record save audit event [%w]", err,
			)
		}

		return existing.SealedRecord, nil
	}

	newEntry := SealedRecordDBEntry{SealedRecord: sealed}

	if err := d.validator.Struct(&newEntry); err != nil {
		return models.SealedRecord{}, fmt.Errorf(
			"new '%s' record of %s is not valid [%w]", sealed.RecordType, sealed.OwnerID, err,
		)
	}

	if tmp := d.db.Create(&newEntry); tmp.Error != nil {
		return models.SealedRecord{}, fmt.Errorf(
			"new '%s' record of %s failed insert [%w]", sealed.RecordType, sealed.OwnerID, tmp.Error,
		)
	}

	// Record this event
	if _, err := d.RecordSystemEvent(
		ctx,
		models.SystemEventTypeRecordSaved,
		models.SystemEventRecordRelated{
			OwnerID: newEntry.OwnerID, RecordType: newEntry.RecordType, RecordID: newEntry.ID,
		},
	); err != nil {
		return models.SealedRecord{}, fmt.Errorf(
			"failed to log record save audit event [%w]", err,
		)
	}

	return newEntry.SealedRecord, nil
}

/*
GetSealedRecord fetch the sealed record of one (owner, record type) pair

	@param ctx context.Context - execution context
	@param ownerID string - the record owner
	@param recordType models.RecordTypeENUMType - the record type
	@returns the envelope, or nil when the owner has no such record
*/
func (d *databaseImpl) GetSealedRecord(
	_ context.Context, ownerID string, recordType models.RecordTypeENUMType,
) (*models.SealedRecord, error) {
	entry, err := d.getSealedRecordEntry(ownerID, recordType)
	if err != nil {
		return nil, fmt.Errorf(
			"failed to fetch '%s' record of %s [%w]", recordType, ownerID, err,
		)
	}
	if entry == nil {
		return nil, nil
	}
	result := entry.SealedRecord
	return &result, nil
}

/*
GetSealedRecordsForOwner fetch all sealed records of one owner

	Absent record types map to nil entries.

	@param ctx context.Context - execution context
	@param ownerID string - the record owner
	@returns envelope per record type
*/
func (d *databaseImpl) GetSealedRecordsForOwner(
	_ context.Context, ownerID string,
) (map[models.RecordTypeENUMType]*models.SealedRecord, error) {
	var entries []SealedRecordDBEntry
	if tmp := d.db.Where("owner_id = ?", ownerID).Find(&entries); tmp.Error != nil {
		return nil, fmt.Errorf("failed to fetch records of %s [%w]", ownerID, tmp.Error)
	}

	result := map[models.RecordTypeENUMType]*models.SealedRecord{}
	for _, recordType := range models.AllRecordTypes() {
		result[recordType] = nil
	}
	for idx := range entries {
		sealed := entries[idx].SealedRecord
		result[sealed.RecordType] = &sealed
	}

	return result, nil
}

/*
DeleteSealedRecord delete the sealed record of one (owner, record type) pair

	Deleting an absent record is a NOOP.

	@param ctx context.Context - execution context
	@param ownerID string - the record owner
	@param recordType models.RecordTypeENUMType - the record type
*/
func (d *databaseImpl) DeleteSealedRecord(
	ctx context.Context, ownerID string, recordType models.RecordTypeENUMType,
) error {
	entry, err := d.getSealedRecordEntry(ownerID, recordType)
	if err != nil {
		return fmt.Errorf("failed to fetch '%s' record of %s [%w]", recordType, ownerID, err)
	}
	if entry == nil {
		return nil
	}

	if tmp := d.db.Delete(entry); tmp.Error != nil {
		return fmt.Errorf(
			"failed to delete '%s' record of %s [%w]", recordType, ownerID, tmp.Error,
		)
	}

	// Record this event
	if _, err := d.RecordSystemEvent(
		ctx,
		models.SystemEventTypeRecordDeleted,
		models.SystemEventRecordRelated{
			OwnerID: entry.OwnerID, RecordType: entry.RecordType, RecordID: entry.ID,
		},
	); err != nil {
		return fmt.Errorf("failed to log record delete audit event [%w]", err)
	}

	return nil
}

/*
DeleteOwnerRecords delete all sealed records of one owner

	@param ctx context.Context - execution context
	@param ownerID string - the record owner
*/
func (d *databaseImpl) DeleteOwnerRecords(ctx context.Context, ownerID string) error {
	if tmp := d.db.
		Where("owner_id = ?", ownerID).
		Delete(&SealedRecordDBEntry{}); tmp.Error != nil {
		return fmt.Errorf("failed to delete records of %s [%w]", ownerID, tmp.Error)
	}

	// Record this event
	if _, err := d.RecordSystemEvent(
		ctx,
		models.SystemEventTypeOwnerDataWiped,
		models.SystemEventOwnerRelated{OwnerID: ownerID},
	); err != nil {
		return fmt.Errorf("failed to log owner data wipe audit event [%w]", err)
	}

	return nil
}
