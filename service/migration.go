package service

import (
	"context"
	"fmt"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/tripforms/valise/db"
	"github.com/tripforms/valise/models"
)

// MigrationStatusENUMType overall outcome of one legacy store migration run
type MigrationStatusENUMType string

const (
	// MigrationStatusAlreadyMigrated the owner's migration marker already existed
	MigrationStatusAlreadyMigrated MigrationStatusENUMType = "ALREADY_MIGRATED"
	// MigrationStatusSuccess every record type found in the legacy store migrated
	MigrationStatusSuccess MigrationStatusENUMType = "SUCCESS"
	// MigrationStatusPartialSuccess some record types migrated, some failed
	MigrationStatusPartialSuccess MigrationStatusENUMType = "PARTIAL_SUCCESS"
	// MigrationStatusTotalFailure legacy data was found but nothing migrated
	MigrationStatusTotalFailure MigrationStatusENUMType = "TOTAL_FAILURE"
)

// MigrationResult outcome of one legacy store migration run
type MigrationResult struct {
	// Status overall outcome
	Status MigrationStatusENUMType `json:"status"`
	// Passport whether a legacy passport record migrated
	Passport bool `json:"passport"`
	// PersonalInfo whether a legacy personal info record migrated
	PersonalInfo bool `json:"personalInfo"`
	// FundingProof whether a legacy funding proof record migrated
	FundingProof bool `json:"fundingProof"`
	// Errors per-record-type migration failures
	Errors []string `json:"errors,omitempty"`
}

// legacyKeyCandidates the ordered legacy keys to probe for one record type
//
// The owner-specific key comes first; the bare keys tolerate data written
// before the store became multi-user.
func legacyKeyCandidates(recordType models.RecordTypeENUMType, ownerID string) []string {
	switch recordType {
	case models.RecordTypePassport:
		return []string{fmt.Sprintf("@passport_%s", ownerID), "@passport", "passport_data"}
	case models.RecordTypePersonalInfo:
		return []string{
			fmt.Sprintf("@personal_info_%s", ownerID), "@personal_info", "personal_info_data",
		}
	case models.RecordTypeFundingProof:
		return []string{
			fmt.Sprintf("@funding_proof_%s", ownerID), "@funding_proof", "funding_proof_data",
		}
	}
	return nil
}

// transformLegacyRecord best-effort normalize one parsed legacy record
//
// Legacy payloads predate several fields, so identity, ownership, and
// timestamps are injected rather than required.
func transformLegacyRecord(record interface{}, ownerID string, now time.Time) {
	switch value := record.(type) {
	case *models.Passport:
		value.OwnerID = ownerID
		if value.ID == "" {
			value.ID = uuid.NewString()
		}
		if value.Gender == "" {
			value.Gender = models.GenderUndefined
		}
		if value.CreatedAt.IsZero() {
			value.CreatedAt = now
		}
		value.UpdatedAt = now
	case *models.PersonalInfo:
		value.OwnerID = ownerID
		if value.ID == "" {
			value.ID = uuid.NewString()
		}
		if value.CreatedAt.IsZero() {
			value.CreatedAt = now
		}
		value.UpdatedAt = now
	case *models.FundingProof:
		value.OwnerID = ownerID
		if value.ID == "" {
			value.ID = uuid.NewString()
		}
		if value.CreatedAt.IsZero() {
			value.CreatedAt = now
		}
		value.UpdatedAt = now
	}
}

// migrateRecordType probe the legacy store for one record type and, if found,
// persist it without validation
//
// Legacy data may be incomplete; it is normalized on a best-effort basis,
// never rejected.
func (s *dataService) migrateRecordType(
	ctx context.Context, ownerID string, recordType models.RecordTypeENUMType,
) (bool, error) {
	logTags := s.GetLogTagsForContext(ctx)

	var payload []byte
	for _, key := range legacyKeyCandidates(recordType, ownerID) {
		value, err := s.legacy.Get(ctx, key)
		if err != nil {
			return false, fmt.Errorf("failed to probe legacy key '%s' [%w]", key, err)
		}
		if value == nil {
			continue
		}

		if _, parseErr := unmarshalRecord(recordType, value); parseErr != nil {
			log.WithError(parseErr).WithFields(logTags).
				WithField("legacy_key", key).
				Warn("Skipping unparseable legacy payload")
			continue
		}

		payload = value
		break
	}

	if payload == nil {
		return false, nil
	}

	record, err := unmarshalRecord(recordType, payload)
	if err != nil {
		return false, err
	}
	transformLegacyRecord(record, ownerID, time.Now())

	if err := s.persistRecord(
		ctx, ownerID, recordType, record, time.Now(), nil,
	); err != nil {
		return false, err
	}

	s.cache.invalidateAndStore(cacheKey{RecordType: recordType, OwnerID: ownerID}, record)

	return true, nil
}

/*
MigrateFromLegacyStore run the one-time legacy store migration

	Each record type migrates independently; a failure in one never prevents
	attempting the others. The migration marker is written once all three
	have been attempted, even on total failure, so permanently malformed
	legacy data does not cause a retry storm.

	@param ctx context.Context - execution context
	@param ownerID string - the traveler
	@returns per-record-type migration outcome
*/
func (s *dataService) MigrateFromLegacyStore(
	ctx context.Context, ownerID string,
) (MigrationResult, error) {
	logTags := s.GetLogTagsForContext(ctx)

	// Never touch the legacy store when the marker already exists
	var needed bool
	if dbErr := s.persistence.UseDatabase(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			needed, err = dbClient.NeedsMigration(dbCtx, ownerID)
			return err
		},
	); dbErr != nil {
		return MigrationResult{}, fmt.Errorf(
			"failed to check migration marker of %s [%w]", ownerID, dbErr,
		)
	}
	if !needed {
		return MigrationResult{Status: MigrationStatusAlreadyMigrated}, nil
	}

	result := MigrationResult{}
	migrated := []models.RecordTypeENUMType{}

	for _, recordType := range models.AllRecordTypes() {
		found, err := s.migrateRecordType(ctx, ownerID, recordType)
		if err != nil {
			result.Errors = append(
				result.Errors, fmt.Sprintf("%s: %s", recordType, err.Error()),
			)
			log.WithError(err).WithFields(logTags).
				WithField("owner", ownerID).
				WithField("record_type", recordType).
				Error("Legacy record migration failed")
			continue
		}
		if !found {
			continue
		}

		migrated = append(migrated, recordType)
		switch recordType {
		case models.RecordTypePassport:
			result.Passport = true
		case models.RecordTypePersonalInfo:
			result.PersonalInfo = true
		case models.RecordTypeFundingProof:
			result.FundingProof = true
		}
	}

	switch {
	case len(result.Errors) == 0:
		result.Status = MigrationStatusSuccess
	case len(migrated) > 0:
		result.Status = MigrationStatusPartialSuccess
	default:
		result.Status = MigrationStatusTotalFailure
	}

	// The marker is written regardless of outcome
	if dbErr := s.persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			_, err := dbClient.MarkMigrationComplete(
				dbCtx, ownerID, models.MigrationSourceLegacyKV, migrated, result.Errors,
			)
			return err
		},
	); dbErr != nil {
		return MigrationResult{}, fmt.Errorf(
			"failed to write migration marker of %s [%w]", ownerID, dbErr,
		)
	}

	log.WithFields(logTags).
		WithField("owner", ownerID).
		WithField("status", result.Status).
		WithField("migrated", len(migrated)).
		Info("Legacy store migration complete")

	return result, nil
}

/*
Initialize prepare the service for one owner

	Idempotent and safe to call on every screen mount. Runs the one-time
	legacy store migration when it has not run yet; migration failures are
	logged but never block the caller.

	@param ctx context.Context - execution context
	@param ownerID string - the traveler
*/
func (s *dataService) Initialize(ctx context.Context, ownerID string) error {
	logTags := s.GetLogTagsForContext(ctx)

	result, err := s.MigrateFromLegacyStore(ctx, ownerID)
	if err != nil {
		// Startup must not be blocked by a broken migration path
		log.WithError(err).WithFields(logTags).
			WithField("owner", ownerID).
			Error("Legacy store migration did not run")
		return nil
	}

	if result.Status != MigrationStatusAlreadyMigrated {
		log.WithFields(logTags).
			WithField("owner", ownerID).
			WithField("status", result.Status).
			Debug("Ran legacy store migration on initialization")
	}

	return nil
}
