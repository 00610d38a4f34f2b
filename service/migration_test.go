package service_test

import (
	"context"
	"testing"

	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/tripforms/valise/db"
	"github.com/tripforms/valise/models"
	"github.com/tripforms/valise/service"
)

// TestDataServiceLegacyMigration verifies the one-time legacy store migration
// including key probing, field injection, and marker idempotency.
func TestDataServiceLegacyMigration(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	owner := uuid.NewString()

	uut, dbClient := newTestService(t, map[string]string{
		// Pre-multi-user passport payload under the bare key, with no owner
		"@passport": `{"passportNumber":"E12345678","fullName":"ZHANG, WEI","nationality":"CHN"}`,
		// Owner-specific personal info payload
		"@personal_info_" + owner: `{"email":"wei.zhang@example.com","occupation":"Engineer"}`,
		// Unparseable funding proof payload is skipped, not fatal
		"@funding_proof": "not a json document",
	}, 0)

	// -------------------------------------------------------------------------
	// 1. Initialization never fails on migration problems
	assert.Nil(uut.Initialize(utCtx, owner))

	// 2. The legacy records came across
	result, err := uut.MigrateFromLegacyStore(utCtx, owner)
	assert.Nil(err)
	assert.Equal(service.MigrationStatusAlreadyMigrated, result.Status)

	passport, err := uut.GetPassport(utCtx, owner)
	assert.Nil(err)
	assert.NotNil(passport)
	assert.Equal("E12345678", passport.PassportNumber)
	// Identity and defaults were injected during the transform
	assert.Equal(owner, passport.OwnerID)
	assert.NotEmpty(passport.ID)
	assert.Equal(models.GenderUndefined, passport.Gender)
	assert.False(passport.UpdatedAt.IsZero())

	info, err := uut.GetPersonalInfo(utCtx, owner)
	assert.Nil(err)
	assert.NotNil(info)
	assert.Equal("wei.zhang@example.com", info.Email)
	assert.Equal(owner, info.OwnerID)

	proof, err := uut.GetFundingProof(utCtx, owner)
	assert.Nil(err)
	assert.Nil(proof)

	// 3. The marker is recorded in storage
	err = dbClient.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		status, err := dbClient.GetMigrationStatus(ctx, owner)
		if err != nil {
			return err
		}
		assert.NotNil(status)
		assert.Equal(models.MigrationSourceLegacyKV, status.Source)
		return nil
	})
	assert.Nil(err)

	// -------------------------------------------------------------------------
	// 4. Migrated legacy data may be incomplete. It is stored anyway and
	// surfaces through consistency validation instead.
	report, err := uut.ValidateDataConsistency(utCtx, owner)
	assert.Nil(err)
	assert.False(report.IsConsistent)
	assert.False(report.Passport.Valid)
	assert.NotEmpty(report.Passport.Errors)
	assert.True(report.PersonalInfo.Valid)
}

// TestDataServiceMigrationFreshOwner verifies the no-legacy-data path writes a
// marker and leaves the owner empty.
func TestDataServiceMigrationFreshOwner(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	uut, dbClient := newTestService(t, nil, 0)
	owner := uuid.NewString()

	// 1. First run finds nothing and succeeds
	result, err := uut.MigrateFromLegacyStore(utCtx, owner)
	assert.Nil(err)
	assert.Equal(service.MigrationStatusSuccess, result.Status)
	assert.False(result.Passport)
	assert.False(result.PersonalInfo)
	assert.False(result.FundingProof)
	assert.Empty(result.Errors)

	// 2. The owner still has no data
	snapshot, err := uut.GetAllUserData(utCtx, owner, true)
	assert.Nil(err)
	assert.Nil(snapshot.Passport)
	assert.Nil(snapshot.PersonalInfo)
	assert.Nil(snapshot.FundingProof)

	// 3. But the marker exists, so the next run is a NOOP
	err = dbClient.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		needed, err := dbClient.NeedsMigration(ctx, owner)
		if err != nil {
			return err
		}
		assert.False(needed)
		return nil
	})
	assert.Nil(err)
	result, err = uut.MigrateFromLegacyStore(utCtx, owner)
	assert.Nil(err)
	assert.Equal(service.MigrationStatusAlreadyMigrated, result.Status)
}

// TestDataServiceConflictResolution verifies legacy/sealed diffing and the
// sealed-database-wins resolution policy.
func TestDataServiceConflictResolution(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	owner := uuid.NewString()

	uut, dbClient := newTestService(t, map[string]string{
		"@personal_info_" + owner: `{"phoneNumber":"+8613900002222","email":"old@x.com"}`,
	}, 0)

	// -------------------------------------------------------------------------
	// 1. The sealed database holds newer contact details than the legacy store
	_, err := uut.SavePersonalInfo(utCtx, owner, models.PersonalInfo{
		PhoneNumber: "+8613900001111", Email: "new@x.com",
	})
	assert.Nil(err)

	detected, err := uut.DetectDataConflicts(utCtx, owner)
	assert.Nil(err)
	assert.True(detected.HasConflicts)
	assert.Len(detected.PersonalInfo, 2)
	assert.Equal("phoneNumber", detected.PersonalInfo[0].Field)
	assert.Equal("email", detected.PersonalInfo[1].Field)
	assert.Equal("new@x.com", detected.PersonalInfo[1].SealedValue)
	assert.Equal("old@x.com", detected.PersonalInfo[1].LegacyValue)
	assert.Empty(detected.Passport)
	assert.Empty(detected.FundingProof)

	// -------------------------------------------------------------------------
	// 2. Resolution discards the legacy values and audits the decision. The
	// conflict listing order is stable, and the audit metadata parses back
	// into the resolved field names.
	resolution, err := uut.ResolveDataConflicts(utCtx, owner)
	assert.Nil(err)
	assert.Equal(2, resolution.ResolvedCount)
	assert.Equal([]string{"personalInfo.phoneNumber", "personalInfo.email"}, resolution.Fields)

	validate := validator.New()
	assert.Nil(models.RegisterWithValidator(validate))
	err = dbClient.UseDatabase(utCtx, func(ctx context.Context, dbClient db.Database) error {
		events, err := dbClient.ListSystemEvents(ctx, db.SystemEventQueryFilter{
			EventTypes: []models.SystemEventTypeENUMType{models.SystemEventTypeConflictResolved},
		})
		if err != nil {
			return err
		}
		assert.Len(events, 1)
		parsed, err := events[0].ParseMetadata(validate)
		if err != nil {
			return err
		}
		assert.Equal(models.SystemEventConflictRelated{
			OwnerID:       owner,
			ConflictCount: 2,
			Fields:        []string{"personalInfo.phoneNumber", "personalInfo.email"},
		}, parsed)
		return nil
	})
	assert.Nil(err)

	// 3. Subsequent reads return the sealed value
	info, err := uut.GetPersonalInfo(utCtx, owner)
	assert.Nil(err)
	assert.Equal("new@x.com", info.Email)

	// -------------------------------------------------------------------------
	// 4. An owner with no legacy data has nothing to resolve
	otherOwner := uuid.NewString()
	detected, err = uut.DetectDataConflicts(utCtx, otherOwner)
	assert.Nil(err)
	assert.False(detected.HasConflicts)
	resolution, err = uut.ResolveDataConflicts(utCtx, otherOwner)
	assert.Nil(err)
	assert.Equal(0, resolution.ResolvedCount)
}

// TestDataServiceConsistencyWarnings verifies cross-record checks distinguish
// warnings from errors.
func TestDataServiceConsistencyWarnings(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	uut, _ := newTestService(t, nil, 0)
	owner := uuid.NewString()

	// 1. Valid records with agreeing countries are consistent
	_, err := uut.SavePassport(utCtx, owner, testPassport())
	assert.Nil(err)
	_, err = uut.SavePersonalInfo(utCtx, owner, models.PersonalInfo{CountryOfResidence: "CHN"})
	assert.Nil(err)

	report, err := uut.ValidateDataConsistency(utCtx, owner)
	assert.Nil(err)
	assert.True(report.IsConsistent)
	assert.True(report.CrossField.Valid)
	assert.Empty(report.CrossField.Warnings)

	// 2. Residence differing from nationality warns without failing
	_, err = uut.SavePersonalInfo(utCtx, owner, models.PersonalInfo{CountryOfResidence: "USA"})
	assert.Nil(err)

	report, err = uut.ValidateDataConsistency(utCtx, owner)
	assert.Nil(err)
	assert.True(report.IsConsistent)
	assert.True(report.CrossField.Valid)
	assert.Len(report.CrossField.Warnings, 1)
}
