package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/apex/log"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/tripforms/valise/db"
	"github.com/tripforms/valise/encryption"
	"github.com/tripforms/valise/legacy"
	"github.com/tripforms/valise/models"
	"github.com/tripforms/valise/service"
	"gorm.io/gorm/logger"
)

// passthroughEngine implements encryption.Engine without real cryptography so
// the service tests stay deterministic
type passthroughEngine struct {
	key models.EncryptionKey
}

func (e passthroughEngine) Seal(
	_ context.Context, plainText []byte, _ db.Database,
) (encryption.SealedPayload, error) {
	return encryption.SealedPayload{
		KeyID:      e.key.ID,
		CipherText: append([]byte{}, plainText...),
		Nonce:      []byte("unit-test-nonce"),
	}, nil
}

func (e passthroughEngine) Unseal(
	_ context.Context, payload encryption.SealedPayload, _ db.Database,
) ([]byte, error) {
	return payload.CipherText, nil
}

func (e passthroughEngine) WorkingKey(
	_ context.Context, _ db.Database,
) (models.EncryptionKey, error) {
	return e.key, nil
}

// newTestService stand up a data service against a fresh SQLite database and
// a legacy store document holding the given entries
func newTestService(
	t *testing.T, legacyEntries map[string]string, cacheTTL time.Duration,
) (service.DataService, db.Client) {
	assert := assert.New(t)
	utCtx := context.Background()

	testDB := fmt.Sprintf("/tmp/valise_ut_%s.db", ulid.Make().String())
	dbClient, err := db.NewConnection(db.GetSqliteDialector(testDB), logger.Error)
	assert.Nil(err)
	assert.Nil(dbClient.RunSQLInTransaction(utCtx, db.DefineTables))

	// The sealed rows reference a real key row even though sealing is stubbed
	var encKey models.EncryptionKey
	err = dbClient.UseDatabaseInTransaction(
		utCtx, func(ctx context.Context, dbClient db.Database) error {
			k, err := dbClient.RecordEncryptionKey(ctx, []byte(uuid.NewString()))
			if err != nil {
				return err
			}
			encKey = k
			return nil
		},
	)
	assert.Nil(err)

	legacyFile := fmt.Sprintf("/tmp/valise_ut_%s.json", ulid.Make().String())
	if legacyEntries != nil {
		content, err := json.Marshal(legacyEntries)
		assert.Nil(err)
		assert.Nil(os.WriteFile(legacyFile, content, 0o600))
	}
	legacyStore, err := legacy.NewFileStore(legacyFile)
	assert.Nil(err)

	uut, err := service.NewDataService(utCtx, service.DataServiceParams{
		Persistence:     dbClient,
		Crypto:          passthroughEngine{key: encKey},
		Legacy:          legacyStore,
		CacheTTL:        cacheTTL,
		MetricsRegistry: prometheus.NewRegistry(),
	})
	assert.Nil(err)

	return uut, dbClient
}

func testPassport() models.Passport {
	return models.Passport{
		PassportNumber: "E12345678",
		FullName:       "ZHANG, WEI",
		DateOfBirth:    "1990-04-12",
		Nationality:    "CHN",
		IssueDate:      "2020-06-01",
		ExpiryDate:     "2030-06-01",
	}
}

func strPtr(s string) *string { return &s }

// TestDataServiceRecordLifecycle verifies the typed save / get / update /
// delete flows.
func TestDataServiceRecordLifecycle(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	uut, _ := newTestService(t, nil, 0)
	owner := uuid.NewString()

	// -------------------------------------------------------------------------
	// 1. A fresh owner has no records
	read, err := uut.GetPassport(utCtx, owner)
	assert.Nil(err)
	assert.Nil(read)
	hasData, err := uut.HasUserData(utCtx, owner)
	assert.Nil(err)
	assert.False(hasData)

	// -------------------------------------------------------------------------
	// 2. Save a passport. Identity fields are filled in.
	saved, err := uut.SavePassport(utCtx, owner, testPassport())
	assert.Nil(err)
	assert.NotEmpty(saved.ID)
	assert.Equal(owner, saved.OwnerID)
	assert.Equal(models.GenderUndefined, saved.Gender)

	read, err = uut.GetPassport(utCtx, owner)
	assert.Nil(err)
	assert.NotNil(read)
	assert.Equal(saved.ID, read.ID)
	assert.Equal("E12345678", read.PassportNumber)

	// 3. An invalid save is rejected with no partial write
	broken := testPassport()
	broken.Nationality = "China"
	_, err = uut.SavePassport(utCtx, owner, broken)
	assert.Error(err)
	assert.True(errors.Is(err, models.ErrValidation))
	read, err = uut.GetPassport(utCtx, owner)
	assert.Nil(err)
	assert.Equal("CHN", read.Nationality)

	// 4. Replacing the passport keeps its identity
	replacement := testPassport()
	replacement.PassportNumber = "E87654321"
	replaced, err := uut.SavePassport(utCtx, owner, replacement)
	assert.Nil(err)
	assert.Equal(saved.ID, replaced.ID)
	assert.Equal(saved.CreatedAt.Unix(), replaced.CreatedAt.Unix())

	// 5. Partial passport update overwrites only the provided fields
	updated, err := uut.UpdatePassport(utCtx, owner, models.PassportUpdate{
		IssuePlace: strPtr("Guangzhou"),
	})
	assert.Nil(err)
	assert.Equal("Guangzhou", updated.IssuePlace)
	assert.Equal("E87654321", updated.PassportNumber)

	// -------------------------------------------------------------------------
	// 6. Updating personal info with no existing record starts a fresh one
	info, err := uut.UpdatePersonalInfo(utCtx, owner, models.PersonalInfoUpdate{
		Email: strPtr("wei.zhang@example.com"),
	})
	assert.Nil(err)
	assert.NotEmpty(info.ID)
	assert.Equal("wei.zhang@example.com", info.Email)

	// 7. Blank incoming fields never clobber existing values
	info, err = uut.UpdatePersonalInfo(utCtx, owner, models.PersonalInfoUpdate{
		Email:      strPtr("   "),
		Occupation: strPtr("Engineer"),
	})
	assert.Nil(err)
	assert.Equal("wei.zhang@example.com", info.Email)
	assert.Equal("Engineer", info.Occupation)

	// -------------------------------------------------------------------------
	// 8. Updating an absent funding proof is an error
	_, err = uut.UpdateFundingProof(utCtx, owner, models.FundingProofUpdate{
		CashAmount: strPtr("5000 USD"),
	})
	assert.Error(err)
	proof, err := uut.SaveFundingProof(utCtx, owner, models.FundingProof{CashAmount: "5000 USD"})
	assert.Nil(err)
	assert.NotEmpty(proof.ID)

	// -------------------------------------------------------------------------
	// 9. Delete everything
	hasData, err = uut.HasUserData(utCtx, owner)
	assert.Nil(err)
	assert.True(hasData)
	assert.Nil(uut.DeleteAllUserData(utCtx, owner))
	hasData, err = uut.HasUserData(utCtx, owner)
	assert.Nil(err)
	assert.False(hasData)
	read, err = uut.GetPassport(utCtx, owner)
	assert.Nil(err)
	assert.Nil(read)
}

// TestDataServiceCacheBehavior verifies TTL expiry, write-path invalidation,
// per-owner isolation, and the statistics counters.
func TestDataServiceCacheBehavior(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	cacheTTL := time.Millisecond * 100
	uut, _ := newTestService(t, nil, cacheTTL)

	owner1 := uuid.NewString()
	owner2 := uuid.NewString()

	// -------------------------------------------------------------------------
	// 1. Save repopulates the cache, so the following read is a warm hit
	_, err := uut.SavePassport(utCtx, owner1, testPassport())
	assert.Nil(err)
	uut.ResetCacheStats()

	read, err := uut.GetPassport(utCtx, owner1)
	assert.Nil(err)
	assert.NotNil(read)
	stats := uut.GetCacheStats()
	assert.Equal(int64(1), stats.Hits)
	assert.Equal(int64(0), stats.Misses)

	// 2. Two reads within the TTL window never re-hit storage
	_, err = uut.GetPassport(utCtx, owner1)
	assert.Nil(err)
	stats = uut.GetCacheStats()
	assert.Equal(int64(2), stats.Hits)
	assert.Equal(int64(0), stats.Misses)

	// 3. Reads for another owner, or another record type, are not satisfied
	// by owner 1's passport entry
	read2, err := uut.GetPassport(utCtx, owner2)
	assert.Nil(err)
	assert.Nil(read2)
	info, err := uut.GetPersonalInfo(utCtx, owner1)
	assert.Nil(err)
	assert.Nil(info)
	stats = uut.GetCacheStats()
	assert.Equal(int64(2), stats.Misses)

	// 4. A confirmed-absent entry is itself a valid cached value
	read2, err = uut.GetPassport(utCtx, owner2)
	assert.Nil(err)
	assert.Nil(read2)
	stats = uut.GetCacheStats()
	assert.Equal(int64(3), stats.Hits)

	// -------------------------------------------------------------------------
	// 5. TTL expiry forces the next read back to storage
	time.Sleep(cacheTTL + time.Millisecond*20)
	read, err = uut.GetPassport(utCtx, owner1)
	assert.Nil(err)
	assert.NotNil(read)
	stats = uut.GetCacheStats()
	assert.Equal(int64(3), stats.Misses)

	// -------------------------------------------------------------------------
	// 6. A write bumps the invalidation counter and leaves a warm entry
	_, err = uut.UpdatePassport(utCtx, owner1, models.PassportUpdate{
		IssuePlace: strPtr("Shanghai"),
	})
	assert.Nil(err)
	stats = uut.GetCacheStats()
	assert.GreaterOrEqual(stats.Invalidations, int64(1))
	statsBefore := uut.GetCacheStats()
	read, err = uut.GetPassport(utCtx, owner1)
	assert.Nil(err)
	assert.Equal("Shanghai", read.IssuePlace)
	stats = uut.GetCacheStats()
	assert.Equal(statsBefore.Hits+1, stats.Hits)

	// -------------------------------------------------------------------------
	// 7. RefreshCache drops only that owner's entries
	_, err = uut.GetPassport(utCtx, owner2)
	assert.Nil(err)
	assert.Nil(uut.RefreshCache(utCtx, owner1))
	statsBefore = uut.GetCacheStats()
	_, err = uut.GetPassport(utCtx, owner1)
	assert.Nil(err)
	_, err = uut.GetPassport(utCtx, owner2)
	assert.Nil(err)
	stats = uut.GetCacheStats()
	assert.Equal(statsBefore.Misses+1, stats.Misses)
	assert.Equal(statsBefore.Hits+1, stats.Hits)

	// 8. Derived statistics hold together
	assert.Equal(stats.Hits+stats.Misses, stats.TotalRequests)
	assert.InDelta(
		float64(stats.Hits)/float64(stats.TotalRequests)*100.0, stats.HitRatePct, 0.01,
	)

	// 9. Resetting the counters does not drop cached data
	uut.ResetCacheStats()
	stats = uut.GetCacheStats()
	assert.Equal(int64(0), stats.TotalRequests)
	_, err = uut.GetPassport(utCtx, owner1)
	assert.Nil(err)
	stats = uut.GetCacheStats()
	assert.Equal(int64(1), stats.Hits)

	// 10. ClearCache drops everything
	uut.ClearCache()
	_, err = uut.GetPassport(utCtx, owner1)
	assert.Nil(err)
	stats = uut.GetCacheStats()
	assert.Equal(int64(1), stats.Misses)
}

// TestDataServiceBatchOperations verifies the batched load, save, and update
// flows including their all-or-nothing behavior.
func TestDataServiceBatchOperations(t *testing.T) {
	assert := assert.New(t)
	log.SetLevel(log.DebugLevel)

	utCtx := context.Background()
	uut, _ := newTestService(t, nil, 0)
	owner := uuid.NewString()

	// -------------------------------------------------------------------------
	// 1. Batch save a subset of record types
	bundle, err := uut.SaveAllUserData(utCtx, owner, service.UserDataBundle{
		Passport:     func() *models.Passport { p := testPassport(); return &p }(),
		FundingProof: &models.FundingProof{CashAmount: "5000 USD"},
	})
	assert.Nil(err)
	assert.NotNil(bundle.Passport)
	assert.NotNil(bundle.FundingProof)
	assert.Nil(bundle.PersonalInfo)

	// 2. Batch load returns the subset, with absence reported as nil
	snapshot, err := uut.GetAllUserData(utCtx, owner, true)
	assert.Nil(err)
	assert.Equal(owner, snapshot.OwnerID)
	assert.NotNil(snapshot.Passport)
	assert.NotNil(snapshot.FundingProof)
	assert.Nil(snapshot.PersonalInfo)
	assert.False(snapshot.LoadedAt.IsZero())
	// Millisecond units, so even a slow load stays far below one minute
	assert.GreaterOrEqual(snapshot.LoadDurationMs, int64(0))
	assert.Less(snapshot.LoadDurationMs, int64(60_000))

	// 3. The fallback path returns the same content
	snapshot2, err := uut.GetAllUserData(utCtx, owner, false)
	assert.Nil(err)
	assert.Equal(snapshot.Passport.ID, snapshot2.Passport.ID)
	assert.Equal(snapshot.FundingProof.ID, snapshot2.FundingProof.ID)
	assert.Nil(snapshot2.PersonalInfo)

	// -------------------------------------------------------------------------
	// 4. Batch update a subset, starting a personal info record on the fly
	merged, err := uut.BatchUpdate(utCtx, owner, service.BatchUpdates{
		Passport:     &models.PassportUpdate{IssuePlace: strPtr("Beijing")},
		PersonalInfo: &models.PersonalInfoUpdate{Email: strPtr("wei.zhang@example.com")},
	})
	assert.Nil(err)
	assert.Equal("Beijing", merged.Passport.IssuePlace)
	assert.Equal("wei.zhang@example.com", merged.PersonalInfo.Email)
	assert.Equal("5000 USD", merged.FundingProof.CashAmount)

	// -------------------------------------------------------------------------
	// 5. One invalid update aborts the whole batch
	_, err = uut.BatchUpdate(utCtx, owner, service.BatchUpdates{
		Passport:     &models.PassportUpdate{Nationality: strPtr("China")},
		PersonalInfo: &models.PersonalInfoUpdate{Occupation: strPtr("Engineer")},
	})
	assert.Error(err)
	assert.True(errors.Is(err, models.ErrValidation))

	snapshot, err = uut.GetAllUserData(utCtx, owner, true)
	assert.Nil(err)
	assert.Equal("CHN", snapshot.Passport.Nationality)
	assert.Empty(snapshot.PersonalInfo.Occupation)

	// 6. Updating an absent passport in a batch is an error as well
	otherOwner := uuid.NewString()
	_, err = uut.BatchUpdate(utCtx, otherOwner, service.BatchUpdates{
		Passport: &models.PassportUpdate{IssuePlace: strPtr("Beijing")},
	})
	assert.Error(err)

	// -------------------------------------------------------------------------
	// 7. Mutating a batch-loaded snapshot must not leak into the cache
	snapshot, err = uut.GetAllUserData(utCtx, owner, true)
	assert.Nil(err)
	snapshot.Passport.FullName = "TAMPERED"
	read, err := uut.GetPassport(utCtx, owner)
	assert.Nil(err)
	assert.Equal("ZHANG, WEI", read.FullName)

	// 8. Nor may mutating a bundle returned by a batch write
	merged, err = uut.BatchUpdate(utCtx, owner, service.BatchUpdates{
		PersonalInfo: &models.PersonalInfoUpdate{Occupation: strPtr("Engineer")},
	})
	assert.Nil(err)
	merged.PersonalInfo.Occupation = "TAMPERED"
	info, err := uut.GetPersonalInfo(utCtx, owner)
	assert.Nil(err)
	assert.Equal("Engineer", info.Occupation)
}
