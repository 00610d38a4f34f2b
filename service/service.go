package service

import (
	"context"
	"fmt"
	"time"

	"github.com/alwitt/goutils"
	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/tripforms/valise/db"
	"github.com/tripforms/valise/encryption"
	"github.com/tripforms/valise/legacy"
	"github.com/tripforms/valise/models"
)

// UserDataSnapshot all traveler records of one owner loaded in one pass
type UserDataSnapshot struct {
	// Passport the owner's passport, nil when absent
	Passport *models.Passport `json:"passport"`
	// PersonalInfo the owner's personal info, nil when absent
	PersonalInfo *models.PersonalInfo `json:"personalInfo"`
	// FundingProof the owner's funding proof, nil when absent
	FundingProof *models.FundingProof `json:"fundingProof"`

	// OwnerID the traveler the snapshot belongs to
	OwnerID string `json:"ownerId"`
	// LoadedAt when the load completed
	LoadedAt time.Time `json:"loadedAt"`
	// LoadDurationMs how long the load took, in milliseconds
	LoadDurationMs int64 `json:"loadDurationMs"`
}

// UserDataBundle a subset of traveler records to write in one pass
type UserDataBundle struct {
	Passport     *models.Passport     `json:"passport,omitempty"`
	PersonalInfo *models.PersonalInfo `json:"personalInfo,omitempty"`
	FundingProof *models.FundingProof `json:"fundingProof,omitempty"`
}

// BatchUpdates a subset of partial record updates to apply in one pass
type BatchUpdates struct {
	Passport     *models.PassportUpdate     `json:"passport,omitempty"`
	PersonalInfo *models.PersonalInfoUpdate `json:"personalInfo,omitempty"`
	FundingProof *models.FundingProofUpdate `json:"fundingProof,omitempty"`
}

// DataService the single facade UI screens use to read and write traveler
// entry records
//
// Reads are TTL-cached per (record type, owner) pair; writes invalidate and
// immediately repopulate the touched cache entry, so the read following a
// write is a warm hit. Record absence is reported as nil, not as an error.
type DataService interface {
	/*
		Initialize prepare the service for one owner

			Idempotent and safe to call on every screen mount. Runs the one-time
			legacy store migration when it has not run yet; migration failures are
			logged but never block the caller.

			@param ctx context.Context - execution context
			@param ownerID string - the traveler
	*/
	Initialize(ctx context.Context, ownerID string) error

	// ------------------------------------------------------------------------------------
	// Cached single-record operations

	/*
		GetPassport fetch the owner's passport

			@param ctx context.Context - execution context
			@param ownerID string - the traveler
			@returns the passport, or nil when absent
	*/
	GetPassport(ctx context.Context, ownerID string) (*models.Passport, error)

	/*
		SavePassport create or replace the owner's passport

			@param ctx context.Context - execution context
			@param ownerID string - the traveler
			@param passport models.Passport - the record content
			@returns the persisted record
	*/
	SavePassport(
		ctx context.Context, ownerID string, passport models.Passport,
	) (models.Passport, error)

	/*
		UpdatePassport apply a partial update to the owner's passport

			@param ctx context.Context - execution context
			@param ownerID string - the traveler
			@param updates models.PassportUpdate - the fields to change
			@returns the persisted record
	*/
	UpdatePassport(
		ctx context.Context, ownerID string, updates models.PassportUpdate,
	) (models.Passport, error)

	/*
		GetPersonalInfo fetch the owner's personal info

			@param ctx context.Context - execution context
			@param ownerID string - the traveler
			@returns the personal info, or nil when absent
	*/
	GetPersonalInfo(ctx context.Context, ownerID string) (*models.PersonalInfo, error)

	/*
		SavePersonalInfo create or replace the owner's personal info

			@param ctx context.Context - execution context
			@param ownerID string - the traveler
			@param info models.PersonalInfo - the record content
			@returns the persisted record
	*/
	SavePersonalInfo(
		ctx context.Context, ownerID string, info models.PersonalInfo,
	) (models.PersonalInfo, error)

	/*
		UpdatePersonalInfo merge a partial update into the owner's personal info

			Blank incoming fields never overwrite existing non-empty values.

			@param ctx context.Context - execution context
			@param ownerID string - the traveler
			@param updates models.PersonalInfoUpdate - the fields to merge
			@returns the persisted record
	*/
	UpdatePersonalInfo(
		ctx context.Context, ownerID string, updates models.PersonalInfoUpdate,
	) (models.PersonalInfo, error)

	/*
		GetFundingProof fetch the owner's funding proof

			@param ctx context.Context - execution context
			@param ownerID string - the traveler
			@returns the funding proof, or nil when absent
	*/
	GetFundingProof(ctx context.Context, ownerID string) (*models.FundingProof, error)

	/*
		SaveFundingProof create or replace the owner's funding proof

			@param ctx context.Context - execution context
			@param ownerID string - the traveler
			@param proof models.FundingProof - the record content
			@returns the persisted record
	*/
	SaveFundingProof(
		ctx context.Context, ownerID string, proof models.FundingProof,
	) (models.FundingProof, error)

	/*
		UpdateFundingProof apply a partial update to the owner's funding proof

			@param ctx context.Context - execution context
			@param ownerID string - the traveler
			@param updates models.FundingProofUpdate - the fields to change
			@returns the persisted record
	*/
	UpdateFundingProof(
		ctx context.Context, ownerID string, updates models.FundingProofUpdate,
	) (models.FundingProof, error)

	// ------------------------------------------------------------------------------------
	// Batched operations

	/*
		GetAllUserData load all three traveler records in one pass

			With batch load, all three sealed rows are fetched in one read
			transaction and unsealed outside it, giving a consistent snapshot.
			Without it, three independent cached reads run concurrently.

			@param ctx context.Context - execution context
			@param ownerID string - the traveler
			@param useBatchLoad bool - whether to use the single-transaction path
			@returns the snapshot
	*/
	GetAllUserData(
		ctx context.Context, ownerID string, useBatchLoad bool,
	) (UserDataSnapshot, error)

	/*
		SaveAllUserData persist the provided subset of records in one atomic pass

			Either every provided record is written, or none.

			@param ctx context.Context - execution context
			@param ownerID string - the traveler
			@param bundle UserDataBundle - the records to write
			@returns the persisted records
	*/
	SaveAllUserData(
		ctx context.Context, ownerID string, bundle UserDataBundle,
	) (UserDataBundle, error)

	/*
		BatchUpdate apply the provided subset of partial updates in one atomic pass

			Either every provided update is applied, or none.

			@param ctx context.Context - execution context
			@param ownerID string - the traveler
			@param updates BatchUpdates - the updates to apply
			@returns the merged persisted records
	*/
	BatchUpdate(
		ctx context.Context, ownerID string, updates BatchUpdates,
	) (UserDataBundle, error)

	// ------------------------------------------------------------------------------------
	// Owner lifecycle

	/*
		HasUserData whether the owner has any stored record

			@param ctx context.Context - execution context
			@param ownerID string - the traveler
	*/
	HasUserData(ctx context.Context, ownerID string) (bool, error)

	/*
		DeleteAllUserData delete every stored record of one owner

			@param ctx context.Context - execution context
			@param ownerID string - the traveler
	*/
	DeleteAllUserData(ctx context.Context, ownerID string) error

	// ------------------------------------------------------------------------------------
	// Migration

	/*
		MigrateFromLegacyStore run the one-time legacy store migration

			Normally invoked internally by Initialize; exposed for manual retry
			and testing. Idempotent via the per-owner migration marker.

			@param ctx context.Context - execution context
			@param ownerID string - the traveler
			@returns per-record-type migration outcome
	*/
	MigrateFromLegacyStore(ctx context.Context, ownerID string) (MigrationResult, error)

	// ------------------------------------------------------------------------------------
	// Consistency and conflicts

	/*
		ValidateDataConsistency run per-record and cross-record validation

			Purely diagnostic; performs no writes.

			@param ctx context.Context - execution context
			@param ownerID string - the traveler
			@returns structured validation report
	*/
	ValidateDataConsistency(ctx context.Context, ownerID string) (ConsistencyReport, error)

	/*
		DetectDataConflicts diff the legacy store against the sealed store

			@param ctx context.Context - execution context
			@param ownerID string - the traveler
			@returns field-level conflict report
	*/
	DetectDataConflicts(ctx context.Context, ownerID string) (ConflictReport, error)

	/*
		ResolveDataConflicts discard legacy store values in favor of the sealed store

			The sealed store always wins. Conflict details are logged and audited
			before being discarded, and the owner's cache entries are refreshed.

			@param ctx context.Context - execution context
			@param ownerID string - the traveler
			@returns resolution report
	*/
	ResolveDataConflicts(ctx context.Context, ownerID string) (ResolutionReport, error)

	// ------------------------------------------------------------------------------------
	// Cache management

	// ClearCache drop all cache entries for all owners
	ClearCache()

	/*
		RefreshCache drop the cache entries of one owner so the next reads go to
		storage

			@param ctx context.Context - execution context
			@param ownerID string - the traveler
	*/
	RefreshCache(ctx context.Context, ownerID string) error

	// GetCacheStats read the current cache counters
	GetCacheStats() CacheStats

	// ResetCacheStats zero the cache counters without touching cached data
	ResetCacheStats()
}

// dataService implements DataService
type dataService struct {
	goutils.Component

	persistence db.Client
	crypto      encryption.Engine
	legacy      legacy.Store

	cache     *recordCache
	validator *validator.Validate
}

// DataServiceParams data service init parameters
type DataServiceParams struct {
	// Persistence persistence layer client
	Persistence db.Client `validate:"-"`
	// Crypto record payload sealing engine
	Crypto encryption.Engine `validate:"-"`
	// Legacy legacy key-value store reader
	Legacy legacy.Store `validate:"-"`
	// CacheTTL cache entry freshness window; DefaultCacheTTL when zero
	CacheTTL time.Duration `validate:"-"`
	// MetricsRegistry optional Prometheus registerer for cache counters
	MetricsRegistry prometheus.Registerer `validate:"-"`
}

/*
NewDataService define a new traveler data service

	@param ctx context.Context - execution context
	@param params DataServiceParams - service parameters
	@returns service instance
*/
func NewDataService(_ context.Context, params DataServiceParams) (DataService, error) {
	logTags := log.Fields{"package": "valise", "module": "service", "component": "data-service"}

	if params.Persistence == nil {
		return nil, fmt.Errorf("persistence client is required")
	}
	if params.Crypto == nil {
		return nil, fmt.Errorf("sealing engine is required")
	}
	if params.Legacy == nil {
		return nil, fmt.Errorf("legacy store reader is required")
	}

	var metrics *cacheMetrics
	if params.MetricsRegistry != nil {
		var err error
		metrics, err = newCacheMetrics(params.MetricsRegistry)
		if err != nil {
			return nil, fmt.Errorf("failed to register cache metrics [%w]", err)
		}
	}

	instance := &dataService{
		Component: goutils.Component{
			LogTags: logTags,
			LogTagModifiers: []goutils.LogMetadataModifier{
				goutils.ModifyLogMetadataByRestRequestParam,
			},
		},
		persistence: params.Persistence,
		crypto:      params.Crypto,
		legacy:      params.Legacy,
		cache:       newRecordCache(params.CacheTTL, metrics),
		validator:   validator.New(),
	}

	if err := models.RegisterWithValidator(instance.validator); err != nil {
		return nil, fmt.Errorf("failed to install custom validation macros [%w]", err)
	}

	return instance, nil
}

/*
HasUserData whether the owner has any stored record

	@param ctx context.Context - execution context
	@param ownerID string - the traveler
*/
func (s *dataService) HasUserData(ctx context.Context, ownerID string) (bool, error) {
	var sealed map[models.RecordTypeENUMType]*models.SealedRecord
	if dbErr := s.persistence.UseDatabase(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			sealed, err = dbClient.GetSealedRecordsForOwner(dbCtx, ownerID)
			return err
		},
	); dbErr != nil {
		return false, fmt.Errorf("failed to probe records of %s [%w]", ownerID, dbErr)
	}

	for _, envelope := range sealed {
		if envelope != nil {
			return true, nil
		}
	}
	return false, nil
}

/*
DeleteAllUserData delete every stored record of one owner

	@param ctx context.Context - execution context
	@param ownerID string - the traveler
*/
func (s *dataService) DeleteAllUserData(ctx context.Context, ownerID string) error {
	if dbErr := s.persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			return dbClient.DeleteOwnerRecords(dbCtx, ownerID)
		},
	); dbErr != nil {
		return fmt.Errorf("failed to delete records of %s [%w]", ownerID, dbErr)
	}

	s.cache.purgeOwner(ownerID)

	log.WithFields(s.LogTags).WithField("owner", ownerID).Info("Deleted all owner data")
	return nil
}

// ClearCache drop all cache entries for all owners
func (s *dataService) ClearCache() {
	s.cache.purgeAll()
}

/*
RefreshCache drop the cache entries of one owner so the next reads go to storage

	@param ctx context.Context - execution context
	@param ownerID string - the traveler
*/
func (s *dataService) RefreshCache(_ context.Context, ownerID string) error {
	s.cache.purgeOwner(ownerID)
	return nil
}

// GetCacheStats read the current cache counters
func (s *dataService) GetCacheStats() CacheStats {
	return s.cache.snapshotStats()
}

// ResetCacheStats zero the cache counters without touching cached data
func (s *dataService) ResetCacheStats() {
	s.cache.resetStats()
}
