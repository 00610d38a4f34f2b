package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tripforms/valise/db"
	"github.com/tripforms/valise/models"
)

// loadAllFromStore fetch all three sealed rows in one read transaction, then
// unseal them in parallel outside it
//
// Unsealing is CPU work and must not hold the transaction open.
func (s *dataService) loadAllFromStore(
	ctx context.Context, ownerID string,
) (*models.Passport, *models.PersonalInfo, *models.FundingProof, error) {
	var sealed map[models.RecordTypeENUMType]*models.SealedRecord
	if dbErr := s.persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			sealed, err = dbClient.GetSealedRecordsForOwner(dbCtx, ownerID)
			return err
		},
	); dbErr != nil {
		return nil, nil, nil, fmt.Errorf("failed to fetch records of %s [%w]", ownerID, dbErr)
	}

	var wg sync.WaitGroup
	var resultLock sync.Mutex
	results := map[models.RecordTypeENUMType]interface{}{}
	var unsealErr error

	for _, recordType := range models.AllRecordTypes() {
		envelope := sealed[recordType]
		if envelope == nil {
			continue
		}

		wg.Add(1)
		go func(envelope models.SealedRecord) {
			defer wg.Done()
			value, err := s.unsealRecord(ctx, envelope, nil)
			resultLock.Lock()
			defer resultLock.Unlock()
			if err != nil {
				unsealErr = err
				return
			}
			results[envelope.RecordType] = value
		}(*envelope)
	}
	wg.Wait()

	if unsealErr != nil {
		return nil, nil, nil, fmt.Errorf(
			"failed to unseal records of %s [%w]", ownerID, unsealErr,
		)
	}

	var passport *models.Passport
	var personalInfo *models.PersonalInfo
	var fundingProof *models.FundingProof
	if value, ok := results[models.RecordTypePassport]; ok {
		passport = value.(*models.Passport)
	}
	if value, ok := results[models.RecordTypePersonalInfo]; ok {
		personalInfo = value.(*models.PersonalInfo)
	}
	if value, ok := results[models.RecordTypeFundingProof]; ok {
		fundingProof = value.(*models.FundingProof)
	}

	return passport, personalInfo, fundingProof, nil
}

// storeAllInCache refresh all three cache entries of one owner
//
// The cache receives private copies so callers can mutate the records they
// were handed without corrupting cached state.
func (s *dataService) storeAllInCache(
	ownerID string,
	passport *models.Passport,
	personalInfo *models.PersonalInfo,
	fundingProof *models.FundingProof,
) {
	s.cache.store(
		cacheKey{RecordType: models.RecordTypePassport, OwnerID: ownerID}, cacheCopy(passport),
	)
	s.cache.store(
		cacheKey{RecordType: models.RecordTypePersonalInfo, OwnerID: ownerID}, cacheCopy(personalInfo),
	)
	s.cache.store(
		cacheKey{RecordType: models.RecordTypeFundingProof, OwnerID: ownerID}, cacheCopy(fundingProof),
	)
}

// cacheCopy clone a record for caching
//
// A nil pointer stays an untyped nil interface value, so "confirmed absent"
// entries remain distinguishable.
func cacheCopy[T any](record *T) interface{} {
	if record == nil {
		return nil
	}
	clone := *record
	return &clone
}

// cacheCopyValue clone an untyped record value for caching
func cacheCopyValue(value interface{}) interface{} {
	switch record := value.(type) {
	case *models.Passport:
		return cacheCopy(record)
	case *models.PersonalInfo:
		return cacheCopy(record)
	case *models.FundingProof:
		return cacheCopy(record)
	}
	return value
}

/*
GetAllUserData load all three traveler records in one pass

	With batch load, all three sealed rows are fetched in one read transaction
	and unsealed outside it, giving a consistent snapshot. Without it, three
	independent cached reads run concurrently.

	@param ctx context.Context - execution context
	@param ownerID string - the traveler
	@param useBatchLoad bool - whether to use the single-transaction path
	@returns the snapshot
*/
func (s *dataService) GetAllUserData(
	ctx context.Context, ownerID string, useBatchLoad bool,
) (UserDataSnapshot, error) {
	startTime := time.Now()

	snapshot := UserDataSnapshot{OwnerID: ownerID}

	if useBatchLoad {
		passport, personalInfo, fundingProof, err := s.loadAllFromStore(ctx, ownerID)
		if err != nil {
			return UserDataSnapshot{}, err
		}
		s.storeAllInCache(ownerID, passport, personalInfo, fundingProof)
		snapshot.Passport = passport
		snapshot.PersonalInfo = personalInfo
		snapshot.FundingProof = fundingProof
	} else {
		var wg sync.WaitGroup
		var resultLock sync.Mutex
		var loadErr error

		wg.Add(3)
		go func() {
			defer wg.Done()
			record, err := s.GetPassport(ctx, ownerID)
			resultLock.Lock()
			defer resultLock.Unlock()
			if err != nil {
				loadErr = err
				return
			}
			snapshot.Passport = record
		}()
		go func() {
			defer wg.Done()
			record, err := s.GetPersonalInfo(ctx, ownerID)
			resultLock.Lock()
			defer resultLock.Unlock()
			if err != nil {
				loadErr = err
				return
			}
			snapshot.PersonalInfo = record
		}()
		go func() {
			defer wg.Done()
			record, err := s.GetFundingProof(ctx, ownerID)
			resultLock.Lock()
			defer resultLock.Unlock()
			if err != nil {
				loadErr = err
				return
			}
			snapshot.FundingProof = record
		}()
		wg.Wait()

		if loadErr != nil {
			return UserDataSnapshot{}, loadErr
		}
	}

	snapshot.LoadedAt = time.Now()
	snapshot.LoadDurationMs = time.Since(startTime).Milliseconds()

	return snapshot, nil
}

// sealedWriteOp one pre-sealed envelope with the record it holds
type sealedWriteOp struct {
	envelope models.SealedRecord
	record   interface{}
}

// sealWriteOps seal every provided record before entering the write transaction
//
// The transaction body then contains only storage statements.
func (s *dataService) sealWriteOps(
	ctx context.Context, ownerID string, records map[models.RecordTypeENUMType]interface{},
) ([]sealedWriteOp, error) {
	operations := []sealedWriteOp{}

	for _, recordType := range models.AllRecordTypes() {
		record, ok := records[recordType]
		if !ok {
			continue
		}

		payload, err := json.Marshal(record)
		if err != nil {
			return nil, fmt.Errorf(
				"failed to encode '%s' record of %s [%w]", recordType, ownerID, err,
			)
		}

		sealed, err := s.crypto.Seal(ctx, payload, nil)
		if err != nil {
			return nil, fmt.Errorf(
				"failed to seal '%s' record of %s [%w]", recordType, ownerID, err,
			)
		}

		now := time.Now()
		operations = append(operations, sealedWriteOp{
			envelope: models.SealedRecord{
				ID:         uuid.NewString(),
				OwnerID:    ownerID,
				RecordType: recordType,
				EncKeyID:   sealed.KeyID,
				EncPayload: sealed.CipherText,
				EncNonce:   sealed.Nonce,
				CreatedAt:  now,
				UpdatedAt:  now,
			},
			record: record,
		})
	}

	return operations, nil
}

// commitWriteOps persist every pre-sealed envelope in one transaction
func (s *dataService) commitWriteOps(
	ctx context.Context, ownerID string, operations []sealedWriteOp,
) error {
	if dbErr := s.persistence.UseDatabaseInTransaction(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			for _, op := range operations {
				if _, err := dbClient.UpsertSealedRecord(dbCtx, op.envelope); err != nil {
					return err
				}
			}
			return nil
		},
	); dbErr != nil {
		return fmt.Errorf("failed to store records of %s [%w]", ownerID, dbErr)
	}
	return nil
}

/*
SaveAllUserData persist the provided subset of records in one atomic pass

	Either every provided record is written, or none. The cache is only
	touched after the transaction commits.

	@param ctx context.Context - execution context
	@param ownerID string - the traveler
	@param bundle UserDataBundle - the records to write
	@returns the persisted records
*/
func (s *dataService) SaveAllUserData(
	ctx context.Context, ownerID string, bundle UserDataBundle,
) (UserDataBundle, error) {
	records := map[models.RecordTypeENUMType]interface{}{}

	// Normalize and validate everything up front
	if bundle.Passport != nil {
		passport := *bundle.Passport
		if err := s.normalizePassport(ctx, ownerID, &passport); err != nil {
			return UserDataBundle{}, err
		}
		if err := s.validateRecord(&passport); err != nil {
			return UserDataBundle{}, err
		}
		bundle.Passport = &passport
		records[models.RecordTypePassport] = &passport
	}
	if bundle.PersonalInfo != nil {
		info := *bundle.PersonalInfo
		if err := s.normalizePersonalInfo(ctx, ownerID, &info); err != nil {
			return UserDataBundle{}, err
		}
		if err := s.validateRecord(&info); err != nil {
			return UserDataBundle{}, err
		}
		bundle.PersonalInfo = &info
		records[models.RecordTypePersonalInfo] = &info
	}
	if bundle.FundingProof != nil {
		proof := *bundle.FundingProof
		if err := s.normalizeFundingProof(ctx, ownerID, &proof); err != nil {
			return UserDataBundle{}, err
		}
		if err := s.validateRecord(&proof); err != nil {
			return UserDataBundle{}, err
		}
		bundle.FundingProof = &proof
		records[models.RecordTypeFundingProof] = &proof
	}

	operations, err := s.sealWriteOps(ctx, ownerID, records)
	if err != nil {
		return UserDataBundle{}, err
	}

	if err := s.commitWriteOps(ctx, ownerID, operations); err != nil {
		return UserDataBundle{}, err
	}

	// Refresh the cache entries of the written types
	for _, op := range operations {
		s.cache.invalidateAndStore(
			cacheKey{RecordType: op.envelope.RecordType, OwnerID: ownerID},
			cacheCopyValue(op.record),
		)
	}

	return bundle, nil
}

/*
BatchUpdate apply the provided subset of partial updates in one atomic pass

	Current state is loaded through the batch read path, updates are merged
	and validated per type, and everything is persisted in one transaction:
	either every provided update is applied, or none. All three cache entries
	are refreshed afterwards.

	@param ctx context.Context - execution context
	@param ownerID string - the traveler
	@param updates BatchUpdates - the updates to apply
	@returns the merged persisted records
*/
func (s *dataService) BatchUpdate(
	ctx context.Context, ownerID string, updates BatchUpdates,
) (UserDataBundle, error) {
	passport, personalInfo, fundingProof, err := s.loadAllFromStore(ctx, ownerID)
	if err != nil {
		return UserDataBundle{}, err
	}

	records := map[models.RecordTypeENUMType]interface{}{}
	now := time.Now()

	// Merge and validate everything before any write
	if updates.Passport != nil {
		if passport == nil {
			return UserDataBundle{}, fmt.Errorf("no passport record exists for %s", ownerID)
		}
		merged := *passport
		updates.Passport.ApplyTo(&merged)
		merged.UpdatedAt = now
		if err := s.validateRecord(&merged); err != nil {
			return UserDataBundle{}, err
		}
		passport = &merged
		records[models.RecordTypePassport] = &merged
	}
	if updates.PersonalInfo != nil {
		var merged models.PersonalInfo
		if personalInfo != nil {
			merged = *personalInfo
		} else {
			merged = models.PersonalInfo{ID: uuid.NewString(), OwnerID: ownerID, CreatedAt: now}
		}
		updates.PersonalInfo.ApplyTo(&merged)
		merged.UpdatedAt = now
		if err := s.validateRecord(&merged); err != nil {
			return UserDataBundle{}, err
		}
		personalInfo = &merged
		records[models.RecordTypePersonalInfo] = &merged
	}
	if updates.FundingProof != nil {
		if fundingProof == nil {
			return UserDataBundle{}, fmt.Errorf("no funding proof record exists for %s", ownerID)
		}
		merged := *fundingProof
		updates.FundingProof.ApplyTo(&merged)
		merged.UpdatedAt = now
		if err := s.validateRecord(&merged); err != nil {
			return UserDataBundle{}, err
		}
		fundingProof = &merged
		records[models.RecordTypeFundingProof] = &merged
	}

	operations, err := s.sealWriteOps(ctx, ownerID, records)
	if err != nil {
		return UserDataBundle{}, err
	}

	if err := s.commitWriteOps(ctx, ownerID, operations); err != nil {
		return UserDataBundle{}, err
	}

	// Refresh all three cache entries with the post-update state
	for _, op := range operations {
		s.cache.invalidateAndStore(
			cacheKey{RecordType: op.envelope.RecordType, OwnerID: ownerID},
			cacheCopyValue(op.record),
		)
	}
	s.storeAllInCache(ownerID, passport, personalInfo, fundingProof)

	return UserDataBundle{
		Passport:     passport,
		PersonalInfo: personalInfo,
		FundingProof: fundingProof,
	}, nil
}
