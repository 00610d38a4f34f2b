package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tripforms/valise/db"
	"github.com/tripforms/valise/encryption"
	"github.com/tripforms/valise/models"
)

// unmarshalRecord decode one unsealed payload into its record model
func unmarshalRecord(
	recordType models.RecordTypeENUMType, payload []byte,
) (interface{}, error) {
	switch recordType {
	case models.RecordTypePassport:
		var record models.Passport
		if err := json.Unmarshal(payload, &record); err != nil {
			return nil, fmt.Errorf("failed to parse '%s' payload [%w]", recordType, err)
		}
		return &record, nil

	case models.RecordTypePersonalInfo:
		var record models.PersonalInfo
		if err := json.Unmarshal(payload, &record); err != nil {
			return nil, fmt.Errorf("failed to parse '%s' payload [%w]", recordType, err)
		}
		return &record, nil

	case models.RecordTypeFundingProof:
		var record models.FundingProof
		if err := json.Unmarshal(payload, &record); err != nil {
			return nil, fmt.Errorf("failed to parse '%s' payload [%w]", recordType, err)
		}
		return &record, nil
	}

	return nil, fmt.Errorf("unknown record type '%s'", recordType)
}

// validateRecord validate one record model, wrapping failures so callers can
// branch on models.ErrValidation while keeping the field messages
func (s *dataService) validateRecord(record interface{}) error {
	if err := s.validator.Struct(record); err != nil {
		return fmt.Errorf("%w [%w]", models.ErrValidation, err)
	}
	return nil
}

// unsealRecord decode one sealed envelope into its record model
func (s *dataService) unsealRecord(
	ctx context.Context, envelope models.SealedRecord, activeDBClient db.Database,
) (interface{}, error) {
	plainText, err := s.crypto.Unseal(ctx, encryption.SealedPayload{
		KeyID:      envelope.EncKeyID,
		CipherText: envelope.EncPayload,
		Nonce:      envelope.EncNonce,
	}, activeDBClient)
	if err != nil {
		return nil, fmt.Errorf(
			"failed to unseal '%s' record of %s [%w]", envelope.RecordType, envelope.OwnerID, err,
		)
	}
	return unmarshalRecord(envelope.RecordType, plainText)
}

// loadRecordFromStore fetch and unseal one record, bypassing the cache
//
// Returns untyped nil when the owner has no record of that type.
func (s *dataService) loadRecordFromStore(
	ctx context.Context, ownerID string, recordType models.RecordTypeENUMType,
) (interface{}, error) {
	var envelope *models.SealedRecord
	if dbErr := s.persistence.UseDatabase(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			var err error
			envelope, err = dbClient.GetSealedRecord(dbCtx, ownerID, recordType)
			return err
		},
	); dbErr != nil {
		return nil, fmt.Errorf(
			"failed to fetch '%s' record of %s [%w]", recordType, ownerID, dbErr,
		)
	}

	if envelope == nil {
		return nil, nil
	}

	// Unseal outside the storage call
	return s.unsealRecord(ctx, *envelope, nil)
}

// cachedRecord read-through cache over loadRecordFromStore
//
// A cached nil is a valid hit meaning "confirmed absent".
func (s *dataService) cachedRecord(
	ctx context.Context, ownerID string, recordType models.RecordTypeENUMType,
) (interface{}, error) {
	key := cacheKey{RecordType: recordType, OwnerID: ownerID}

	if value, hit := s.cache.lookup(key); hit {
		return value, nil
	}

	value, err := s.loadRecordFromStore(ctx, ownerID, recordType)
	if err != nil {
		return nil, err
	}

	s.cache.store(key, value)
	return value, nil
}

// persistRecord seal one record model and upsert its envelope
//
// When activeDBClient is nil the upsert runs in its own transaction.
func (s *dataService) persistRecord(
	ctx context.Context,
	ownerID string,
	recordType models.RecordTypeENUMType,
	record interface{},
	updatedAt time.Time,
	activeDBClient db.Database,
) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to encode '%s' record of %s [%w]", recordType, ownerID, err)
	}

	sealed, err := s.crypto.Seal(ctx, payload, activeDBClient)
	if err != nil {
		return fmt.Errorf("failed to seal '%s' record of %s [%w]", recordType, ownerID, err)
	}

	envelope := models.SealedRecord{
		ID:         uuid.NewString(),
		OwnerID:    ownerID,
		RecordType: recordType,
		EncKeyID:   sealed.KeyID,
		EncPayload: sealed.CipherText,
		EncNonce:   sealed.Nonce,
		CreatedAt:  updatedAt,
		UpdatedAt:  updatedAt,
	}

	if dbErr := db.ActiveSessionWrapper(
		ctx, activeDBClient, s.persistence, func(dbCtx context.Context, dbClient db.Database) error {
			_, err := dbClient.UpsertSealedRecord(dbCtx, envelope)
			return err
		},
	); dbErr != nil {
		return fmt.Errorf("failed to store '%s' record of %s [%w]", recordType, ownerID, dbErr)
	}

	return nil
}

// ======================================================================================
// Passport

/*
GetPassport fetch the owner's passport

	@param ctx context.Context - execution context
	@param ownerID string - the traveler
	@returns the passport, or nil when absent
*/
func (s *dataService) GetPassport(
	ctx context.Context, ownerID string,
) (*models.Passport, error) {
	value, err := s.cachedRecord(ctx, ownerID, models.RecordTypePassport)
	if err != nil || value == nil {
		return nil, err
	}
	record := *value.(*models.Passport)
	return &record, nil
}

// normalizePassport fill in generated and defaulted fields before persistence
func (s *dataService) normalizePassport(
	ctx context.Context, ownerID string, passport *models.Passport,
) error {
	existing, err := s.GetPassport(ctx, ownerID)
	if err != nil {
		return err
	}

	passport.OwnerID = ownerID
	if passport.Gender == "" {
		passport.Gender = models.GenderUndefined
	}

	now := time.Now()
	if existing != nil {
		// Replacing an existing record keeps its identity
		passport.ID = existing.ID
		passport.CreatedAt = existing.CreatedAt
	} else {
		if passport.ID == "" {
			passport.ID = uuid.NewString()
		}
		if passport.CreatedAt.IsZero() {
			passport.CreatedAt = now
		}
	}
	passport.UpdatedAt = now

	return nil
}

/*
SavePassport create or replace the owner's passport

	@param ctx context.Context - execution context
	@param ownerID string - the traveler
	@param passport models.Passport - the record content
	@returns the persisted record
*/
func (s *dataService) SavePassport(
	ctx context.Context, ownerID string, passport models.Passport,
) (models.Passport, error) {
	if err := s.normalizePassport(ctx, ownerID, &passport); err != nil {
		return models.Passport{}, err
	}

	if err := s.validateRecord(&passport); err != nil {
		return models.Passport{}, err
	}

	if err := s.persistRecord(
		ctx, ownerID, models.RecordTypePassport, &passport, passport.UpdatedAt, nil,
	); err != nil {
		return models.Passport{}, err
	}

	s.cache.invalidateAndStore(
		cacheKey{RecordType: models.RecordTypePassport, OwnerID: ownerID}, &passport,
	)

	return passport, nil
}

/*
UpdatePassport apply a partial update to the owner's passport

	@param ctx context.Context - execution context
	@param ownerID string - the traveler
	@param updates models.PassportUpdate - the fields to change
	@returns the persisted record
*/
func (s *dataService) UpdatePassport(
	ctx context.Context, ownerID string, updates models.PassportUpdate,
) (models.Passport, error) {
	existing, err := s.GetPassport(ctx, ownerID)
	if err != nil {
		return models.Passport{}, err
	}
	if existing == nil {
		return models.Passport{}, fmt.Errorf("no passport record exists for %s", ownerID)
	}

	updated := *existing
	updates.ApplyTo(&updated)
	updated.UpdatedAt = time.Now()

	if err := s.validateRecord(&updated); err != nil {
		return models.Passport{}, err
	}

	if err := s.persistRecord(
		ctx, ownerID, models.RecordTypePassport, &updated, updated.UpdatedAt, nil,
	); err != nil {
		return models.Passport{}, err
	}

	s.cache.invalidateAndStore(
		cacheKey{RecordType: models.RecordTypePassport, OwnerID: ownerID}, &updated,
	)

	return updated, nil
}

// ======================================================================================
// Personal info

/*
GetPersonalInfo fetch the owner's personal info

	@param ctx context.Context - execution context
	@param ownerID string - the traveler
	@returns the personal info, or nil when absent
*/
func (s *dataService) GetPersonalInfo(
	ctx context.Context, ownerID string,
) (*models.PersonalInfo, error) {
	value, err := s.cachedRecord(ctx, ownerID, models.RecordTypePersonalInfo)
	if err != nil || value == nil {
		return nil, err
	}
	record := *value.(*models.PersonalInfo)
	return &record, nil
}

// normalizePersonalInfo fill in generated fields before persistence
func (s *dataService) normalizePersonalInfo(
	ctx context.Context, ownerID string, info *models.PersonalInfo,
) error {
	existing, err := s.GetPersonalInfo(ctx, ownerID)
	if err != nil {
		return err
	}

	info.OwnerID = ownerID

	now := time.Now()
	if existing != nil {
		info.ID = existing.ID
		info.CreatedAt = existing.CreatedAt
	} else {
		if info.ID == "" {
			info.ID = uuid.NewString()
		}
		if info.CreatedAt.IsZero() {
			info.CreatedAt = now
		}
	}
	info.UpdatedAt = now

	return nil
}

/*
SavePersonalInfo create or replace the owner's personal info

	@param ctx context.Context - execution context
	@param ownerID string - the traveler
	@param info models.PersonalInfo - the record content
	@returns the persisted record
*/
func (s *dataService) SavePersonalInfo(
	ctx context.Context, ownerID string, info models.PersonalInfo,
) (models.PersonalInfo, error) {
	if err := s.normalizePersonalInfo(ctx, ownerID, &info); err != nil {
		return models.PersonalInfo{}, err
	}

	if err := s.validateRecord(&info); err != nil {
		return models.PersonalInfo{}, err
	}

	if err := s.persistRecord(
		ctx, ownerID, models.RecordTypePersonalInfo, &info, info.UpdatedAt, nil,
	); err != nil {
		return models.PersonalInfo{}, err
	}

	s.cache.invalidateAndStore(
		cacheKey{RecordType: models.RecordTypePersonalInfo, OwnerID: ownerID}, &info,
	)

	return info, nil
}

/*
UpdatePersonalInfo merge a partial update into the owner's personal info

	Blank incoming fields never overwrite existing non-empty values. An update
	for an owner with no personal info record yet starts a fresh record, so
	progressive form filling can begin on any screen.

	@param ctx context.Context - execution context
	@param ownerID string - the traveler
	@param updates models.PersonalInfoUpdate - the fields to merge
	@returns the persisted record
*/
func (s *dataService) UpdatePersonalInfo(
	ctx context.Context, ownerID string, updates models.PersonalInfoUpdate,
) (models.PersonalInfo, error) {
	existing, err := s.GetPersonalInfo(ctx, ownerID)
	if err != nil {
		return models.PersonalInfo{}, err
	}

	var updated models.PersonalInfo
	if existing != nil {
		updated = *existing
	}
	updates.ApplyTo(&updated)

	return s.SavePersonalInfo(ctx, ownerID, updated)
}

// ======================================================================================
// Funding proof

/*
GetFundingProof fetch the owner's funding proof

	@param ctx context.Context - execution context
	@param ownerID string - the traveler
	@returns the funding proof, or nil when absent
*/
func (s *dataService) GetFundingProof(
	ctx context.Context, ownerID string,
) (*models.FundingProof, error) {
	value, err := s.cachedRecord(ctx, ownerID, models.RecordTypeFundingProof)
	if err != nil || value == nil {
		return nil, err
	}
	record := *value.(*models.FundingProof)
	return &record, nil
}

// normalizeFundingProof fill in generated fields before persistence
func (s *dataService) normalizeFundingProof(
	ctx context.Context, ownerID string, proof *models.FundingProof,
) error {
	existing, err := s.GetFundingProof(ctx, ownerID)
	if err != nil {
		return err
	}

	proof.OwnerID = ownerID

	now := time.Now()
	if existing != nil {
		proof.ID = existing.ID
		proof.CreatedAt = existing.CreatedAt
	} else {
		if proof.ID == "" {
			proof.ID = uuid.NewString()
		}
		if proof.CreatedAt.IsZero() {
			proof.CreatedAt = now
		}
	}
	proof.UpdatedAt = now

	return nil
}

/*
SaveFundingProof create or replace the owner's funding proof

	@param ctx context.Context - execution context
	@param ownerID string - the traveler
	@param proof models.FundingProof - the record content
	@returns the persisted record
*/
func (s *dataService) SaveFundingProof(
	ctx context.Context, ownerID string, proof models.FundingProof,
) (models.FundingProof, error) {
	if err := s.normalizeFundingProof(ctx, ownerID, &proof); err != nil {
		return models.FundingProof{}, err
	}

	if err := s.validateRecord(&proof); err != nil {
		return models.FundingProof{}, err
	}

	if err := s.persistRecord(
		ctx, ownerID, models.RecordTypeFundingProof, &proof, proof.UpdatedAt, nil,
	); err != nil {
		return models.FundingProof{}, err
	}

	s.cache.invalidateAndStore(
		cacheKey{RecordType: models.RecordTypeFundingProof, OwnerID: ownerID}, &proof,
	)

	return proof, nil
}

/*
UpdateFundingProof apply a partial update to the owner's funding proof

	@param ctx context.Context - execution context
	@param ownerID string - the traveler
	@param updates models.FundingProofUpdate - the fields to change
	@returns the persisted record
*/
func (s *dataService) UpdateFundingProof(
	ctx context.Context, ownerID string, updates models.FundingProofUpdate,
) (models.FundingProof, error) {
	existing, err := s.GetFundingProof(ctx, ownerID)
	if err != nil {
		return models.FundingProof{}, err
	}
	if existing == nil {
		return models.FundingProof{}, fmt.Errorf("no funding proof record exists for %s", ownerID)
	}

	updated := *existing
	updates.ApplyTo(&updated)
	updated.UpdatedAt = time.Now()

	if err := s.validateRecord(&updated); err != nil {
		return models.FundingProof{}, err
	}

	if err := s.persistRecord(
		ctx, ownerID, models.RecordTypeFundingProof, &updated, updated.UpdatedAt, nil,
	); err != nil {
		return models.FundingProof{}, err
	}

	s.cache.invalidateAndStore(
		cacheKey{RecordType: models.RecordTypeFundingProof, OwnerID: ownerID}, &updated,
	)

	return updated, nil
}
