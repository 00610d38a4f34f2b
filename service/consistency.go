package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/go-playground/validator/v10"
	"github.com/tripforms/valise/db"
	"github.com/tripforms/valise/models"
)

// RecordValidation validation outcome of one record type
type RecordValidation struct {
	// Valid whether the record passed validation; an absent record is valid
	Valid bool `json:"valid"`
	// Errors the per-field validation failures
	Errors []string `json:"errors,omitempty"`
}

// CrossFieldValidation validation outcome across record types
type CrossFieldValidation struct {
	// Valid whether no cross-record error was found; warnings do not count
	Valid bool `json:"valid"`
	// Errors blocking cross-record mismatches
	Errors []string `json:"errors,omitempty"`
	// Warnings advisory cross-record mismatches
	Warnings []string `json:"warnings,omitempty"`
}

// ConsistencyReport structured outcome of one consistency validation pass
type ConsistencyReport struct {
	// OwnerID the traveler the report covers
	OwnerID string `json:"ownerId"`
	// IsConsistent whether every check passed without errors
	IsConsistent bool `json:"isConsistent"`

	// Passport passport validation outcome
	Passport RecordValidation `json:"passport"`
	// PersonalInfo personal info validation outcome
	PersonalInfo RecordValidation `json:"personalInfo"`
	// FundingProof funding proof validation outcome
	FundingProof RecordValidation `json:"fundingProof"`
	// CrossField cross-record validation outcome
	CrossField CrossFieldValidation `json:"crossFieldValidation"`

	// CheckedAt when the pass ran
	CheckedAt time.Time `json:"checkedAt"`
}

// FieldConflict one field holding different values in the two stores
type FieldConflict struct {
	// Field the record field name
	Field string `json:"field"`
	// SealedValue the value held in the sealed database
	SealedValue string `json:"sealedValue"`
	// LegacyValue the value held in the legacy key-value store
	LegacyValue string `json:"legacyValue"`
}

// ConflictReport field-level diff between the legacy store and the sealed database
type ConflictReport struct {
	// OwnerID the traveler the report covers
	OwnerID string `json:"ownerId"`
	// HasConflicts whether any field differs between the two stores
	HasConflicts bool `json:"hasConflicts"`

	// Passport passport field conflicts
	Passport []FieldConflict `json:"passport,omitempty"`
	// PersonalInfo personal info field conflicts
	PersonalInfo []FieldConflict `json:"personalInfo,omitempty"`
	// FundingProof funding proof field conflicts
	FundingProof []FieldConflict `json:"fundingProof,omitempty"`

	// CheckedAt when the diff ran
	CheckedAt time.Time `json:"checkedAt"`
}

// ResolutionReport outcome of one conflict resolution pass
type ResolutionReport struct {
	// OwnerID the traveler the pass ran for
	OwnerID string `json:"ownerId"`
	// ResolvedCount number of conflicting fields discarded
	ResolvedCount int `json:"resolvedCount"`
	// Fields the discarded field names, prefixed with the record type
	Fields []string `json:"fields,omitempty"`
	// ResolvedAt when the pass ran
	ResolvedAt time.Time `json:"resolvedAt"`
}

// validationMessages flatten a validator failure into per-field messages
func validationMessages(err error) []string {
	var fieldErrors validator.ValidationErrors
	if errors.As(err, &fieldErrors) {
		messages := make([]string, 0, len(fieldErrors))
		for _, fieldError := range fieldErrors {
			messages = append(
				messages, fmt.Sprintf("%s failed '%s' check", fieldError.Field(), fieldError.Tag()),
			)
		}
		return messages
	}
	return []string{err.Error()}
}

// checkRecord validate one record, treating absence as valid
func (s *dataService) checkRecord(record interface{}, absent bool) RecordValidation {
	if absent {
		return RecordValidation{Valid: true}
	}
	if err := s.validator.Struct(record); err != nil {
		return RecordValidation{Valid: false, Errors: validationMessages(err)}
	}
	return RecordValidation{Valid: true}
}

/*
ValidateDataConsistency run per-record and cross-record validation

	Purely diagnostic; performs no writes. Record absence is not an error.
	All present records must carry the requested owner ID; passport
	nationality disagreeing with personal info country of residence is
	reported as a warning only.

	@param ctx context.Context - execution context
	@param ownerID string - the traveler
	@returns structured validation report
*/
func (s *dataService) ValidateDataConsistency(
	ctx context.Context, ownerID string,
) (ConsistencyReport, error) {
	passport, personalInfo, fundingProof, err := s.loadAllFromStore(ctx, ownerID)
	if err != nil {
		return ConsistencyReport{}, err
	}

	report := ConsistencyReport{
		OwnerID:      ownerID,
		Passport:     s.checkRecord(passport, passport == nil),
		PersonalInfo: s.checkRecord(personalInfo, personalInfo == nil),
		FundingProof: s.checkRecord(fundingProof, fundingProof == nil),
		CrossField:   CrossFieldValidation{Valid: true},
		CheckedAt:    time.Now(),
	}

	// All present records must agree on ownership
	if passport != nil && passport.OwnerID != ownerID {
		report.CrossField.Errors = append(report.CrossField.Errors, fmt.Sprintf(
			"passport belongs to '%s', not '%s'", passport.OwnerID, ownerID,
		))
	}
	if personalInfo != nil && personalInfo.OwnerID != ownerID {
		report.CrossField.Errors = append(report.CrossField.Errors, fmt.Sprintf(
			"personal info belongs to '%s', not '%s'", personalInfo.OwnerID, ownerID,
		))
	}
	if fundingProof != nil && fundingProof.OwnerID != ownerID {
		report.CrossField.Errors = append(report.CrossField.Errors, fmt.Sprintf(
			"funding proof belongs to '%s', not '%s'", fundingProof.OwnerID, ownerID,
		))
	}

	// Nationality and residence disagreeing is plausible, so only warn
	if passport != nil && personalInfo != nil &&
		passport.Nationality != "" && personalInfo.CountryOfResidence != "" &&
		passport.Nationality != personalInfo.CountryOfResidence {
		report.CrossField.Warnings = append(report.CrossField.Warnings, fmt.Sprintf(
			"passport nationality '%s' differs from country of residence '%s'",
			passport.Nationality, personalInfo.CountryOfResidence,
		))
	}

	report.CrossField.Valid = len(report.CrossField.Errors) == 0
	report.IsConsistent = report.Passport.Valid &&
		report.PersonalInfo.Valid &&
		report.FundingProof.Valid &&
		report.CrossField.Valid

	return report, nil
}

// loadLegacyRecord probe the legacy store for one record type
//
// Returns untyped nil when no legacy key holds a parseable payload.
func (s *dataService) loadLegacyRecord(
	ctx context.Context, ownerID string, recordType models.RecordTypeENUMType,
) (interface{}, error) {
	for _, key := range legacyKeyCandidates(recordType, ownerID) {
		value, err := s.legacy.Get(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("failed to probe legacy key '%s' [%w]", key, err)
		}
		if value == nil {
			continue
		}
		record, parseErr := unmarshalRecord(recordType, value)
		if parseErr != nil {
			continue
		}
		return record, nil
	}
	return nil, nil
}

// fieldValuePair one field compared across the sealed and legacy stores
type fieldValuePair struct {
	field  string
	sealed string
	legacy string
}

// diffFields collect the fields whose legacy value is set and disagrees with
// the sealed value
//
// Pairs are compared in the order given, so conflict listings are stable
// run to run. A blank legacy field means "never captured" and is not a
// conflict.
func diffFields(pairs []fieldValuePair) []FieldConflict {
	conflicts := []FieldConflict{}
	for _, pair := range pairs {
		if pair.legacy == "" || pair.sealed == pair.legacy {
			continue
		}
		conflicts = append(conflicts, FieldConflict{
			Field: pair.field, SealedValue: pair.sealed, LegacyValue: pair.legacy,
		})
	}
	return conflicts
}

func diffPassport(sealed, legacy *models.Passport) []FieldConflict {
	if sealed == nil || legacy == nil {
		return nil
	}
	return diffFields([]fieldValuePair{
		{"passportNumber", sealed.PassportNumber, legacy.PassportNumber},
		{"fullName", sealed.FullName, legacy.FullName},
		{"dateOfBirth", sealed.DateOfBirth, legacy.DateOfBirth},
		{"nationality", sealed.Nationality, legacy.Nationality},
		{"gender", string(sealed.Gender), string(legacy.Gender)},
		{"issueDate", sealed.IssueDate, legacy.IssueDate},
		{"issuePlace", sealed.IssuePlace, legacy.IssuePlace},
		{"expiryDate", sealed.ExpiryDate, legacy.ExpiryDate},
	})
}

func diffPersonalInfo(sealed, legacy *models.PersonalInfo) []FieldConflict {
	if sealed == nil || legacy == nil {
		return nil
	}
	return diffFields([]fieldValuePair{
		{"phoneNumber", sealed.PhoneNumber, legacy.PhoneNumber},
		{"email", sealed.Email, legacy.Email},
		{"occupation", sealed.Occupation, legacy.Occupation},
		{"cityOfResidence", sealed.CityOfResidence, legacy.CityOfResidence},
		{"countryOfResidence", sealed.CountryOfResidence, legacy.CountryOfResidence},
		{"homeAddress", sealed.HomeAddress, legacy.HomeAddress},
	})
}

func diffFundingProof(sealed, legacy *models.FundingProof) []FieldConflict {
	if sealed == nil || legacy == nil {
		return nil
	}
	return diffFields([]fieldValuePair{
		{"cashAmount", sealed.CashAmount, legacy.CashAmount},
		{"bankCardSummary", sealed.BankCardSummary, legacy.BankCardSummary},
		{"documentDescription", sealed.DocumentDescription, legacy.DocumentDescription},
	})
}

/*
DetectDataConflicts diff the legacy store against the sealed database

	Each record type is loaded independently from both stores and compared
	field by field. A record present on only one side is not a conflict.

	@param ctx context.Context - execution context
	@param ownerID string - the traveler
	@returns field-level conflict report
*/
func (s *dataService) DetectDataConflicts(
	ctx context.Context, ownerID string,
) (ConflictReport, error) {
	passport, personalInfo, fundingProof, err := s.loadAllFromStore(ctx, ownerID)
	if err != nil {
		return ConflictReport{}, err
	}

	report := ConflictReport{OwnerID: ownerID, CheckedAt: time.Now()}

	if value, err := s.loadLegacyRecord(
		ctx, ownerID, models.RecordTypePassport,
	); err != nil {
		return ConflictReport{}, err
	} else if value != nil {
		report.Passport = diffPassport(passport, value.(*models.Passport))
	}

	if value, err := s.loadLegacyRecord(
		ctx, ownerID, models.RecordTypePersonalInfo,
	); err != nil {
		return ConflictReport{}, err
	} else if value != nil {
		report.PersonalInfo = diffPersonalInfo(personalInfo, value.(*models.PersonalInfo))
	}

	if value, err := s.loadLegacyRecord(
		ctx, ownerID, models.RecordTypeFundingProof,
	); err != nil {
		return ConflictReport{}, err
	} else if value != nil {
		report.FundingProof = diffFundingProof(fundingProof, value.(*models.FundingProof))
	}

	report.HasConflicts = len(report.Passport) > 0 ||
		len(report.PersonalInfo) > 0 ||
		len(report.FundingProof) > 0

	return report, nil
}

// conflictFieldNames flatten a conflict report into type-prefixed field names
func conflictFieldNames(report ConflictReport) []string {
	fields := []string{}
	for _, conflict := range report.Passport {
		fields = append(fields, fmt.Sprintf("passport.%s", conflict.Field))
	}
	for _, conflict := range report.PersonalInfo {
		fields = append(fields, fmt.Sprintf("personalInfo.%s", conflict.Field))
	}
	for _, conflict := range report.FundingProof {
		fields = append(fields, fmt.Sprintf("fundingProof.%s", conflict.Field))
	}
	return fields
}

/*
ResolveDataConflicts discard legacy store values in favor of the sealed database

	The sealed database always wins; no merge happens and nothing is written
	back. Conflict details are logged and audited before being discarded, and
	the owner's cache entries are dropped so subsequent reads reflect the
	authoritative state.

	@param ctx context.Context - execution context
	@param ownerID string - the traveler
	@returns resolution report
*/
func (s *dataService) ResolveDataConflicts(
	ctx context.Context, ownerID string,
) (ResolutionReport, error) {
	logTags := s.GetLogTagsForContext(ctx)

	detected, err := s.DetectDataConflicts(ctx, ownerID)
	if err != nil {
		return ResolutionReport{}, err
	}

	report := ResolutionReport{OwnerID: ownerID, ResolvedAt: time.Now()}
	if !detected.HasConflicts {
		return report, nil
	}

	report.Fields = conflictFieldNames(detected)
	report.ResolvedCount = len(report.Fields)

	// Log the discarded values before they are gone
	log.WithFields(logTags).
		WithField("owner", ownerID).
		WithField("conflicts", strings.Join(report.Fields, ", ")).
		Warn("Discarding legacy store values in favor of the sealed database")

	if dbErr := s.persistence.UseDatabase(
		ctx, func(dbCtx context.Context, dbClient db.Database) error {
			_, err := dbClient.RecordSystemEvent(
				dbCtx,
				models.SystemEventTypeConflictResolved,
				models.SystemEventConflictRelated{
					OwnerID:       ownerID,
					ConflictCount: report.ResolvedCount,
					Fields:        report.Fields,
				},
			)
			return err
		},
	); dbErr != nil {
		return ResolutionReport{}, fmt.Errorf(
			"failed to log conflict resolution audit event [%w]", dbErr,
		)
	}

	s.cache.purgeOwner(ownerID)

	return report, nil
}
