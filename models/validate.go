package models

import (
	"errors"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrValidation sentinel wrapped around every model validation failure so
// callers can branch on the error kind while keeping the field-level messages
var ErrValidation = errors.New("record validation failed")

var phoneNumberRegex = regexp.MustCompile(`^\+?[0-9][0-9 ()-]{4,19}$`)

/*
RegisterWithValidator register with the validator this custom validation support

	@param v *validator.Validate - the validator to register against
	@return whether successful
*/
func RegisterWithValidator(v *validator.Validate) error {
	if err := v.RegisterValidation(
		"record_type", validateRecordType,
	); err != nil {
		return err
	}

	if err := v.RegisterValidation(
		"gender", validateGenderType,
	); err != nil {
		return err
	}

	if err := v.RegisterValidation(
		"phone_number", validatePhoneNumber,
	); err != nil {
		return err
	}

	if err := v.RegisterValidation(
		"migration_source", validateMigrationSourceType,
	); err != nil {
		return err
	}

	if err := v.RegisterValidation(
		"enc_key_state", validateEncKeyStateType,
	); err != nil {
		return err
	}

	if err := v.RegisterValidation(
		"system_event_type", validateSystemEventType,
	); err != nil {
		return err
	}

	v.RegisterStructValidation(validatePassportDates, Passport{})
	v.RegisterStructValidation(validateFundingProofContent, FundingProof{})

	return nil
}

func validateRecordType(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	switch RecordTypeENUMType(fl.Field().String()) {
	case RecordTypePassport:
		fallthrough
	case RecordTypePersonalInfo:
		fallthrough
	case RecordTypeFundingProof:
		return true
	}
	return false
}

func validateGenderType(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	switch GenderENUMType(fl.Field().String()) {
	case GenderMale:
		fallthrough
	case GenderFemale:
		fallthrough
	case GenderUndefined:
		return true
	}
	return false
}

func validatePhoneNumber(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	return phoneNumberRegex.MatchString(fl.Field().String())
}

func validateMigrationSourceType(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	return MigrationSourceENUMType(fl.Field().String()) == MigrationSourceLegacyKV
}

func validateEncKeyStateType(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	switch EncryptionKeyStateENUMType(fl.Field().String()) {
	case EncryptionKeyStateActive:
		fallthrough
	case EncryptionKeyStateInactive:
		return true
	}
	return false
}

func validateSystemEventType(fl validator.FieldLevel) bool {
	if fl.Field().Kind() != reflect.String {
		return false
	}
	switch SystemEventTypeENUMType(fl.Field().String()) {
	case SystemEventTypeRecordSaved:
		fallthrough
	case SystemEventTypeRecordDeleted:
		fallthrough
	case SystemEventTypeOwnerDataWiped:
		fallthrough
	case SystemEventTypeMigrationCompleted:
		fallthrough
	case SystemEventTypeConflictResolved:
		fallthrough
	case SystemEventTypeNewEncryptionKey:
		fallthrough
	case SystemEventTypeActivateEncryptionKey:
		fallthrough
	case SystemEventTypeDeactivateEncryptionKey:
		return true
	}
	return false
}

// validatePassportDates cross-field date logic: the document must be issued
// before it expires, issued after the holder was born, and the holder must
// have been born in the past.
func validatePassportDates(sl validator.StructLevel) {
	passport := sl.Current().Interface().(Passport)

	dob, errDOB := time.Parse(DateFormat, passport.DateOfBirth)
	issued, errIssue := time.Parse(DateFormat, passport.IssueDate)
	expires, errExpiry := time.Parse(DateFormat, passport.ExpiryDate)
	if errDOB != nil || errIssue != nil || errExpiry != nil {
		// Format failures are reported by the per-field datetime tag
		return
	}

	if !issued.Before(expires) {
		sl.ReportError(passport.IssueDate, "IssueDate", "issueDate", "before_expiry", "")
	}
	if !issued.After(dob) {
		sl.ReportError(passport.IssueDate, "IssueDate", "issueDate", "after_birth", "")
	}
	if dob.After(time.Now()) {
		sl.ReportError(passport.DateOfBirth, "DateOfBirth", "dateOfBirth", "not_future", "")
	}
}

// validateFundingProofContent at least one content field must be non-empty
func validateFundingProofContent(sl validator.StructLevel) {
	proof := sl.Current().Interface().(FundingProof)

	if strings.TrimSpace(proof.CashAmount) == "" &&
		strings.TrimSpace(proof.BankCardSummary) == "" &&
		strings.TrimSpace(proof.DocumentDescription) == "" {
		sl.ReportError(proof.CashAmount, "CashAmount", "cashAmount", "funding_content", "")
	}
}
