// Package models - traveler entry record data models
package models

import "time"

// RecordTypeENUMType traveler record type ENUM
type RecordTypeENUMType string

const (
	// RecordTypePassport passport record
	RecordTypePassport RecordTypeENUMType = "PASSPORT"
	// RecordTypePersonalInfo personal contact / residence record
	RecordTypePersonalInfo RecordTypeENUMType = "PERSONAL_INFO"
	// RecordTypeFundingProof proof-of-funds record
	RecordTypeFundingProof RecordTypeENUMType = "FUNDING_PROOF"
)

// AllRecordTypes the full set of traveler record types
func AllRecordTypes() []RecordTypeENUMType {
	return []RecordTypeENUMType{
		RecordTypePassport, RecordTypePersonalInfo, RecordTypeFundingProof,
	}
}

// GenderENUMType passport gender marker ENUM
type GenderENUMType string

const (
	// GenderMale male gender marker
	GenderMale GenderENUMType = "Male"
	// GenderFemale female gender marker
	GenderFemale GenderENUMType = "Female"
	// GenderUndefined unspecified gender marker
	GenderUndefined GenderENUMType = "Undefined"
)

// DateFormat wire format for all date-only fields
const DateFormat = "2006-01-02"

// Passport one traveler passport
type Passport struct {
	// ID record ID
	ID string `json:"id" validate:"required"`
	// OwnerID the traveler owning this record
	OwnerID string `json:"ownerId" validate:"required"`

	// PassportNumber the travel document number
	PassportNumber string `json:"passportNumber" validate:"required,min=5,max=20"`
	// FullName full legal name as printed in the document
	FullName string `json:"fullName" validate:"required"`
	// DateOfBirth date of birth, YYYY-MM-DD
	DateOfBirth string `json:"dateOfBirth" validate:"required,datetime=2006-01-02"`
	// Nationality ISO-3166 alpha-3 nationality code
	Nationality string `json:"nationality" validate:"required,iso3166_1_alpha3"`
	// Gender gender marker
	Gender GenderENUMType `json:"gender" validate:"required,gender"`
	// IssueDate document issue date, YYYY-MM-DD
	IssueDate string `json:"issueDate" validate:"required,datetime=2006-01-02"`
	// IssuePlace issuing authority location
	IssuePlace string `json:"issuePlace"`
	// ExpiryDate document expiry date, YYYY-MM-DD
	ExpiryDate string `json:"expiryDate" validate:"required,datetime=2006-01-02"`

	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"createdAt"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updatedAt"`
}

// PersonalInfo traveler contact and residence details
//
// Every content field is optional; the record is filled progressively across
// multiple form screens.
type PersonalInfo struct {
	// ID record ID
	ID string `json:"id" validate:"required"`
	// OwnerID the traveler owning this record
	OwnerID string `json:"ownerId" validate:"required"`

	// PhoneNumber contact phone number
	PhoneNumber string `json:"phoneNumber" validate:"omitempty,phone_number"`
	// Email contact email address
	Email string `json:"email" validate:"omitempty,email"`
	// Occupation declared occupation
	Occupation string `json:"occupation"`
	// CityOfResidence city or province of residence
	CityOfResidence string `json:"cityOfResidence"`
	// CountryOfResidence ISO-3166 alpha-3 country/region of residence
	CountryOfResidence string `json:"countryOfResidence" validate:"omitempty,iso3166_1_alpha3"`
	// HomeAddress home street address
	HomeAddress string `json:"homeAddress"`

	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"createdAt"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updatedAt"`
}

// FundingProof traveler proof-of-funds declaration
//
// At least one of the three content fields must be non-empty.
type FundingProof struct {
	// ID record ID
	ID string `json:"id" validate:"required"`
	// OwnerID the traveler owning this record
	OwnerID string `json:"ownerId" validate:"required"`

	// CashAmount free-text declared cash amount
	CashAmount string `json:"cashAmount"`
	// BankCardSummary free-text bank card summary
	BankCardSummary string `json:"bankCardSummary"`
	// DocumentDescription supporting document description
	DocumentDescription string `json:"documentDescription"`

	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"createdAt"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updatedAt"`
}

// SealedRecord the encrypted-at-rest envelope of one traveler record
//
// The record body is AEAD-sealed JSON; only the partition keys and timestamps
// stay in plaintext columns.
type SealedRecord struct {
	// ID envelope ID
	ID string `json:"id" gorm:"column:id;primaryKey;unique" validate:"required"`

	// OwnerID the traveler owning this record
	OwnerID string `json:"owner_id" gorm:"column:owner_id;not null;index:idx_owner_type,unique" validate:"required"`
	// RecordType the traveler record type held in the payload
	RecordType RecordTypeENUMType `json:"record_type" gorm:"column:record_type;not null;index:idx_owner_type,unique" validate:"required,record_type"`

	// EncKeyID the symmetric encryption key which sealed this payload
	EncKeyID string `json:"enc_key_id" gorm:"column:enc_key_id;not null" validate:"required,uuid_rfc4122"`
	// EncPayload the sealed record body
	EncPayload []byte `json:"enc_payload" gorm:"column:enc_payload;not null" validate:"required"`
	// EncNonce the encryption nonce used
	EncNonce []byte `json:"enc_nonce" gorm:"column:enc_nonce;not null" validate:"required"`

	// CreatedAt entry creation timestamp
	CreatedAt time.Time `json:"created_at"`
	// UpdatedAt entry update timestamp
	UpdatedAt time.Time `json:"updated_at"`
}
