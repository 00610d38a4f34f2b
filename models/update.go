package models

import "strings"

// PassportUpdate partial update of a passport record
//
// A nil field means "not provided"; provided fields overwrite.
type PassportUpdate struct {
	PassportNumber *string         `json:"passportNumber,omitempty"`
	FullName       *string         `json:"fullName,omitempty"`
	DateOfBirth    *string         `json:"dateOfBirth,omitempty"`
	Nationality    *string         `json:"nationality,omitempty"`
	Gender         *GenderENUMType `json:"gender,omitempty"`
	IssueDate      *string         `json:"issueDate,omitempty"`
	IssuePlace     *string         `json:"issuePlace,omitempty"`
	ExpiryDate     *string         `json:"expiryDate,omitempty"`
}

// Empty whether the update carries no fields
func (u PassportUpdate) Empty() bool {
	return u.PassportNumber == nil && u.FullName == nil && u.DateOfBirth == nil &&
		u.Nationality == nil && u.Gender == nil && u.IssueDate == nil &&
		u.IssuePlace == nil && u.ExpiryDate == nil
}

// ApplyTo overwrite the target record with the provided fields
//
// The record ID, owner, and creation timestamp are never touched.
func (u PassportUpdate) ApplyTo(target *Passport) {
	if u.PassportNumber != nil {
		target.PassportNumber = *u.PassportNumber
	}
	if u.FullName != nil {
		target.FullName = *u.FullName
	}
	if u.DateOfBirth != nil {
		target.DateOfBirth = *u.DateOfBirth
	}
	if u.Nationality != nil {
		target.Nationality = *u.Nationality
	}
	if u.Gender != nil {
		target.Gender = *u.Gender
	}
	if u.IssueDate != nil {
		target.IssueDate = *u.IssueDate
	}
	if u.IssuePlace != nil {
		target.IssuePlace = *u.IssuePlace
	}
	if u.ExpiryDate != nil {
		target.ExpiryDate = *u.ExpiryDate
	}
}

// PersonalInfoUpdate partial update of a personal info record
//
// Merge semantics: a nil field, or a provided field holding only whitespace,
// never overwrites an existing non-empty value. This supports progressive
// form filling across multiple screens without data loss.
type PersonalInfoUpdate struct {
	PhoneNumber        *string `json:"phoneNumber,omitempty"`
	Email              *string `json:"email,omitempty"`
	Occupation         *string `json:"occupation,omitempty"`
	CityOfResidence    *string `json:"cityOfResidence,omitempty"`
	CountryOfResidence *string `json:"countryOfResidence,omitempty"`
	HomeAddress        *string `json:"homeAddress,omitempty"`
}

// Empty whether the update carries no fields
func (u PersonalInfoUpdate) Empty() bool {
	return u.PhoneNumber == nil && u.Email == nil && u.Occupation == nil &&
		u.CityOfResidence == nil && u.CountryOfResidence == nil && u.HomeAddress == nil
}

// mergeField overwrite the target field only when the incoming value is
// provided and non-blank
func mergeField(target *string, incoming *string) {
	if incoming == nil {
		return
	}
	if strings.TrimSpace(*incoming) == "" {
		return
	}
	*target = *incoming
}

// ApplyTo merge the provided non-blank fields into the target record
//
// The record ID, owner, and creation timestamp are never touched.
func (u PersonalInfoUpdate) ApplyTo(target *PersonalInfo) {
	mergeField(&target.PhoneNumber, u.PhoneNumber)
	mergeField(&target.Email, u.Email)
	mergeField(&target.Occupation, u.Occupation)
	mergeField(&target.CityOfResidence, u.CityOfResidence)
	mergeField(&target.CountryOfResidence, u.CountryOfResidence)
	mergeField(&target.HomeAddress, u.HomeAddress)
}

// FundingProofUpdate partial update of a funding proof record
//
// A nil field means "not provided"; provided fields overwrite.
type FundingProofUpdate struct {
	CashAmount          *string `json:"cashAmount,omitempty"`
	BankCardSummary     *string `json:"bankCardSummary,omitempty"`
	DocumentDescription *string `json:"documentDescription,omitempty"`
}

// Empty whether the update carries no fields
func (u FundingProofUpdate) Empty() bool {
	return u.CashAmount == nil && u.BankCardSummary == nil && u.DocumentDescription == nil
}

// ApplyTo overwrite the target record with the provided fields
//
// The record ID, owner, and creation timestamp are never touched.
func (u FundingProofUpdate) ApplyTo(target *FundingProof) {
	if u.CashAmount != nil {
		target.CashAmount = *u.CashAmount
	}
	if u.BankCardSummary != nil {
		target.BankCardSummary = *u.BankCardSummary
	}
	if u.DocumentDescription != nil {
		target.DocumentDescription = *u.DocumentDescription
	}
}
