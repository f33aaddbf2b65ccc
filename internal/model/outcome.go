package model

import "database/sql/driver"

// Outcome is the result of an authorization check.
type Outcome string

const (
	OutcomeOK             Outcome = "Ok"
	OutcomeInvalidLicense Outcome = "InvalidLicense"
	OutcomeHWIDMismatch   Outcome = "HWIDMismatch"
	OutcomeLicenseExpired Outcome = "LicenseExpired"
	OutcomeLicenseFrozen  Outcome = "LicenseFrozen"
	OutcomeBanned         Outcome = "Banned"
	OutcomeMissingHeaders Outcome = "MissingHeaders"
)

// Value implements driver.Valuer so outcomes bind as plain text.
func (o Outcome) Value() (driver.Value, error) { return string(o), nil }

// RedeemOutcome is the result of a successful key redemption.
type RedeemOutcome string

const (
	// RedeemGranted means the license did not hold the product and a new
	// grant window was started.
	RedeemGranted RedeemOutcome = "Granted"
	// RedeemExtended means the duration was added to an existing grant.
	RedeemExtended RedeemOutcome = "Extended"
)

// LoginAttempt is one persisted authorization decision.
type LoginAttempt struct {
	ID         string  `json:"id" db:"id"`
	LicenseKey string  `json:"license_key" db:"license_key"`
	Subject    string  `json:"subject,omitempty" db:"subject"`
	ProductID  string  `json:"product_id" db:"product_id"`
	HWID       string  `json:"hwid" db:"hwid"`
	Outcome    Outcome `json:"outcome" db:"outcome"`
	Time       int64   `json:"time" db:"time"`
}
