package model

// User is an account that can log in and hold a license. Every user owns
// exactly one license, created empty at registration.
type User struct {
	ID           string `json:"id" db:"id"`
	Email        string `json:"email" db:"email"`
	PasswordHash string `json:"-" db:"password_hash"` // bcrypt hash, never expose
	Role         Role   `json:"role" db:"role"`
	Banned       bool   `json:"banned" db:"banned"`
	LicenseKey   string `json:"license_key" db:"license_key"`
	CreatedAt    int64  `json:"created_at" db:"created_at"`
	UpdatedAt    int64  `json:"updated_at" db:"updated_at"`
}

// BannedHWID is a hardware fingerprint on the global ban list.
type BannedHWID struct {
	HWID      string `json:"hwid" db:"hwid"`
	Reason    string `json:"reason" db:"reason"`
	CreatedAt int64  `json:"created_at" db:"created_at"`
}
