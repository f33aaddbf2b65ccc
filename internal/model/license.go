package model

// Product is a licensable product. FrozenAt is meaningful only while Frozen.
type Product struct {
	ID        string `json:"id" db:"id"`
	Name      string `json:"name" db:"name"`
	Frozen    bool   `json:"frozen" db:"frozen"`
	FrozenAt  int64  `json:"frozen_at" db:"frozen_at"`
	CreatedAt int64  `json:"created_at" db:"created_at"`
}

// License is a human-typed key that owns a set of product entitlements and is
// bound to a single hardware fingerprint on first use. An empty HWID means
// the license is still unbound.
type License struct {
	Key       string           `json:"license_key" db:"license_key"`
	HWID      string           `json:"hwid" db:"hwid"`
	CreatedAt int64            `json:"created_at" db:"created_at"`
	Products  []LicenseProduct `json:"products"`
	Sessions  []Session        `json:"sessions,omitempty"`
}

// Bound reports whether a hardware fingerprint has been recorded.
func (l *License) Bound() bool { return l.HWID != "" }

// Product returns the entitlement for productID, if the license holds one.
func (l *License) Product(productID string) (LicenseProduct, bool) {
	for _, p := range l.Products {
		if p.ProductID == productID {
			return p, true
		}
	}
	return LicenseProduct{}, false
}

// LicenseProduct is a time-bounded entitlement of one license to one product.
// Duration is in seconds and measured from StartedAt, the grant-window start.
type LicenseProduct struct {
	LicenseKey string `json:"-" db:"license_key"`
	ProductID  string `json:"product_id" db:"product_id"`
	Duration   int64  `json:"duration" db:"duration"`
	StartedAt  int64  `json:"started_at" db:"started_at"`
}

// Session records one client run under a license. Ended is nil while open.
type Session struct {
	ID         string `json:"id" db:"id"`
	LicenseKey string `json:"license_key" db:"license_key"`
	Started    int64  `json:"started" db:"started"`
	Ended      *int64 `json:"ended,omitempty" db:"ended"`
}

// Open reports whether the session has not been ended.
func (s *Session) Open() bool { return s.Ended == nil }

// RedemptionKey is a single-use key granting Duration seconds of ProductID.
// The row is deleted when redeemed.
type RedemptionKey struct {
	Key       string `json:"key" db:"key"`
	ProductID string `json:"product_id" db:"product_id"`
	Duration  int64  `json:"duration" db:"duration"`
	CreatedAt int64  `json:"created_at" db:"created_at"`
}
