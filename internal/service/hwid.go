package service

import "context"

// HWIDStore is the storage the binding policy needs.
type HWIDStore interface {
	// BindHWID sets the fingerprint only if the license is unbound and
	// reports whether this call performed the bind.
	BindHWID(ctx context.Context, licenseKey, hwid string) (bool, error)
	LicenseHWID(ctx context.Context, licenseKey string) (string, error)
}

// HWIDResult is the outcome of a fingerprint check.
type HWIDResult int

const (
	// HWIDVerified means the presented fingerprint equals the bound one.
	HWIDVerified HWIDResult = iota
	// HWIDBound means the license was unbound and is now bound to the
	// presented fingerprint.
	HWIDBound
	// HWIDMismatch means a different fingerprint is bound.
	HWIDMismatch
)

func (r HWIDResult) String() string {
	switch r {
	case HWIDVerified:
		return "verified"
	case HWIDBound:
		return "bound"
	default:
		return "mismatch"
	}
}

// HWIDPolicy binds a license to the first fingerprint presented and then
// requires an exact match. Rebinding needs an administrative reset.
type HWIDPolicy struct {
	store HWIDStore
}

func NewHWIDPolicy(st HWIDStore) *HWIDPolicy {
	return &HWIDPolicy{store: st}
}

// Check compares presented against stored, the fingerprint read with the
// license. An unbound license is bound with a conditional update; if another
// request wins the race the winner's fingerprint is re-read and compared.
func (p *HWIDPolicy) Check(ctx context.Context, licenseKey, stored, presented string) (HWIDResult, error) {
	if presented == "" {
		return HWIDMismatch, validationf("hardware fingerprint required")
	}
	if stored != "" {
		if stored == presented {
			return HWIDVerified, nil
		}
		return HWIDMismatch, nil
	}

	bound, err := p.store.BindHWID(ctx, licenseKey, presented)
	if err != nil {
		return HWIDMismatch, err
	}
	if bound {
		return HWIDBound, nil
	}

	current, err := p.store.LicenseHWID(ctx, licenseKey)
	if err != nil {
		return HWIDMismatch, translate(err, ErrInvalidLicense)
	}
	if current == presented {
		return HWIDVerified, nil
	}
	return HWIDMismatch, nil
}
