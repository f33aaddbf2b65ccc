package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/keygate/keygate/internal/audit"
	"github.com/keygate/keygate/internal/credential"
	"github.com/keygate/keygate/internal/entitlement"
	"github.com/keygate/keygate/internal/model"
	"github.com/keygate/keygate/internal/store"
	"github.com/keygate/keygate/internal/telemetry"
)

// AuthorizeRequest identifies the caller, product, and hardware of an access
// check. Callers authenticated by credential set Claims and the license is
// resolved from the subject; license-key callers set LicenseKey instead.
type AuthorizeRequest struct {
	Claims     *credential.Claims
	LicenseKey string
	ProductID  string
	HWID       string
}

// Decision is the outcome of an access check. Remaining is the time left on
// the grant in seconds and is only meaningful for OutcomeOK.
type Decision struct {
	Outcome    model.Outcome
	Remaining  int64
	LicenseKey string
}

// OK reports whether access was granted.
func (d Decision) OK() bool { return d.Outcome == model.OutcomeOK }

// Authorizer decides whether a subject may use a product right now. Checks run
// in a fixed order and the first failing check determines the outcome:
// privileged bypass, subject ban, fingerprint ban, fingerprint binding,
// product ownership, freeze, expiry.
type Authorizer struct {
	store    *store.Store
	hwid     *HWIDPolicy
	recorder *audit.Recorder
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	now      func() time.Time
}

func NewAuthorizer(st *store.Store, hwid *HWIDPolicy, recorder *audit.Recorder, metrics *telemetry.Metrics, logger *slog.Logger) *Authorizer {
	return &Authorizer{
		store:    st,
		hwid:     hwid,
		recorder: recorder,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// Authorize evaluates req. An error is returned only when the store fails;
// every expected denial is reported through the Decision.
func (a *Authorizer) Authorize(ctx context.Context, req AuthorizeRequest) (Decision, error) {
	d, err := a.decide(ctx, &req)
	if err != nil {
		a.logger.Error("authorization failed", "product_id", req.ProductID, "error", err)
		return Decision{}, err
	}
	d.LicenseKey = req.LicenseKey
	a.record(req, d)
	return d, nil
}

func (a *Authorizer) decide(ctx context.Context, req *AuthorizeRequest) (Decision, error) {
	if req.Claims != nil && req.Claims.Role.IsPrivileged() {
		return Decision{Outcome: model.OutcomeOK, Remaining: entitlement.Unbounded}, nil
	}
	if req.ProductID == "" || req.HWID == "" || (req.Claims == nil && req.LicenseKey == "") {
		return deny(model.OutcomeMissingHeaders), nil
	}

	if req.Claims != nil {
		u, err := a.store.GetUser(ctx, req.Claims.Subject)
		if errors.Is(err, store.ErrNotFound) {
			return deny(model.OutcomeInvalidLicense), nil
		}
		if err != nil {
			return Decision{}, err
		}
		if u.Banned {
			return deny(model.OutcomeBanned), nil
		}
		req.LicenseKey = u.LicenseKey
	}

	banned, err := a.store.IsHWIDBanned(ctx, req.HWID)
	if err != nil {
		return Decision{}, err
	}
	if banned {
		return deny(model.OutcomeBanned), nil
	}

	stored, err := a.store.LicenseHWID(ctx, req.LicenseKey)
	if errors.Is(err, store.ErrNotFound) {
		return deny(model.OutcomeInvalidLicense), nil
	}
	if err != nil {
		return Decision{}, err
	}
	res, err := a.hwid.Check(ctx, req.LicenseKey, stored, req.HWID)
	if err != nil {
		if errors.Is(err, ErrInvalidLicense) {
			return deny(model.OutcomeInvalidLicense), nil
		}
		return Decision{}, err
	}
	switch res {
	case HWIDMismatch:
		return deny(model.OutcomeHWIDMismatch), nil
	case HWIDBound:
		a.logger.Info("hardware fingerprint bound", "license_key", req.LicenseKey)
	}

	grant, err := a.store.GetLicenseProduct(ctx, req.LicenseKey, req.ProductID)
	if errors.Is(err, store.ErrNotFound) {
		return deny(model.OutcomeInvalidLicense), nil
	}
	if err != nil {
		return Decision{}, err
	}
	product, err := a.store.GetProduct(ctx, req.ProductID)
	if errors.Is(err, store.ErrNotFound) {
		return deny(model.OutcomeInvalidLicense), nil
	}
	if err != nil {
		return Decision{}, err
	}
	if product.Frozen {
		return deny(model.OutcomeLicenseFrozen), nil
	}

	elapsed, expired := entitlement.Remaining(grant.Duration, grant.StartedAt, a.now().Unix())
	if expired {
		return deny(model.OutcomeLicenseExpired), nil
	}
	return Decision{Outcome: model.OutcomeOK, Remaining: grant.Duration - elapsed}, nil
}

func deny(o model.Outcome) Decision {
	return Decision{Outcome: o}
}

func (a *Authorizer) record(req AuthorizeRequest, d Decision) {
	a.metrics.ObserveDecision(string(d.Outcome))
	if a.recorder == nil {
		return
	}
	attempt := model.LoginAttempt{
		ID:         newID(),
		LicenseKey: req.LicenseKey,
		ProductID:  req.ProductID,
		HWID:       req.HWID,
		Outcome:    d.Outcome,
		Time:       a.now().Unix(),
	}
	if req.Claims != nil {
		attempt.Subject = req.Claims.Subject
	}
	a.recorder.Record(attempt)
}
