package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/keygate/keygate/internal/model"
)

// LoginSink persists login attempts.
type LoginSink interface {
	RecordLogin(ctx context.Context, a *model.LoginAttempt) error
}

// Recorder logs every authorization decision and persists it to a sink in
// the background. Persistence is best-effort: failures are logged and never
// reach the caller.
type Recorder struct {
	sink    LoginSink
	logger  *slog.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewRecorder creates a recorder. A nil sink disables persistence.
func NewRecorder(sink LoginSink, logger *slog.Logger) *Recorder {
	return &Recorder{sink: sink, logger: logger, timeout: 5 * time.Second}
}

// Record logs a and schedules it for persistence. It does not block on I/O.
func (r *Recorder) Record(a model.LoginAttempt) {
	level := slog.LevelInfo
	if a.Outcome != model.OutcomeOK {
		level = slog.LevelWarn
	}
	r.logger.Log(context.Background(), level, "authorization decision",
		"component", "authz",
		"license_key", a.LicenseKey,
		"subject", a.Subject,
		"product_id", a.ProductID,
		"hwid", a.HWID,
		"outcome", string(a.Outcome),
	)

	if r.sink == nil {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()
		if err := r.sink.RecordLogin(ctx, &a); err != nil {
			r.logger.Warn("failed to persist login attempt", "license_key", a.LicenseKey, "error", err)
		}
	}()
}

// Wait blocks until every scheduled write has finished.
func (r *Recorder) Wait() {
	r.wg.Wait()
}
