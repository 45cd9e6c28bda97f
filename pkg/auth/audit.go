package auth

import (
	"context"
	"time"

	"github.com/platinummonkey/idlink/pkg/async"
	"github.com/platinummonkey/idlink/pkg/observability"
	"github.com/platinummonkey/idlink/pkg/sso"
	"github.com/platinummonkey/idlink/pkg/storage"
)

// AuditRecorder persists completed SSO logins off the request path. Writes
// run on a small worker pool; a failed write is logged and dropped rather
// than failing the login.
type AuditRecorder struct {
	store  storage.AuditStore
	pool   *async.WorkerPool
	logger *observability.Logger
}

// NewAuditRecorder creates an audit recorder with its own worker pool.
func NewAuditRecorder(ctx context.Context, store storage.AuditStore, logger *observability.Logger) *AuditRecorder {
	return &AuditRecorder{
		store:  store,
		pool:   async.NewWorkerPool(ctx, 2, "login audit", 10*time.Second),
		logger: logger,
	}
}

// RecordLogin enqueues one audit row for a completed login.
func (ar *AuditRecorder) RecordLogin(userID, providerID, remoteUserID string, requestor sso.Requestor) {
	entry := storage.LoginAuditEntry{
		UserID:     userID,
		ProviderID: providerID,
		ExternalID: remoteUserID,
		UserAgent:  requestor.UserAgent,
		IPAddress:  requestor.IPAddress,
		At:         time.Now(),
	}

	err := ar.pool.Submit(func(ctx context.Context) error {
		return ar.store.RecordLoginAudit(ctx, entry)
	})
	if err != nil {
		ar.logger.WithError(err).Warn("dropping login audit entry, recorder shut down")
	}
}

// Close drains the worker pool, waiting up to the given timeout for queued
// audit writes to land.
func (ar *AuditRecorder) Close(timeout time.Duration) error {
	return ar.pool.Shutdown(timeout)
}
