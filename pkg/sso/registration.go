package sso

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/platinummonkey/idlink/pkg/observability"
	"github.com/platinummonkey/idlink/pkg/storage"
)

// Registrar turns finalized user attributes into a registered local account
// and durably records the external-identity link.
type Registrar struct {
	accounts storage.AccountStore
	links    storage.LinkStore
	domain   string
	logger   *observability.Logger
	metrics  *observability.Metrics
}

// NewRegistrar creates a registrar backed by the given stores. domain is the
// server's own domain, used to qualify localparts into full user ids.
func NewRegistrar(accounts storage.AccountStore, links storage.LinkStore, domain string, logger *observability.Logger, metrics *observability.Metrics) *Registrar {
	return &Registrar{
		accounts: accounts,
		links:    links,
		domain:   domain,
		logger:   logger,
		metrics:  metrics,
	}
}

// RegisterMappedUser registers a new account for an external identity and
// records the link. The localpart may originate from an untrusted mapper or a
// human-entered username, so it is validated here regardless of upstream
// checks.
//
// If the identifier was claimed between the availability check and creation,
// the failure surfaces as a USER_IN_USE error so the picker flow can show an
// actionable message.
func (reg *Registrar) RegisterMappedUser(ctx context.Context, attrs *UserAttributes, providerID, remoteUserID string, requestor Requestor) (string, error) {
	if !ValidLocalpart(attrs.Localpart) {
		reg.observe(providerID, "invalid_localpart")
		return "", &MappingError{Message: fmt.Sprintf("localpart is invalid: %q", attrs.Localpart)}
	}

	reg.logger.WithField("provider", providerID).
		Debugf("mapped SSO user to localpart %s", attrs.Localpart)

	userID, err := reg.accounts.CreateAccount(ctx, attrs.Localpart, attrs.DisplayName, attrs.Emails, requestor.UserAgent, requestor.IPAddress)
	if err != nil {
		if errors.Is(err, storage.ErrLocalpartTaken) {
			reg.observe(providerID, "in_use")
			return "", NewError(http.StatusBadRequest, CodeUserInUse,
				fmt.Sprintf("user ID %q is already in use", NewUserID(attrs.Localpart, reg.domain)))
		}
		reg.observe(providerID, "error")
		return "", fmt.Errorf("creating account for localpart %q: %w", attrs.Localpart, err)
	}

	if err := reg.links.RecordExternalID(ctx, providerID, remoteUserID, userID); err != nil {
		return "", fmt.Errorf("recording external id link for %s/%s: %w", providerID, remoteUserID, err)
	}

	reg.logger.WithField("provider", providerID).
		Infof("registered SSO user %s for remote user %s", userID, remoteUserID)
	reg.observe(providerID, "ok")
	return userID, nil
}

func (reg *Registrar) observe(providerID, status string) {
	if reg.metrics != nil {
		reg.metrics.RegistrationsTotal.WithLabelValues(providerID, status).Inc()
	}
}
