package sso

import (
	"context"
	"errors"
	"strconv"
)

// MaxMappingAttempts bounds the number of times the attribute mapper is asked
// for a localpart. The mapper is arbitrary external code; an unbounded loop
// would be a denial-of-service vector against this service.
const MaxMappingAttempts = 1000

// AttributeMapper generates user attributes from an SSO response. The attempt
// counter says how many previously returned localparts were already taken;
// mappers are expected to vary their output with it, e.g. by appending a
// numeric suffix.
//
// A mapper may return *RedirectError to send the browser to an additional
// page (e.g. to prompt for consent) and *MappingError if no valid identity
// can be produced. Both pass through to the caller unchanged; any other error
// is treated as unexpected and wrapped so that internal detail is not shown
// to end users.
type AttributeMapper func(ctx context.Context, attempt int) (*UserAttributes, error)

// mapAttributes drives the attribute mapper in a bounded loop until it yields
// a localpart whose derived user id is free, or declines to pick one at all.
func (f *Flow) mapAttributes(ctx context.Context, providerID string, mapper AttributeMapper) (*UserAttributes, error) {
	for i := 0; i < MaxMappingAttempts; i++ {
		attrs, err := mapper(ctx, i)
		if err != nil {
			var mappingErr *MappingError
			var redirectErr *RedirectError
			if errors.As(err, &mappingErr) || errors.As(err, &redirectErr) {
				return nil, err
			}
			f.logger.WithError(err).WithField("provider", providerID).
				Error("attribute mapper failed unexpectedly")
			return nil, &MappingError{Message: "could not extract user attributes from SSO response"}
		}
		if attrs == nil {
			f.logger.WithField("provider", providerID).
				Error("attribute mapper returned no attributes and no error")
			return nil, &MappingError{Message: "could not extract user attributes from SSO response"}
		}

		f.logger.WithField("provider", providerID).
			Debugf("mapper returned attributes %+v (attempt %d)", attrs, i)

		if attrs.Localpart == "" {
			// The mapper has not picked a localpart; the caller must route
			// to the username picker.
			return attrs, nil
		}

		userID := NewUserID(attrs.Localpart, f.domain).String()
		taken, err := f.links.IsLocalIDTaken(ctx, userID)
		if err != nil {
			return nil, err
		}
		if !taken {
			if f.metrics != nil {
				f.metrics.MappingAttempts.WithLabelValues(providerID).Observe(float64(i + 1))
			}
			return attrs, nil
		}
	}

	return nil, &MappingError{Message: "unable to generate a user ID from the SSO response"}
}

// DefaultAttributeMapper derives attributes from a provider assertion. The
// base localpart comes from the asserted preferred username (or the localpart
// of the first e-mail address); collisions are resolved by appending the
// attempt counter. If nothing usable is present, the mapper declines and the
// user is sent to the username picker.
func DefaultAttributeMapper(a *Assertion) AttributeMapper {
	base := SanitizeLocalpart(a.PreferredUsername)
	if base == "" && len(a.Emails) > 0 {
		base = SanitizeLocalpart(a.Emails[0])
	}

	return func(ctx context.Context, attempt int) (*UserAttributes, error) {
		attrs := &UserAttributes{
			DisplayName: a.DisplayName,
			Emails:      a.Emails,
		}
		if base == "" {
			return attrs, nil
		}
		attrs.Localpart = base
		if attempt > 0 {
			attrs.Localpart = base + strconv.Itoa(attempt)
		}
		return attrs, nil
	}
}
