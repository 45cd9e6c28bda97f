// Package sso reconciles external identity assertions with local accounts.
//
// An identity provider (IdP) authenticates a user out-of-band and calls back
// with a (provider id, remote user id) pair. This package decides whether that
// pair already maps to a local account, whether it can be grafted onto a
// pre-existing account (grandfathering), or whether a new account must be
// registered for it - guaranteeing at most one local account is ever created
// per external identity, even under concurrent logins.
//
// The main pieces are:
//
//   - Registry: the set of configured identity providers and the login
//     dispatch logic (direct redirect for a single provider, provider picker
//     for several).
//   - Flow: the top-level login completion state machine. It serializes the
//     critical section per provider, drives the attribute mapper, and hands
//     off to login-token issuance.
//   - Registrar: validates a mapped localpart, creates the account, and
//     durably records the external-identity link.
//   - SessionStore: short-lived, in-memory sessions for the "choose your
//     username" detour, correlated with the browser via a cookie.
//
// Concrete OIDC, OAuth2, and SAML providers implementing IdentityProvider
// live in this package as well.
package sso
