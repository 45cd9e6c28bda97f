// Package auth finishes SSO logins by issuing short-lived, single-use login
// tokens, and records completed logins for audit.
//
// A TokenIssuer implements the login completion step: once the SSO flow has
// resolved an external identity to a local user id, the issuer mints an
// opaque token, appends it to the client redirect URL as the loginToken
// query parameter, and sends the browser there. The client exchanges the
// token for its session exactly once; tokens expire unredeemed after a
// couple of minutes.
//
// An AuditRecorder persists one row per completed login on a background
// worker pool so that the login path never blocks on audit writes.
package auth
