// Package middleware provides HTTP middleware for the single sign-on
// endpoints.
//
// The SSO flow is unauthenticated by nature, so rate limiting is keyed on
// the client IP address rather than on an account. Two limiters are
// provided:
//
//   - RateLimitMiddleware: an in-process token bucket, suitable for a
//     single instance.
//   - DistributedRateLimitMiddleware: a Redis-backed fixed window counter
//     shared across instances. It fails open on Redis errors so a cache
//     outage never blocks logins.
//
// The username picker endpoints get a tighter budget than the login
// endpoints because availability checks can be used to enumerate
// registered usernames.
package middleware
