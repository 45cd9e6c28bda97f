// Package httputil provides HTTP utilities for standardized request/response
// handling.
//
// # Response Helpers
//
// JSON responses:
//
//	httputil.WriteSuccess(w, data)
//	httputil.WriteErrorCode(w, http.StatusBadRequest, "USER_IN_USE", "user ID is already in use")
//
// Error responses carry a machine-readable "errcode" alongside the human
// message, so clients can branch on the failure without string matching.
//
// # Request Parsing
//
//	providerID, ok := httputil.ParsePathStringOrError(w, r, "provider")
//	ip := httputil.ClientIP(r)
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RecoveryMiddleware(logger),
//		httputil.RequestIDMiddleware,
//		httputil.MaxBytesMiddleware(1<<20),
//	)
package httputil
