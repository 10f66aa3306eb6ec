// Package httputil provides the JSON request and response helpers and the
// generic middleware shared by the tenancy HTTP API.
//
// # Errors
//
// Handlers return failures from the plan catalog and subscription manager
// through WriteAppError, which maps the error kind to a status:
//
//	not_found        -> 404
//	forbidden        -> 403
//	conflict         -> 409
//	invalid_argument -> 400
//	anything else    -> 500
//
// The body is always {"error": "<Code>", "message": "..."}.
//
// # Middleware
//
//	httputil.Chain(
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.RecoveryMiddleware(logger),
//		httputil.MaxBytesMiddleware(1<<20),
//	)
package httputil
