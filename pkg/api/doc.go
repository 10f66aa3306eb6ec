// Package api exposes the plan catalog, the subscription lifecycle, billing
// history, entitlements and billing addresses over HTTP.
//
// Every route except the payment webhook requires a bearer token; the webhook
// is authenticated by its HMAC signature instead. Plan catalog writes and
// manual activation additionally require an administrator. Failures are
// rendered by httputil.WriteAppError.
package api
