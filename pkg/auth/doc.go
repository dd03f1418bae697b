// Package auth provides optional bearer-token authentication and per-subject
// rate limiting for the execution service.
//
// A Chain asks its authenticators in turn. Each one accepts, rejects or
// abstains; when all abstain the chain either admits an anonymous caller or
// rejects the request.
//
// Auth is HTTP middleware and never reaches into the engine. The middleware
// injects the caller's tenant into the request context so history storage
// is scoped per tenant.
package auth
