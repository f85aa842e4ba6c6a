// Package domain defines the error model shared by the streamguard service
// layers.
//
// It has no dependencies outside the Go standard library. Sentinel errors are
// matched with errors.Is; DomainError attaches the stable code that the HTTP
// surface reports in an ErrorResponse.
package domain
