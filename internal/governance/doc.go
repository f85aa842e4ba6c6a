// Package governance holds runtime safety controls for the HTTP service.
// Currently that is per-client request rate limiting.
package governance
