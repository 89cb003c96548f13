// Package cryptoutil holds the small hashing helpers used for session
// handling: token fingerprints for cache keys and constant-time comparison
// of CSRF tokens.
package cryptoutil
