// Package ratelimit provides per-IP token bucket limiting with background
// eviction of idle entries.
//
// It guards the login form against password spraying from a single address.
// State is in-memory and per instance; it is not a substitute for upstream
// WAF rules against distributed attempts.
package ratelimit
