// Package capability holds the external lookup ports the handlers consume.
// Adapters are explicit about availability: a missing key or an "off" mode
// produces an adapter that says so, never one that returns canned data.
package capability

import "errors"

// ErrUnavailable is returned by adapters that are not configured. Handlers
// catch it and respond without external sources instead of failing the turn.
var ErrUnavailable = errors.New("capability unavailable")

// ErrWebLookup is the single typed failure for web searches. Transport and
// upstream errors are wrapped in it so handlers can degrade on one check.
var ErrWebLookup = errors.New("web lookup failed")
