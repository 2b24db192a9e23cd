// Package dedupe provides replay suppression for correlation ids using a
// time-based cache with size-bounded, oldest-first eviction.
package dedupe
