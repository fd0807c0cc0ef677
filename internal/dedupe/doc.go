// Package dedupe provides mutation deduplication: deterministic call
// fingerprints and a time-windowed store that suppresses re-execution of
// duplicate mutation attempts.
package dedupe
