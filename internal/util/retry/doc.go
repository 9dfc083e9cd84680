// Package retry provides exponential backoff retry logic for transient failures.
//
// Actions use [WithExponentialBackoff] for package mirror and download hiccups.
// Retries happen inside a single stage attempt and are invisible to the
// deployment state.
package retry
