// Package s3 uploads deployment state snapshots to S3-compatible object
// storage so a fleet operator can follow provisioning without logging in to
// each host.
package s3
