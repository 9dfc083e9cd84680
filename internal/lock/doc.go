// Package lock guarantees that at most one orchestrator runs on a host.
//
// The lock is a directory created with mkdir (atomic on POSIX filesystems)
// holding an owner.json record with the holder's pid, boot id and run id.
// A lock whose holder process no longer exists, or which was taken before
// the current boot, is stale and is broken by the next acquirer. This is
// what lets the post-reboot resume proceed even though the pre-reboot
// process never released its lock.
//
// The check-then-break sequence runs under a short flock on a sidecar guard
// file, so two acquirers can never both break the same stale lock and then
// both believe they hold it.
package lock
