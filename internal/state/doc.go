// Package state persists deployment progress as a single JSON document.
//
// The [Store] is the only writer of the document. Every change goes through
// [Store.Mutate], which reloads the document from disk, applies the change,
// checks the state invariants and atomically replaces the file (write to a
// temp file in the same directory, fsync, rename, fsync the directory). A
// crash at any point leaves either the old or the new document on disk.
//
// Mutations are serialized within one process by a mutex. Exclusion across
// processes is the job of package lock.
package state
