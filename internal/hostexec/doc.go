// Package hostexec runs commands and edits files on the local host.
//
// Actions and the boot trigger reach the machine only through the [Host]
// interface so tests can substitute a scripted fake.
package hostexec
