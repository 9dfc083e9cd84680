// Package observability carries deployment events to the operator.
//
// Observer is the logging interface used by the orchestrator and actions.
// ConsoleObserver prints through the standard log package. HostObserver
// additionally appends every event to the deployment log file through a
// logr logger and mirrors it to syslog. The log is informational only; the
// state document is authoritative for control flow.
package observability
