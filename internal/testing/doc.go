// Package testing provides builders, fakes and mocks shared by unit tests.
//
// This package centralizes common testing patterns to avoid duplication across test files:
//   - ConfigBuilder: Fluent builder for creating test configurations
//   - FakeHost: Scripted hostexec.Host with an in-memory filesystem
//   - RecordingObserver: Observer that keeps every event for assertions
//   - ScriptedAction: Stage action returning a programmed sequence of results
//   - MockTrigger, MockRebooter: testify mocks for the reboot path
//
// Usage:
//
//	cfg := testing.NewConfigBuilder(t.TempDir()).
//	    WithAutoReboot(true).
//	    Build()
//
//	host := testing.NewFakeHost().On("lsmod", "nvidia 123 0", nil)
package testing
