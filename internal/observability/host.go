package observability

import (
	"errors"
	"fmt"
	"io"
	"log"
	"log/syslog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"github.com/go-logr/logr/funcr"
)

// SyslogTag identifies gpuprep messages in the system log.
const SyslogTag = "gpuprep"

// HostOptions configures a HostObserver.
type HostOptions struct {
	// LogFile is appended to; empty disables the file sink.
	LogFile string
	// Syslog mirrors events to the local system log.
	Syslog bool
	// Console prints events through the standard log package.
	Console bool
}

// syslogWriter is the subset of *syslog.Writer used here.
type syslogWriter interface {
	Info(m string) error
	Err(m string) error
	Close() error
}

// dialSyslog is swapped in tests.
var dialSyslog = func() (syslogWriter, error) {
	return syslog.New(syslog.LOG_INFO|syslog.LOG_DAEMON, SyslogTag)
}

// HostObserver fans every event out to the console, the deployment log file
// and syslog.
type HostObserver struct {
	sinks         *hostSinks
	logger        logr.Logger
	contextFields map[string]string
}

// hostSinks is shared between an observer and the observers derived from it
// with WithFields.
type hostSinks struct {
	mu      sync.Mutex
	console bool
	file    io.WriteCloser
	syslog  syslogWriter
}

// NewHostObserver opens the configured sinks. Syslog being unavailable is
// not an error; the file and console sinks keep working.
func NewHostObserver(opts HostOptions) (*HostObserver, error) {
	sinks := &hostSinks{console: opts.Console}

	if opts.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(opts.LogFile), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		// #nosec G304
		f, err := os.OpenFile(opts.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		sinks.file = f
	}

	if opts.Syslog {
		if w, err := dialSyslog(); err == nil {
			sinks.syslog = w
		}
	}

	return newHostObserver(sinks), nil
}

func newHostObserver(sinks *hostSinks) *HostObserver {
	logger := logr.Discard()
	if sinks.file != nil {
		logger = funcr.New(func(prefix, args string) {
			sinks.mu.Lock()
			defer sinks.mu.Unlock()
			if sinks.file == nil {
				return
			}
			if prefix != "" {
				_, _ = fmt.Fprintf(sinks.file, "%s: %s\n", prefix, args)
				return
			}
			_, _ = fmt.Fprintln(sinks.file, args)
		}, funcr.Options{
			LogTimestamp:    true,
			TimestampFormat: time.RFC3339,
		})
	}
	return &HostObserver{
		sinks:         sinks,
		logger:        logger.WithName(SyslogTag),
		contextFields: map[string]string{},
	}
}

// Printf implements Logger.
func (o *HostObserver) Printf(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	if o.sinks.console {
		log.Print(msg)
	}
	o.logger.Info(msg, fieldsKV(o.contextFields)...)
	o.toSyslog(msg, false)
}

// Event implements Observer.
func (o *HostObserver) Event(event Event) {
	event = withContext(event, o.contextFields)
	line := FormatEvent(event)

	if o.sinks.console {
		log.Print(line)
	}

	kv := []any{"event", string(event.Type)}
	if event.Stage != "" {
		kv = append(kv, "stage", event.Stage)
	}
	kv = append(kv, fieldsKV(event.Fields)...)
	if event.Type.IsFailure() {
		o.logger.Error(errors.New(event.Message), "deployment event", kv...)
	} else {
		o.logger.Info(event.Message, kv...)
	}

	o.toSyslog(line, event.Type.IsFailure())
}

// Progress implements Observer.
func (o *HostObserver) Progress(stage string, current, total int) {
	o.Event(Event{
		Type:    EventProgress,
		Stage:   stage,
		Message: formatProgress(stage, current, total),
	})
}

// WithFields implements Observer.
func (o *HostObserver) WithFields(fields map[string]string) Observer {
	return &HostObserver{
		sinks:         o.sinks,
		logger:        o.logger,
		contextFields: mergeFields(o.contextFields, fields),
	}
}

// Close flushes and closes the file and syslog sinks.
func (o *HostObserver) Close() error {
	o.sinks.mu.Lock()
	defer o.sinks.mu.Unlock()

	var errs []error
	if o.sinks.file != nil {
		errs = append(errs, o.sinks.file.Close())
		o.sinks.file = nil
	}
	if o.sinks.syslog != nil {
		errs = append(errs, o.sinks.syslog.Close())
		o.sinks.syslog = nil
	}
	return errors.Join(errs...)
}

func (o *HostObserver) toSyslog(line string, failure bool) {
	o.sinks.mu.Lock()
	defer o.sinks.mu.Unlock()
	if o.sinks.syslog == nil {
		return
	}
	if failure {
		_ = o.sinks.syslog.Err(line)
		return
	}
	_ = o.sinks.syslog.Info(line)
}

func fieldsKV(fields map[string]string) []any {
	if len(fields) == 0 {
		return nil
	}
	kv := make([]any, 0, len(fields)*2)
	for _, k := range sortedKeys(fields) {
		kv = append(kv, k, fields[k])
	}
	return kv
}
