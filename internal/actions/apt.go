package actions

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/imamik/gpuprep/internal/config"
	"github.com/imamik/gpuprep/internal/stage"
	"github.com/imamik/gpuprep/internal/util/retry"
)

// aptOptions keeps configuration files the admin modified and never prompts.
var aptOptions = []string{
	"-y",
	"-o", "Dpkg::Options::=--force-confdef",
	"-o", "Dpkg::Options::=--force-confold",
}

// lockMarkers identify apt failures caused by another package manager.
var lockMarkers = []string{
	"Could not get lock",
	"Unable to acquire the dpkg frontend lock",
	"is another process using it",
}

func isLockContention(err error) bool {
	msg := err.Error()
	for _, marker := range lockMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// aptRun runs apt-get, retrying while the dpkg lock is held elsewhere.
// Every other failure is returned immediately.
// Unattended upgrades commonly hold the dpkg lock for a few minutes right
// after first boot, which the default retry budget covers.
func aptRun(ctx context.Context, env *stage.Env, args ...string) error {
	opts := append(retryPolicy(env),
		retry.WithOnRetry(func(attempt int, _ error, next time.Duration) {
			env.Observer.Printf("[apt] dpkg lock held by another process, retrying in %s (attempt %d)", next, attempt)
		}),
	)
	return retry.WithExponentialBackoff(ctx, func(ctx context.Context) error {
		_, err := env.Host.Run(ctx, "apt-get", args...)
		if err == nil {
			return nil
		}
		if isLockContention(err) {
			return err
		}
		return retry.Fatal(err)
	}, opts...)
}

// retryPolicy returns the backoff for retried commands inside actions.
func retryPolicy(env *stage.Env) []retry.Option {
	t := env.Timeouts
	if t == nil {
		t = config.LoadTimeouts()
	}
	return []retry.Option{
		retry.WithMaxAttempts(t.RetryMaxAttempts),
		retry.WithInitialDelay(t.RetryInitialDelay),
		retry.WithMaxDelay(t.RetryMaxDelay),
	}
}

// aptUpdate refreshes the package index.
func aptUpdate(ctx context.Context, env *stage.Env) error {
	if err := aptRun(ctx, env, "update"); err != nil {
		return fmt.Errorf("apt-get update: %w", unwrapFatal(err))
	}
	return nil
}

// aptInstall installs packages non-interactively.
func aptInstall(ctx context.Context, env *stage.Env, pkgs ...string) error {
	args := append([]string{"install"}, aptOptions...)
	args = append(args, pkgs...)
	if err := aptRun(ctx, env, args...); err != nil {
		return fmt.Errorf("install %s: %w", strings.Join(pkgs, " "), unwrapFatal(err))
	}
	return nil
}

// unwrapFatal strips the retry wrapping so stage messages show the command
// failure itself.
func unwrapFatal(err error) error {
	var fatal *retry.FatalError
	if errors.As(err, &fatal) {
		return fatal.Err
	}
	return err
}
