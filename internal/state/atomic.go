package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// writeJSONAtomic replaces path with the JSON encoding of v. The temp file
// lives in the same directory so the rename never crosses filesystems.
func writeJSONAtomic(path string, v any) error {
	return publishJSON(path, v, os.Rename)
}

// createJSONExclusive publishes v at path only if nothing is there yet. A
// hard link fails instead of replacing, so a concurrent writer's document
// survives. It returns an error matching fs.ErrExist in that case.
func createJSONExclusive(path string, v any) error {
	return publishJSON(path, v, func(tmp, path string) error {
		if err := os.Link(tmp, path); err != nil {
			return err
		}
		_ = os.Remove(tmp)
		return nil
	})
}

// publishJSON writes v to a synced temp file next to path and hands it to
// publish.
func publishJSON(path string, v any, publish func(tmp, path string) error) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	data = append(data, '\n')

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	committed := false
	defer func() {
		if !committed {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := publish(tmpName, path); err != nil {
		return fmt.Errorf("publish temp file: %w", err)
	}
	committed = true

	return syncDir(dir)
}

// syncDir makes the rename durable across power loss.
func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return fmt.Errorf("open dir: %w", err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return fmt.Errorf("sync dir: %w", err)
	}
	return nil
}
