package roster

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

const lockRetryDelay = 50 * time.Millisecond

var rename = os.Rename

// Sidecar is an extra file replaced together with the roster.
type Sidecar struct {
	Path  string
	Write func(io.Writer) error
}

// LockPath is the lock file guarding commits to path.
func LockPath(path string) string {
	return path + ".lock"
}

// Commit validates rows and replaces the roster at path and every sidecar.
// Each file is written to a temporary file in its target directory, synced
// and renamed, the roster last, while holding an exclusive lock on
// LockPath(path). Nothing is replaced when validation or any write fails,
// and the previous files are restored when a rename fails.
func Commit(ctx context.Context, path string, rows []Row, sidecars ...Sidecar) error {
	if err := Validate(rows); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory for %s: %w", path, err)
	}

	lock := flock.New(LockPath(path))
	locked, err := lock.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		return fmt.Errorf("lock %s: %w", LockPath(path), err)
	}
	if !locked {
		return fmt.Errorf("lock %s: not acquired", LockPath(path))
	}
	defer lock.Unlock()

	files := append([]Sidecar{{
		Path:  path,
		Write: func(w io.Writer) error { return Encode(w, rows) },
	}}, sidecars...)

	temps := make([]string, 0, len(files))
	cleanup := func() {
		for _, tmp := range temps {
			_ = os.Remove(tmp)
		}
	}

	for _, f := range files {
		tmp, err := writeTemp(f)
		if err != nil {
			cleanup()
			return err
		}
		temps = append(temps, tmp)
	}

	return install(files, temps)
}

// install moves every temp file into place, sidecars first and the roster
// last. Replaced files are set aside and put back if any move fails.
func install(files []Sidecar, temps []string) error {
	order := make([]int, 0, len(files))
	for i := 1; i < len(files); i++ {
		order = append(order, i)
	}
	order = append(order, 0)

	type moved struct {
		path, prev string
	}
	var done []moved
	rollback := func() {
		for j := len(done) - 1; j >= 0; j-- {
			m := done[j]
			if m.prev != "" {
				_ = rename(m.prev, m.path)
			} else {
				_ = os.Remove(m.path)
			}
		}
		for _, tmp := range temps {
			_ = os.Remove(tmp)
		}
	}

	for _, i := range order {
		path := files[i].Path
		prev := temps[i] + ".prev"
		if err := rename(path, prev); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				rollback()
				return fmt.Errorf("set aside %s: %w", path, err)
			}
			prev = ""
		}
		if err := rename(temps[i], path); err != nil {
			if prev != "" {
				_ = rename(prev, path)
			}
			rollback()
			return fmt.Errorf("replace %s: %w", path, err)
		}
		done = append(done, moved{path: path, prev: prev})
	}

	for _, m := range done {
		if m.prev != "" {
			_ = os.Remove(m.prev)
		}
	}
	return nil
}

func writeTemp(f Sidecar) (string, error) {
	dir := filepath.Dir(f.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create directory %s: %w", dir, err)
	}

	file, err := os.CreateTemp(dir, "."+filepath.Base(f.Path)+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp file for %s: %w", f.Path, err)
	}
	name := file.Name()

	fail := func(op string, err error) (string, error) {
		file.Close()
		os.Remove(name)
		return "", fmt.Errorf("%s %s: %w", op, f.Path, err)
	}

	w := bufio.NewWriterSize(file, 64*1024)
	if err := f.Write(w); err != nil {
		return fail("write", err)
	}
	if err := w.Flush(); err != nil {
		return fail("flush", err)
	}
	if err := file.Chmod(0o644); err != nil {
		return fail("chmod", err)
	}
	if err := file.Sync(); err != nil {
		return fail("sync", err)
	}
	if err := file.Close(); err != nil {
		os.Remove(name)
		return "", fmt.Errorf("close %s: %w", f.Path, err)
	}
	return name, nil
}
