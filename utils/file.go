package utils

import (
	"io"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/utils"
)

// RemoveFileNoError will remove the file at the given path if it exists. Any
// errors will be suppressed.
func RemoveFileNoError(path string) {
	utils.UncheckedErrorFunc(func() error {
		if _, err := os.Stat(path); err == nil {
			return os.Remove(path)
		}
		return nil
	})
}

// WriteFileAtomic writes to a temporary file next to path and renames it over path once write
// and close have both succeeded. On any failure the temporary file is removed and path is left
// untouched, so readers only ever observe a complete file.
func WriteFileAtomic(path string, perm os.FileMode, write func(w io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrapf(err, "cannot open %q for writing", path)
	}
	tmpName := tmp.Name()
	defer func() {
		if err != nil {
			RemoveFileNoError(tmpName)
		}
	}()

	if err := write(tmp); err != nil {
		return multierr.Combine(errors.Wrapf(err, "error writing %q", path), tmp.Close())
	}
	if err := tmp.Sync(); err != nil {
		return multierr.Combine(errors.Wrapf(err, "error syncing %q", path), tmp.Close())
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "error closing %q", path)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return errors.Wrapf(err, "error setting mode of %q", path)
	}
	return errors.Wrapf(os.Rename(tmpName, path), "error moving %q into place", path)
}
