package utils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// InstallFile copies src to dst with src's permissions. The copy is written
// next to dst and renamed into place, so readers never see a partial file.
func InstallFile(src, dst string) (err error) {
	source, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer source.Close()

	info, err := source.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(dst), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return fmt.Errorf("create temporary file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	copied, err := io.Copy(tmp, source)
	if err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if copied != info.Size() {
		return fmt.Errorf("incomplete copy: expected %d bytes, got %d bytes", info.Size(), copied)
	}
	if err := tmp.Chmod(info.Mode().Perm()); err != nil {
		return fmt.Errorf("chmod %s: %w", tmp.Name(), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	return os.Rename(tmp.Name(), dst)
}
