package draftworker

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// zipArchiver writes a zip of the run folder. Entries are stored
// relative to the folder's parent so the archive unpacks to a single
// top-level directory.
type zipArchiver struct{}

func (zipArchiver) Archive(folder, dest string) error {
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	base := filepath.Dir(folder)

	walkErr := filepath.WalkDir(folder, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(base, path)
		if err != nil {
			return err
		}

		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return err
		}

		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()

		_, err = io.Copy(w, src)
		return err
	})
	if walkErr != nil {
		_ = zw.Close()
		return fmt.Errorf("archive %s: %w", filepath.Base(folder), walkErr)
	}

	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish archive: %w", err)
	}
	return f.Close()
}
