package format

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cascadegis/geoconv/errors"
)

// ExtractArchive unpacks a zip file into dest, enforcing a total byte cap
// (0 means unlimited). Entry paths are confined to dest.
func ExtractArchive(path, dest string, maxBytes int64) error {
	r, err := zip.OpenReader(path)
	if err != nil {
		return errors.Wrapf(errors.ErrCorruptArchive, "open %s: %v", filepath.Base(path), err)
	}
	defer r.Close()

	var written int64
	for _, entry := range r.File {
		name := filepath.Clean(entry.Name)
		if strings.HasPrefix(name, "..") || filepath.IsAbs(name) {
			return errors.Wrapf(errors.ErrCorruptArchive, "archive entry escapes destination: %q", entry.Name)
		}
		target := filepath.Join(dest, name)

		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return errors.Wrap(err, "create archive directory")
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return errors.Wrap(err, "create archive directory")
		}

		n, err := extractEntry(entry, target, maxBytes, written)
		if err != nil {
			return err
		}
		written += n
		if maxBytes > 0 && written > maxBytes {
			return errors.Wrapf(errors.ErrResourceExhausted,
				"archive exceeds the %d byte scratch budget", maxBytes)
		}
	}
	return nil
}

func extractEntry(entry *zip.File, target string, maxBytes, written int64) (int64, error) {
	src, err := entry.Open()
	if err != nil {
		return 0, errors.Wrapf(errors.ErrCorruptArchive, "open entry %q: %v", entry.Name, err)
	}
	defer src.Close()

	dst, err := os.Create(target)
	if err != nil {
		return 0, errors.Wrap(err, "create extracted file")
	}
	defer dst.Close()

	limit := int64(-1)
	if maxBytes > 0 {
		limit = maxBytes - written + 1
	}
	var reader io.Reader = src
	if limit > 0 {
		reader = io.LimitReader(src, limit)
	}
	n, err := io.Copy(dst, reader)
	if err != nil {
		return n, errors.Wrapf(errors.ErrCorruptArchive, "extract entry %q: %v", entry.Name, err)
	}
	return n, nil
}

// buildArchive zips the named files into outPath, storing them flat under
// their base names.
func buildArchive(outPath string, files []string) error {
	out, err := os.Create(outPath)
	if err != nil {
		return errors.Wrap(err, "create archive")
	}
	defer out.Close()

	w := zip.NewWriter(out)
	for _, file := range files {
		if err := addArchiveEntry(w, file); err != nil {
			w.Close()
			return err
		}
	}
	if err := w.Close(); err != nil {
		return errors.Wrap(err, "finalize archive")
	}
	return nil
}

func addArchiveEntry(w *zip.Writer, file string) error {
	src, err := os.Open(file)
	if err != nil {
		return errors.Wrap(err, "open archive member")
	}
	defer src.Close()

	dst, err := w.Create(filepath.Base(file))
	if err != nil {
		return errors.Wrap(err, "add archive member")
	}
	if _, err := io.Copy(dst, src); err != nil {
		return errors.Wrap(err, "write archive member")
	}
	return nil
}

// FindByExtension locates the first file with the given extension under dir
func FindByExtension(dir, ext string) (string, bool) {
	var found string
	filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() || found != "" {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ext) {
			found = path
		}
		return nil
	})
	return found, found != ""
}
