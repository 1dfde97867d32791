// Package bundle packages generated deliverables into a single downloadable
// zip archive. Packaging consumes the deliverables: the server-side copies
// are deleted once they are inside the archive.
package bundle

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/mhollstein/briefwerk/internal/domain"
)

// ArchiveName returns the timestamped download name for a batch archive.
func ArchiveName(now time.Time) string {
	return fmt.Sprintf("mailmerge_%s.zip", now.Format("2006-01-02_15-04"))
}

// Pack writes the given deliverable files into a zip archive under dir and
// deletes the packaged source files. Files already absent from disk are
// skipped. Returns the archive path; with no packable file it fails with a
// validation error and creates nothing.
func Pack(dir string, paths []string, now time.Time) (string, error) {
	var existing []string
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			existing = append(existing, p)
		}
	}
	if len(existing) == 0 {
		return "", domain.Invalid("bundle.pack", "No generated files found for packaging.")
	}

	archivePath := filepath.Join(dir, ArchiveName(now))
	file, err := os.Create(archivePath)
	if err != nil {
		return "", domain.Internal(err, "bundle.pack", "could not create archive")
	}

	zw := zip.NewWriter(file)
	for _, p := range existing {
		if err := addToZip(zw, p, filepath.Base(p)); err != nil {
			zw.Close()
			file.Close()
			os.Remove(archivePath)
			return "", domain.Internal(err, "bundle.pack", fmt.Sprintf("could not add %s to archive", filepath.Base(p)))
		}
	}
	if err := zw.Close(); err != nil {
		file.Close()
		os.Remove(archivePath)
		return "", domain.Internal(err, "bundle.pack", "could not finalize archive")
	}
	if err := file.Close(); err != nil {
		os.Remove(archivePath)
		return "", domain.Internal(err, "bundle.pack", "could not finalize archive")
	}

	// Packaging consumes the deliverables.
	for _, p := range existing {
		os.Remove(p)
	}
	return archivePath, nil
}

func addToZip(zw *zip.Writer, src, name string) error {
	f, err := os.Open(src)
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return err
	}
	header.Name = name
	header.Method = zip.Deflate

	w, err := zw.CreateHeader(header)
	if err != nil {
		return err
	}
	_, err = io.Copy(w, f)
	return err
}
