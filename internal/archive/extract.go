// Package archive extracts a shared library from a verified release
// archive into the cache.
package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
)

var (
	// ErrUnsupportedFormat indicates an archive file name with no
	// recognized extension.
	ErrUnsupportedFormat = errors.New("unsupported archive format")
	// ErrLibraryNotFound indicates the archive contains no entry with the
	// expected library extension.
	ErrLibraryNotFound = errors.New("no library found in archive")
)

// ExtractLibrary unpacks the library with the given extension (".so",
// ".dylib" or ".dll") from archivePath into destDir and returns its path.
//
// When several entries carry the extension, one under a "lib" directory
// segment wins; otherwise the first in archive order does. Extraction is
// idempotent: if destDir already holds a file with the extension it is
// returned without reopening the archive.
func ExtractLibrary(archivePath, destDir, ext string) (string, error) {
	if existing, ok := findExtracted(destDir, ext); ok {
		return existing, nil
	}

	name, reader, err := openLibrary(archivePath, ext)
	if err != nil {
		return "", err
	}
	defer reader.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return "", fmt.Errorf("create extraction dir: %w", err)
	}

	destPath := filepath.Join(destDir, path.Base(name))
	if err := writeAtomic(destPath, reader); err != nil {
		return "", err
	}
	return destPath, nil
}

// openLibrary opens the selected library entry for reading. The caller
// must close the returned reader.
func openLibrary(archivePath, ext string) (string, io.ReadCloser, error) {
	switch {
	case strings.HasSuffix(archivePath, ".zip"):
		return openZipLibrary(archivePath, ext)
	case strings.HasSuffix(archivePath, ".tar.gz"), strings.HasSuffix(archivePath, ".tgz"):
		return openTarLibrary(archivePath, ext)
	default:
		return "", nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(archivePath))
	}
}

func openZipLibrary(archivePath, ext string) (string, io.ReadCloser, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return "", nil, fmt.Errorf("open zip: %w", err)
	}

	names := make([]string, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		names = append(names, f.Name)
	}
	selected, err := selectEntry(names, ext)
	if err != nil {
		zr.Close()
		return "", nil, err
	}

	for _, f := range zr.File {
		if f.Name != selected {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			zr.Close()
			return "", nil, fmt.Errorf("open zip entry %s: %w", f.Name, err)
		}
		return selected, &zipEntryReader{rc: rc, archive: zr}, nil
	}
	zr.Close()
	return "", nil, fmt.Errorf("%w: extension %s", ErrLibraryNotFound, ext)
}

// zipEntryReader keeps the archive open for the lifetime of the entry
// reader.
type zipEntryReader struct {
	rc      io.ReadCloser
	archive *zip.ReadCloser
}

func (r *zipEntryReader) Read(p []byte) (int, error) { return r.rc.Read(p) }

func (r *zipEntryReader) Close() error {
	err := r.rc.Close()
	if closeErr := r.archive.Close(); err == nil {
		err = closeErr
	}
	return err
}

// openTarLibrary selects the entry in a first pass over the archive, then
// reopens and seeks to it. Tar has no central directory, so selection
// requires reading entry headers up front.
func openTarLibrary(archivePath, ext string) (string, io.ReadCloser, error) {
	names, err := tarEntryNames(archivePath)
	if err != nil {
		return "", nil, err
	}
	selected, err := selectEntry(names, ext)
	if err != nil {
		return "", nil, err
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return "", nil, fmt.Errorf("open archive: %w", err)
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return "", nil, fmt.Errorf("open gzip stream: %w", err)
	}
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err != nil {
			f.Close()
			if err == io.EOF {
				return "", nil, fmt.Errorf("%w: extension %s", ErrLibraryNotFound, ext)
			}
			return "", nil, fmt.Errorf("read archive: %w", err)
		}
		if hdr.Name == selected {
			return selected, &tarEntryReader{tr: tr, file: f, gz: gz}, nil
		}
	}
}

type tarEntryReader struct {
	tr   *tar.Reader
	file *os.File
	gz   *gzip.Reader
}

func (r *tarEntryReader) Read(p []byte) (int, error) { return r.tr.Read(p) }

func (r *tarEntryReader) Close() error {
	err := r.gz.Close()
	if closeErr := r.file.Close(); err == nil {
		err = closeErr
	}
	return err
}

func tarEntryNames(archivePath string) ([]string, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("open gzip stream: %w", err)
	}
	defer gz.Close()

	var names []string
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return names, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read archive: %w", err)
		}
		if hdr.Typeflag == tar.TypeReg {
			names = append(names, hdr.Name)
		}
	}
}

// selectEntry picks the library entry: an extension match under a "lib"
// path segment beats a plain extension match; archive order breaks ties.
// Entry names that would escape the destination are rejected.
func selectEntry(names []string, ext string) (string, error) {
	var first string
	for _, name := range names {
		if !strings.HasSuffix(name, ext) {
			continue
		}
		if !isSafePath(name) {
			return "", fmt.Errorf("unsafe entry path in archive: %s", name)
		}
		if first == "" {
			first = name
		}
		if hasLibSegment(name) {
			return name, nil
		}
	}
	if first == "" {
		return "", fmt.Errorf("%w: extension %s", ErrLibraryNotFound, ext)
	}
	return first, nil
}

func hasLibSegment(name string) bool {
	for _, segment := range strings.Split(path.Dir(name), "/") {
		if segment == "lib" {
			return true
		}
	}
	return false
}

// isSafePath rejects absolute entries and parent-directory traversal.
func isSafePath(name string) bool {
	if path.IsAbs(name) || strings.Contains(name, "\\") {
		return false
	}
	for _, segment := range strings.Split(name, "/") {
		if segment == ".." {
			return false
		}
	}
	return true
}

// findExtracted looks for an already-extracted library in destDir.
func findExtracted(destDir, ext string) (string, bool) {
	entries, err := os.ReadDir(destDir)
	if err != nil {
		return "", false
	}
	for _, entry := range entries {
		if entry.Type().IsRegular() && strings.HasSuffix(entry.Name(), ext) {
			return filepath.Join(destDir, entry.Name()), true
		}
	}
	return "", false
}

// writeAtomic writes r to destPath via a temp file so a crash mid-write
// never leaves a partial library behind.
func writeAtomic(destPath string, r io.Reader) error {
	destDir := filepath.Dir(destPath)
	tmp, err := os.CreateTemp(destDir, filepath.Base(destPath)+".tmp*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	cleanupNeeded := true
	defer func() {
		tmp.Close()
		if cleanupNeeded {
			os.Remove(tmpPath)
		}
	}()

	if _, err := io.Copy(tmp, r); err != nil {
		return fmt.Errorf("extract entry: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o755); err != nil {
		return fmt.Errorf("set library mode: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	cleanupNeeded = false
	return nil
}
