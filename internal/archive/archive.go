// Package archive extracts uploaded zip-archives into a directory and packs a directory back into a zip-buffer
package archive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/flate"
)

var (
	ErrMalformed    = errors.New("malformed zip archive")
	ErrUnsafePath   = errors.New("archive entry escapes target directory")
	ErrEntryTooBig  = errors.New("archive entry exceeds size limit")
	ErrTotalTooBig  = errors.New("extracted archive exceeds total size limit")
	ErrNotDirectory = errors.New("pack source is not a directory")
)

// Limits - ограничения на распаковку, <= 0 отключает соответствующий лимит
type Limits struct {
	MaxEntry int64
	MaxTotal int64
}

// IsRejected reports whether err is caused by the archive content itself rather than local IO
func IsRejected(err error) bool {
	return errors.Is(err, ErrMalformed) ||
		errors.Is(err, ErrUnsafePath) ||
		IsTooBig(err)
}

func IsTooBig(err error) bool {
	return errors.Is(err, ErrEntryTooBig) || errors.Is(err, ErrTotalTooBig)
}

// Extract unpacks zip-data into dir within limits
func Extract(data []byte, dir string, limits Limits) error {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if errors.Is(err, zip.ErrInsecurePath) {
		return fmt.Errorf("%w: %v", ErrUnsafePath, err)
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	zr.RegisterDecompressor(zip.Deflate, func(r io.Reader) io.ReadCloser {
		return flate.NewReader(r)
	})

	root, err := filepath.Abs(dir)
	if err != nil {
		return err
	}

	var total int64
	for _, f := range zr.File {
		target, err := safeTarget(root, f.Name)
		if err != nil {
			return err
		}

		mode := f.Mode()
		switch {
		case mode.IsDir():
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
			continue
		case mode&fs.ModeSymlink != 0:
			return fmt.Errorf("%w: symlink %q", ErrUnsafePath, f.Name)
		}

		n, err := extractFile(f, target, entryBudget(limits, total))
		total += n
		if err != nil {
			return fmt.Errorf("failed to extract %q: %w", f.Name, err)
		}
		if limits.MaxEntry > 0 && n > limits.MaxEntry {
			return fmt.Errorf("%q: %w", f.Name, ErrEntryTooBig)
		}
		if limits.MaxTotal > 0 && total > limits.MaxTotal {
			return ErrTotalTooBig
		}
	}

	return nil
}

func safeTarget(root, name string) (string, error) {
	target := filepath.Join(root, filepath.FromSlash(name))
	if target == root || !strings.HasPrefix(target, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %q", ErrUnsafePath, name)
	}
	return target, nil
}

// entryBudget - сколько байт можно прочитать из очередной записи, -1 без лимита
func entryBudget(limits Limits, used int64) int64 {
	budget := int64(-1)
	if limits.MaxEntry > 0 {
		budget = limits.MaxEntry
	}
	if limits.MaxTotal > 0 {
		if left := limits.MaxTotal - used; budget < 0 || left < budget {
			budget = left
		}
	}
	return budget
}

// extractFile copies at most budget+1 bytes so the caller can tell an overflow apart
func extractFile(f *zip.File, target string, budget int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return 0, err
	}

	rc, err := f.Open()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	defer closeQuietly(rc)

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, err
	}

	var src io.Reader = entryReader{rc}
	if budget >= 0 {
		src = io.LimitReader(src, budget+1)
	}

	n, cpErr := io.Copy(out, src)
	if err := out.Close(); err != nil && cpErr == nil {
		cpErr = err
	}
	return n, cpErr
}

// entryReader marks read-side failures (bad deflate stream, checksum) as malformed input
type entryReader struct {
	r io.Reader
}

func (e entryReader) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	if err != nil && err != io.EOF {
		err = fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return n, err
}

// Pack puts every regular file under dir into a zip-buffer, names are relative to dir
func Pack(dir string) (*bytes.Buffer, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, ErrNotDirectory
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	zw.RegisterCompressor(zip.Deflate, func(w io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(w, flate.DefaultCompression)
	})

	walkErr := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		return addFile(zw, path, filepath.ToSlash(rel))
	})
	if walkErr != nil {
		closeQuietly(zw)
		return nil, walkErr
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return &buf, nil
}

func addFile(zw *zip.Writer, path, name string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer closeQuietly(in)

	w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate})
	if err != nil {
		return err
	}
	_, err = io.Copy(w, in)
	return err
}

func closeQuietly(c io.Closer) {
	_ = c.Close()
}
