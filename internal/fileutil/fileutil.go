// Package fileutil holds the atomic file writes shared by photo staging and
// the session store.
package fileutil

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// WriteAtomic writes data to a temp file beside dst and renames it into
// place, so readers never see a partial file.
func WriteAtomic(dst string, data []byte, mode os.FileMode) error {
	return replace(dst, mode, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// CopyVerified copies src to dst atomically and checks the copy against the
// source size and SHA-256. dst is untouched on mismatch.
func CopyVerified(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat source: %w", err)
	}

	srcHash := sha256.New()
	dstHash := sha256.New()
	var written int64
	err = replace(dst, mode, func(w io.Writer) error {
		written, err = io.Copy(io.MultiWriter(w, dstHash), io.TeeReader(in, srcHash))
		if err != nil {
			return err
		}
		if written != info.Size() {
			return fmt.Errorf("copy size mismatch: source %d bytes, copied %d bytes", info.Size(), written)
		}
		if !bytes.Equal(srcHash.Sum(nil), dstHash.Sum(nil)) {
			return fmt.Errorf("copy hash mismatch")
		}
		return nil
	})
	return err
}

func replace(dst string, mode os.FileMode, fill func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(dst), "."+filepath.Base(dst)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := fill(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}
