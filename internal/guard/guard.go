// Package guard provides the idempotency predicates and atomic file edits the
// bootstrap steps use to detect already-converged state.
package guard

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
)

// Fingerprint returns the SHA-256 of the file at path. ok is false when the file is
// missing or unreadable; a missing file never produces an error.
func Fingerprint(path string) (sum string, ok bool) {
	f, err := os.Open(path)
	if err != nil {
		return "", false
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", false
	}
	return hex.EncodeToString(h.Sum(nil)), true
}

// SameContent reports whether both files exist and fingerprint equally.
func SameContent(a, b string) bool {
	sa, okA := Fingerprint(a)
	sb, okB := Fingerprint(b)
	return okA && okB && sa == sb
}

// ReplaceLine copies src to dst line by line, writing replacement instead of every
// line that match finds. dst is created or truncated and src is never touched.
// The caller decides whether to Promote or Discard dst based on the result.
func ReplaceLine(src, dst string, match *regexp.Regexp, replacement string) (bool, error) {
	in, err := os.Open(src)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return false, fmt.Errorf("open %s: %w", dst, err)
	}

	replaced := false
	reader := bufio.NewReader(in)
	writer := bufio.NewWriter(out)
	for {
		line, readErr := reader.ReadString('\n')
		if len(line) > 0 {
			body, eol := splitEOL(line)
			if match.MatchString(body) {
				line = replacement + eol
				replaced = true
			}
			if _, err := writer.WriteString(line); err != nil {
				out.Close()
				return false, fmt.Errorf("write %s: %w", dst, err)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			out.Close()
			return false, fmt.Errorf("read %s: %w", src, readErr)
		}
	}
	if err := writer.Flush(); err != nil {
		out.Close()
		return false, fmt.Errorf("flush %s: %w", dst, err)
	}
	if err := out.Close(); err != nil {
		return false, fmt.Errorf("close %s: %w", dst, err)
	}
	return replaced, nil
}

// ReplaceInPlace applies ReplaceLine to path through a temporary sibling file and
// promotes it only when a line matched and the resulting bytes differ.
func ReplaceInPlace(path string, match *regexp.Regexp, replacement string) (bool, error) {
	tmp, err := TempSibling(path)
	if err != nil {
		return false, err
	}
	replaced, err := ReplaceLine(path, tmp, match, replacement)
	if err != nil {
		_ = Discard(tmp)
		return false, err
	}
	if !replaced || SameContent(path, tmp) {
		return false, Discard(tmp)
	}
	if err := Promote(tmp, path); err != nil {
		_ = Discard(tmp)
		return false, err
	}
	return true, nil
}

// TempSibling creates an empty temporary file next to path so that a later rename
// stays on the same filesystem.
func TempSibling(path string) (string, error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return "", fmt.Errorf("create temp for %s: %w", path, err)
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		_ = os.Remove(name)
		return "", fmt.Errorf("close temp for %s: %w", path, err)
	}
	return name, nil
}

// Promote atomically renames tmp over target, keeping target's permission bits
// when target already exists.
func Promote(tmp, target string) error {
	return install(tmp, target, 0o644)
}

func install(tmp, target string, fallback fs.FileMode) error {
	mode := fallback
	if info, err := os.Stat(target); err == nil {
		mode = info.Mode().Perm()
	}
	if err := os.Chmod(tmp, mode); err != nil {
		return fmt.Errorf("chmod %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, target); err != nil {
		return fmt.Errorf("promote %s: %w", target, err)
	}
	return nil
}

// Discard removes tmp; an already-absent file is not an error.
func Discard(tmp string) error {
	if err := os.Remove(tmp); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("discard %s: %w", tmp, err)
	}
	return nil
}

// WriteIfChanged atomically replaces path with data unless it already holds exactly
// those bytes. It reports whether the file was written. mode applies to new files.
func WriteIfChanged(path string, data []byte, mode fs.FileMode) (bool, error) {
	current, err := os.ReadFile(path)
	if err == nil && bytes.Equal(current, data) {
		return false, nil
	}
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return false, fmt.Errorf("read %s: %w", path, err)
	}
	tmp, err := TempSibling(path)
	if err != nil {
		return false, err
	}
	if err := os.WriteFile(tmp, data, mode); err != nil {
		_ = Discard(tmp)
		return false, fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := install(tmp, path, mode); err != nil {
		_ = Discard(tmp)
		return false, err
	}
	return true, nil
}

// CopyFile atomically copies src over dst with the given mode.
func CopyFile(src, dst string, mode fs.FileMode) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("read %s: %w", src, err)
	}
	tmp, err := TempSibling(dst)
	if err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, mode); err != nil {
		_ = Discard(tmp)
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Chmod(tmp, mode); err != nil {
		_ = Discard(tmp)
		return fmt.Errorf("chmod %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		_ = Discard(tmp)
		return fmt.Errorf("install %s: %w", dst, err)
	}
	return nil
}

// IsFile reports whether path exists and is a regular file.
func IsFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// IsDir reports whether path exists and is a directory.
func IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// RemoveAll deletes path recursively. Removing an absent path is a no-op.
func RemoveAll(path string) error {
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

func splitEOL(line string) (body, eol string) {
	if n := len(line); n > 0 && line[n-1] == '\n' {
		if n > 1 && line[n-2] == '\r' {
			return line[:n-2], "\r\n"
		}
		return line[:n-1], "\n"
	}
	return line, ""
}
