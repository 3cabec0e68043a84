/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package admission

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// MaxSymlinks is the maximum number of symbolic links followed while canonicalizing a path.
const MaxSymlinks = 256

const maxPathLen = 4096

// Errors returned by Canonicalize.
var (
	ErrTooManySymlinks = errors.New("too many levels of symbolic links")
	ErrPathTooLong     = errors.New("path is too long")
)

// CanonicalizeFunc resolves a path to its canonical form.
type CanonicalizeFunc func(path string) (string, error)

// Canonicalize returns the absolute path with ".", ".." and symbolic links resolved.
// Every component of the path must exist.
func Canonicalize(path string) (string, error) {
	if !filepath.IsAbs(path) {
		wd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		path = filepath.Join(wd, path)
	}

	resolved := "/"
	rest := path
	links := 0
	for rest != "" {
		var comp string
		comp, rest = nextPathComponent(rest)
		switch comp {
		case "", ".":
			continue
		case "..":
			resolved = filepath.Dir(resolved)
			continue
		}

		next := filepath.Join(resolved, comp)
		if len(next) > maxPathLen {
			return "", &fs.PathError{Op: "canonicalize", Path: path, Err: ErrPathTooLong}
		}
		fi, err := os.Lstat(next)
		if err != nil {
			return "", err
		}
		if fi.Mode()&fs.ModeSymlink == 0 {
			if rest != "" && !fi.IsDir() {
				return "", &fs.PathError{Op: "canonicalize", Path: next, Err: fmt.Errorf("not a directory")}
			}
			resolved = next
			continue
		}

		links++
		if links > MaxSymlinks {
			return "", &fs.PathError{Op: "canonicalize", Path: path, Err: ErrTooManySymlinks}
		}
		target, err := os.Readlink(next)
		if err != nil {
			return "", err
		}
		if filepath.IsAbs(target) {
			resolved = "/"
		}
		if rest != "" {
			target += "/" + rest
		}
		if len(target) > maxPathLen {
			return "", &fs.PathError{Op: "canonicalize", Path: path, Err: ErrPathTooLong}
		}
		rest = target
	}
	return resolved, nil
}

func nextPathComponent(p string) (comp, rest string) {
	p = strings.TrimLeft(p, "/")
	if i := strings.IndexByte(p, '/'); i >= 0 {
		return p[:i], p[i+1:]
	}
	return p, ""
}

// MatchPath reports whether the target path is the scope path.
// A target that does not exist is compared literally, otherwise it is canonicalized first.
// An error means the scope cannot be established.
func MatchPath(scopePath, target string, canonicalize CanonicalizeFunc) (bool, error) {
	if _, err := os.Lstat(target); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return target == scopePath, nil
		}
		return false, err
	}
	resolved, err := canonicalize(target)
	if err != nil {
		return false, fmt.Errorf("canonicalize %s: %w", target, err)
	}
	return resolved == scopePath, nil
}
