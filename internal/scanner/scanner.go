// Package scanner walks tenant directories under the documents root and
// streams file metadata, including content hashes, to the change detector.
package scanner

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"

	"github.com/AITrekker/RAG-sub000/internal/models"
	"github.com/AITrekker/RAG-sub000/internal/observability"
)

// FileInfo describes one regular file found in a tenant's corpus. Path is
// relative to the tenant directory and always forward-slash separated.
type FileInfo struct {
	Path        string
	AbsPath     string
	Name        string
	SizeBytes   int64
	ModTime     time.Time
	MimeType    string
	ContentHash string
}

// Result is one streamed scan outcome: a file or a per-path error. Per-path
// errors do not stop the scan; the sync counts them and moves on. A Fatal
// result means the walk itself broke at the root: the stream is incomplete
// and must not be interpreted as the corpus state.
type Result struct {
	File  *FileInfo
	Err   error
	Fatal bool
}

// mimeByExtension covers the formats the extractor special-cases. Anything
// else is sniffed from content.
var mimeByExtension = map[string]string{
	".txt":      "text/plain",
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".pdf":      "application/pdf",
	".docx":     "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
}

// Scanner streams tenant corpora from the shared documents root.
type Scanner struct {
	root   string
	logger observability.Logger
}

func New(root string, logger observability.Logger) *Scanner {
	return &Scanner{root: root, logger: logger.WithPrefix("scanner")}
}

// TenantDir resolves a tenant's corpus directory, rejecting slugs that could
// escape the documents root.
func (s *Scanner) TenantDir(slug string) (string, error) {
	if slug == "" || slug != filepath.Base(slug) || strings.Contains(slug, "..") {
		return "", fmt.Errorf("invalid tenant slug: %q", slug)
	}
	return filepath.Join(s.root, slug), nil
}

// ScanTenant walks the tenant's directory and streams regular files in
// lexicographic order. A missing directory is an empty corpus, not an error.
// Directories, dotfiles, and non-regular entries (symlinks, devices) are
// skipped. The returned channel closes when the walk finishes or ctx is
// cancelled.
func (s *Scanner) ScanTenant(ctx context.Context, slug string) (<-chan Result, error) {
	dir, err := s.TenantDir(slug)
	if err != nil {
		return nil, err
	}

	results := make(chan Result, 16)

	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		// A dangling symlink is an unusable root (likely an unmounted
		// volume), not an empty corpus.
		if _, lerr := os.Lstat(dir); lerr == nil {
			return nil, &models.ScannerError{Path: dir, Err: fmt.Errorf("broken symlink")}
		}
		s.logger.Debug("tenant directory missing, empty scan", map[string]interface{}{"tenant": slug})
		close(results)
		return results, nil
	}
	if err != nil {
		return nil, &models.ScannerError{Path: dir, Err: err}
	}
	if !info.IsDir() {
		return nil, &models.ScannerError{Path: dir, Err: fmt.Errorf("not a directory")}
	}

	go func() {
		defer close(results)
		s.walk(ctx, dir, results)
	}()

	return results, nil
}

func (s *Scanner) walk(ctx context.Context, dir string, results chan<- Result) {
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			if path == dir {
				return err
			}
			s.emit(ctx, results, Result{Err: &models.ScannerError{Path: path, Err: err}})
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}

		name := d.Name()
		if d.IsDir() {
			if path != dir && strings.HasPrefix(name, ".") {
				return fs.SkipDir
			}
			return nil
		}
		if strings.HasPrefix(name, ".") || !d.Type().IsRegular() {
			return nil
		}

		fi, err := s.describe(dir, path, d)
		if err != nil {
			s.emit(ctx, results, Result{Err: &models.ScannerError{Path: path, Err: err}})
			return nil
		}
		s.emit(ctx, results, Result{File: fi})
		return nil
	})

	// WalkDir only returns an error when the root itself failed; per-path
	// errors were already handled in the callback.
	if err != nil && err != context.Canceled && ctx.Err() == nil {
		s.emit(ctx, results, Result{Err: &models.ScannerError{Path: dir, Err: err}, Fatal: true})
	}
}

// RootMissing reports whether the tenant's corpus directory is absent
// entirely, as opposed to present but empty.
func (s *Scanner) RootMissing(slug string) (bool, error) {
	dir, err := s.TenantDir(slug)
	if err != nil {
		return false, err
	}
	if _, err := os.Lstat(dir); err != nil {
		if os.IsNotExist(err) {
			return true, nil
		}
		return false, &models.ScannerError{Path: dir, Err: err}
	}
	return false, nil
}

func (s *Scanner) emit(ctx context.Context, results chan<- Result, r Result) {
	select {
	case results <- r:
	case <-ctx.Done():
	}
}

func (s *Scanner) describe(dir, path string, d fs.DirEntry) (*FileInfo, error) {
	info, err := d.Info()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return nil, fmt.Errorf("failed to relativize path: %w", err)
	}

	hash, err := hashFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to hash file: %w", err)
	}

	return &FileInfo{
		Path:        filepath.ToSlash(rel),
		AbsPath:     path,
		Name:        d.Name(),
		SizeBytes:   info.Size(),
		ModTime:     info.ModTime().UTC(),
		MimeType:    detectMime(path),
		ContentHash: hash,
	}, nil
}

// hashFile streams the file through SHA-256 so large documents never load
// into memory whole.
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() { _ = f.Close() }()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func detectMime(path string) string {
	if mt, ok := mimeByExtension[strings.ToLower(filepath.Ext(path))]; ok {
		return mt
	}
	if mt, err := mimetype.DetectFile(path); err == nil {
		return mt.String()
	}
	return "application/octet-stream"
}
