// Package photo stores review photos. Sources are either remote URLs, which
// are fetched, or local device paths, which are read directly.
package photo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zarlcorp/core/pkg/zfilesystem"
)

// maxPhotoSize bounds a single upload.
const maxPhotoSize = 20 << 20

// ErrTooLarge is returned for photos over the size limit.
var ErrTooLarge = errors.New("photo too large")

// Store writes photos to a filesystem and hands out URLs under baseURL.
type Store struct {
	fs      zfilesystem.ReadWriteFileFS
	baseURL string
	http    *http.Client
}

// Option configures a Store.
type Option func(*Store)

// WithHTTPClient replaces the client used to fetch remote photos.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Store) { s.http = c }
}

// New creates a Store writing to fsys. Returned URLs are baseURL joined with
// the stored path.
func New(fsys zfilesystem.ReadWriteFileFS, baseURL string, opts ...Option) *Store {
	s := &Store{
		fs:      fsys,
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Upload copies the photo at src into folder and returns its URL.
func (s *Store) Upload(ctx context.Context, src, folder string) (string, error) {
	if err := validFolder(folder); err != nil {
		return "", fmt.Errorf("upload %s: %w", src, err)
	}

	data, ext, err := s.load(ctx, src)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", src, err)
	}

	name := uuid.NewString() + ext
	if err := s.fs.MkdirAll(folder, 0o700); err != nil {
		return "", fmt.Errorf("upload %s: create folder: %w", src, err)
	}
	if err := s.fs.WriteFile(folder+"/"+name, data, 0o600); err != nil {
		return "", fmt.Errorf("upload %s: write: %w", src, err)
	}

	return s.baseURL + "/" + folder + "/" + name, nil
}

func (s *Store) load(ctx context.Context, src string) ([]byte, string, error) {
	u, err := url.Parse(src)
	if err == nil {
		switch u.Scheme {
		case "http", "https":
			data, err := s.fetch(ctx, src)
			return data, extension(u.Path), err
		case "file":
			return s.readLocal(u.Path)
		}
	}
	return s.readLocal(src)
}

func (s *Store) readLocal(p string) ([]byte, string, error) {
	if p == "" {
		return nil, "", errors.New("empty photo path")
	}

	f, err := os.Open(filepath.Clean(p))
	if err != nil {
		return nil, "", fmt.Errorf("read local photo: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, "", fmt.Errorf("read local photo: %w", err)
	}
	if !info.Mode().IsRegular() {
		return nil, "", fmt.Errorf("read local photo: %s is not a regular file", p)
	}
	if info.Size() > maxPhotoSize {
		return nil, "", ErrTooLarge
	}

	// the file may grow between stat and read
	data, err := io.ReadAll(io.LimitReader(f, maxPhotoSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("read local photo: %w", err)
	}
	if len(data) > maxPhotoSize {
		return nil, "", ErrTooLarge
	}
	return data, extension(p), nil
}

func (s *Store) fetch(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch photo: status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPhotoSize+1))
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if len(data) > maxPhotoSize {
		return nil, ErrTooLarge
	}
	return data, nil
}

func extension(p string) string {
	ext := strings.ToLower(path.Ext(p))
	if ext == "" || len(ext) > 5 {
		return ".jpg"
	}
	return ext
}

func validFolder(folder string) error {
	if folder == "" {
		return errors.New("folder is required")
	}
	for _, part := range strings.Split(folder, "/") {
		if part == "" || part == "." || part == ".." {
			return fmt.Errorf("invalid folder %q", folder)
		}
	}
	return nil
}
