package rag

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// BlobStore holds uploaded document bytes by reference.
type BlobStore interface {
	Download(ctx context.Context, ref string) ([]byte, error)
	Upload(ctx context.Context, ref string, data []byte, contentType string) error
	Remove(ctx context.Context, ref string) error
	PublicURL(ref string) string
}

// FSBlobStore keeps blobs as files under root.
type FSBlobStore struct {
	root    string
	baseURL string
}

func NewFSBlobStore(root, publicBaseURL string) (*FSBlobStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &FSBlobStore{root: root, baseURL: strings.TrimRight(publicBaseURL, "/")}, nil
}

// resolve maps ref to a path inside root, rejecting traversal.
func (s *FSBlobStore) resolve(ref string) (string, error) {
	clean := path.Clean("/" + strings.ReplaceAll(ref, "\\", "/"))
	if clean == "/" {
		return "", fmt.Errorf("invalid blob ref %q", ref)
	}
	return filepath.Join(s.root, filepath.FromSlash(clean[1:])), nil
}

func (s *FSBlobStore) Download(ctx context.Context, ref string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := s.resolve(ref)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("download %s: %w", ref, ErrDocumentNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", ref, err)
	}
	return data, nil
}

func (s *FSBlobStore) Upload(ctx context.Context, ref string, data []byte, _ string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.resolve(ref)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		return fmt.Errorf("upload %s: %w", ref, err)
	}
	if err := os.WriteFile(p, data, 0644); err != nil {
		return fmt.Errorf("upload %s: %w", ref, err)
	}
	return nil
}

func (s *FSBlobStore) Remove(ctx context.Context, ref string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p, err := s.resolve(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", ref, err)
	}
	return nil
}

func (s *FSBlobStore) PublicURL(ref string) string {
	if s.baseURL == "" {
		return ""
	}
	parts := strings.Split(strings.TrimLeft(ref, "/"), "/")
	for i, part := range parts {
		parts[i] = url.PathEscape(part)
	}
	return s.baseURL + "/" + strings.Join(parts, "/")
}
