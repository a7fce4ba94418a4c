// Package localfs implements media.StorageProvider on a local directory.
// A key "<bot_id>/<subpath>" is written to <root>/<bot_id>/<subpath> and
// served under /media/<bot_id>/<subpath>.
package localfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/cartie/cartie/internal/media"
)

// URLPrefix is the HTTP path the media directory is served under.
const URLPrefix = "/media"

// Provider stores media files below a root directory.
type Provider struct {
	root string
}

// New creates a provider rooted at dir, creating it when missing.
func New(dir string) (*Provider, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve media dir: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create media dir: %w", err)
	}
	return &Provider{root: abs}, nil
}

// Root returns the absolute media directory.
func (p *Provider) Root() string {
	return p.root
}

func (p *Provider) Put(_ context.Context, key string, reader io.Reader) error {
	dest, err := p.hostPath(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}
	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(f, reader); err != nil {
		return fmt.Errorf("write file: %w", err)
	}
	return nil
}

func (p *Provider) Exists(_ context.Context, key string) (bool, error) {
	dest, err := p.hostPath(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(dest); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (p *Provider) Open(_ context.Context, key string) (io.ReadCloser, error) {
	dest, err := p.hostPath(key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(dest)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	return f, nil
}

// AccessPath returns the URL path of key.
func (p *Provider) AccessPath(key string) string {
	return path.Join(URLPrefix, filepath.ToSlash(filepath.Clean(key)))
}

// hostPath converts a key into a file path below root.
func (p *Provider) hostPath(key string) (string, error) {
	clean := filepath.Clean(key)
	if filepath.IsAbs(clean) {
		return "", fmt.Errorf("%w: absolute key %s", media.ErrPathTraversal, key)
	}
	if strings.HasPrefix(clean, ".."+string(filepath.Separator)) || clean == ".." {
		return "", fmt.Errorf("%w: %s", media.ErrPathTraversal, key)
	}
	botID, subPath := splitKey(clean)
	if strings.TrimSpace(botID) == "" || strings.TrimSpace(subPath) == "" {
		return "", fmt.Errorf("invalid storage key: %s", key)
	}
	joined := filepath.Join(p.root, botID, subPath)
	if !strings.HasPrefix(joined, p.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", media.ErrPathTraversal, key)
	}
	return joined, nil
}

func splitKey(key string) (botID, subPath string) {
	idx := strings.IndexByte(key, filepath.Separator)
	if idx <= 0 {
		return "", key
	}
	return key[:idx], key[idx+1:]
}
