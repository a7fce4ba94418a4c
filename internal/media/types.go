package media

import (
	"context"
	"io"
)

// Asset is a stored media file.
type Asset struct {
	BotID       string
	ContentHash string
	Mime        string
	SizeBytes   int64
	StorageKey  string
	// Path is the public reference returned by the provider.
	Path string
}

// StorageProvider abstracts object storage operations.
type StorageProvider interface {
	// Put writes data to storage under the given key.
	Put(ctx context.Context, key string, reader io.Reader) error
	// Exists reports whether key is already stored.
	Exists(ctx context.Context, key string) (bool, error)
	// Open returns a reader for the given storage key.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	// AccessPath returns a consumer-accessible reference for a storage key.
	AccessPath(key string) string
}
