package media

import "errors"

var (
	// ErrProviderUnavailable indicates no storage provider is configured.
	ErrProviderUnavailable = errors.New("media storage unavailable")
	// ErrAssetTooLarge indicates the payload exceeds the configured max asset size.
	ErrAssetTooLarge = errors.New("media asset too large")
	// ErrPathTraversal indicates a storage key attempted directory traversal.
	ErrPathTraversal = errors.New("path traversal is forbidden")
)
