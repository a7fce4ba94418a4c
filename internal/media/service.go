package media

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"
)

// MaxPhotoBytes matches the Bot API getFile download ceiling.
const MaxPhotoBytes int64 = 20 * 1024 * 1024

// Service downloads remote media into a storage provider. Files are keyed by
// content hash, so fetching the same photo twice stores it once.
type Service struct {
	provider StorageProvider
	client   *http.Client
	maxBytes int64
	logger   *slog.Logger
}

// NewService creates a media service. client may be nil.
func NewService(log *slog.Logger, provider StorageProvider, client *http.Client) *Service {
	if log == nil {
		log = slog.Default()
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Service{
		provider: provider,
		client:   client,
		maxBytes: MaxPhotoBytes,
		logger:   log.With(slog.String("service", "media")),
	}
}

// Fetch downloads url and stores it for botID.
func (s *Service) Fetch(ctx context.Context, botID, fileURL string) (Asset, error) {
	if s == nil || s.provider == nil {
		return Asset{}, ErrProviderUnavailable
	}
	if strings.TrimSpace(botID) == "" {
		return Asset{}, fmt.Errorf("bot id is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return Asset{}, fmt.Errorf("build request: %w", withoutURL(err))
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return Asset{}, fmt.Errorf("download media: %w", withoutURL(err))
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return Asset{}, fmt.Errorf("download media: unexpected status %d", resp.StatusCode)
	}
	mime := strings.TrimSpace(strings.Split(resp.Header.Get("Content-Type"), ";")[0])
	if mime == "" || mime == "application/octet-stream" {
		mime = mimeFromPath(fileURL)
	}
	return s.Store(ctx, botID, mime, resp.Body)
}

// Store persists reader for botID.
func (s *Service) Store(ctx context.Context, botID, mime string, reader io.Reader) (Asset, error) {
	if s == nil || s.provider == nil {
		return Asset{}, ErrProviderUnavailable
	}
	contentHash, sizeBytes, tempPath, err := spoolAndHashWithLimit(reader, s.maxBytes)
	if err != nil {
		return Asset{}, fmt.Errorf("read input: %w", err)
	}
	defer func() {
		_ = os.Remove(tempPath)
	}()

	storageKey := path.Join(botID, "image", contentHash[:4], contentHash+extensionFromMime(mime))
	asset := Asset{
		BotID:       botID,
		ContentHash: contentHash,
		Mime:        mime,
		SizeBytes:   sizeBytes,
		StorageKey:  storageKey,
		Path:        s.provider.AccessPath(storageKey),
	}
	exists, err := s.provider.Exists(ctx, storageKey)
	if err != nil {
		return Asset{}, fmt.Errorf("check existing asset: %w", err)
	}
	if exists {
		return asset, nil
	}

	tempFile, err := os.Open(tempPath)
	if err != nil {
		return Asset{}, fmt.Errorf("open temp file: %w", err)
	}
	defer func() {
		_ = tempFile.Close()
	}()
	if err := s.provider.Put(ctx, storageKey, tempFile); err != nil {
		return Asset{}, fmt.Errorf("store media: %w", err)
	}
	s.logger.Debug("media stored", slog.String("bot_id", botID), slog.String("key", storageKey), slog.Int64("size", sizeBytes))
	return asset, nil
}

// withoutURL drops the request URL from transport errors. Bot API file URLs
// carry the bot token.
func withoutURL(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%s: %w", urlErr.Op, urlErr.Err)
	}
	return err
}

func extensionFromMime(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "image/png":
		return ".png"
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "video/mp4":
		return ".mp4"
	default:
		return ".bin"
	}
}

func mimeFromPath(p string) string {
	switch strings.ToLower(path.Ext(p)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	case ".mp4":
		return "video/mp4"
	default:
		return "application/octet-stream"
	}
}

func spoolAndHashWithLimit(reader io.Reader, maxBytes int64) (string, int64, string, error) {
	if reader == nil {
		return "", 0, "", fmt.Errorf("reader is required")
	}
	if maxBytes <= 0 {
		return "", 0, "", fmt.Errorf("max bytes must be greater than 0")
	}
	tempFile, err := os.CreateTemp("", "cartie-media-*")
	if err != nil {
		return "", 0, "", fmt.Errorf("create temp file: %w", err)
	}
	tempPath := tempFile.Name()
	keepFile := false
	defer func() {
		_ = tempFile.Close()
		if !keepFile {
			_ = os.Remove(tempPath)
		}
	}()

	hasher := sha256.New()
	limited := &io.LimitedReader{R: reader, N: maxBytes + 1}
	written, err := io.Copy(io.MultiWriter(tempFile, hasher), limited)
	if err != nil {
		return "", 0, "", fmt.Errorf("copy to temp file: %w", err)
	}
	if written > maxBytes {
		return "", 0, "", fmt.Errorf("%w: max %d bytes", ErrAssetTooLarge, maxBytes)
	}
	if written == 0 {
		return "", 0, "", fmt.Errorf("asset payload is empty")
	}
	keepFile = true
	return hex.EncodeToString(hasher.Sum(nil)), written, tempPath, nil
}
