// Package mtproto reads channel history and live channel posts through
// MTProto user sessions. Each connector keeps its own session file.
package mtproto

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/tg"

	"github.com/cartie/cartie/internal/ingest"
	"github.com/cartie/cartie/internal/inventory"
)

// ErrUnauthorized is returned for connectors whose session is not signed in.
var ErrUnauthorized = errors.New("mtproto session is not authorized")

// ErrDisabled is returned when no API credentials are configured.
var ErrDisabled = errors.New("mtproto is disabled")

type Config struct {
	APIID      int
	APIHash    string
	SessionDir string
}

// Client opens one MTProto connection per call, authenticated with the
// connector's stored session.
type Client struct {
	cfg    Config
	logger *slog.Logger
}

func NewClient(log *slog.Logger, cfg Config) *Client {
	if log == nil {
		log = slog.Default()
	}
	return &Client{cfg: cfg, logger: log.With(slog.String("component", "mtproto"))}
}

var safeConnectorID = regexp.MustCompile(`[^A-Za-z0-9_-]`)

// SessionPath returns the session file of a connector.
func (c *Client) SessionPath(connectorID string) string {
	return filepath.Join(c.cfg.SessionDir, safeConnectorID.ReplaceAllString(connectorID, "_")+".json")
}

func (c *Client) newTelegram(connectorID string, handler telegram.UpdateHandler) (*telegram.Client, error) {
	if c.cfg.APIID == 0 || c.cfg.APIHash == "" {
		return nil, ErrDisabled
	}
	if err := os.MkdirAll(c.cfg.SessionDir, 0o700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return telegram.NewClient(c.cfg.APIID, c.cfg.APIHash, telegram.Options{
		SessionStorage: &session.FileStorage{Path: c.SessionPath(connectorID)},
		UpdateHandler:  handler,
	}), nil
}

func requireAuth(ctx context.Context, client *telegram.Client) error {
	status, err := client.Auth().Status(ctx)
	if err != nil {
		return fmt.Errorf("auth status: %w", err)
	}
	if !status.Authorized {
		return ErrUnauthorized
	}
	return nil
}

// FetchHistory returns the last limit messages of src, newest first.
func (c *Client) FetchHistory(ctx context.Context, src inventory.ChannelSource, limit int) ([]ingest.ParsedMessage, error) {
	channelID, err := ChannelID(src.ChannelID)
	if err != nil {
		return nil, err
	}
	client, err := c.newTelegram(src.ConnectorID, nil)
	if err != nil {
		return nil, err
	}
	var out []ingest.ParsedMessage
	err = client.Run(ctx, func(ctx context.Context) error {
		if err := requireAuth(ctx, client); err != nil {
			return err
		}
		res, err := client.API().MessagesGetHistory(ctx, &tg.MessagesGetHistoryRequest{
			Peer:  &tg.InputPeerChannel{ChannelID: channelID, AccessHash: src.AccessHash},
			Limit: limit,
		})
		if err != nil {
			return fmt.Errorf("get history: %w", err)
		}
		for _, m := range historyMessages(res) {
			if msg, ok := m.(*tg.Message); ok {
				out = append(out, Parse(msg))
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("connector %s: %w", src.ConnectorID, err)
	}
	return out, nil
}

// Listen streams new channel posts seen by the connector until ctx ends.
func (c *Client) Listen(ctx context.Context, connector inventory.Connector, fn func(context.Context, ingest.ParsedMessage)) error {
	dispatcher := tg.NewUpdateDispatcher()
	dispatcher.OnNewChannelMessage(func(ctx context.Context, _ tg.Entities, u *tg.UpdateNewChannelMessage) error {
		if msg, ok := u.Message.(*tg.Message); ok {
			fn(ctx, Parse(msg))
		}
		return nil
	})
	client, err := c.newTelegram(connector.ID, dispatcher)
	if err != nil {
		return err
	}
	return client.Run(ctx, func(ctx context.Context) error {
		if err := requireAuth(ctx, client); err != nil {
			return err
		}
		c.logger.Info("live sync connected", slog.String("connector_id", connector.ID))
		<-ctx.Done()
		return ctx.Err()
	})
}

func historyMessages(res tg.MessagesMessagesClass) []tg.MessageClass {
	switch v := res.(type) {
	case *tg.MessagesMessages:
		return v.Messages
	case *tg.MessagesMessagesSlice:
		return v.Messages
	case *tg.MessagesChannelMessages:
		return v.Messages
	}
	return nil
}
