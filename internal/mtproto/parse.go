package mtproto

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gotd/td/tg"

	"github.com/cartie/cartie/internal/ingest"
)

const channelPrefix = "-100"

// ChannelID parses a stored channel id, with or without the -100 prefix
// the Bot API adds.
func ChannelID(raw string) (int64, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(raw), channelPrefix)
	id, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid channel id %q", raw)
	}
	return id, nil
}

// BotChatID formats a channel id the way the Bot API reports it.
func BotChatID(channelID int64) string {
	return channelPrefix + strconv.FormatInt(channelID, 10)
}

// Parse converts an MTProto message.
func Parse(msg *tg.Message) ingest.ParsedMessage {
	out := ingest.ParsedMessage{
		MessageID: int64(msg.ID),
		Text:      msg.Message,
		Date:      time.Unix(int64(msg.Date), 0).UTC(),
	}
	if peer, ok := msg.PeerID.(*tg.PeerChannel); ok {
		out.ChatID = BotChatID(peer.ChannelID)
	}
	if group, ok := msg.GetGroupedID(); ok {
		out.MediaGroupKey = strconv.FormatInt(group, 10)
	}
	return out
}
