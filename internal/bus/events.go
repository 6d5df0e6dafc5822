package bus

import "time"

// InboundMessage is one user message arriving from a channel.
type InboundMessage struct {
	Channel   string
	SenderID  string
	ChatID    string
	Content   string
	Timestamp time.Time
	// Voice holds a downloaded voice note, empty for text messages.
	Voice     []byte
	VoiceName string
	// Photo holds the largest resolution of an attached photo.
	Photo    []byte
	Metadata map[string]any
}

func (m *InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

// OutboundMessage is one reply headed back to a channel.
type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
	ReplyTo string
	// Voice, when set, is sent as a voice note instead of text.
	Voice     []byte
	VoiceName string
	Metadata  map[string]any
}
