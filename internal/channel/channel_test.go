package channel

import (
	"strings"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/AgN1ke/aisus/internal/bus"
	"github.com/AgN1ke/aisus/internal/config"
)

type mockBot struct {
	sent    []tgbotapi.Chattable
	sendErr map[int]error // per-call error by index
	self    tgbotapi.User
}

func (m *mockBot) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return make(chan tgbotapi.Update)
}

func (m *mockBot) StopReceivingUpdates() {}

func (m *mockBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	idx := len(m.sent)
	m.sent = append(m.sent, c)
	if err := m.sendErr[idx]; err != nil {
		return tgbotapi.Message{}, err
	}
	return tgbotapi.Message{}, nil
}

func (m *mockBot) GetSelf() tgbotapi.User { return m.self }

func (m *mockBot) GetFile(config tgbotapi.FileConfig) (tgbotapi.File, error) {
	return tgbotapi.File{FileID: config.FileID}, nil
}

func TestBaseChannelIsAllowed(t *testing.T) {
	b := bus.NewMessageBus(1)

	open := NewBaseChannel("test", b, nil)
	if !open.IsAllowed("anyone") {
		t.Error("empty allowlist should admit everyone")
	}

	gated := NewBaseChannel("test", b, []string{"123", "456"})
	if !gated.IsAllowed("123") {
		t.Error("listed sender should be allowed")
	}
	if gated.IsAllowed("789") {
		t.Error("unlisted sender should be rejected")
	}
}

func TestNewTelegramChannelRequiresToken(t *testing.T) {
	b := bus.NewMessageBus(1)
	if _, err := NewTelegramChannel(config.TelegramConfig{}, b); err == nil {
		t.Fatal("expected error for missing token")
	}

	ch, err := NewTelegramChannel(config.TelegramConfig{Token: "123:abc"}, b)
	if err != nil {
		t.Fatalf("NewTelegramChannel error: %v", err)
	}
	if ch.Name() != "telegram" {
		t.Errorf("name = %q", ch.Name())
	}
}

func TestTelegramSendChunksLongMessages(t *testing.T) {
	b := bus.NewMessageBus(1)
	ch, err := NewTelegramChannel(config.TelegramConfig{Token: "123:abc"}, b)
	if err != nil {
		t.Fatalf("NewTelegramChannel error: %v", err)
	}
	bot := &mockBot{}
	ch.SetBot(bot)

	long := strings.Repeat("line of text\n", 500) // ~6500 chars
	if err := ch.Send(bus.OutboundMessage{ChatID: "42", Content: long}); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if len(bot.sent) < 2 {
		t.Fatalf("sent %d messages, want chunked into at least 2", len(bot.sent))
	}
	for i, c := range bot.sent {
		m, ok := c.(tgbotapi.MessageConfig)
		if !ok {
			t.Fatalf("sent[%d] is %T, want MessageConfig", i, c)
		}
		if len(m.Text) > 4000 {
			t.Errorf("chunk %d is %d chars, over limit", i, len(m.Text))
		}
	}
}

func TestTelegramSendRetriesWithoutHTML(t *testing.T) {
	b := bus.NewMessageBus(1)
	ch, err := NewTelegramChannel(config.TelegramConfig{Token: "123:abc"}, b)
	if err != nil {
		t.Fatalf("NewTelegramChannel error: %v", err)
	}
	bot := &mockBot{sendErr: map[int]error{0: tgbotapi.Error{Message: "can't parse entities"}}}
	ch.SetBot(bot)

	if err := ch.Send(bus.OutboundMessage{ChatID: "42", Content: "hello **world**"}); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if len(bot.sent) != 2 {
		t.Fatalf("sent %d messages, want 2 (HTML then plain retry)", len(bot.sent))
	}
	retry := bot.sent[1].(tgbotapi.MessageConfig)
	if retry.ParseMode != "" {
		t.Errorf("retry parse mode = %q, want plain", retry.ParseMode)
	}
	if retry.Text != "hello **world**" {
		t.Errorf("retry text = %q, want original content", retry.Text)
	}
}

func TestTelegramSendVoice(t *testing.T) {
	b := bus.NewMessageBus(1)
	ch, err := NewTelegramChannel(config.TelegramConfig{Token: "123:abc"}, b)
	if err != nil {
		t.Fatalf("NewTelegramChannel error: %v", err)
	}
	bot := &mockBot{}
	ch.SetBot(bot)

	msg := bus.OutboundMessage{ChatID: "42", Voice: []byte("opus-bytes"), VoiceName: "reply.ogg"}
	if err := ch.Send(msg); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if len(bot.sent) != 1 {
		t.Fatalf("sent %d messages, want 1", len(bot.sent))
	}
	if _, ok := bot.sent[0].(tgbotapi.VoiceConfig); !ok {
		t.Errorf("sent[0] is %T, want VoiceConfig", bot.sent[0])
	}
}

func TestTelegramSendRejectsBadChatID(t *testing.T) {
	b := bus.NewMessageBus(1)
	ch, _ := NewTelegramChannel(config.TelegramConfig{Token: "123:abc"}, b)
	ch.SetBot(&mockBot{})

	if err := ch.Send(bus.OutboundMessage{ChatID: "not-a-number", Content: "hi"}); err == nil {
		t.Fatal("expected error for non-numeric chat id")
	}
}

func TestToTelegramHTML(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"a < b & c", "a &lt; b &amp; c"},
		{"use `go vet` here", "use <code>go vet</code> here"},
		{"**bold** text", "<b>bold</b> text"},
		{"```go\nfmt.Println()\n```", "<pre>fmt.Println()\n</pre>"},
	}
	for _, tt := range tests {
		if got := toTelegramHTML(tt.in); got != tt.want {
			t.Errorf("toTelegramHTML(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestManagerRequiresEnabledChannel(t *testing.T) {
	cfg := config.DefaultConfig()
	b := bus.NewMessageBus(1)
	if _, err := NewManager(cfg, b); err == nil {
		t.Fatal("expected error when no channels are enabled")
	}

	cfg.Channels.Telegram.Enabled = true
	cfg.Channels.Telegram.Token = "123:abc"
	m, err := NewManager(cfg, b)
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	names := m.EnabledChannels()
	if len(names) != 1 || names[0] != "telegram" {
		t.Errorf("enabled channels = %v", names)
	}
}
