// Package gateway wires the bot together: channels feed the bus, the gateway
// runs each turn through memory and the model, and replies go back out.
package gateway

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	rcron "github.com/robfig/cron/v3"

	"github.com/AgN1ke/aisus/internal/agent"
	"github.com/AgN1ke/aisus/internal/bus"
	"github.com/AgN1ke/aisus/internal/channel"
	"github.com/AgN1ke/aisus/internal/config"
	"github.com/AgN1ke/aisus/internal/llm"
	"github.com/AgN1ke/aisus/internal/media"
	"github.com/AgN1ke/aisus/internal/memory"
	"github.com/AgN1ke/aisus/internal/store"
	"github.com/AgN1ke/aisus/internal/tokens"
	"github.com/AgN1ke/aisus/internal/tools"
)

const apologyMessage = "Sorry, something went wrong on my side. Please try again."

// visionPrompt asks for a description the dialogue can build on; the caption,
// if any, travels alongside it as regular content.
const visionPrompt = "Describe this image concisely for a chat conversation: what it shows, any visible text, and anything notable."

// maintenanceSpec runs nightly at 04:00 (six-field spec, seconds first).
const maintenanceSpec = "0 0 4 * * *"

// Options carries test seams for the gateway.
type Options struct {
	// SignalChan overrides the OS signal subscription (for testing).
	SignalChan chan os.Signal
	// Channels overrides the channel manager (for testing).
	Channels ChannelRunner
	// Chat overrides the LLM-backed responder (for testing).
	Chat ChatBackend
	// Vision overrides the image describer (for testing).
	Vision VisionBackend
}

// ChannelRunner is the slice of channel.Manager the gateway drives.
type ChannelRunner interface {
	StartAll(ctx context.Context) error
	StopAll()
}

// ChatBackend produces replies from an assembled context.
type ChatBackend interface {
	Run(ctx context.Context, msgs []llm.Message) (string, error)
	RunSimple(ctx context.Context, msgs []llm.Message) (string, error)
}

// VisionBackend turns photo attachments into text, implemented by llm.Client.
type VisionBackend interface {
	DescribeImage(ctx context.Context, prompt string, image []byte) (string, error)
}

type Gateway struct {
	cfg      *config.Config
	store    *store.Store
	bus      *bus.MessageBus
	channels ChannelRunner
	mem      *memory.Manager
	chat     ChatBackend
	vision   VisionBackend
	voice    *media.VoiceProcessor
	cron     *rcron.Cron

	signalChan chan os.Signal
	cancel     context.CancelFunc
}

func New(cfg *config.Config, opts Options) (*Gateway, error) {
	st, err := store.Open(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	counter := tokens.NewCounter()
	client := llm.NewClient(cfg)
	summarizer := memory.NewSummarizer(client, counter, cfg.MemoryModel())
	mem := memory.NewManager(memory.Config{
		RecentBudget:    cfg.Memory.RecentBudget,
		LongBudget:      cfg.Memory.LongBudget,
		CompressPortion: cfg.Memory.CompressPortion,
		Model:           cfg.MemoryModel(),
	}, st, st, summarizer, counter)

	registry := tools.NewRegistry(
		tools.NewWebSearchTool(cfg.Tools.BraveAPIKey, st, time.Duration(cfg.Tools.SearchCacheTTLSec)*time.Second),
		tools.NewFetchPageTool(st, time.Duration(cfg.Tools.PageCacheTTLSec)*time.Second),
	)

	b := bus.NewMessageBus(config.DefaultBufSize)

	g := &Gateway{
		cfg:        cfg,
		store:      st,
		bus:        b,
		mem:        mem,
		voice:      media.NewVoiceProcessor(client, cfg.Voice.Enabled && cfg.Voice.ReplyWithVoice),
		cron:       rcron.New(rcron.WithSeconds()),
		signalChan: opts.SignalChan,
	}

	if opts.Chat != nil {
		g.chat = opts.Chat
	} else {
		g.chat = agent.NewRunner(client, registry, cfg.Agent.MaxToolSteps)
	}

	if opts.Vision != nil {
		g.vision = opts.Vision
	} else {
		g.vision = client
	}

	if opts.Channels != nil {
		g.channels = opts.Channels
	} else {
		channels, err := channel.NewManager(cfg, b)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		g.channels = channels
	}

	return g, nil
}

// Bus exposes the message bus (for tests and the local REPL).
func (g *Gateway) Bus() *bus.MessageBus { return g.bus }

// Memory exposes the memory manager (for the local REPL).
func (g *Gateway) Memory() *memory.Manager { return g.mem }

// Store exposes the storage tier (for the status command).
func (g *Gateway) Store() *store.Store { return g.store }

func (g *Gateway) Run(ctx context.Context) error {
	ctx, g.cancel = context.WithCancel(ctx)

	go g.bus.DispatchOutbound(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		return fmt.Errorf("start channels: %w", err)
	}

	if _, err := g.cron.AddFunc(maintenanceSpec, func() { g.runMaintenance(context.Background()) }); err != nil {
		return fmt.Errorf("schedule maintenance: %w", err)
	}
	g.cron.Start()

	sigChan := g.signalChan
	if sigChan == nil {
		sigChan = make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	}

	log.Printf("[gateway] running")

	go g.processLoop(ctx)

	select {
	case sig := <-sigChan:
		log.Printf("[gateway] received signal %v, shutting down", sig)
	case <-ctx.Done():
	}

	g.Shutdown()
	return nil
}

func (g *Gateway) Shutdown() {
	if g.cancel != nil {
		g.cancel()
	}
	if g.cron != nil {
		g.cron.Stop()
	}
	g.channels.StopAll()
	if err := g.store.Close(); err != nil {
		log.Printf("[gateway] close store: %v", err)
	}
	log.Printf("[gateway] stopped")
}

func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			g.HandleInbound(ctx, msg)
		case <-ctx.Done():
			return
		}
	}
}

// HandleInbound runs one full turn for an inbound message.
func (g *Gateway) HandleInbound(ctx context.Context, msg bus.InboundMessage) {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		log.Printf("[gateway] non-numeric chat id %q from %s, dropping", msg.ChatID, msg.Channel)
		return
	}

	content := msg.Content

	if len(msg.Voice) > 0 {
		if !g.cfg.Voice.Enabled {
			g.reply(msg, "Voice messages are disabled.", false)
			return
		}
		text, err := g.voice.ToText(ctx, msg.VoiceName, msg.Voice)
		if err != nil {
			log.Printf("[gateway] chat %d: transcribe failed: %v", chatID, err)
			g.reply(msg, "Sorry, I couldn't understand that voice message.", false)
			return
		}
		content = text
	}

	if len(msg.Photo) > 0 {
		desc, err := g.vision.DescribeImage(ctx, visionPrompt, msg.Photo)
		if err != nil {
			log.Printf("[gateway] chat %d: describe image failed: %v", chatID, err)
			g.reply(msg, "Sorry, I couldn't make out that image.", false)
			return
		}
		if strings.TrimSpace(content) == "" {
			content = "[image] " + desc
		} else {
			content = content + "\n[image] " + desc
		}
	}

	content = strings.TrimSpace(content)
	if content == "" {
		return
	}

	log.Printf("[gateway] %s/%d <- %s", msg.Channel, chatID, truncate(content, 120))

	if !g.authorize(ctx, chatID, content, msg) {
		return
	}

	if g.handleCommand(ctx, chatID, content, msg) {
		return
	}

	reply, err := g.respond(ctx, chatID, content)
	if err != nil {
		log.Printf("[gateway] chat %d: turn failed: %v", chatID, err)
		g.reply(msg, apologyMessage, false)
		return
	}

	g.reply(msg, reply, len(msg.Voice) > 0)
}

// authorize enforces the join password when one is configured. Returns true
// when the message may proceed to the model.
func (g *Gateway) authorize(ctx context.Context, chatID int64, content string, msg bus.InboundMessage) bool {
	if g.cfg.Auth.JoinPassword == "" {
		return true
	}

	settings, err := g.store.GetSettings(ctx, chatID)
	if err != nil {
		log.Printf("[gateway] chat %d: read settings: %v", chatID, err)
		g.reply(msg, apologyMessage, false)
		return false
	}
	if settings.AuthOK {
		return true
	}

	if content == g.cfg.Auth.JoinPassword {
		if err := g.store.UpsertSettings(ctx, chatID, true, settings.Mode); err != nil {
			log.Printf("[gateway] chat %d: save settings: %v", chatID, err)
			g.reply(msg, apologyMessage, false)
			return false
		}
		g.reply(msg, "Access granted. How can I help?", false)
		return false
	}

	g.reply(msg, "This bot is password protected. Send the password to continue.", false)
	return false
}

// handleCommand intercepts admin commands. Returns true when the message was
// a command and the turn is over.
func (g *Gateway) handleCommand(ctx context.Context, chatID int64, content string, msg bus.InboundMessage) bool {
	cmd := content
	if i := strings.IndexByte(cmd, ' '); i > 0 {
		cmd = cmd[:i]
	}
	if i := strings.IndexByte(cmd, '@'); i > 0 {
		cmd = cmd[:i]
	}

	switch cmd {
	case "/start":
		g.reply(msg, "Hi! Send me a message, a voice note, or /think <question> for web research.", false)
		return true
	case "/forget":
		if err := g.store.ForgetChat(ctx, chatID); err != nil {
			log.Printf("[gateway] chat %d: forget: %v", chatID, err)
			g.reply(msg, apologyMessage, false)
			return true
		}
		g.reply(msg, "Memory wiped for this chat.", false)
		return true
	case "/mem":
		g.reply(msg, g.memoryReport(ctx, chatID), false)
		return true
	case "/health":
		g.reply(msg, fmt.Sprintf("OK. Model %s, recent budget %d, long budget %d.",
			g.cfg.Agent.Model, g.cfg.Memory.RecentBudget, g.cfg.Memory.LongBudget), false)
		return true
	}
	return false
}

func (g *Gateway) memoryReport(ctx context.Context, chatID int64) string {
	recentRows, recentTokens, err := g.store.RecentStats(ctx, chatID)
	if err != nil {
		log.Printf("[gateway] chat %d: recent stats: %v", chatID, err)
		return apologyMessage
	}
	longRows, longTokens, err := g.store.LongStats(ctx, chatID)
	if err != nil {
		log.Printf("[gateway] chat %d: long stats: %v", chatID, err)
		return apologyMessage
	}
	return fmt.Sprintf("Recent: %d messages, %d tokens (budget %d).\nLong-term: %d memories, %d tokens.",
		recentRows, recentTokens, g.cfg.Memory.RecentBudget, longRows, longTokens)
}

// respond runs the core turn: record the user message, keep the recent tier
// inside budget, assemble context, and generate the reply.
func (g *Gateway) respond(ctx context.Context, chatID int64, content string) (string, error) {
	useAgent := agent.ShouldUseAgent(content)
	content = agent.StripTrigger(content)

	if err := g.mem.AppendMessage(ctx, chatID, "user", content); err != nil {
		return "", err
	}
	// Budget failures must not block the turn; the next one retries.
	if err := g.mem.EnsureBudget(ctx, chatID); err != nil {
		log.Printf("[gateway] chat %d: ensure budget: %v", chatID, err)
	}

	msgs, err := g.mem.SelectContext(ctx, chatID, content, g.cfg.Agent.SystemPrompt)
	if err != nil {
		return "", err
	}

	llmMsgs := make([]llm.Message, 0, len(msgs))
	for _, m := range msgs {
		llmMsgs = append(llmMsgs, llm.Message{Role: m.Role, Content: m.Content})
	}

	var reply string
	if useAgent {
		reply, err = g.chat.Run(ctx, llmMsgs)
	} else {
		reply, err = g.chat.RunSimple(ctx, llmMsgs)
	}
	if err != nil {
		return "", err
	}

	if err := g.mem.AppendMessage(ctx, chatID, "assistant", reply); err != nil {
		log.Printf("[gateway] chat %d: record reply: %v", chatID, err)
	}
	if err := g.mem.EnsureBudget(ctx, chatID); err != nil {
		log.Printf("[gateway] chat %d: ensure budget: %v", chatID, err)
	}

	return reply, nil
}

// reply pushes one outbound message, optionally voiced when the inbound turn
// was a voice note.
func (g *Gateway) reply(msg bus.InboundMessage, content string, wantVoice bool) {
	out := bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: content,
	}

	if wantVoice {
		audio, err := g.voice.ToVoice(context.Background(), content)
		if err != nil {
			log.Printf("[gateway] synthesize reply: %v", err)
		} else if audio != nil {
			out.Voice = audio
			out.VoiceName = "reply.ogg"
		}
	}

	g.bus.Outbound <- out
}

// runMaintenance is the nightly sweep: prune stale web caches and re-check
// every chat's recent-tier budget.
func (g *Gateway) runMaintenance(ctx context.Context) {
	maxAge := time.Duration(g.cfg.Tools.PageCacheTTLSec) * time.Second
	if err := g.store.PruneCaches(ctx, maxAge); err != nil {
		log.Printf("[maintenance] prune caches: %v", err)
	}

	chatIDs, err := g.store.ListRecentChatIDs(ctx)
	if err != nil {
		log.Printf("[maintenance] list chats: %v", err)
		return
	}
	for _, chatID := range chatIDs {
		if err := g.mem.EnsureBudget(ctx, chatID); err != nil {
			log.Printf("[maintenance] chat %d: ensure budget: %v", chatID, err)
		}
	}
	log.Printf("[maintenance] swept %d chat(s)", len(chatIDs))
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}
