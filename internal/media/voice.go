// Package media adapts audio attachments to and from text.
package media

import (
	"context"
	"fmt"
	"strings"
)

// TTS inputs are capped; longer replies fall back to text.
const maxSpeakChars = 4096

// Speech is the transcription/synthesis surface, implemented by llm.Client.
type Speech interface {
	Transcribe(ctx context.Context, filename string, data []byte) (string, error)
	Speak(ctx context.Context, text string) ([]byte, error)
}

// VoiceProcessor turns inbound voice notes into text and, when configured,
// renders replies back to speech. Audio bytes pass through untouched.
type VoiceProcessor struct {
	speech         Speech
	replyWithVoice bool
}

func NewVoiceProcessor(speech Speech, replyWithVoice bool) *VoiceProcessor {
	return &VoiceProcessor{speech: speech, replyWithVoice: replyWithVoice}
}

// ToText transcribes one voice note.
func (v *VoiceProcessor) ToText(ctx context.Context, filename string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty voice payload")
	}
	text, err := v.speech.Transcribe(ctx, filename, data)
	if err != nil {
		return "", fmt.Errorf("transcribe voice: %w", err)
	}
	return text, nil
}

// ToVoice renders a reply as audio, or returns nil when the reply should stay
// text (disabled, empty, or too long to synthesize).
func (v *VoiceProcessor) ToVoice(ctx context.Context, text string) ([]byte, error) {
	if !v.replyWithVoice {
		return nil, nil
	}
	text = strings.TrimSpace(text)
	if text == "" || len(text) > maxSpeakChars {
		return nil, nil
	}
	audio, err := v.speech.Speak(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("synthesize voice: %w", err)
	}
	return audio, nil
}
