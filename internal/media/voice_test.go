package media

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type mockSpeech struct {
	transcribeFn func(filename string, data []byte) (string, error)
	speakFn      func(text string) ([]byte, error)
}

func (m *mockSpeech) Transcribe(ctx context.Context, filename string, data []byte) (string, error) {
	return m.transcribeFn(filename, data)
}

func (m *mockSpeech) Speak(ctx context.Context, text string) ([]byte, error) {
	return m.speakFn(text)
}

func TestToText(t *testing.T) {
	sp := &mockSpeech{transcribeFn: func(filename string, data []byte) (string, error) {
		if filename != "voice.ogg" {
			t.Errorf("filename = %q", filename)
		}
		return "hello world", nil
	}}
	v := NewVoiceProcessor(sp, true)

	text, err := v.ToText(context.Background(), "voice.ogg", []byte("audio"))
	if err != nil {
		t.Fatalf("ToText error: %v", err)
	}
	if text != "hello world" {
		t.Errorf("text = %q", text)
	}

	if _, err := v.ToText(context.Background(), "voice.ogg", nil); err == nil {
		t.Error("expected error for empty payload")
	}
}

func TestToText_ErrorWrapped(t *testing.T) {
	sttErr := errors.New("stt down")
	sp := &mockSpeech{transcribeFn: func(string, []byte) (string, error) { return "", sttErr }}
	v := NewVoiceProcessor(sp, true)

	_, err := v.ToText(context.Background(), "v.ogg", []byte("x"))
	if !errors.Is(err, sttErr) {
		t.Errorf("error = %v, want wrapped stt error", err)
	}
}

func TestToVoice(t *testing.T) {
	sp := &mockSpeech{speakFn: func(text string) ([]byte, error) {
		return []byte("audio-bytes"), nil
	}}

	v := NewVoiceProcessor(sp, true)
	audio, err := v.ToVoice(context.Background(), "short reply")
	if err != nil {
		t.Fatalf("ToVoice error: %v", err)
	}
	if string(audio) != "audio-bytes" {
		t.Errorf("audio = %q", audio)
	}

	// Disabled processor stays silent.
	off := NewVoiceProcessor(sp, false)
	audio, err = off.ToVoice(context.Background(), "short reply")
	if err != nil || audio != nil {
		t.Errorf("disabled ToVoice = (%v, %v), want (nil, nil)", audio, err)
	}

	// Over-long replies fall back to text.
	audio, err = v.ToVoice(context.Background(), strings.Repeat("a", maxSpeakChars+1))
	if err != nil || audio != nil {
		t.Errorf("long ToVoice = (%v, %v), want (nil, nil)", audio, err)
	}
}
