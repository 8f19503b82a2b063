package resilience

import (
	"context"
	"errors"
	"testing"

	ttsmock "github.com/MrWong99/adagate/pkg/provider/tts/mock"
	"github.com/MrWong99/adagate/pkg/types"
)

func newTTSChain(primary, secondary *ttsmock.Provider) *TTSFallback {
	fb := NewTTSFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)
	return fb
}

func closedTextChannel(fragments ...string) <-chan string {
	ch := make(chan string, len(fragments))
	for _, f := range fragments {
		ch <- f
	}
	close(ch)
	return ch
}

func drainAudio(ch <-chan []byte) [][]byte {
	var chunks [][]byte
	for c := range ch {
		chunks = append(chunks, c)
	}
	return chunks
}

func TestTTSFallback_SynthesizeStream(t *testing.T) {
	t.Run("primary synthesizes, secondary untouched", func(t *testing.T) {
		primary := &ttsmock.Provider{
			SynthesizeChunks: [][]byte{[]byte("audio1"), []byte("audio2")},
		}
		secondary := &ttsmock.Provider{
			SynthesizeChunks: [][]byte{[]byte("fallback-audio")},
		}
		fb := newTTSChain(primary, secondary)

		audioCh, err := fb.SynthesizeStream(context.Background(), closedTextChannel("hello"),
			types.VoiceProfile{ID: "v1", Name: "TestVoice"})
		if err != nil {
			t.Fatalf("SynthesizeStream: %v", err)
		}

		chunks := drainAudio(audioCh)
		if len(chunks) != 2 || string(chunks[0]) != "audio1" {
			t.Errorf("chunks = %q", chunks)
		}
		if len(secondary.SynthesizeStreamCalls) != 0 {
			t.Errorf("secondary called %d times", len(secondary.SynthesizeStreamCalls))
		}
	})

	t.Run("failover", func(t *testing.T) {
		primary := &ttsmock.Provider{SynthesizeErr: errBackend}
		secondary := &ttsmock.Provider{
			SynthesizeChunks: [][]byte{[]byte("fallback-audio")},
		}
		fb := newTTSChain(primary, secondary)

		audioCh, err := fb.SynthesizeStream(context.Background(), closedTextChannel("hello"),
			types.VoiceProfile{})
		if err != nil {
			t.Fatalf("SynthesizeStream: %v", err)
		}

		chunks := drainAudio(audioCh)
		if len(chunks) != 1 || string(chunks[0]) != "fallback-audio" {
			t.Errorf("chunks = %q", chunks)
		}
	})

	t.Run("all fail", func(t *testing.T) {
		fb := newTTSChain(
			&ttsmock.Provider{SynthesizeErr: errBackend},
			&ttsmock.Provider{SynthesizeErr: errors.New("secondary down")},
		)

		_, err := fb.SynthesizeStream(context.Background(), closedTextChannel(), types.VoiceProfile{})
		if !errors.Is(err, ErrAllFailed) {
			t.Fatalf("err = %v, want ErrAllFailed", err)
		}
	})
}

func TestTTSFallback_ListVoices(t *testing.T) {
	primary := &ttsmock.Provider{ListVoicesErr: errBackend}
	secondary := &ttsmock.Provider{
		ListVoicesResult: []types.VoiceProfile{
			{ID: "v1", Name: "Alice"},
			{ID: "v2", Name: "Bob"},
		},
	}
	fb := newTTSChain(primary, secondary)

	voices, err := fb.ListVoices(context.Background())
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) != 2 || voices[0].Name != "Alice" {
		t.Errorf("voices = %+v", voices)
	}
}

func TestTTSFallback_CloneVoice(t *testing.T) {
	primary := &ttsmock.Provider{CloneVoiceErr: errBackend}
	secondary := &ttsmock.Provider{
		CloneVoiceResult: &types.VoiceProfile{ID: "cloned-v1", Name: "ClonedVoice"},
	}
	fb := newTTSChain(primary, secondary)

	voice, err := fb.CloneVoice(context.Background(), [][]byte{[]byte("sample-audio")})
	if err != nil {
		t.Fatalf("CloneVoice: %v", err)
	}
	if voice.ID != "cloned-v1" {
		t.Errorf("voice.ID = %q", voice.ID)
	}
}
