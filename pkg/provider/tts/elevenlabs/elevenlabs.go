// Package elevenlabs implements [tts.Provider] on top of the ElevenLabs
// streaming WebSocket API. Voice listing and cloning go through the REST API.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/MrWong99/adagate/pkg/provider/tts"
	"github.com/MrWong99/adagate/pkg/types"
	"github.com/coder/websocket"
)

var _ tts.Provider = (*Provider)(nil)

const (
	wsEndpointFmt    = "wss://api.elevenlabs.io/v1/text-to-speech/%s/stream-input?model_id=%s"
	defaultAPIBase   = "https://api.elevenlabs.io"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_16000"
)

// Option configures a [Provider].
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithOutputFormat sets the audio output format (e.g., "pcm_16000", "pcm_24000").
func WithOutputFormat(format string) Option {
	return func(p *Provider) {
		p.outputFormat = format
	}
}

// Provider is an ElevenLabs-backed [tts.Provider].
type Provider struct {
	apiKey       string
	model        string
	outputFormat string
	apiBase      string
	httpClient   *http.Client
}

// New creates a Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:       apiKey,
		model:        defaultModel,
		outputFormat: defaultOutputFmt,
		apiBase:      defaultAPIBase,
		httpClient:   &http.Client{},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// textMessage is one text fragment sent over the synthesis socket.
type textMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

// audioMessage is one synthesis result received over the socket.
type audioMessage struct {
	Audio   string `json:"audio"` // base64 PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"`
}

// openMessage is the handshake that authenticates and configures the stream.
// ElevenLabs requires a non-empty first text value.
type openMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
	OutputFormat  string         `json:"output_format,omitempty"`
}

// SynthesizeStream opens a synthesis socket for the voice, forwards text
// fragments as they arrive, and returns the channel of decoded PCM chunks.
// The audio channel closes when synthesis completes or ctx is cancelled.
func (p *Provider) SynthesizeStream(ctx context.Context, text <-chan string, voice types.VoiceProfile) (<-chan []byte, error) {
	if voice.ID == "" {
		return nil, errors.New("elevenlabs: voice.ID must not be empty")
	}

	conn, _, err := websocket.Dial(ctx, buildURLForVoice(voice.ID, p.model), nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}

	open := openMessage{
		Text:          " ",
		VoiceSettings: &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75},
		XiAPIKey:      p.apiKey,
		OutputFormat:  p.outputFormat,
	}
	openBytes, _ := json.Marshal(open)
	if err := conn.Write(ctx, websocket.MessageText, openBytes); err != nil {
		conn.Close(websocket.StatusInternalError, "handshake failed")
		return nil, fmt.Errorf("elevenlabs: open stream: %w", err)
	}

	audioCh := make(chan []byte, 256)
	go p.runStream(ctx, conn, text, audioCh)
	return audioCh, nil
}

// runStream pumps text into the socket and audio out of it until the text
// channel closes (flush, then drain) or ctx is cancelled.
func (p *Provider) runStream(ctx context.Context, conn *websocket.Conn, text <-chan string, audioCh chan<- []byte) {
	defer close(audioCh)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		readAudio(ctx, conn, audioCh)
	}()

	// Voice settings ride along on the first fragment only.
	vs := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}
	for {
		select {
		case sentence, ok := <-text:
			if !ok {
				// {"text":""} tells ElevenLabs to flush and finish.
				flushBytes, _ := buildWSMessage("", nil)
				_ = conn.Write(ctx, websocket.MessageText, flushBytes)
				<-readDone
				return
			}
			if sentence == "" {
				continue
			}
			msgBytes, _ := buildWSMessage(sentence, vs)
			vs = nil
			if err := conn.Write(ctx, websocket.MessageText, msgBytes); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// readAudio decodes synthesis messages until the socket read fails.
func readAudio(ctx context.Context, conn *websocket.Conn, audioCh chan<- []byte) {
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var resp audioMessage
		if err := json.Unmarshal(msg, &resp); err != nil || resp.Audio == "" {
			continue
		}
		pcm, err := base64.StdEncoding.DecodeString(resp.Audio)
		if err != nil {
			continue
		}
		select {
		case audioCh <- pcm:
		case <-ctx.Done():
			return
		}
	}
}

type voicesResponse struct {
	Voices []voiceEntry `json:"voices"`
}

type voiceEntry struct {
	VoiceID  string            `json:"voice_id"`
	Name     string            `json:"name"`
	Category string            `json:"category"`
	Labels   map[string]string `json:"labels"`
}

// ListVoices returns the voice catalogue available to the configured API key.
func (p *Provider) ListVoices(ctx context.Context) ([]types.VoiceProfile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.apiBase+"/v1/voices", nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: list voices: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices read: %w", err)
	}
	profiles, err := parseVoicesResponse(body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: list voices decode: %w", err)
	}
	return profiles, nil
}

// CloneVoice uploads the samples to POST /v1/voices/add and returns the new
// voice profile. Samples must be in a format ElevenLabs accepts (WAV, MP3).
func (p *Provider) CloneVoice(ctx context.Context, samples [][]byte) (*types.VoiceProfile, error) {
	if len(samples) == 0 {
		return nil, errors.New("elevenlabs: CloneVoice needs at least one sample")
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("name", "adagate-clone"); err != nil {
		return nil, fmt.Errorf("elevenlabs: clone voice: %w", err)
	}
	for i, sample := range samples {
		fw, err := mw.CreateFormFile("files", fmt.Sprintf("sample-%d.wav", i))
		if err != nil {
			return nil, fmt.Errorf("elevenlabs: clone voice: %w", err)
		}
		if _, err := fw.Write(sample); err != nil {
			return nil, fmt.Errorf("elevenlabs: clone voice: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("elevenlabs: clone voice: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiBase+"/v1/voices/add", &buf)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: clone voice: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: clone voice HTTP: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("elevenlabs: clone voice: unexpected status %d", resp.StatusCode)
	}

	var created struct {
		VoiceID string `json:"voice_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, fmt.Errorf("elevenlabs: clone voice decode: %w", err)
	}
	return &types.VoiceProfile{
		ID:       created.VoiceID,
		Name:     "adagate-clone",
		Provider: "elevenlabs",
	}, nil
}

// buildWSMessage encodes one text fragment payload.
func buildWSMessage(text string, vs *voiceSettings) ([]byte, error) {
	return json.Marshal(textMessage{Text: text, VoiceSettings: vs})
}

// buildURLForVoice returns the synthesis socket URL for a voice and model.
func buildURLForVoice(voiceID, model string) string {
	return fmt.Sprintf(wsEndpointFmt, voiceID, model)
}

// parseVoicesResponse converts a /v1/voices response body into profiles. The
// voice category, when present, lands in the profile metadata.
func parseVoicesResponse(data []byte) ([]types.VoiceProfile, error) {
	var vr voicesResponse
	if err := json.Unmarshal(data, &vr); err != nil {
		return nil, err
	}
	profiles := make([]types.VoiceProfile, 0, len(vr.Voices))
	for _, v := range vr.Voices {
		meta := make(map[string]string, len(v.Labels)+1)
		for k, val := range v.Labels {
			meta[k] = val
		}
		if v.Category != "" {
			meta["category"] = v.Category
		}
		profiles = append(profiles, types.VoiceProfile{
			ID:       v.VoiceID,
			Name:     v.Name,
			Provider: "elevenlabs",
			Metadata: meta,
		})
	}
	return profiles, nil
}
