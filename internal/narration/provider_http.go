package narration

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/reelforge/renderd/internal/config"
	"github.com/reelforge/renderd/internal/media"
)

// HTTPProvider speaks to a speech-synthesis HTTP service. The service takes
// a JSON body with text and voice and answers with base64 audio, its
// duration, and optional word timings.
type HTTPProvider struct {
	name         string
	url          string
	token        string
	defaultVoice string
	client       *http.Client
}

// NewHTTPProvider builds a provider from configuration.
func NewHTTPProvider(cfg config.ProviderConfig, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		name:         cfg.Name,
		url:          cfg.URL,
		token:        cfg.Token,
		defaultVoice: cfg.Voice,
		client:       &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProvider) Name() string { return p.name }

type synthesisRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

type synthesisResponse struct {
	Audio    string             `json:"audio"` // base64 encoded
	Format   string             `json:"format"`
	Duration float64            `json:"duration"`
	Words    []media.WordTiming `json:"words,omitempty"`
}

// Synthesize posts the text and writes the decoded audio into workdir.
func (p *HTTPProvider) Synthesize(ctx context.Context, text, voice, workdir string) (*Clip, error) {
	if voice == "" {
		voice = p.defaultVoice
	}
	body, err := json.Marshal(synthesisRequest{Text: text, Voice: voice})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	var out synthesisResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode synthesis response: %w", err)
	}
	audio, err := base64.StdEncoding.DecodeString(out.Audio)
	if err != nil {
		return nil, fmt.Errorf("decode audio payload: %w", err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("provider returned empty audio")
	}

	ext := ".mp3"
	if out.Format != "" {
		ext = "." + out.Format
	}
	dst := filepath.Join(workdir, "narration-"+uuid.NewString()+ext)
	if err := os.WriteFile(dst, audio, 0o644); err != nil {
		return nil, fmt.Errorf("write narration audio: %w", err)
	}

	return &Clip{AudioPath: dst, Duration: out.Duration, Words: out.Words}, nil
}
