// Package speech calls a local text-to-speech sidecar over HTTP. The sidecar
// synthesizes and plays the audio itself; a request returns once playback has
// finished, which is what keeps the audio-move filter toggles bracketed
// around the utterance.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Voices the synthesis model ships with. An unknown profile falls back to the
// first entry rather than failing the utterance.
var Voices = []string{
	"af", "af_bella", "af_nicole", "af_sarah", "af_sky",
	"am_adam", "am_michael", "bf_emma", "bf_isabella",
	"bm_george", "bm_lewis",
}

var ErrEmptyText = errors.New("speech: empty text")

type synthesizeRequest struct {
	Text  string  `json:"text"`
	Voice string  `json:"voice"`
	Speed float64 `json:"speed"`
}

// Client implements the speaker side of the presentation backend.
type Client struct {
	baseURL string
	httpc   *http.Client
	speed   float64
}

func New(baseURL string, httpc *http.Client) *Client {
	if httpc == nil {
		// playback time counts against the request, long utterances take a while
		httpc = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), httpc: httpc, speed: 1.0}
}

// SpeakUtterance synthesizes and plays text with the given voice profile,
// blocking until playback completes.
func (c *Client) SpeakUtterance(text, voiceProfile string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyText
	}

	body, err := json.Marshal(synthesizeRequest{
		Text:  text,
		Voice: normalizeVoice(voiceProfile),
		Speed: c.speed,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, c.baseURL+"/synthesize", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("speech: synthesize: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("speech: synthesize returned %s", resp.Status)
	}
	return nil
}

func normalizeVoice(profile string) string {
	profile = strings.TrimSpace(profile)
	for _, v := range Voices {
		if v == profile {
			return profile
		}
	}
	return Voices[0]
}
