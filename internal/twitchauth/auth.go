// Package twitchauth supplies the chat connector with a current OAuth token,
// refreshing it against the Twitch identity service and following external
// rotations of the token file.
package twitchauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultTokenEndpoint = "https://id.twitch.tv/oauth2/token"

var ErrEmptyToken = errors.New("twitchauth: empty token")

// Manager reads the access token from a file so that external tooling can
// rotate it, and can mint a fresh one from the stored refresh token when the
// connector reports an authentication failure.
type Manager struct {
	ClientID     string
	ClientSecret string
	AccessPath   string
	RefreshPath  string

	// Endpoint overrides the token endpoint, for tests.
	Endpoint string
	HTTP     *http.Client

	mu     sync.Mutex
	cached string
}

// Token returns the current access token without the "oauth:" prefix. A read
// failure falls back to the last good value so a transient rotation race does
// not drop the connection.
func (m *Manager) Token() string {
	b, err := os.ReadFile(m.AccessPath)
	if err != nil {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.cached
	}
	token := normalize(string(b))
	m.mu.Lock()
	if token != "" {
		m.cached = token
	}
	token = m.cached
	m.mu.Unlock()
	return token
}

// Refresh exchanges the stored refresh token for a new access token, persists
// it to the access file and returns it.
func (m *Manager) Refresh(ctx context.Context) (string, error) {
	if m.ClientID == "" || m.ClientSecret == "" {
		return "", errors.New("twitchauth: client credentials are required for refresh")
	}
	refreshToken, err := m.readRefresh()
	if err != nil {
		return "", err
	}

	form := url.Values{}
	form.Set("client_id", m.ClientID)
	form.Set("client_secret", m.ClientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)

	endpoint := m.Endpoint
	if endpoint == "" {
		endpoint = defaultTokenEndpoint
	}
	reqCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	httpc := m.HTTP
	if httpc == nil {
		httpc = http.DefaultClient
	}
	resp, err := httpc.Do(req)
	if err != nil {
		return "", fmt.Errorf("twitchauth: refresh: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("twitchauth: refresh status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var tok struct {
		AccessToken  string `json:"access_token"`
		RefreshToken string `json:"refresh_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", fmt.Errorf("twitchauth: decode refresh response: %w", err)
	}
	if tok.AccessToken == "" {
		return "", errors.New("twitchauth: no access_token in refresh response")
	}

	if err := os.WriteFile(m.AccessPath, []byte(tok.AccessToken+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("twitchauth: persist access token: %w", err)
	}
	// Twitch may rotate the refresh token on use
	if tok.RefreshToken != "" && m.RefreshPath != "" {
		if err := os.WriteFile(m.RefreshPath, []byte(tok.RefreshToken+"\n"), 0o600); err != nil {
			slog.Error("twitchauth: persist refresh token", "err", err)
		}
	}

	m.mu.Lock()
	m.cached = tok.AccessToken
	m.mu.Unlock()
	slog.Info("twitchauth: access token refreshed")
	return tok.AccessToken, nil
}

// Watch follows rotations of the access token file and calls onChange with
// each new value. Events are debounced because editors and rotation scripts
// produce bursts of writes and renames.
func (m *Manager) Watch(ctx context.Context, onChange func(string)) error {
	if m.AccessPath == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(m.AccessPath); err != nil {
		w.Close()
		return err
	}

	go func() {
		defer w.Close()
		debounce := time.NewTimer(0)
		if !debounce.Stop() {
			<-debounce.C
		}
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					if err := w.Add(ev.Name); err != nil {
						slog.Error("twitchauth: watch re-add", "path", ev.Name, "err", err)
					}
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
					if !debounce.Stop() {
						select {
						case <-debounce.C:
						default:
						}
					}
					debounce.Reset(250 * time.Millisecond)
				}
			case <-debounce.C:
				token := m.Token()
				if token == "" {
					slog.Error("twitchauth: token file rotated to empty value")
					continue
				}
				slog.Info("twitchauth: token file rotated")
				if onChange != nil {
					onChange(token)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.Error("twitchauth: watch error", "err", err)
			}
		}
	}()
	return nil
}

func (m *Manager) readRefresh() (string, error) {
	if m.RefreshPath == "" {
		return "", errors.New("twitchauth: refresh token path is not configured")
	}
	b, err := os.ReadFile(m.RefreshPath)
	if err != nil {
		return "", err
	}
	token := strings.TrimSpace(string(b))
	if token == "" {
		return "", ErrEmptyToken
	}
	return token, nil
}

// normalize trims the raw file contents and strips an "oauth:" prefix; the
// connector adds its own.
func normalize(s string) string {
	return strings.TrimPrefix(strings.TrimSpace(s), "oauth:")
}
