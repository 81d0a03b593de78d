package meetings

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/expertmeet/expertmeet/services/scheduling-service/internal/model"
)

// ZoomProvisioner creates meetings through the Zoom server-to-server
// OAuth flow. The access token is cached until shortly before expiry.
type ZoomProvisioner struct {
	accountID    string
	clientID     string
	clientSecret string
	hostEmail    string
	baseURL      string
	http         *http.Client

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
}

type ZoomConfig struct {
	AccountID    string
	ClientID     string
	ClientSecret string
	HostEmail    string
	BaseURL      string // override for tests; defaults to https://api.zoom.us
}

func NewZoomProvisioner(cfg ZoomConfig) (*ZoomProvisioner, error) {
	if strings.TrimSpace(cfg.AccountID) == "" || strings.TrimSpace(cfg.ClientID) == "" || strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, errors.New("zoom: account id, client id and client secret are required")
	}
	base := strings.TrimSpace(cfg.BaseURL)
	if base == "" {
		base = "https://api.zoom.us"
	}
	host := strings.TrimSpace(cfg.HostEmail)
	if host == "" {
		host = "me"
	}
	return &ZoomProvisioner{
		accountID:    strings.TrimSpace(cfg.AccountID),
		clientID:     strings.TrimSpace(cfg.ClientID),
		clientSecret: strings.TrimSpace(cfg.ClientSecret),
		hostEmail:    host,
		baseURL:      strings.TrimRight(base, "/"),
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}, nil
}

func (p *ZoomProvisioner) ProviderID() string {
	return "zoom"
}

func (p *ZoomProvisioner) Provision(ctx context.Context, bookingID, topic string, startAt time.Time, duration time.Duration) (model.Meeting, error) {
	token, err := p.accessToken(ctx)
	if err != nil {
		return model.Meeting{}, err
	}

	body := map[string]any{
		"topic":      topic,
		"type":       2, // scheduled meeting
		"start_time": startAt.UTC().Format("2006-01-02T15:04:05Z"),
		"duration":   int(duration.Minutes()),
		"timezone":   "UTC",
		"agenda":     "Booking " + bookingID,
		"settings": map[string]any{
			"join_before_host": false,
			"waiting_room":     true,
		},
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return model.Meeting{}, err
	}

	endpoint := fmt.Sprintf("%s/v2/users/%s/meetings", p.baseURL, url.PathEscape(p.hostEmail))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return model.Meeting{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.http.Do(req)
	if err != nil {
		return model.Meeting{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return model.Meeting{}, fmt.Errorf("zoom: create meeting returned %d", resp.StatusCode)
	}

	var created struct {
		ID       int64  `json:"id"`
		JoinURL  string `json:"join_url"`
		StartURL string `json:"start_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return model.Meeting{}, err
	}

	return model.Meeting{
		Provider:  p.ProviderID(),
		MeetingID: fmt.Sprintf("%d", created.ID),
		JoinURL:   created.JoinURL,
		HostURL:   created.StartURL,
	}, nil
}

func (p *ZoomProvisioner) accessToken(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.token != "" && time.Now().Before(p.tokenExpiry) {
		return p.token, nil
	}

	endpoint := fmt.Sprintf("%s/oauth/token?grant_type=account_credentials&account_id=%s", p.baseURL, url.QueryEscape(p.accountID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return "", err
	}
	basic := base64.StdEncoding.EncodeToString([]byte(p.clientID + ":" + p.clientSecret))
	req.Header.Set("Authorization", "Basic "+basic)

	resp, err := p.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("zoom: token endpoint returned %d", resp.StatusCode)
	}

	var tok struct {
		AccessToken string `json:"access_token"`
		ExpiresIn   int    `json:"expires_in"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tok); err != nil {
		return "", err
	}
	if tok.AccessToken == "" {
		return "", errors.New("zoom: empty access token")
	}

	p.token = tok.AccessToken
	// Renew a minute early to avoid racing expiry.
	p.tokenExpiry = time.Now().Add(time.Duration(tok.ExpiresIn)*time.Second - time.Minute)
	return p.token, nil
}
