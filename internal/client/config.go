package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"studysync/internal/http/roomhandler"
)

const fetchTimeout = 5 * time.Second

// FetchConfig reads /client-config from the relay's HTTP base URL.
func FetchConfig(ctx context.Context, baseURL string) (roomhandler.ClientConfigResponse, error) {
	var cfg roomhandler.ClientConfigResponse

	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimSuffix(baseURL, "/")+"/client-config", nil)
	if err != nil {
		return cfg, fmt.Errorf("client config: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return cfg, fmt.Errorf("client config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return cfg, fmt.Errorf("client config: unexpected status %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("client config: %w", err)
	}
	return cfg, nil
}

// WithServerConfig fills the options the relay dictates. An explicitly set
// Dialer or ResyncEvery wins.
func (o Options) WithServerConfig(cfg roomhandler.ClientConfigResponse) Options {
	if o.Dialer == nil {
		o.Dialer = PionDialer{ICEServers: cfg.IceServers}
	}
	if o.ResyncEvery == 0 {
		o.ResyncEvery = cfg.TimerResyncEvery
	}
	return o
}
