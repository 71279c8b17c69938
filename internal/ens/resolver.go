// Package ens resolves wallet addresses to ENS names for display, with an
// in-memory cache. Misses are cached too, so an address without a name
// costs one lookup per process lifetime.
package ens

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	logx "nftwatch/pkg/logx"
)

const defaultEndpoint = "https://api.ensideas.com"

type Config struct {
	Enabled  bool
	Endpoint string
	Timeout  time.Duration
}

type Resolver struct {
	enabled  bool
	endpoint string
	client   *http.Client
	log      logx.Logger

	mu    sync.Mutex
	cache map[string]string // lower-cased address -> name, "" for a cached miss
	neg   map[string]bool
}

func New(cfg Config, log logx.Logger) *Resolver {
	if log.IsZero() {
		log = logx.Nop()
	}
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Resolver{
		enabled:  cfg.Enabled,
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		log:      log,
		cache:    make(map[string]string),
		neg:      make(map[string]bool),
	}
}

// Display returns the ENS name for address, or the shortened address when
// resolution is disabled, fails, or the address has no name.
func (r *Resolver) Display(ctx context.Context, address string) string {
	address = strings.ToLower(strings.TrimSpace(address))
	if address == "" {
		return "unknown"
	}
	if !r.enabled {
		return Shorten(address)
	}

	r.mu.Lock()
	if name, ok := r.cache[address]; ok {
		r.mu.Unlock()
		return name
	}
	if r.neg[address] {
		r.mu.Unlock()
		return Shorten(address)
	}
	r.mu.Unlock()

	name, err := r.lookup(ctx, address)
	if err != nil {
		// Transient failure: fall back without caching so a later event can
		// retry the lookup.
		r.log.Debug("ens lookup failed", logx.String("address", address), logx.Err(err))
		return Shorten(address)
	}

	r.mu.Lock()
	if name != "" {
		r.cache[address] = name
	} else {
		r.neg[address] = true
	}
	r.mu.Unlock()

	if name != "" {
		return name
	}
	return Shorten(address)
}

func (r *Resolver) lookup(ctx context.Context, address string) (string, error) {
	url := fmt.Sprintf("%s/ens/resolve/%s", r.endpoint, address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ens resolve: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", err
	}
	var out struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	return out.Name, nil
}

// Shorten renders an address as 0x123456...abcdef.
func Shorten(address string) string {
	address = strings.ToLower(address)
	const chars = 6
	if len(address) > 2+chars*2 {
		return address[:2+chars] + "..." + address[len(address)-chars:]
	}
	return address
}
