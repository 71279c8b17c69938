package config

import (
	"fmt"
	"strings"
	"time"
)

// Default sentinel addresses for EVM chains. A transfer from ZeroAddress is
// a mint-path record; a transfer to a collection's burn address is a burn.
const (
	DefaultZeroAddress = "0x0000000000000000000000000000000000000000"
	DefaultBurnAddress = "0x000000000000000000000000000000000000dead"
)

type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Logging  LoggingConfig  `json:"logging"`

	Notifier *NotifierConfig `json:"notifier,omitempty"`
	Storage  *StorageConfig  `json:"storage,omitempty"`
	Metrics  *MetricsConfig  `json:"metrics,omitempty"`
	ENS      *ENSConfig      `json:"ens,omitempty"`
	Sources  SourcesConfig   `json:"sources,omitempty"`

	// Collections is the tracked set. Immutable for the process lifetime:
	// a hot reload that changes this section logs "restart required".
	Collections []Collection `json:"collections"`
}

type TelegramConfig struct {
	Token string `json:"token"`
	// TokenFile is read when Token is empty (single-line secret file).
	TokenFile string `json:"token_file,omitempty"`
	// SendTimeout is a Go duration string (e.g. "10s").
	SendTimeout string `json:"send_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// NotifierConfig controls the async dispatch pipeline.
// All durations are Go duration strings (e.g. "500ms", "10s").
// If the whole section is omitted, the notifier defaults to enabled=true.
type NotifierConfig struct {
	Enabled       bool   `json:"enabled"`
	Workers       int    `json:"workers"`
	QueueSize     int    `json:"queue_size"`
	RatePerSec    int    `json:"rate_per_sec"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
}

// StorageConfig controls ledger persistence.
//
// Driver values:
//   - "file" (default): one line-list file per collection+category
//   - "sqlite": single database file (build with -tags sqlite)
type StorageConfig struct {
	Driver      string `json:"driver"`
	Dir         string `json:"dir"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"` // default "127.0.0.1:9109"
}

type ENSConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint,omitempty"` // default api.ensideas.com
	Timeout  string `json:"timeout,omitempty"`
}

type SourcesConfig struct {
	MagicEden *MagicEdenConfig `json:"magiceden,omitempty"`
	OpenSea   *OpenSeaConfig   `json:"opensea,omitempty"`
}

type MagicEdenConfig struct {
	BaseURL string `json:"base_url,omitempty"`
	Timeout string `json:"timeout,omitempty"`
}

// OpenSeaConfig enables the secondary sales source. The source is active
// only when an API key is present (inline or via key file).
type OpenSeaConfig struct {
	APIKey     string `json:"api_key,omitempty"`
	APIKeyFile string `json:"api_key_file,omitempty"`
	BaseURL    string `json:"base_url,omitempty"`
	Timeout    string `json:"timeout,omitempty"`
}

// Collection is one tracked contract. The lower-cased ContractAddress is the
// primary key for all per-collection state (ledgers, cooldowns, watermarks).
type Collection struct {
	Name            string `json:"name"`
	ContractAddress string `json:"contract_address"`
	Chain           string `json:"chain,omitempty"` // default "ethereum"

	// PollInterval is a Go duration string; default "5m".
	PollInterval  string `json:"poll_interval,omitempty"`
	ActivityLimit int    `json:"activity_limit,omitempty"` // default 50

	// Cooldown suppresses repeat sale notifications for the same token id;
	// default "60m".
	Cooldown string `json:"cooldown,omitempty"`

	MaxKnownSales int `json:"max_known_sales,omitempty"` // default 50
	MaxKnownMints int `json:"max_known_mints,omitempty"` // default 100
	MaxKnownBurns int `json:"max_known_burns,omitempty"` // default 100

	ZeroAddress string `json:"zero_address,omitempty"`
	BurnAddress string `json:"burn_address,omitempty"`

	SalesChatID int64 `json:"sales_chat_id,omitempty"`
	MintChatID  int64 `json:"mint_chat_id,omitempty"`
	BurnChatID  int64 `json:"burn_chat_id,omitempty"`
	ThreadID    int   `json:"thread_id,omitempty"`

	TxLinkBase  string `json:"tx_link_base,omitempty"` // default abscan
	JSONBaseURI string `json:"json_base_uri,omitempty"`

	// OpenSeaSlug enables the OpenSea sales source for this collection.
	OpenSeaSlug string `json:"opensea_slug,omitempty"`

	BurnMessages []BurnMessage `json:"burn_messages,omitempty"`
}

// BurnMessage is one weighted entry for the burn-notification draw.
// "{tokenName}" in Message is substituted at render time.
type BurnMessage struct {
	Weight  float64 `json:"weight"`
	Message string  `json:"message"`
}

// Key returns the case-normalized contract address used as the state key.
func (c *Collection) Key() string {
	return strings.ToLower(strings.TrimSpace(c.ContractAddress))
}

// Normalize fills defaults in place. Safe to call repeatedly.
func (c *Collection) Normalize() {
	c.ContractAddress = c.Key()
	if strings.TrimSpace(c.Chain) == "" {
		c.Chain = "ethereum"
	}
	if strings.TrimSpace(c.PollInterval) == "" {
		c.PollInterval = "5m"
	}
	if c.ActivityLimit <= 0 {
		c.ActivityLimit = 50
	}
	if strings.TrimSpace(c.Cooldown) == "" {
		c.Cooldown = "60m"
	}
	if c.MaxKnownSales <= 0 {
		c.MaxKnownSales = 50
	}
	if c.MaxKnownMints <= 0 {
		c.MaxKnownMints = 100
	}
	if c.MaxKnownBurns <= 0 {
		c.MaxKnownBurns = 100
	}
	if strings.TrimSpace(c.ZeroAddress) == "" {
		c.ZeroAddress = DefaultZeroAddress
	} else {
		c.ZeroAddress = strings.ToLower(strings.TrimSpace(c.ZeroAddress))
	}
	if strings.TrimSpace(c.BurnAddress) == "" {
		c.BurnAddress = DefaultBurnAddress
	} else {
		c.BurnAddress = strings.ToLower(strings.TrimSpace(c.BurnAddress))
	}
	if strings.TrimSpace(c.TxLinkBase) == "" {
		c.TxLinkBase = "https://abscan.org/tx/"
	}
}

// Validate checks a normalized collection entry.
func (c *Collection) Validate() error {
	if c.Key() == "" {
		return fmt.Errorf("collection %q: contract_address is required", c.Name)
	}
	if _, err := ParseDurationField("poll_interval", c.PollInterval); err != nil {
		return fmt.Errorf("collection %q: %w", c.Name, err)
	}
	if _, err := ParseDurationField("cooldown", c.Cooldown); err != nil {
		return fmt.Errorf("collection %q: %w", c.Name, err)
	}
	var total float64
	for i, bm := range c.BurnMessages {
		if strings.TrimSpace(bm.Message) == "" {
			return fmt.Errorf("collection %q: burn_messages[%d]: message is empty", c.Name, i)
		}
		if bm.Weight < 0 {
			return fmt.Errorf("collection %q: burn_messages[%d]: weight must be >= 0", c.Name, i)
		}
		total += bm.Weight
	}
	if len(c.BurnMessages) > 0 && total <= 0 {
		return fmt.Errorf("collection %q: burn_messages total weight must be > 0", c.Name)
	}
	return nil
}

// PollEvery returns the parsed poll interval (defaults already applied).
func (c *Collection) PollEvery() time.Duration {
	d, err := ParseDurationOrDefault("poll_interval", c.PollInterval, 5*time.Minute)
	if err != nil || d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// CooldownWindow returns the parsed cooldown window.
func (c *Collection) CooldownWindow() time.Duration {
	d, err := ParseDurationOrDefault("cooldown", c.Cooldown, 60*time.Minute)
	if err != nil {
		return 60 * time.Minute
	}
	return d
}
