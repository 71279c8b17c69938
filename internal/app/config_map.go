package app

import (
	"fmt"
	"strings"
	"time"

	"nftwatch/internal/config"
	"nftwatch/internal/ens"
	"nftwatch/internal/marketplace"
	"nftwatch/internal/notifier"
	"nftwatch/internal/storage"
)

// Mapping helpers between the file config (string durations, optional
// sections) and the typed service configs.

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	out := notifier.Config{Enabled: true}
	if nc := cfg.Notifier; nc != nil {
		out.Enabled = nc.Enabled
		out.Workers = nc.Workers
		out.QueueSize = nc.QueueSize
		out.RatePerSec = nc.RatePerSec
		out.RetryMax = nc.RetryMax

		var err error
		if out.RetryBase, err = config.ParseDurationOrDefault("notifier.retry_base", nc.RetryBase, 0); err != nil {
			return out, err
		}
		if out.RetryMaxDelay, err = config.ParseDurationOrDefault("notifier.retry_max_delay", nc.RetryMaxDelay, 0); err != nil {
			return out, err
		}
	}
	var err error
	out.SendTimeout, err = config.ParseDurationOrDefault("telegram.send_timeout", cfg.Telegram.SendTimeout, 10*time.Second)
	return out, err
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	out := storage.Config{Driver: "file", Dir: "data"}
	if sc := cfg.Storage; sc != nil {
		if strings.TrimSpace(sc.Driver) != "" {
			out.Driver = sc.Driver
		}
		if strings.TrimSpace(sc.Dir) != "" {
			out.Dir = sc.Dir
		}
		var err error
		if out.BusyTimeout, err = config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 0); err != nil {
			return out, err
		}
	}
	return out, nil
}

func mapENSConfig(cfg *config.Config) (ens.Config, error) {
	out := ens.Config{}
	if ec := cfg.ENS; ec != nil {
		out.Enabled = ec.Enabled
		out.Endpoint = ec.Endpoint
		var err error
		if out.Timeout, err = config.ParseDurationOrDefault("ens.timeout", ec.Timeout, 0); err != nil {
			return out, err
		}
	}
	return out, nil
}

func mapMagicEdenConfig(cfg *config.Config) (marketplace.MagicEdenConfig, error) {
	out := marketplace.MagicEdenConfig{}
	if mc := cfg.Sources.MagicEden; mc != nil {
		out.BaseURL = mc.BaseURL
		var err error
		if out.Timeout, err = config.ParseDurationOrDefault("sources.magiceden.timeout", mc.Timeout, 0); err != nil {
			return out, err
		}
	}
	return out, nil
}

// mapOpenSeaConfig resolves the API key (inline or file). An absent key
// means the source stays disabled, which is not an error.
func mapOpenSeaConfig(cfg *config.Config) (marketplace.OpenSeaConfig, bool, error) {
	oc := cfg.Sources.OpenSea
	if oc == nil {
		return marketplace.OpenSeaConfig{}, false, nil
	}
	key := strings.TrimSpace(oc.APIKey)
	if key == "" && strings.TrimSpace(oc.APIKeyFile) != "" {
		loaded, err := config.LoadFileSecret(oc.APIKeyFile)
		if err != nil {
			return marketplace.OpenSeaConfig{}, false, fmt.Errorf("sources.opensea.api_key_file: %w", err)
		}
		key = loaded
	}
	if key == "" {
		return marketplace.OpenSeaConfig{}, false, nil
	}
	out := marketplace.OpenSeaConfig{APIKey: key, BaseURL: oc.BaseURL}
	var err error
	if out.Timeout, err = config.ParseDurationOrDefault("sources.opensea.timeout", oc.Timeout, 0); err != nil {
		return out, false, err
	}
	return out, true, nil
}

func resolveTelegramToken(cfg *config.Config) (string, error) {
	token := strings.TrimSpace(cfg.Telegram.Token)
	if token != "" {
		return token, nil
	}
	if strings.TrimSpace(cfg.Telegram.TokenFile) == "" {
		return "", fmt.Errorf("telegram: token or token_file is required")
	}
	token, err := config.LoadFileSecret(cfg.Telegram.TokenFile)
	if err != nil {
		return "", fmt.Errorf("telegram.token_file: %w", err)
	}
	return token, nil
}
