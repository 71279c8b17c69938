package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return NewManager(path)
}

const minimalYAML = `
telegram:
  token: "123:abc"
logging:
  level: "info"
  console: true
collections:
  - name: "Testers"
    contract_address: "0xCAFE"
`

func TestLoadMinimalConfig(t *testing.T) {
	m := writeConfig(t, minimalYAML)
	cfg, err := m.Load()
	require.NoError(t, err)

	require.Len(t, cfg.Collections, 1)
	c := cfg.Collections[0]
	require.Equal(t, "0xcafe", c.Key())
	require.Equal(t, "ethereum", c.Chain)
	require.Equal(t, 5*time.Minute, c.PollEvery())
	require.Equal(t, 60*time.Minute, c.CooldownWindow())
	require.Equal(t, 50, c.MaxKnownSales)
	require.Equal(t, 100, c.MaxKnownMints)
	require.Equal(t, 100, c.MaxKnownBurns)
	require.Equal(t, 50, c.ActivityLimit)
	require.Equal(t, DefaultZeroAddress, c.ZeroAddress)
	require.Equal(t, DefaultBurnAddress, c.BurnAddress)
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	m := writeConfig(t, minimalYAML+"\nbogus_section:\n  x: 1\n")
	_, err := m.Load()
	require.Error(t, err)
}

func TestValidateRequiresToken(t *testing.T) {
	m := writeConfig(t, `
telegram:
  token: ""
collections:
  - name: "Testers"
    contract_address: "0xCAFE"
`)
	_, err := m.Load()
	require.Error(t, err)
}

func TestValidateRequiresCollections(t *testing.T) {
	m := writeConfig(t, `
telegram:
  token: "123:abc"
collections: []
`)
	_, err := m.Load()
	require.Error(t, err)
}

func TestValidateRejectsDuplicateContracts(t *testing.T) {
	m := writeConfig(t, `
telegram:
  token: "123:abc"
collections:
  - name: "A"
    contract_address: "0xCAFE"
  - name: "B"
    contract_address: "0xcafe"
`)
	_, err := m.Load()
	require.Error(t, err)
}

func TestValidateRejectsBadDuration(t *testing.T) {
	m := writeConfig(t, `
telegram:
  token: "123:abc"
collections:
  - name: "Testers"
    contract_address: "0xCAFE"
    poll_interval: "soon"
`)
	_, err := m.Load()
	require.Error(t, err)
}

func TestValidateRejectsBadBurnMessages(t *testing.T) {
	m := writeConfig(t, `
telegram:
  token: "123:abc"
collections:
  - name: "Testers"
    contract_address: "0xCAFE"
    burn_messages:
      - weight: 0
        message: "{tokenName} gone"
`)
	_, err := m.Load()
	require.Error(t, err)
}

func TestCollectionsEqual(t *testing.T) {
	a := &Config{Collections: []Collection{{Name: "A", ContractAddress: "0xcafe"}}}
	b := &Config{Collections: []Collection{{Name: "A", ContractAddress: "0xcafe"}}}
	require.True(t, CollectionsEqual(a, b))

	b.Collections[0].PollInterval = "1m"
	require.False(t, CollectionsEqual(a, b))
}

func TestLoadFileSecret(t *testing.T) {
	path := filepath.Join(t.TempDir(), "token")
	require.NoError(t, os.WriteFile(path, []byte("  s3cret \n"), 0o600))
	got, err := LoadFileSecret(path)
	require.NoError(t, err)
	require.Equal(t, "s3cret", got)
}
