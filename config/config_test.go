package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagbft/dagbft/utils/unittest"
)

func writeConfigFile(t *testing.T, dir, content string) {
	err := os.WriteFile(filepath.Join(dir, "node.yml"), []byte(content), 0o644)
	require.NoError(t, err)
}

func TestLoadConfig(t *testing.T) {
	participants := unittest.ParticipantsFixture(t, 4)
	self := participants.Validators.All()[0]

	validatorsYAML := ""
	for _, v := range participants.Validators.All() {
		validatorsYAML += fmt.Sprintf("  %s:\n    weight: %d\n    pubkey: %s\n",
			v.NodeID.String(), v.Weight, hex.EncodeToString(v.PubKey))
	}

	unittest.RunWithTempDir(t, func(dir string) {
		writeConfigFile(t, dir, fmt.Sprintf(`epoch: 3
window_size: 20
self: %s
private_key: "0a0b0c"
payload:
  max_txns: 500
backoff:
  round_timeout: 5s
validators:
%s`, self.NodeID.String(), validatorsYAML))

		cfg, err := LoadConfig(dir, "node")
		require.NoError(t, err)

		assert.Equal(t, uint64(3), cfg.Epoch)
		assert.Equal(t, uint64(20), cfg.WindowSize)
		assert.Equal(t, self.NodeID, cfg.Self)
		assert.Equal(t, []byte{0x0a, 0x0b, 0x0c}, cfg.PrivateKey)
		assert.Equal(t, 4, cfg.Validators.Count())

		// overridden values
		assert.Equal(t, uint64(500), cfg.PayloadLimits.MaxTxns)
		assert.Equal(t, 5*time.Second, cfg.Backoff.RoundTimeout)

		// defaults fill the rest
		assert.Equal(t, 50*time.Millisecond, cfg.PayloadLimits.MaxPollTime)
		assert.Equal(t, 50*time.Millisecond, cfg.Backoff.MinRoundDelay)
		assert.Equal(t, 100*time.Millisecond, cfg.Retry.InitialDelay)
		assert.Equal(t, "info", cfg.LogLevel)

		// the canonical validator order is the lexicographic node ID order
		ids := cfg.Validators.NodeIDs()
		for i := 1; i < len(ids); i++ {
			assert.Less(t, ids[i-1].String(), ids[i].String())
		}
	})
}

func TestLoadConfig_Invalid(t *testing.T) {
	participants := unittest.ParticipantsFixture(t, 2)
	v0 := participants.Validators.All()[0]
	v1 := participants.Validators.All()[1]

	validYAML := fmt.Sprintf(`self: %s
private_key: "0a"
validators:
  %s:
    weight: 1
    pubkey: %s
  %s:
    weight: 1
    pubkey: %s
`, v0.NodeID.String(),
		v0.NodeID.String(), hex.EncodeToString(v0.PubKey),
		v1.NodeID.String(), hex.EncodeToString(v1.PubKey))

	t.Run("missing file", func(t *testing.T) {
		unittest.RunWithTempDir(t, func(dir string) {
			_, err := LoadConfig(dir, "node")
			require.Error(t, err)
		})
	})

	t.Run("valid baseline", func(t *testing.T) {
		unittest.RunWithTempDir(t, func(dir string) {
			writeConfigFile(t, dir, validYAML)
			_, err := LoadConfig(dir, "node")
			require.NoError(t, err)
		})
	})

	t.Run("self not a member", func(t *testing.T) {
		unittest.RunWithTempDir(t, func(dir string) {
			writeConfigFile(t, dir, fmt.Sprintf(`self: %s
private_key: "0a"
validators:
  %s:
    weight: 1
    pubkey: %s
`, unittest.IdentifierFixture().String(), v0.NodeID.String(), hex.EncodeToString(v0.PubKey)))
			_, err := LoadConfig(dir, "node")
			require.Error(t, err)
		})
	})

	t.Run("no validators", func(t *testing.T) {
		unittest.RunWithTempDir(t, func(dir string) {
			writeConfigFile(t, dir, fmt.Sprintf(`self: %s
private_key: "0a"
`, v0.NodeID.String()))
			_, err := LoadConfig(dir, "node")
			require.Error(t, err)
		})
	})

	t.Run("negative weight", func(t *testing.T) {
		unittest.RunWithTempDir(t, func(dir string) {
			writeConfigFile(t, dir, fmt.Sprintf(`self: %s
private_key: "0a"
validators:
  %s:
    weight: -2
    pubkey: %s
`, v0.NodeID.String(), v0.NodeID.String(), hex.EncodeToString(v0.PubKey)))
			_, err := LoadConfig(dir, "node")
			require.Error(t, err)
		})
	})
}
