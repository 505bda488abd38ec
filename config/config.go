/*
Package config loads the consensus node configuration: the validator set,
this node's identity and signing key, and the protocol tunables (retention
window, payload limits, round pacing, broadcast retry). Values come from a
viper-managed config file with environment-variable overrides; tunables fall
back to defaults suitable for a small cluster.
*/
package config

import (
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/dagbft/dagbft/consensus/dagbft"
	"github.com/dagbft/dagbft/consensus/dagbft/driver"
	"github.com/dagbft/dagbft/model/dag"
	"github.com/dagbft/dagbft/network"
)

// Config describes one consensus node.
type Config struct {
	Epoch      uint64
	WindowSize uint64

	Self       dag.Identifier
	PrivateKey []byte
	Validators *dag.ValidatorSet

	PayloadLimits dagbft.PayloadLimits
	Backoff       driver.BackoffConfig
	Retry         network.RetryConfig

	DataDir  string
	LogLevel string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("epoch", 1)
	v.SetDefault("window_size", 30)
	v.SetDefault("data_dir", "data")
	v.SetDefault("log_level", "info")

	v.SetDefault("payload.max_txns", 1000)
	v.SetDefault("payload.max_bytes", 4*1024*1024)
	v.SetDefault("payload.max_poll_time", 50*time.Millisecond)

	v.SetDefault("backoff.min_round_delay", 50*time.Millisecond)
	v.SetDefault("backoff.max_round_delay", 10*time.Second)
	v.SetDefault("backoff.adjustment_factor", 1.5)
	v.SetDefault("backoff.happy_path_max_round_failures", 3)
	v.SetDefault("backoff.round_timeout", 3*time.Second)

	v.SetDefault("retry.initial_delay", 100*time.Millisecond)
	v.SetDefault("retry.max_delay", 10*time.Second)
	v.SetDefault("retry.jitter_percent", 25)
}

// LoadConfig reads the named config file from the given directory, applying
// environment overrides with the DAGBFT_ prefix (e.g. DAGBFT_WINDOW_SIZE).
func LoadConfig(configDir, configName string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("dagbft")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetConfigName(configName)
	v.AddConfigPath(configDir)
	setDefaults(v)

	err := v.ReadInConfig()
	if err != nil {
		return nil, fmt.Errorf("could not read config: %w", err)
	}
	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	privKey, err := hex.DecodeString(v.GetString("private_key"))
	if err != nil {
		return nil, fmt.Errorf("could not decode private key: %w", err)
	}

	validators, err := parseValidators(v)
	if err != nil {
		return nil, err
	}

	var self dag.Identifier
	err = self.UnmarshalText([]byte(v.GetString("self")))
	if err != nil {
		return nil, fmt.Errorf("could not decode node ID: %w", err)
	}
	if _, ok := validators.ByNodeID(self); !ok {
		return nil, fmt.Errorf("node ID %v is not a member of the configured validator set", self)
	}

	return &Config{
		Epoch:      v.GetUint64("epoch"),
		WindowSize: v.GetUint64("window_size"),
		Self:       self,
		PrivateKey: privKey,
		Validators: validators,
		PayloadLimits: dagbft.PayloadLimits{
			MaxTxns:     v.GetUint64("payload.max_txns"),
			MaxBytes:    v.GetUint64("payload.max_bytes"),
			MaxPollTime: v.GetDuration("payload.max_poll_time"),
		},
		Backoff: driver.BackoffConfig{
			MinRoundDelay:             v.GetDuration("backoff.min_round_delay"),
			MaxRoundDelay:             v.GetDuration("backoff.max_round_delay"),
			AdjustmentFactor:          v.GetFloat64("backoff.adjustment_factor"),
			HappyPathMaxRoundFailures: v.GetUint64("backoff.happy_path_max_round_failures"),
			RoundTimeout:              v.GetDuration("backoff.round_timeout"),
		},
		Retry: network.RetryConfig{
			InitialDelay:  v.GetDuration("retry.initial_delay"),
			MaxDelay:      v.GetDuration("retry.max_delay"),
			JitterPercent: v.GetUint64("retry.jitter_percent"),
		},
		DataDir:  v.GetString("data_dir"),
		LogLevel: v.GetString("log_level"),
	}, nil
}

// parseValidators reads the validators map: node ID (hex) -> {weight, pubkey}.
// Canonical indices are assigned by lexicographic node ID order, so every
// correctly configured node derives the same ordering.
func parseValidators(v *viper.Viper) (*dag.ValidatorSet, error) {
	raw := v.GetStringMap("validators")
	if len(raw) == 0 {
		return nil, fmt.Errorf("config contains no validators")
	}

	ids := make([]string, 0, len(raw))
	for id := range raw {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	validators := make([]*dag.Validator, 0, len(ids))
	for i, idStr := range ids {
		var nodeID dag.Identifier
		err := nodeID.UnmarshalText([]byte(idStr))
		if err != nil {
			return nil, fmt.Errorf("could not decode validator ID %q: %w", idStr, err)
		}
		entry, ok := raw[idStr].(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("validator %q entry is not a map", idStr)
		}
		weight, err := parseWeight(entry["weight"])
		if err != nil {
			return nil, fmt.Errorf("validator %q: %w", idStr, err)
		}
		pubKeyStr, ok := entry["pubkey"].(string)
		if !ok {
			return nil, fmt.Errorf("validator %q has no pubkey", idStr)
		}
		pubKey, err := hex.DecodeString(pubKeyStr)
		if err != nil {
			return nil, fmt.Errorf("validator %q pubkey: %w", idStr, err)
		}
		validators = append(validators, &dag.Validator{
			NodeID: nodeID,
			Index:  uint32(i),
			Weight: weight,
			PubKey: pubKey,
		})
	}
	return dag.NewValidatorSet(validators)
}

func parseWeight(raw interface{}) (uint64, error) {
	switch w := raw.(type) {
	case int:
		if w <= 0 {
			return 0, fmt.Errorf("weight must be positive, got %d", w)
		}
		return uint64(w), nil
	case int64:
		if w <= 0 {
			return 0, fmt.Errorf("weight must be positive, got %d", w)
		}
		return uint64(w), nil
	case float64:
		if w <= 0 || w != float64(uint64(w)) {
			return 0, fmt.Errorf("weight must be a positive integer, got %v", w)
		}
		return uint64(w), nil
	default:
		return 0, fmt.Errorf("weight has unsupported type %T", raw)
	}
}
