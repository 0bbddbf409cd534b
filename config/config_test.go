package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vitwit/stablepay/config"
	"github.com/vitwit/stablepay/types"
)

const testWallet = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

func TestLoadFile(t *testing.T) {
	t.Run("ok, yaml then environment", func(t *testing.T) {
		setupEnviron(t, map[string]string{
			"TEST_MERCHANT_WALLET":   testWallet,
			"SOLANA_WEBHOOK_SECRET":  "whsec_env",
			"HTTP_ADDR":              ":9200",
			"STABLEPAY_OPERATOR_KEY": "op_env",
		})

		got, err := config.LoadFile("./testdata/config.yaml")
		require.NoError(t, err)

		require.Equal(t, types.NetworkSolanaDevnet, got.Network)
		require.Equal(t, "https://api.devnet.solana.com", got.RPCUrl)
		require.Equal(t, testWallet, got.MerchantUSDCWallet)
		require.Equal(t, testWallet, got.MerchantUSDTWallet)
		require.Equal(t, "pk_test_storefront", got.PublishableKey)
		require.Equal(t, "whsec_env", got.WebhookSecret)
		require.Equal(t, 20*time.Second, got.RPCTimeout)
		require.True(t, got.StrictVerification)
		require.Equal(t, types.ConfirmationPolicy{
			InitialInterval: 250 * time.Millisecond,
			MaxInterval:     2 * time.Second,
			MaxElapsed:      45 * time.Second,
		}, got.Confirmation)
		require.Equal(t, "debug", got.LogLevel)
		require.True(t, got.EnableMetrics)
		require.Equal(t, ":9200", got.HTTP.Addr)
		require.Equal(t, 5*time.Second, got.HTTP.ReadHeaderTimeout)
		// derived: 3 x 20s rpc + 45s confirmation + slack
		require.Equal(t, 110*time.Second, got.HTTP.WriteTimeout)
		require.Equal(t, "op_env", got.HTTP.OperatorKey)
	})

	t.Run("ok, no file", func(t *testing.T) {
		setupEnviron(t, map[string]string{
			"SOLANA_NETWORK": "mainnet",
		})

		got, err := config.LoadFile("")
		require.NoError(t, err)
		require.Equal(t, types.NetworkSolanaMainnet, got.Network)
		require.Equal(t, types.DefaultConfirmationPolicy(), got.Confirmation)
		require.Equal(t, 110*time.Second, got.HTTP.WriteTimeout)
	})

	t.Run("fail, yaml references unset variable", func(t *testing.T) {
		_, err := config.LoadFile("./testdata/config.yaml")
		require.Error(t, err)
		require.Contains(t, err.Error(), "TEST_MERCHANT_WALLET")
	})

	t.Run("fail, missing file", func(t *testing.T) {
		_, err := config.LoadFile(filepath.Join(t.TempDir(), "nope.yaml"))
		require.Error(t, err)
	})

	t.Run("fail, bad environment values", func(t *testing.T) {
		setupEnviron(t, map[string]string{
			"SOLANA_NETWORK":             "testnet",
			"SOLANA_STRICT_VERIFICATION": "maybe",
			"SOLANA_RPC_TIMEOUT":         "soon",
		})

		_, err := config.LoadFile("")
		require.Error(t, err)
		require.Contains(t, err.Error(), "SOLANA_NETWORK")
		require.Contains(t, err.Error(), "SOLANA_STRICT_VERIFICATION")
		require.Contains(t, err.Error(), "SOLANA_RPC_TIMEOUT")
	})
}

func TestIsValid(t *testing.T) {
	tests := map[string]struct {
		mutate  func(cfg *config.Config)
		wantErr string
	}{
		"ok, defaults": {
			mutate: func(cfg *config.Config) {},
		},
		"fail, unknown log level": {
			mutate:  func(cfg *config.Config) { cfg.LogLevel = "trace" },
			wantErr: "LogLevel",
		},
		"fail, rpc url": {
			mutate:  func(cfg *config.Config) { cfg.RPCUrl = "not a url" },
			wantErr: "RPCUrl",
		},
		"fail, empty http addr": {
			mutate:  func(cfg *config.Config) { cfg.HTTP.Addr = "" },
			wantErr: "Addr",
		},
		"fail, two key sources": {
			mutate: func(cfg *config.Config) {
				cfg.MerchantPrivateKey = "key"
				cfg.MerchantKeyFile = "id.json"
			},
			wantErr: "mutually exclusive",
		},
		"fail, malformed wallet": {
			mutate:  func(cfg *config.Config) { cfg.MerchantUSDTWallet = "0xdeadbeef" },
			wantErr: "merchant USDT wallet",
		},
		"ok, write timeout covers authorization": {
			mutate: func(cfg *config.Config) { cfg.HTTP.WriteTimeout = 105 * time.Second },
		},
		"fail, write timeout shorter than authorization": {
			mutate:  func(cfg *config.Config) { cfg.HTTP.WriteTimeout = 90 * time.Second },
			wantErr: "http.writeTimeout 1m30s is shorter than the 1m45s",
		},
		"fail, write timeout ignores longer confirmation wait": {
			mutate: func(cfg *config.Config) {
				cfg.HTTP.WriteTimeout = 2 * time.Minute
				cfg.Confirmation.MaxElapsed = 5 * time.Minute
			},
			wantErr: "http.writeTimeout",
		},
		"fail, interval bounds inverted": {
			mutate: func(cfg *config.Config) {
				cfg.Confirmation.InitialInterval = 10 * time.Second
				cfg.Confirmation.MaxInterval = time.Second
			},
			wantErr: "exceeds maxInterval",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(cfg)

			err := cfg.IsValid()
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.True(t, types.IsCode(err, types.ErrConfigError))
			require.Contains(t, err.Error(), tc.wantErr)
		})
	}

	t.Run("ok, network alias normalized", func(t *testing.T) {
		cfg := config.Default()
		cfg.Network = "mainnet-beta"
		require.NoError(t, cfg.IsValid())
		require.Equal(t, types.NetworkSolanaMainnet, cfg.Network)
	})

	t.Run("ok, write timeout derived from budget", func(t *testing.T) {
		cfg := config.Default()
		cfg.RPCTimeout = 0
		cfg.Confirmation.MaxElapsed = 2 * time.Minute
		require.NoError(t, cfg.IsValid())
		require.Equal(t, 165*time.Second, cfg.AuthorizeBudget())
		require.Greater(t, cfg.HTTP.WriteTimeout, cfg.AuthorizeBudget())
	})

	t.Run("fail, unknown network", func(t *testing.T) {
		cfg := config.Default()
		cfg.Network = "solana-testnet"
		err := cfg.IsValid()
		require.True(t, types.IsCode(err, types.ErrUnsupportedNetwork))
	})
}

func TestMergeYAML(t *testing.T) {
	type testConfig struct {
		StringVal string        `yaml:"string_val"`
		Timeout   time.Duration `yaml:"timeout"`
	}

	tests := map[string]struct {
		environ map[string]string
		yamlSrc string
		want    *testConfig
	}{
		"ok, no yaml": {
			want: &testConfig{StringVal: "a", Timeout: time.Second},
		},
		"ok, yaml overrides defaults": {
			yamlSrc: "string_val: b\ntimeout: 3s\n",
			want:    &testConfig{StringVal: "b", Timeout: 3 * time.Second},
		},
		"ok, expand environment variable": {
			yamlSrc: "string_val: ${STRING_VAL}\n",
			environ: map[string]string{"STRING_VAL": "c"},
			want:    &testConfig{StringVal: "c", Timeout: time.Second},
		},
		"ok, default value for unset variable": {
			yamlSrc: "string_val: ${STRING_VAL:-d}\ntimeout: ${STABLEPAY_TEST_TIMEOUT:-5s}\n",
			want:    &testConfig{StringVal: "d", Timeout: 5 * time.Second},
		},
		"ok, set variable wins over default": {
			yamlSrc: "string_val: ${STRING_VAL:-d}\n",
			environ: map[string]string{"STRING_VAL": "e"},
			want:    &testConfig{StringVal: "e", Timeout: time.Second},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			// shares the process environment, so not parallel.
			setupEnviron(t, tc.environ)

			got := &testConfig{StringVal: "a", Timeout: time.Second}
			err := config.MergeYAML(got, strings.NewReader(tc.yamlSrc))
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}

	t.Run("fail, environment variable missing", func(t *testing.T) {
		got := &testConfig{}
		err := config.MergeYAML(got, strings.NewReader("string_val: $MISSING_STRING_VAL\n"))
		require.Error(t, err)
		require.Contains(t, err.Error(), "MISSING_STRING_VAL")
	})
}

func TestMergeEnv(t *testing.T) {
	type testConfig struct {
		Enabled bool
	}

	t.Run("fail, required variable missing", func(t *testing.T) {
		mappings := map[string]config.EnvMapping[testConfig]{
			"STABLEPAY_TEST_REQUIRED": {
				Required: true,
				Func:     func(cfg *testConfig, val string) error { return nil },
			},
		}
		err := config.MergeEnv(&testConfig{}, mappings)
		require.Error(t, err)
		require.Contains(t, err.Error(), "STABLEPAY_TEST_REQUIRED")
	})

	t.Run("fail, mapping errors are joined", func(t *testing.T) {
		mapErr := errors.New("mapping failed")
		mappings := map[string]config.EnvMapping[testConfig]{
			"STABLEPAY_TEST_A": {Func: func(cfg *testConfig, val string) error { return mapErr }},
			"STABLEPAY_TEST_B": {Func: func(cfg *testConfig, val string) error {
				return config.MapEnvBool(&cfg.Enabled, val)
			}},
		}
		setupEnviron(t, map[string]string{
			"STABLEPAY_TEST_A": "x",
			"STABLEPAY_TEST_B": "not-bool",
		})

		err := config.MergeEnv(&testConfig{}, mappings)
		require.ErrorIs(t, err, mapErr)
		require.Contains(t, err.Error(), "STABLEPAY_TEST_B")
	})

	t.Run("ok, bool mapping", func(t *testing.T) {
		setupEnviron(t, map[string]string{"STABLEPAY_TEST_B": "true"})
		got := &testConfig{}
		err := config.MergeEnv(got, map[string]config.EnvMapping[testConfig]{
			"STABLEPAY_TEST_B": {Func: func(cfg *testConfig, val string) error {
				return config.MapEnvBool(&cfg.Enabled, val)
			}},
		})
		require.NoError(t, err)
		require.True(t, got.Enabled)
	})
}

func TestFilenameFromArgs(t *testing.T) {
	got, err := config.FilenameFromArgs(nil)
	require.NoError(t, err)
	require.Empty(t, got)

	got, err = config.FilenameFromArgs([]string{"-config", "testdata/config.yaml"})
	require.NoError(t, err)
	require.True(t, filepath.IsAbs(got))
	require.Equal(t, "config.yaml", filepath.Base(got))

	_, err = config.FilenameFromArgs([]string{"-unknown"})
	require.Error(t, err)
}

func setupEnviron(t *testing.T, environ map[string]string) {
	for key, val := range environ {
		t.Setenv(key, val)
		t.Cleanup(func() {
			require.NoError(t, os.Unsetenv(key))
		})
	}
}
