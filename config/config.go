// Package config loads stablepay process configuration from YAML and the
// environment.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/vitwit/stablepay/clients"
	"github.com/vitwit/stablepay/types"
	"github.com/vitwit/stablepay/utils"
	"gopkg.in/yaml.v3"
)

// Validator can optionally be implemented by configuration to do cross-field
// validation and/or app-specific checks.
type Validator interface {
	IsValid() error
}

// Config is the full process configuration.
type Config struct {
	types.ProviderConfig `yaml:",inline"`

	LogLevel      string     `yaml:"logLevel" validate:"omitempty,oneof=debug info warn error"`
	EnableMetrics bool       `yaml:"enableMetrics"`
	HTTP          HTTPConfig `yaml:"http"`
}

type HTTPConfig struct {
	Addr              string        `yaml:"addr" validate:"required"`
	ReadHeaderTimeout time.Duration `yaml:"readHeaderTimeout" validate:"gte=0"`
	// WriteTimeout must cover a full confirmation wait. Zero derives it
	// from the RPC timeout and the confirmation budget.
	WriteTimeout time.Duration `yaml:"writeTimeout" validate:"gte=0"`

	// OperatorKey enables session creation over HTTP; empty disables it.
	OperatorKey string `yaml:"operatorKey"`
}

// Default returns a devnet configuration with no merchant material.
func Default() *Config {
	return &Config{
		ProviderConfig: types.ProviderConfig{
			Network:      types.NetworkSolanaDevnet,
			RPCTimeout:   15 * time.Second,
			Confirmation: types.DefaultConfirmationPolicy(),
		},
		LogLevel: "info",
		HTTP: HTTPConfig{
			Addr:              ":9000",
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// writeSlack is added to the authorization budget when deriving WriteTimeout.
const writeSlack = 5 * time.Second

// AuthorizeBudget is the longest an authorization request may run: the
// checkpoint and submit round trips, the confirmation wait, and one status
// poll started just before the wait expires.
func (c *Config) AuthorizeBudget() time.Duration {
	rpcTimeout := c.RPCTimeout
	if rpcTimeout <= 0 {
		rpcTimeout = clients.DefaultRPCTimeout
	}
	return 3*rpcTimeout + c.Confirmation.WithDefaults().MaxElapsed
}

// IsValid normalizes the network name and checks the configuration.
func (c *Config) IsValid() error {
	network, err := types.ParseNetwork(string(c.Network))
	if err != nil {
		return err
	}
	c.Network = network

	if err := utils.Validator().Struct(c); err != nil {
		return types.WrapError(types.ErrConfigError, err, "invalid configuration")
	}

	var errs error
	if c.MerchantPrivateKey != "" && c.MerchantKeyFile != "" {
		errs = errors.Join(errs, errors.New("merchantPrivateKey and merchantKeypairFile are mutually exclusive"))
	}
	for token, wallet := range map[types.TokenType]string{
		types.TokenUSDC: c.MerchantUSDCWallet,
		types.TokenUSDT: c.MerchantUSDTWallet,
	} {
		if wallet == "" {
			continue
		}
		if err := utils.ValidateSolanaAddress(wallet); err != nil {
			errs = errors.Join(errs, fmt.Errorf("merchant %s wallet: %w", token, err))
		}
	}
	c.Confirmation = c.Confirmation.WithDefaults()
	if c.Confirmation.InitialInterval > c.Confirmation.MaxInterval {
		errs = errors.Join(errs, fmt.Errorf("confirmation.initialInterval %s exceeds maxInterval %s",
			c.Confirmation.InitialInterval, c.Confirmation.MaxInterval))
	}
	budget := c.AuthorizeBudget()
	switch {
	case c.HTTP.WriteTimeout == 0:
		c.HTTP.WriteTimeout = budget + writeSlack
	case c.HTTP.WriteTimeout < budget:
		errs = errors.Join(errs, fmt.Errorf("http.writeTimeout %s is shorter than the %s an authorization may take",
			c.HTTP.WriteTimeout, budget))
	}
	if errs != nil {
		return types.WrapError(types.ErrConfigError, errs, "invalid configuration")
	}
	return nil
}

// EnvMappings returns the environment variables understood by stablepay.
func EnvMappings() map[string]EnvMapping[Config] {
	str := func(field func(*Config) *string) EnvMapping[Config] {
		return EnvMapping[Config]{Func: func(cfg *Config, val string) error {
			*field(cfg) = val
			return nil
		}}
	}

	return map[string]EnvMapping[Config]{
		"SOLANA_NETWORK": {Func: func(cfg *Config, val string) error {
			network, err := types.ParseNetwork(val)
			if err != nil {
				return err
			}
			cfg.Network = network
			return nil
		}},
		"SOLANA_RPC_URL":              str(func(c *Config) *string { return &c.RPCUrl }),
		"SOLANA_MERCHANT_USDC_WALLET": str(func(c *Config) *string { return &c.MerchantUSDCWallet }),
		"SOLANA_MERCHANT_USDT_WALLET": str(func(c *Config) *string { return &c.MerchantUSDTWallet }),
		"SOLANA_MERCHANT_PRIVATE_KEY": str(func(c *Config) *string { return &c.MerchantPrivateKey }),
		"SOLANA_MERCHANT_KEYPAIR":     str(func(c *Config) *string { return &c.MerchantKeyFile }),
		"SOLANA_PUBLISHABLE_KEY":      str(func(c *Config) *string { return &c.PublishableKey }),
		"SOLANA_WEBHOOK_SECRET":       str(func(c *Config) *string { return &c.WebhookSecret }),
		"SOLANA_RPC_TIMEOUT": {Func: func(cfg *Config, val string) error {
			return MapEnvDuration(&cfg.RPCTimeout, val)
		}},
		"SOLANA_STRICT_VERIFICATION": {Func: func(cfg *Config, val string) error {
			return MapEnvBool(&cfg.StrictVerification, val)
		}},
		"LOG_LEVEL": str(func(c *Config) *string { return &c.LogLevel }),
		"ENABLE_METRICS": {Func: func(cfg *Config, val string) error {
			return MapEnvBool(&cfg.EnableMetrics, val)
		}},
		"HTTP_ADDR":              str(func(c *Config) *string { return &c.HTTP.Addr }),
		"STABLEPAY_OPERATOR_KEY": str(func(c *Config) *string { return &c.HTTP.OperatorKey }),
	}
}

// LoadFile loads Default, then the YAML file at path (optional), then the
// environment, and validates the result.
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	if err := Load(cfg, path, EnvMappings()); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Load fills cfg by:
// 1. Merging in the given YAML file using MergeYAML.
// 2. Merging in the environment using MergeEnv.
// 3. Calling IsValid on cfg if *T implements the Validator interface.
func Load[T any](cfg *T, yamlFilePath string, envMappings map[string]EnvMapping[T]) error {
	if yamlFilePath != "" {
		yamlFile, err := os.Open(yamlFilePath)
		if err != nil {
			return fmt.Errorf("failed to open YAML file: %w", err)
		}
		defer yamlFile.Close()

		err = MergeYAML(cfg, io.Reader(yamlFile))
		if err != nil {
			return err
		}
	}

	err := MergeEnv(cfg, envMappings)
	if err != nil {
		return err
	}

	validator, ok := any(cfg).(Validator)
	if ok {
		err = validator.IsValid()
		if err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}

	return nil
}

// MergeYAML merges the provided YAML data into cfg after expanding
// environment variables. `${VAR}` must be set; `${VAR:-default}` falls back
// to default when VAR is unset.
func MergeYAML[T any](cfg *T, yamlSrc io.Reader) error {
	rawYAML, err := io.ReadAll(yamlSrc)
	if err != nil {
		return fmt.Errorf("failed to read the YAML source: %w", err)
	}

	missingKeys := []string{}

	expanded := os.Expand(string(rawYAML), func(rawKey string) string {
		if i := strings.Index(rawKey, ":-"); i != -1 {
			name, defaultVal := rawKey[:i], rawKey[i+2:]
			if val, isSet := os.LookupEnv(name); isSet {
				return val
			}
			return defaultVal
		}

		val, isSet := os.LookupEnv(rawKey)
		if !isSet {
			missingKeys = append(missingKeys, rawKey)
			return ""
		}
		return val
	})

	if len(missingKeys) > 0 {
		return fmt.Errorf("YAML source expects the following environment variables to be set: %v", missingKeys)
	}

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("failed to unmarshal YAML to config: %w", err)
	}
	return nil
}

// EnvMapping maps an environment variable onto the config. Required
// mappings fail when the variable is unset.
type EnvMapping[T any] struct {
	Required bool
	Func     func(cfg *T, val string) error
}

// MergeEnv applies every mapping whose variable is set and collects all errors.
func MergeEnv[T any](cfg *T, mappings map[string]EnvMapping[T]) error {
	var errs error

	for key, mapping := range mappings {
		val, isSet := os.LookupEnv(key)
		if !isSet {
			if mapping.Required {
				errs = errors.Join(errs, fmt.Errorf("missing required env variable %s", key))
			}
			continue
		}
		if err := mapping.Func(cfg, val); err != nil {
			errs = errors.Join(errs, fmt.Errorf("error for env variable %s: %w", key, err))
		}
	}

	return errs
}

func MapEnvBool(tgt *bool, val string) error {
	b, err := strconv.ParseBool(val)
	if err != nil {
		return err
	}
	*tgt = b
	return nil
}

func MapEnvDuration(tgt *time.Duration, val string) error {
	d, err := time.ParseDuration(val)
	if err != nil {
		return err
	}
	*tgt = d
	return nil
}

// FilenameFromArgs parses the -config flag. An empty flag means no file.
func FilenameFromArgs(args []string) (string, error) {
	fs := flag.NewFlagSet("stablepay", flag.ContinueOnError)
	configPathFlag := fs.String("config", "", "path to config file")
	if err := fs.Parse(args); err != nil {
		return "", err
	}
	if *configPathFlag == "" {
		return "", nil
	}

	cp, err := filepath.Abs(*configPathFlag)
	if err != nil {
		return "", fmt.Errorf("invalid config path: %w", err)
	}
	return cp, nil
}
