package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/Ghost-Capital/lendex-catalyst/internal/apperr"
)

var ErrInvalidConfig = apperr.Configuration("InvalidConfig", "required configuration is missing")

// DeploymentConfig represents deployments.json.
type DeploymentConfig struct {
	ChainID   int64 `json:"chainId"`
	Contracts struct {
		Lendex string `json:"Lendex"`
	} `json:"contracts"`
	Cardano struct {
		Network       string `json:"network"`
		Namespace     string `json:"namespace"`
		Nonce         string `json:"nonce"`
		BorrowScript  string `json:"borrowScript"`
		BlueprintPath string `json:"blueprintPath"`
		LockAddress   string `json:"lockAddress"`
	} `json:"cardano"`
}

// AppConfig ties together deployment info and environment overrides.
type AppConfig struct {
	Deployment DeploymentConfig
	Service    ServiceConfig
	Chain      ChainConfig
	Oracle     OracleConfig
	Cardano    CardanoConfig
}

type ServiceConfig struct {
	HTTPPort             int
	HMACSecret           string
	HMACClockSkew        time.Duration
	IdempotencyWindow    time.Duration
	IdempotencyStorePath string
	DatabaseURL          string
	LogFormat            string
	LogLevel             string
}

type ChainConfig struct {
	RPCURL        string
	PrivateKey    string
	LendexAddress string
	// HolderAddress is recorded as custodian when the escrow runs in process.
	HolderAddress string
}

// OracleConfig carries the bridge secrets. ContractAddress is the lock
// address on the UTxO ledger.
type OracleConfig struct {
	Enabled         bool
	APIKey          string
	APIURL          string
	ContractAddress string
}

type CardanoConfig struct {
	Enabled       bool
	BlockfrostURL string
	ProjectID     string
	Network       string
	Namespace     string
	// Nonce parameterizes the minting policy. It is not needed when the
	// blueprint or BorrowScript already carries the applied policy.
	Nonce string
	// BorrowScript is hex compiled code of the applied minting policy.
	BorrowScript    string
	BlueprintPath   string
	WalletSignerURL string
	MinUTxO         int64
	PollInterval    time.Duration
}

const defaultDeploymentsPath = "deployments.json"

// Load aggregates configuration from disk and environment. A missing
// deployments file is allowed; everything can come from the environment.
func Load() (*AppConfig, error) {
	deploymentsPath := envOr("DEPLOYMENTS_PATH", defaultDeploymentsPath)

	deployCfg, err := loadDeployments(deploymentsPath)
	if err != nil {
		return nil, fmt.Errorf("load deployments: %w", err)
	}

	serviceCfg := ServiceConfig{
		HTTPPort:             envOrInt("API_HTTP_PORT", 3000),
		HMACSecret:           envOr("HMAC_SECRET", ""),
		HMACClockSkew:        time.Duration(envOrInt("HMAC_CLOCK_SKEW_SECONDS", 60)) * time.Second,
		IdempotencyWindow:    envOrDuration("IDEMPOTENCY_WINDOW", 24*time.Hour),
		IdempotencyStorePath: envOr("IDEMPOTENCY_STORE_PATH", filepath.Join(os.TempDir(), "lendex-idem.json")),
		DatabaseURL:          envOr("DATABASE_URL", ""),
		LogFormat:            envOr("LOG_FORMAT", "text"),
		LogLevel:             envOr("LOG_LEVEL", "info"),
	}

	chainCfg := ChainConfig{
		RPCURL:        envOr("CHAIN_RPC_URL", ""),
		PrivateKey:    envOr("CHAIN_PRIVATE_KEY", ""),
		LendexAddress: envOr("LENDEX_CONTRACT_ADDRESS", deployCfg.Contracts.Lendex),
		HolderAddress: envOr("ESCROW_HOLDER_ADDRESS", deployCfg.Contracts.Lendex),
	}

	cardanoCfg := CardanoConfig{
		Enabled:         envOrBool("CARDANO_ENABLED", false),
		BlockfrostURL:   envOr("BLOCKFROST_URL", "https://cardano-preview.blockfrost.io/api/v0"),
		ProjectID:       envOr("BLOCKFROST_PROJECT_ID", ""),
		Network:         envOr("CARDANO_NETWORK", orDefault(deployCfg.Cardano.Network, "preview")),
		Namespace:       envOr("LENDEX_NAMESPACE", orDefault(deployCfg.Cardano.Namespace, "lendex")),
		Nonce:           envOr("LENDEX_NONCE", deployCfg.Cardano.Nonce),
		BorrowScript:    envOr("LENDEX_BORROW_SCRIPT", deployCfg.Cardano.BorrowScript),
		BlueprintPath:   envOr("PLUTUS_BLUEPRINT_PATH", orDefault(deployCfg.Cardano.BlueprintPath, "plutus.json")),
		WalletSignerURL: envOr("WALLET_SIGNER_URL", ""),
		MinUTxO:         int64(envOrInt("CARDANO_MIN_UTXO", 1_500_000)),
		PollInterval:    envOrDuration("CARDANO_POLL_INTERVAL", 5*time.Second),
	}

	oracleCfg := OracleConfig{
		Enabled:         envOrBool("ORACLE_ENABLED", false),
		APIKey:          envOr("ORACLE_API_KEY", cardanoCfg.ProjectID),
		APIURL:          envOr("ORACLE_API_URL", cardanoCfg.BlockfrostURL),
		ContractAddress: envOr("ORACLE_CONTRACT_ADDRESS", deployCfg.Cardano.LockAddress),
	}

	return &AppConfig{
		Deployment: *deployCfg,
		Service:    serviceCfg,
		Chain:      chainCfg,
		Oracle:     oracleCfg,
		Cardano:    cardanoCfg,
	}, nil
}

// Validate lists every missing field of the enabled components at once.
func (c *AppConfig) Validate() error {
	var missing []string
	need := func(ok bool, name string) {
		if !ok {
			missing = append(missing, name)
		}
	}

	need(c.Service.HTTPPort > 0, "API_HTTP_PORT")
	need(c.Service.HMACSecret != "", "HMAC_SECRET")

	if c.Chain.PrivateKey != "" {
		need(c.Chain.RPCURL != "", "CHAIN_RPC_URL")
		need(c.Chain.LendexAddress != "", "LENDEX_CONTRACT_ADDRESS")
	}

	if c.Cardano.Enabled {
		need(c.Cardano.BlockfrostURL != "", "BLOCKFROST_URL")
		need(c.Cardano.ProjectID != "", "BLOCKFROST_PROJECT_ID")
		need(c.Cardano.BlueprintPath != "", "PLUTUS_BLUEPRINT_PATH")
		need(c.Cardano.WalletSignerURL != "", "WALLET_SIGNER_URL")
	}

	if c.Oracle.Enabled {
		need(c.Oracle.APIKey != "", "ORACLE_API_KEY")
		need(c.Oracle.APIURL != "", "ORACLE_API_URL")
		// the lock address can be derived from the validators instead
		need(c.Oracle.ContractAddress != "" || c.Cardano.Enabled, "ORACLE_CONTRACT_ADDRESS")
	}

	if len(missing) > 0 {
		return ErrInvalidConfig.Withf("missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// Mainnet reports whether the configured Cardano network is mainnet.
func (c CardanoConfig) Mainnet() bool {
	return strings.EqualFold(c.Network, "mainnet")
}

func loadDeployments(path string) (*DeploymentConfig, error) {
	var cfg DeploymentConfig
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func envOr(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		return val
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		var parsed int
		if _, err := fmt.Sscanf(val, "%d", &parsed); err == nil {
			return parsed
		}
	}
	return fallback
}

func envOrBool(key string, fallback bool) bool {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		if parsed, err := strconv.ParseBool(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func envOrDuration(key string, fallback time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok && val != "" {
		if parsed, err := time.ParseDuration(val); err == nil {
			return parsed
		}
	}
	return fallback
}

func orDefault(val, fallback string) string {
	if val == "" {
		return fallback
	}
	return val
}
