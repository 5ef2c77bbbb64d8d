// Copyright (c) 2024 DLP Protocol
// This is an alpha (internal) release and is not suitable for production. This source code is provided 'as is' and no
// warranties are given as to title or non-infringement, merchantability or fitness for purpose and, to the extent
// permitted by law, all liability for your use of the code is disclaimed. This source code is governed by Apache
// License 2.0 that can be found in the LICENSE file.

package config

import (
	"math/big"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	uconfig "go.uber.org/config"

	"github.com/dlp-protocol/dlp-core/pkg/log"
	"github.com/dlp-protocol/dlp-core/pkg/unit"
)

// IMPORTANT: to define a config, add a field or a new config type to the existing config types. In addition, provide
// the default value in Default var.

var (
	// Default is the default config
	Default = Config{
		SubLogs: make(map[string]log.GlobalConfig),
		Engine: Engine{
			Maintainers:         []string{},
			BaseAsset:           "0x0000000000000000000000000000000000000000",
			TreasuryPoolAddress: "0x0000000000000000000000000000000000000000",
			SparePoolAddress:    "0x0000000000000000000000000000000000000000",
		},
		Registry: Registry{
			MinDepositAmount: "100000000000000000000",
		},
		Epoch: Epoch{
			EpochLength:        21600,
			RewardPoolPerEpoch: "1000000000000000000000",
			RoundingTolerance:  "1000000000",
		},
		Performance: Performance{
			RewardPercentage: "600000000000000000",
		},
		Deployer: Deployer{
			NumTranches:           3,
			RewardPercentage:      "800000000000000000",
			MaxSlippagePercentage: "10000000000000000",
		},
		DB: DB{
			DbPath:     "/var/data/dlp.db",
			NumRetries: 3,
		},
		Log: log.GlobalConfig{},
	}

	// ErrInvalidCfg indicates the invalid config value
	ErrInvalidCfg = errors.New("invalid config value")

	// Validates is the collection of config validation functions
	Validates = []Validate{
		ValidateEngine,
		ValidateRegistry,
		ValidateEpoch,
		ValidatePerformance,
		ValidateDeployer,
	}
)

type (
	// Engine is the config struct for the engine facade
	Engine struct {
		// Maintainers are the hex addresses allowed to call maintainer operations
		Maintainers         []string `yaml:"maintainers"`
		BaseAsset           string   `yaml:"baseAsset"`
		TreasuryPoolAddress string   `yaml:"treasuryPoolAddress"`
		SparePoolAddress    string   `yaml:"sparePoolAddress"`
	}

	// Registry is the config struct for the DLP registry
	Registry struct {
		MinDepositAmount string `yaml:"minDepositAmount"`
	}

	// Epoch is the config struct for the epoch manager
	Epoch struct {
		EpochLength        uint64 `yaml:"epochLength"`
		RewardPoolPerEpoch string `yaml:"rewardPoolPerEpoch"`
		RoundingTolerance  string `yaml:"roundingTolerance"`
	}

	// Performance is the config struct for the performance tracker
	Performance struct {
		RewardPercentage string `yaml:"rewardPercentage"`
	}

	// Deployer is the config struct for the reward deployer
	Deployer struct {
		NumTranches           uint64 `yaml:"numTranches"`
		RewardPercentage      string `yaml:"rewardPercentage"`
		MaxSlippagePercentage string `yaml:"maxSlippagePercentage"`
	}

	// DB is the config struct for the db package
	DB struct {
		DbPath string `yaml:"dbPath"`
		// NumRetries is the number of retries of a failed db write
		NumRetries uint8 `yaml:"numRetries"`
	}

	// Config is the root config struct
	Config struct {
		Engine      Engine                      `yaml:"engine"`
		Registry    Registry                    `yaml:"registry"`
		Epoch       Epoch                       `yaml:"epoch"`
		Performance Performance                 `yaml:"performance"`
		Deployer    Deployer                    `yaml:"deployer"`
		DB          DB                          `yaml:"db"`
		Log         log.GlobalConfig            `yaml:"log"`
		SubLogs     map[string]log.GlobalConfig `yaml:"subLogs"`
	}

	// Validate is the interface of validating the config
	Validate func(Config) error
)

// New creates a config instance. It first loads the default configs. If config paths are given, it will read from
// the files and override the default configs. By default, it will apply all validation functions. To bypass
// validation, use DoNotValidate instead.
func New(configPaths []string, validates ...Validate) (Config, error) {
	opts := make([]uconfig.YAMLOption, 0)
	opts = append(opts, uconfig.Static(Default))
	opts = append(opts, uconfig.Expand(os.LookupEnv))
	for _, path := range configPaths {
		if path != "" {
			opts = append(opts, uconfig.File(path))
		}
	}
	yaml, err := uconfig.NewYAML(opts...)
	if err != nil {
		return Config{}, errors.Wrap(err, "failed to init config")
	}

	var cfg Config
	if err := yaml.Get(uconfig.Root).Populate(&cfg); err != nil {
		return Config{}, errors.Wrap(err, "failed to unmarshal YAML config to struct")
	}

	// By default, the config needs to pass all the validation
	if len(validates) == 0 {
		validates = Validates
	}
	for _, validate := range validates {
		if err := validate(cfg); err != nil {
			return Config{}, errors.Wrap(err, "failed to validate config")
		}
	}
	return cfg, nil
}

// ParseAmount decodes a decimal wei amount from the config
func ParseAmount(s string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(s, 10)
	if !ok || amount.Sign() < 0 {
		return nil, errors.Wrapf(ErrInvalidCfg, "invalid amount %s", s)
	}
	return amount, nil
}

// ValidateEngine validates the engine addresses
func ValidateEngine(cfg Config) error {
	for _, addr := range cfg.Engine.Maintainers {
		if !common.IsHexAddress(addr) {
			return errors.Wrapf(ErrInvalidCfg, "invalid maintainer address %s", addr)
		}
	}
	for _, addr := range []string{
		cfg.Engine.BaseAsset,
		cfg.Engine.TreasuryPoolAddress,
		cfg.Engine.SparePoolAddress,
	} {
		if !common.IsHexAddress(addr) {
			return errors.Wrapf(ErrInvalidCfg, "invalid address %s", addr)
		}
	}
	return nil
}

// ValidateRegistry validates the registry config
func ValidateRegistry(cfg Config) error {
	deposit, err := ParseAmount(cfg.Registry.MinDepositAmount)
	if err != nil {
		return err
	}
	if deposit.Sign() <= 0 {
		return errors.Wrap(ErrInvalidCfg, "minimum deposit amount must be positive")
	}
	return nil
}

// ValidateEpoch validates the epoch config
func ValidateEpoch(cfg Config) error {
	if cfg.Epoch.EpochLength == 0 {
		return errors.Wrap(ErrInvalidCfg, "epoch length must be positive")
	}
	pool, err := ParseAmount(cfg.Epoch.RewardPoolPerEpoch)
	if err != nil {
		return err
	}
	if pool.Sign() <= 0 {
		return errors.Wrap(ErrInvalidCfg, "reward pool per epoch must be positive")
	}
	if _, err := ParseAmount(cfg.Epoch.RoundingTolerance); err != nil {
		return err
	}
	return nil
}

// ValidatePerformance validates the performance tracker config
func ValidatePerformance(cfg Config) error {
	pct, err := ParseAmount(cfg.Performance.RewardPercentage)
	if err != nil {
		return err
	}
	if !unit.ValidPercentage(pct) {
		return errors.Wrapf(ErrInvalidCfg, "reward percentage %s out of range", cfg.Performance.RewardPercentage)
	}
	return nil
}

// ValidateDeployer validates the deployer config
func ValidateDeployer(cfg Config) error {
	if cfg.Deployer.NumTranches == 0 {
		return errors.Wrap(ErrInvalidCfg, "number of tranches must be positive")
	}
	pct, err := ParseAmount(cfg.Deployer.RewardPercentage)
	if err != nil {
		return err
	}
	if !unit.ValidPercentage(pct) {
		return errors.Wrapf(ErrInvalidCfg, "reward percentage %s out of range", cfg.Deployer.RewardPercentage)
	}
	slippage, err := ParseAmount(cfg.Deployer.MaxSlippagePercentage)
	if err != nil {
		return err
	}
	if !unit.ValidPercentage(slippage) {
		return errors.Wrapf(ErrInvalidCfg, "max slippage percentage %s out of range", cfg.Deployer.MaxSlippagePercentage)
	}
	return nil
}

// DoNotValidate validates nothing
func DoNotValidate(Config) error { return nil }
