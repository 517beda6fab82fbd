// Package config loads the keeper's boot-time configuration: open ->
// decode -> normalize() -> validate(). The file extension selects the
// decoder: .json via encoding/json (the canonical format), .yaml/.yml via
// gopkg.in/yaml.v3.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so config files can spell delays as "10m"
// (JSON and YAML) instead of raw nanosecond integers.
type Duration time.Duration

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d *Duration) UnmarshalJSON(data []byte) error {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := parseDurationValue(raw)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw any
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := parseDurationValue(raw)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func parseDurationValue(raw any) (time.Duration, error) {
	switch v := raw.(type) {
	case string:
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("config: invalid duration %q: %w", v, err)
		}
		return parsed, nil
	case float64:
		return time.Duration(v), nil
	case int:
		return time.Duration(v), nil
	default:
		return 0, fmt.Errorf("config: unsupported duration value %v", raw)
	}
}

// LiquiditySource enumerates the take engine's supported external DEX
// targets.
type LiquiditySource string

const (
	SourceOneInch    LiquiditySource = "OneInch"
	SourceUniswapV3  LiquiditySource = "UniswapV3"
	SourceSushiSwap  LiquiditySource = "SushiSwap"
	SourceCurve      LiquiditySource = "Curve"
)

// RewardSide enumerates which side of a bucket to redeem first.
type RewardSide string

const (
	RedeemQuote      RewardSide = "Quote"
	RedeemCollateral RewardSide = "Collateral"
)

// RewardActionKind tags the two reward-action variants.
type RewardActionKind string

const (
	ActionTransfer RewardActionKind = "Transfer"
	ActionExchange RewardActionKind = "Exchange"
)

// RewardAction is a tagged variant: Transfer{to} or
// Exchange{target_token, slippage, dex_provider, fee_tier?}.
type RewardAction struct {
	Kind         RewardActionKind `json:"kind" yaml:"kind"`
	To           string           `json:"to,omitempty" yaml:"to,omitempty"`
	TargetToken  string           `json:"target_token,omitempty" yaml:"target_token,omitempty"`
	Slippage     float64          `json:"slippage,omitempty" yaml:"slippage,omitempty"`
	DEXProvider  LiquiditySource  `json:"dex_provider,omitempty" yaml:"dex_provider,omitempty"`
	FeeTier      *uint32          `json:"fee_tier,omitempty" yaml:"fee_tier,omitempty"`
}

// PriceSourceKind tags the Price Resolver's union.
type PriceSourceKind string

const (
	PriceFixed        PriceSourceKind = "Fixed"
	PriceOracle        PriceSourceKind = "Oracle"
	PricePoolInternal PriceSourceKind = "PoolInternal"
)

// PriceConfig configures one pool's reference price source.
type PriceConfig struct {
	Source    PriceSourceKind `json:"source" yaml:"source"`
	Value     *float64        `json:"value,omitempty" yaml:"value,omitempty"`
	Query     string          `json:"query,omitempty" yaml:"query,omitempty"`
	Reference string          `json:"reference,omitempty" yaml:"reference,omitempty"` // HPB|HTP|LUP|LLB
	Invert    bool            `json:"invert,omitempty" yaml:"invert,omitempty"`
}

// KickPolicy configures the Kick Engine for one pool.
type KickPolicy struct {
	MinDebt     float64 `json:"min_debt" yaml:"min_debt"`
	PriceFactor float64 `json:"price_factor" yaml:"price_factor"`
}

// TakePolicy configures the Take Engine for one pool.
type TakePolicy struct {
	MinCollateral     float64          `json:"min_collateral,omitempty" yaml:"min_collateral,omitempty"`
	HPBPriceFactor    *float64         `json:"hpb_price_factor,omitempty" yaml:"hpb_price_factor,omitempty"`
	LiquiditySource   *LiquiditySource `json:"liquidity_source,omitempty" yaml:"liquidity_source,omitempty"`
	MarketPriceFactor *float64         `json:"market_price_factor,omitempty" yaml:"market_price_factor,omitempty"`
}

// RewardPolicy configures the LP Reward Collector for one pool.
type RewardPolicy struct {
	RedeemFirst           RewardSide    `json:"redeem_first" yaml:"redeem_first"`
	MinAmountQuote        float64       `json:"min_amount_quote" yaml:"min_amount_quote"`
	MinAmountCollateral   float64       `json:"min_amount_collateral" yaml:"min_amount_collateral"`
	RewardActionQuote     *RewardAction `json:"reward_action_quote,omitempty" yaml:"reward_action_quote,omitempty"`
	RewardActionCollateral *RewardAction `json:"reward_action_collateral,omitempty" yaml:"reward_action_collateral,omitempty"`
}

// SettlementPolicy configures the Settlement Engine for one pool.
type SettlementPolicy struct {
	Enabled          bool          `json:"enabled" yaml:"enabled"`
	MinAuctionAge    Duration       `json:"min_auction_age" yaml:"min_auction_age"`
	MaxBucketDepth   uint64        `json:"max_bucket_depth" yaml:"max_bucket_depth"`
	MaxIterations    int           `json:"max_iterations" yaml:"max_iterations"`
	CheckBotIncentive bool         `json:"check_bot_incentive" yaml:"check_bot_incentive"`
}

// PoolConfig is the per-pool policy block.
type PoolConfig struct {
	Name            string            `json:"name" yaml:"name"`
	Address         string            `json:"address" yaml:"address"`
	Price           PriceConfig       `json:"price" yaml:"price"`
	Kick            *KickPolicy       `json:"kick,omitempty" yaml:"kick,omitempty"`
	Take            *TakePolicy       `json:"take,omitempty" yaml:"take,omitempty"`
	CollectBond     bool              `json:"collect_bond,omitempty" yaml:"collect_bond,omitempty"`
	CollectLPReward *RewardPolicy     `json:"collect_lp_reward,omitempty" yaml:"collect_lp_reward,omitempty"`
	Settlement      *SettlementPolicy `json:"settlement,omitempty" yaml:"settlement,omitempty"`
}

// DEXConfig groups per-DEX router overrides.
type DEXConfig struct {
	UniswapV3 *UniswapV3Config `json:"uniswap_v3,omitempty" yaml:"uniswap_v3,omitempty"`
	V3Fork    *V3ForkConfig    `json:"v3_fork,omitempty" yaml:"v3_fork,omitempty"`
	Curve     *CurveConfig     `json:"curve,omitempty" yaml:"curve,omitempty"`
}

type UniswapV3Config struct {
	Router          string  `json:"router" yaml:"router"`
	Factory         string  `json:"factory" yaml:"factory"`
	Quoter          string  `json:"quoter" yaml:"quoter"`
	Permit2         string  `json:"permit2" yaml:"permit2"`
	DefaultFeeTier  uint32  `json:"default_fee_tier" yaml:"default_fee_tier"`
	DefaultSlippage float64 `json:"default_slippage" yaml:"default_slippage"`
}

type V3ForkConfig struct {
	Router          string  `json:"router" yaml:"router"`
	Quoter          string  `json:"quoter" yaml:"quoter"`
	Factory         string  `json:"factory" yaml:"factory"`
	DefaultFeeTier  uint32  `json:"default_fee_tier" yaml:"default_fee_tier"`
	DefaultSlippage float64 `json:"default_slippage" yaml:"default_slippage"`
}

type CurvePoolType string

const (
	CurveStable CurvePoolType = "Stable"
	CurveCrypto CurvePoolType = "Crypto"
)

type CurvePoolConfig struct {
	Address  string        `json:"address" yaml:"address"`
	PoolType CurvePoolType `json:"pool_type" yaml:"pool_type"`
}

type CurveConfig struct {
	PoolConfigs     map[string]CurvePoolConfig `json:"pool_configs" yaml:"pool_configs"`
	DefaultSlippage float64                    `json:"default_slippage" yaml:"default_slippage"`
}

// Config is the top-level keeper configuration.
type Config struct {
	RPCURL              string            `json:"rpc_url" yaml:"rpc_url"`
	SubgraphURL         string            `json:"subgraph_url" yaml:"subgraph_url"`
	KeystorePath        string            `json:"keystore_path" yaml:"keystore_path"`
	DryRun              bool              `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`
	LogLevel            string            `json:"log_level,omitempty" yaml:"log_level,omitempty"`
	DelayBetweenRuns    Duration              `json:"delay_between_runs" yaml:"delay_between_runs"`
	DelayBetweenActions Duration              `json:"delay_between_actions" yaml:"delay_between_actions"`
	MulticallAddress    string            `json:"multicall_address,omitempty" yaml:"multicall_address,omitempty"`
	MulticallBlock      *uint64           `json:"multicall_block,omitempty" yaml:"multicall_block,omitempty"`
	OracleAPIKey        string            `json:"oracle_api_key,omitempty" yaml:"oracle_api_key,omitempty"`

	KeeperTaker        string            `json:"keeper_taker,omitempty" yaml:"keeper_taker,omitempty"`
	KeeperTakerFactory string            `json:"keeper_taker_factory,omitempty" yaml:"keeper_taker_factory,omitempty"`
	TakerContracts     map[string]string `json:"taker_contracts,omitempty" yaml:"taker_contracts,omitempty"`
	OneInchRouters     map[string]string `json:"one_inch_routers,omitempty" yaml:"one_inch_routers,omitempty"`

	TokenAddresses  map[string]string `json:"token_addresses,omitempty" yaml:"token_addresses,omitempty"`
	ConnectorTokens []string          `json:"connector_tokens,omitempty" yaml:"connector_tokens,omitempty"`
	WETHAddress     string            `json:"weth_address,omitempty" yaml:"weth_address,omitempty"`

	DEX DEXConfig `json:"dex,omitempty" yaml:"dex,omitempty"`

	Pools []PoolConfig `json:"pools" yaml:"pools"`

	// UseOneInchLegacy is the legacy reward-action shape. It is accepted
	// at the JSON/YAML level only so Load can reject it explicitly; the
	// canonical shape is RewardAction.DEXProvider.
	UseOneInchLegacy *bool `json:"use_one_inch,omitempty" yaml:"use_one_inch,omitempty"`

	MetricsPort int `json:"metrics_port,omitempty" yaml:"metrics_port,omitempty"`
}

// Load reads, decodes, normalizes, and validates the config at path.
func Load(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config: path required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := &Config{
		DelayBetweenRuns:    Duration(10 * time.Minute),
		DelayBetweenActions: Duration(1 * time.Second),
		MetricsPort:         9091,
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: decode yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: decode json: %w", err)
		}
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.RPCURL = strings.TrimSpace(cfg.RPCURL)
	cfg.SubgraphURL = strings.TrimSpace(cfg.SubgraphURL)
	cfg.KeystorePath = strings.TrimSpace(cfg.KeystorePath)
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.MetricsPort == 0 {
		cfg.MetricsPort = 9091
	}
	for i := range cfg.Pools {
		cfg.Pools[i].Address = strings.TrimSpace(cfg.Pools[i].Address)
		if cfg.Pools[i].Settlement != nil && cfg.Pools[i].Settlement.MaxIterations == 0 {
			cfg.Pools[i].Settlement.MaxIterations = 10
		}
	}
}

func (cfg *Config) validate() error {
	if cfg == nil {
		return fmt.Errorf("config: missing")
	}
	if cfg.RPCURL == "" {
		return fmt.Errorf("config: rpc_url required")
	}
	if cfg.SubgraphURL == "" {
		return fmt.Errorf("config: subgraph_url required")
	}
	if cfg.KeystorePath == "" {
		return fmt.Errorf("config: keystore_path required")
	}
	if cfg.DelayBetweenRuns <= 0 {
		return fmt.Errorf("config: delay_between_runs must be positive")
	}
	if cfg.DelayBetweenActions <= 0 {
		return fmt.Errorf("config: delay_between_actions must be positive")
	}
	if cfg.UseOneInchLegacy != nil {
		return fmt.Errorf("config: use_one_inch is a legacy field and is no longer accepted; set a per-pool reward_action.dex_provider instead")
	}
	if cfg.KeeperTakerFactory != "" && len(cfg.TakerContracts) == 0 {
		return fmt.Errorf("config: keeper_taker_factory requires taker_contracts")
	}
	if len(cfg.Pools) == 0 {
		return fmt.Errorf("config: at least one pool must be configured")
	}
	for i, p := range cfg.Pools {
		if p.Address == "" {
			return fmt.Errorf("config: pools[%d].address required", i)
		}
		if err := p.Price.validate(); err != nil {
			return fmt.Errorf("config: pools[%d].price: %w", i, err)
		}
		if p.Take != nil {
			if p.Take.HPBPriceFactor != nil && p.Take.LiquiditySource != nil {
				return fmt.Errorf("config: pools[%d].take: hpb_price_factor (arb take) and liquidity_source (external take) are mutually exclusive", i)
			}
			if p.Take.LiquiditySource != nil && p.Take.MarketPriceFactor == nil {
				return fmt.Errorf("config: pools[%d].take: liquidity_source requires market_price_factor", i)
			}
		}
	}
	return nil
}

func (p PriceConfig) validate() error {
	switch p.Source {
	case PriceFixed:
		if p.Value == nil {
			return fmt.Errorf("fixed price source requires value")
		}
	case PriceOracle:
		if p.Query == "" {
			return fmt.Errorf("oracle price source requires query")
		}
	case PricePoolInternal:
		switch p.Reference {
		case "HPB", "HTP", "LUP", "LLB":
		default:
			return fmt.Errorf("pool-internal price source requires reference in {HPB,HTP,LUP,LLB}, got %q", p.Reference)
		}
	default:
		return fmt.Errorf("unknown price source %q", p.Source)
	}
	return nil
}

// DeploymentType reports the take-engine's external-take deployment shape.
type DeploymentType int

const (
	DeploymentNone DeploymentType = iota
	DeploymentSingle
	DeploymentFactory
)

// SmartDexManager inspects configuration and reports which external-take
// deployment shape is active.
func (cfg *Config) SmartDexManager() DeploymentType {
	if cfg.KeeperTaker != "" {
		return DeploymentSingle
	}
	if cfg.KeeperTakerFactory != "" && len(cfg.TakerContracts) > 0 {
		return DeploymentFactory
	}
	return DeploymentNone
}
