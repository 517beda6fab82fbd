// Command keeper is the autonomous keeper bot's entrypoint: load config,
// unlock the signing keystore, wire every component, then run the Keeper
// Supervisor's four loops until SIGINT/SIGTERM. Shutdown follows a
// signal.NotifyContext plus a buffered error channel racing the
// supervisor's completion against the metrics server's own failure.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/ajna-keeper/keeperbot/internal/bond"
	"github.com/ajna-keeper/keeperbot/internal/chain"
	"github.com/ajna-keeper/keeperbot/internal/config"
	"github.com/ajna-keeper/keeperbot/internal/dex"
	"github.com/ajna-keeper/keeperbot/internal/executor"
	"github.com/ajna-keeper/keeperbot/internal/keystore"
	"github.com/ajna-keeper/keeperbot/internal/kick"
	"github.com/ajna-keeper/keeperbot/internal/nonce"
	"github.com/ajna-keeper/keeperbot/internal/observability/logging"
	"github.com/ajna-keeper/keeperbot/internal/observability/metrics"
	"github.com/ajna-keeper/keeperbot/internal/observability/otel"
	"github.com/ajna-keeper/keeperbot/internal/oracle"
	"github.com/ajna-keeper/keeperbot/internal/pricing"
	"github.com/ajna-keeper/keeperbot/internal/registry"
	"github.com/ajna-keeper/keeperbot/internal/reward"
	"github.com/ajna-keeper/keeperbot/internal/rewardqueue"
	"github.com/ajna-keeper/keeperbot/internal/sdk"
	"github.com/ajna-keeper/keeperbot/internal/settlement"
	"github.com/ajna-keeper/keeperbot/internal/subgraph"
	"github.com/ajna-keeper/keeperbot/internal/supervisor"
	"github.com/ajna-keeper/keeperbot/internal/take"
)

const (
	defaultGasLimit       = uint64(2_000_000)
	defaultConfirmTimeout = 120 * time.Second
)

func main() {
	os.Exit(run())
}

// run returns the process exit code (0 clean stop, 1 fatal startup error)
// instead of calling os.Exit directly so deferred cleanup always runs.
func run() int {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "", "path to keeper config (required)")
	flag.Parse()
	if strings.TrimSpace(cfgPath) == "" {
		fmt.Fprintln(os.Stderr, "keeper: --config is required")
		return 1
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "keeper: load config: %v\n", err)
		return 1
	}

	files, err := logging.OpenFiles("logs")
	if err != nil {
		fmt.Fprintf(os.Stderr, "keeper: open log files: %v\n", err)
		return 1
	}
	env := strings.TrimSpace(os.Getenv("KEEPER_ENV"))
	logger, closeLogging := logging.Setup(files, cfg.LogLevel, env)
	defer func() { _ = closeLogging() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := otel.Init(ctx, otel.Config{
		Environment: env,
		Endpoint:    strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")),
		Insecure:    parseInsecure(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")),
		Headers:     otel.ParseHeaders(os.Getenv("OTEL_EXPORTER_OTLP_HEADERS")),
	})
	if err != nil {
		logger.Error("init telemetry", "error", err)
		return 1
	}
	defer func() { _ = shutdownTelemetry(context.Background()) }()

	ethClient, err := chain.Dial(ctx, cfg.RPCURL)
	if err != nil {
		logger.Error("dial rpc", "error", err)
		return 1
	}

	account, err := keystore.Unlock(cfg.KeystorePath, common.Address{}, keystore.NewSource(""))
	if err != nil {
		logger.Error("unlock keystore", "error", err)
		return 1
	}
	logger.Info("keystore unlocked", "address", account.Address().Hex())

	chainID, err := ethClient.ChainID(ctx)
	if err != nil {
		logger.Error("read chain id", "error", err)
		return 1
	}

	pipeline := nonce.NewPipeline(account.Address(), ethClient)
	sender := executor.New(logger, ethClient, account, pipeline, chainID, defaultGasLimit, defaultConfirmTimeout)

	router := buildDEXRouter(cfg, ethClient, sender)
	oracleClient := oracle.NewHTTPClient(oracle.DefaultBaseURL, cfg.OracleAPIKey)
	priceResolver := pricing.NewResolver(oracleClient)
	subgraphClient := subgraph.NewHTTPClient(cfg.SubgraphURL)

	reg, err := registry.Load(ctx, logger, cfg, poolFactory(ethClient))
	if err != nil {
		logger.Error("load pool registry", "error", err)
		return 1
	}
	logger.Info("pools loaded", "count", reg.Len(), "names", reg.Names())

	kickEngine := kick.NewEngine(logger, subgraphClient, pipeline, sender, cfg.DryRun)
	takeEngine := take.NewEngine(logger, subgraphClient, router, pipeline, sender, cfg.SmartDexManager(), cfg.DryRun)
	settlementEngine := settlement.NewEngine(logger, subgraphClient, pipeline, sender, account.Address(), cfg.DelayBetweenActions.Duration(), cfg.DryRun)
	bondEngine := bond.NewEngine(logger, pipeline, sender, settlementEngine, account.Address(), cfg.DryRun)

	type rewardWiring struct {
		collector *reward.Collector
		queue     *rewardqueue.Queue
	}
	rewardByPool := map[string]rewardWiring{}
	for _, entry := range reg.All() {
		if entry.Config.CollectLPReward == nil {
			continue
		}
		queue := rewardqueue.NewQueue(logger, router, sender, account.Address())
		collector := reward.NewCollector(logger, pipeline, sender, queue, account.Address(), cfg.DryRun)
		rewardByPool[entry.Config.Name] = rewardWiring{collector: collector, queue: queue}
	}

	loops := []supervisor.Loop{
		{
			Name:     "kick",
			Eligible: func(e registry.Entry) bool { return e.Config.Kick != nil },
			Action: func(ctx context.Context, e registry.Entry) error {
				defer metrics.Keeper().Timer("kick", e.Config.Name)()
				price, err := priceResolver.Resolve(ctx, e.Pool, e.Config.Price)
				if err != nil {
					metrics.Keeper().RecordError(e.Config.Name, "kick")
					return err
				}
				if price != price { // NaN: oracle miss, skip this iteration
					return nil
				}
				_, err = kickEngine.Run(ctx, e.Pool, e.Config.Name, e.Config.Kick, price)
				if err != nil {
					metrics.Keeper().RecordError(e.Config.Name, "kick")
				}
				return err
			},
		},
		{
			Name:     "take",
			Eligible: func(e registry.Entry) bool { return e.Config.Take != nil },
			Action: func(ctx context.Context, e registry.Entry) error {
				defer metrics.Keeper().Timer("take", e.Config.Name)()
				_, err := takeEngine.Run(ctx, e.Pool, e.Config.Name, e.Config.Take, chainID.Uint64())
				if err != nil {
					metrics.Keeper().RecordError(e.Config.Name, "take")
				}
				return err
			},
		},
		{
			Name:     "bond",
			Eligible: func(e registry.Entry) bool { return e.Config.CollectBond },
			Action: func(ctx context.Context, e registry.Entry) error {
				defer metrics.Keeper().Timer("bond", e.Config.Name)()
				_, err := bondEngine.Run(ctx, e.Pool, e.Config.Name, simulateSettleFn(ethClient, e.Pool), settlementPolicyFrom(e.Config.Settlement))
				if err != nil {
					metrics.Keeper().RecordError(e.Config.Name, "bond")
				}
				return err
			},
		},
		{
			Name:     "lp-collect",
			Eligible: func(e registry.Entry) bool { return e.Config.CollectLPReward != nil },
			Action: func(ctx context.Context, e registry.Entry) error {
				wiring, ok := rewardByPool[e.Config.Name]
				if !ok {
					return nil
				}
				defer metrics.Keeper().Timer("lp-collect", e.Config.Name)()
				if err := wiring.collector.RunCycle(ctx, e.Pool, e.Config.Name, e.Config.CollectLPReward); err != nil {
					if errors.Is(err, sdk.ErrAuctionNotCleared) {
						// Bond Collector's own loop reactively settles and retries next
						// cycle; lp-collect does not treat this as a loop failure.
						logger.Warn("lp reward redeem blocked on unsettled auction", "pool", e.Config.Name)
					} else {
						metrics.Keeper().RecordError(e.Config.Name, "lp-collect")
						return err
					}
				}
				if err := wiring.queue.HandleAll(ctx); err != nil {
					metrics.Keeper().RecordError(e.Config.Name, "reward-queue")
					return err
				}
				return nil
			},
		},
	}

	sup := supervisor.New(logger, reg, loops, cfg.DelayBetweenActions.Duration(), cfg.DelayBetweenRuns.Duration())

	metricsServer := &http.Server{Addr: fmt.Sprintf(":%d", cfg.MetricsPort), Handler: metrics.Server()}
	serverErr := make(chan error, 1)
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	supervisorDone := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(supervisorDone)
	}()

	select {
	case <-supervisorDone:
		logger.Info("supervisor stopped")
	case err := <-serverErr:
		if err != nil {
			logger.Error("metrics server failed", "error", err)
		}
		stop()
		<-supervisorDone
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)

	logger.Info("keeper stopped")
	return 0
}

func parseInsecure(raw string) bool {
	if strings.TrimSpace(raw) == "" {
		return true
	}
	parsed, err := strconv.ParseBool(raw)
	if err != nil {
		return true
	}
	return parsed
}

// settlementPolicyFrom converts the config shape (config.Duration) into the
// settlement package's plain time.Duration Policy; settlement deliberately
// carries no dependency on internal/config.
func settlementPolicyFrom(cfg *config.SettlementPolicy) *settlement.Policy {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	return &settlement.Policy{
		MinAuctionAge:     cfg.MinAuctionAge.Duration(),
		MaxBucketDepth:    cfg.MaxBucketDepth,
		MaxIterations:     cfg.MaxIterations,
		CheckBotIncentive: cfg.CheckBotIncentive,
	}
}

// simulateSettleFn builds the settlement engine's pre-flight static-call
// probe against pool's settle calldata.
func simulateSettleFn(client chain.Client, pool sdk.Pool) func(ctx context.Context, borrower common.Address, maxBucketDepth uint64) error {
	return func(ctx context.Context, borrower common.Address, maxBucketDepth uint64) error {
		calldata, err := pool.BuildSettle(ctx, borrower, maxBucketDepth)
		if err != nil {
			return err
		}
		to := pool.Address()
		_, err = client.CallContract(ctx, chain.CallMsg{Data: calldata, To: &to})
		return err
	}
}

// poolFactory resolves a registry.Factory against the lending protocol's
// on-chain SDK. internal/sdk deliberately declares Pool as interface-only
// ("A concrete implementation binds these to the protocol's on-chain ABI;
// none is provided here") since no protocol ABI was supplied to ground one
// against; this factory documents that boundary at the one place a concrete
// binding is actually required, rather than inventing ABI bindings with no
// grounding source.
func poolFactory(client chain.Client) registry.Factory {
	return func(ctx context.Context, poolAddress, multicall common.Address) (sdk.Pool, error) {
		_ = client
		_ = multicall
		return nil, fmt.Errorf("keeper: no on-chain SDK binding wired for pool %s; supply a concrete sdk.Pool implementation against the lending protocol's ABI", poolAddress.Hex())
	}
}

// buildDEXRouter wires one Provider per configured DEX section, selected at
// runtime from configuration. A section left nil in cfg.DEX is simply
// absent from the router; Router.Quote/Swap then report
// dex.ErrUnsupportedProvider for that liquidity source.
func buildDEXRouter(cfg *config.Config, client chain.Client, sender *executor.TxSender) *dex.Router {
	providers := map[config.LiquiditySource]dex.Provider{}

	if cfg.DEX.UniswapV3 != nil {
		providers[config.SourceUniswapV3] = dex.NewV3Provider(*cfg.DEX.UniswapV3, client, sender)
	}
	if cfg.DEX.V3Fork != nil {
		providers[config.SourceSushiSwap] = dex.NewV3ForkProvider(*cfg.DEX.V3Fork, client, sender)
	}
	if cfg.DEX.Curve != nil {
		providers[config.SourceCurve] = dex.NewCurveProvider(*cfg.DEX.Curve, client, sender, unresolvedCurveIndexer{})
	}
	if len(cfg.OneInchRouters) > 0 {
		routers := make(map[uint64]common.Address, len(cfg.OneInchRouters))
		for chainIDStr, addr := range cfg.OneInchRouters {
			id, err := strconv.ParseUint(chainIDStr, 10, 64)
			if err != nil {
				continue
			}
			routers[id] = common.HexToAddress(addr)
		}
		providers[config.SourceOneInch] = dex.NewAggregatorProvider(dex.DefaultAggregatorBaseURL, routers, sender)
	}

	return dex.NewRouter(providers)
}

// unresolvedCurveIndexer is a documented seam: config.CurvePoolConfig names
// a pool address and pool type but not each token's coin index within it,
// which is Curve-deployment-specific data the config shape does not carry.
// Wiring a real indexer requires either a fixed per-pair convention or a
// supplementary config field.
type unresolvedCurveIndexer struct{}

func (unresolvedCurveIndexer) CoinIndex(pair string, token common.Address) (int64, error) {
	return 0, fmt.Errorf("dex: curve coin index not configured for pair %s token %s", pair, token.Hex())
}
