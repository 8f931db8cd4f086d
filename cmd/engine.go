package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"

	"xroute/config"
	"xroute/pkg/allowance"
	"xroute/pkg/bridge"
	"xroute/pkg/bridge/relayer"
	"xroute/pkg/chainswitch"
	"xroute/pkg/client"
	"xroute/pkg/intents"
	"xroute/pkg/logging"
	"xroute/pkg/metrics"
	"xroute/pkg/runner"
	"xroute/pkg/store"
	"xroute/pkg/swap"
	"xroute/pkg/wallet"
)

// recentEvents is how many bridge events the hub keeps for late listeners
const recentEvents = 256

// engine is everything a command needs to execute routes
type engine struct {
	cfg      *config.Config
	logger   *logrus.Logger
	registry *wallet.Registry
	wallet   *wallet.KeyWallet
	chains   *chainswitch.Negotiator
	network  *relayer.Client
	hub      *bridge.Hub
	bridge   *bridge.Client
	store    store.Store
	metrics  *metrics.Collector
	runner   *runner.Runner
}

// openStore opens the configured route store
func openStore(cfg *config.Config, log *logrus.Entry) (store.Store, error) {
	switch cfg.Storage.Driver {
	case "redis":
		return store.NewRedisStore(cfg.Storage.Redis.Addr, cfg.Storage.Redis.Password, cfg.Storage.Redis.DB,
			store.WithPrefix(cfg.Storage.Redis.Prefix), store.WithTTL(cfg.Storage.Redis.TTL)), nil
	default:
		return store.NewFileStore(cfg.Storage.Path, log)
	}
}

// newEngine wires the wallet, counterparties and runner from configuration.
// The bridge event stream is not started; callers that execute routes call
// startEvents.
func newEngine(ctx context.Context, cfg *config.Config, interactive bool) (*engine, error) {
	if err := cfg.RequireWallet(); err != nil {
		return nil, err
	}
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	m := metrics.NewCollector("xroute")

	registry := wallet.NewRegistry(cfg.Networks())
	if err := registry.Open(ctx); err != nil {
		return nil, err
	}
	keyWallet, err := wallet.NewKeyWallet(registry, cfg.Wallet.PrivateKey, logging.Component(logger, "wallet"))
	if err != nil {
		registry.Close()
		return nil, err
	}
	signer, err := keyWallet.OnChain(cfg.Wallet.DefaultChain)
	if err != nil {
		registry.Close()
		return nil, err
	}

	mode, err := chainswitch.ParseMode(cfg.Wallet.SwitchMode)
	if err != nil {
		registry.Close()
		return nil, err
	}
	e := &engine{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		wallet:   keyWallet,
		metrics:  m,
	}
	opts := []chainswitch.Option{
		chainswitch.WithLogger(logging.Component(logger, "chainswitch")),
		chainswitch.WithMetrics(m),
	}
	if mode == chainswitch.ModeConfirm {
		opts = append(opts, chainswitch.WithNotify(e.promptChainSwitch(interactive)))
	}
	e.chains = chainswitch.New(mode, keyWallet.SwitchChain, opts...)

	s, err := openStore(cfg, logging.Component(logger, "store"))
	if err != nil {
		registry.Close()
		return nil, err
	}
	e.store = s

	allowances := allowance.NewManager(registry, logging.Component(logger, "allowance"))
	venues := swap.NewRegistry()

	e.network = relayer.New(relayer.Config{
		BaseURL:           cfg.Bridge.RelayerURL,
		EventsURL:         cfg.Bridge.EventsURL,
		RequestsPerSecond: cfg.Bridge.RequestsPerSecond,
	}, logging.Component(logger, "relayer"))
	e.hub = bridge.NewHub(recentEvents, logging.Component(logger, "hub"))
	e.bridge = bridge.NewClient(bridge.Config{
		ContractAddress: cfg.Bridge.ContractAddress,
		Integrator:      cfg.Bridge.Integrator,
		Referrer:        cfg.Bridge.Referrer,
		PrepareTimeout:  cfg.Bridge.PrepareTimeout,
		FulfillTimeout:  cfg.Bridge.FulfillTimeout,
		QuoteAttempts:   cfg.Bridge.QuoteAttempts,
		StatusURL:       cfg.Bridge.StatusURL,
	}, e.network, e.hub, allowances,
		bridge.WithVenues(venues),
		bridge.WithLinks(registry),
		bridge.WithMetrics(m),
		bridge.WithLogger(logging.Component(logger, "bridge")),
	)

	runnerOpts := []runner.Option{
		runner.WithStore(s),
		runner.WithBridge(e.bridge),
		runner.WithVenues(venues),
		runner.WithLinks(registry),
		runner.WithMetrics(m),
		runner.WithLogger(logging.Component(logger, "runner")),
		runner.WithInfiniteApproval(cfg.InfiniteApproval),
	}
	if cfg.Intents.JWTToken != "" {
		executor := intents.New(intents.Config{
			ChainNames:   cfg.IntentsChainNames(),
			PollInterval: cfg.Intents.PollInterval,
			Timeout:      cfg.Intents.Timeout,
			StatusURL:    cfg.Intents.StatusURL,
		}, client.NewOneClickClient(cfg.Intents.JWTToken), registry, m, logging.Component(logger, "intents"))
		runnerOpts = append(runnerOpts, runner.WithIntents(executor))
	} else {
		logger.Debug("no 1Click token configured, intents steps will fail")
	}
	e.runner = runner.New(signer, e.chains, allowances, runnerOpts...)

	return e, nil
}

// startEvents follows the bridge event stream until ctx is done
func (e *engine) startEvents(ctx context.Context) error {
	if e.cfg.Bridge.RelayerURL == "" {
		e.logger.Debug("no relayer configured, bridge events disabled")
		return nil
	}
	return e.bridge.Start(ctx)
}

func (e *engine) Close() {
	if err := e.store.Close(); err != nil {
		e.logger.WithError(err).Warn("failed to close route store")
	}
	e.registry.Close()
}

// promptChainSwitch returns the confirm-mode notification. Interactive
// sessions ask on stdin; otherwise requests stay pending until confirmed
// elsewhere.
func (e *engine) promptChainSwitch(interactive bool) func(chainswitch.Request) {
	var mu sync.Mutex
	reader := bufio.NewReader(os.Stdin)
	return func(req chainswitch.Request) {
		if !interactive {
			e.logger.WithFields(logrus.Fields{
				"request": req.ID,
				"chain":   req.ChainID,
			}).Warn("chain switch waiting for confirmation")
			return
		}

		mu.Lock()
		defer mu.Unlock()
		fmt.Printf("\nSwitch wallet %s to chain %d? (y/N): ", color.CyanString(req.Wallet.Hex()), req.ChainID)
		response, err := reader.ReadString('\n')
		response = strings.TrimSpace(strings.ToLower(response))
		if err == nil && (response == "y" || response == "yes") {
			_ = e.chains.Confirm(req.ID)
			return
		}
		_ = e.chains.Reject(req.ID)
	}
}
