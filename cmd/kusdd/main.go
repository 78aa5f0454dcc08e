package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"kusdcore/cmd/internal/secrets"
	"kusdcore/config"
	"kusdcore/core/events"
	"kusdcore/integrations/journal"
	"kusdcore/integrations/webhooks"
	"kusdcore/native/bank"
	"kusdcore/native/stable"
	"kusdcore/native/vault"
	"kusdcore/native/yield"
	"kusdcore/observability"
	"kusdcore/observability/logging"
	otelobs "kusdcore/observability/otel"
	"kusdcore/rpc"
	"kusdcore/state"
	"kusdcore/storage"
)

func main() {
	configPath := flag.String("config", "./config.toml", "Path to node configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("KUSD_ENV"))
	logger := logging.Setup("kusdd", env)

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	if err := config.ValidateConfig(cfg); err != nil {
		panic(fmt.Sprintf("invalid config: %v", err))
	}
	if path := strings.TrimSpace(cfg.LogPath); path != "" {
		logger = logging.SetupWithRotation("kusdd", env, path)
	}

	telemetryShutdown, err := initTelemetry(cfg, env)
	if err != nil {
		panic(fmt.Sprintf("failed to initialise telemetry: %v", err))
	}
	defer func() {
		if telemetryShutdown == nil {
			return
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetryShutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown failed", "error", err)
		}
	}()

	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "state"))
	if err != nil {
		panic(fmt.Sprintf("failed to open state database: %v", err))
	}
	defer db.Close()

	components, err := buildComponents(cfg)
	if err != nil {
		panic(fmt.Sprintf("failed to wire protocol components: %v", err))
	}

	hub := rpc.NewEventHub()
	emitters := []events.Emitter{hub, &observability.EventRecorder{}}
	if path := strings.TrimSpace(cfg.JournalPath); path != "" {
		jrnl, err := journal.Open(path)
		if err != nil {
			panic(fmt.Sprintf("failed to open event journal: %v", err))
		}
		defer func() {
			if err := jrnl.Close(); err != nil {
				logger.Error("event journal close failed", "error", err)
			}
		}()
		emitters = append(emitters, jrnl)
		logger.Info("event journal enabled", "path", path)
	}
	if endpoint := strings.TrimSpace(cfg.Webhook.Endpoint); endpoint != "" {
		secret := strings.TrimSpace(os.Getenv(cfg.Webhook.SecretEnv))
		if secret == "" {
			panic(fmt.Sprintf("webhook secret environment variable %s is empty", cfg.Webhook.SecretEnv))
		}
		var opts []webhooks.Option
		if cfg.Webhook.MaxAttempts > 0 {
			opts = append(opts, webhooks.WithRetryPolicy(cfg.Webhook.MaxAttempts, 0, 0))
		}
		hook, err := webhooks.NewDispatcher(endpoint, []byte(secret), opts...)
		if err != nil {
			panic(fmt.Sprintf("failed to start webhook dispatcher: %v", err))
		}
		defer hook.Close()
		emitters = append(emitters, hook)
		logger.Info("event webhook enabled", "endpoint", endpoint)
	}
	emitter := events.Tee(emitters...)
	components.Stable.SetEmitter(emitter)
	components.Yield.SetEmitter(emitter)
	components.Vault.SetEmitter(emitter)

	loaded, err := state.Load(db, components)
	if err != nil {
		panic(fmt.Sprintf("failed to load state snapshot: %v", err))
	}
	if !loaded {
		if err := seedGenesis(cfg, components); err != nil {
			panic(fmt.Sprintf("failed to seed genesis state: %v", err))
		}
		if err := state.Save(db, components); err != nil {
			panic(fmt.Sprintf("failed to persist genesis snapshot: %v", err))
		}
		logger.Info("genesis state initialised", "network", cfg.NetworkName)
	}

	// Role grants and policy lists re-apply from the file on every boot so
	// operators can recover a revoked admin by editing the config.
	if err := applyGovernance(cfg, components); err != nil {
		panic(fmt.Sprintf("failed to apply role and policy config: %v", err))
	}

	jwtSecret, err := resolveAdminSecret(cfg)
	if err != nil {
		panic(fmt.Sprintf("failed to resolve admin secret: %v", err))
	}
	if len(jwtSecret) == 0 {
		logger.Warn("no admin secret configured; admin RPC methods are disabled")
	}
	nodeToken := strings.TrimSpace(os.Getenv("KUSD_NODE_TOKEN"))
	if nodeToken == "" {
		nodeToken = strings.TrimSpace(cfg.RPC.NodeToken)
	}
	if nodeToken == "" {
		logger.Warn("no node token configured; transfer RPC methods are disabled")
	}

	idem, err := rpc.NewIdempotencyStore(cfg.RPC.IdempotencyPath)
	if err != nil {
		panic(fmt.Sprintf("failed to open idempotency store: %v", err))
	}
	defer func() {
		if err := idem.Close(); err != nil {
			logger.Error("idempotency store close failed", "error", err)
		}
	}()

	srv, err := rpc.NewServer(components, rpc.ServerConfig{
		NodeToken:       nodeToken,
		JWTSecret:       jwtSecret,
		RateLimitPerMin: cfg.RPC.RateLimitPerMin,
		Persist:         func() error { return state.Save(db, components) },
		Hub:             hub,
		Idempotency:     idem,
		Logger:          logger,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to construct RPC server: %v", err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rpcErrCh := make(chan error, 1)
	go func() {
		rpcErrCh <- srv.Start(cfg.RPC.ListenAddress)
		close(rpcErrCh)
	}()

	if err := waitForRPCStartup(cfg.RPC.ListenAddress, rpcErrCh, 5*time.Second); err != nil {
		logger.Error("rpc server failed to start", "error", err, "address", cfg.RPC.ListenAddress)
		return
	}
	logger.Info("kusdd running",
		"network", cfg.NetworkName,
		"rpc", cfg.RPC.ListenAddress,
		"dataDir", cfg.DataDir,
	)

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("rpc shutdown failed", "error", err)
	}
	if err, ok := <-rpcErrCh; ok && err != nil {
		logger.Error("rpc server terminated", "error", err)
	}
	if err := state.Save(db, components); err != nil {
		logger.Error("final snapshot save failed", "error", err)
	}
	logger.Info("kusdd stopped")
}

func initTelemetry(cfg *config.Config, env string) (func(context.Context) error, error) {
	endpoint := strings.TrimSpace(cfg.OTLPEndpoint)
	if endpoint == "" {
		endpoint = strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	}
	if endpoint == "" {
		return nil, nil
	}
	insecure := false
	if value := strings.TrimSpace(os.Getenv("OTEL_EXPORTER_OTLP_INSECURE")); value != "" {
		parsed, err := strconv.ParseBool(value)
		if err != nil {
			return nil, fmt.Errorf("invalid OTEL_EXPORTER_OTLP_INSECURE value %q: %w", value, err)
		}
		insecure = parsed
	}
	return otelobs.Init(context.Background(), otelobs.Config{
		ServiceName: "kusdd",
		Environment: env,
		Endpoint:    endpoint,
		Insecure:    insecure,
	})
}

// buildComponents wires the full protocol graph from the configuration:
// bank as the book of record, the stable engine as minter, the vault as
// yield sink, and the registries as auth, policy, and pause sources.
func buildComponents(cfg *config.Config) (state.Components, error) {
	ledger := bank.NewLedger()
	for _, asset := range cfg.Stable.Assets {
		symbol := strings.ToUpper(strings.TrimSpace(asset.Symbol))
		if err := ledger.RegisterToken(symbol, asset.Name, asset.Decimals); err != nil {
			return state.Components{}, fmt.Errorf("register token %s: %w", symbol, err)
		}
	}
	if err := ledger.RegisterToken(stable.KUSDSymbol, "KUSD Stablecoin", 18); err != nil {
		return state.Components{}, fmt.Errorf("register token %s: %w", stable.KUSDSymbol, err)
	}

	pauses := state.NewPauseRegistry()
	roles := state.NewRoleRegistry()
	policy := state.NewPolicyRegistry()

	params, err := cfg.StableParams()
	if err != nil {
		return state.Components{}, err
	}
	custody, err := cfg.StableCustody()
	if err != nil {
		return state.Components{}, err
	}
	vaultAccount, err := cfg.StableVault()
	if err != nil {
		return state.Components{}, err
	}
	yieldCustody, err := cfg.YieldCustody()
	if err != nil {
		return state.Components{}, err
	}

	eng := stable.NewEngine()
	if err := eng.SetParams(params); err != nil {
		return state.Components{}, err
	}
	eng.SetLedger(ledger)
	eng.SetCustody(custody)
	eng.SetVaultAccount(vaultAccount)
	eng.SetAuthorization(roles)
	eng.SetPolicy(policy)
	eng.SetPauses(pauses)

	v := vault.NewVault()
	v.SetLedger(ledger)
	v.SetMinter(eng)
	v.SetAccount(vaultAccount)
	v.SetPauses(pauses)

	sched := yield.NewScheduler()
	if err := sched.SetParams(cfg.YieldParams()); err != nil {
		return state.Components{}, err
	}
	sched.SetLedger(ledger)
	sched.SetAuthorization(roles)
	sched.SetAssets(eng)
	sched.SetSink(v)
	sched.SetCustody(yieldCustody)
	sched.SetSinkReserve(custody)
	sched.SetPauses(pauses)

	return state.Components{
		Bank:   ledger,
		Stable: eng,
		Yield:  sched,
		Vault:  v,
		Pauses: pauses,
		Roles:  roles,
		Policy: policy,
	}, nil
}

// seedGenesis applies the configured capacity limits and genesis balances.
// It runs only when no snapshot exists yet: limit changes made over RPC
// survive restarts and must not be clobbered by the file.
func seedGenesis(cfg *config.Config, c state.Components) error {
	global, err := cfg.GlobalLimit()
	if err != nil {
		return err
	}
	if err := c.Stable.Capacity().SetGlobalLimit(global); err != nil {
		return err
	}
	for _, asset := range cfg.Stable.Assets {
		limit, err := asset.Limit()
		if err != nil {
			return err
		}
		symbol := stable.Asset(strings.ToUpper(strings.TrimSpace(asset.Symbol)))
		if err := c.Stable.Capacity().SetAssetLimit(symbol, limit); err != nil {
			return err
		}
	}

	allocs, err := cfg.Allocations()
	if err != nil {
		return err
	}
	for _, alloc := range allocs {
		if err := c.Bank.Mint(alloc.Symbol, alloc.Address, alloc.Amount); err != nil {
			return fmt.Errorf("genesis mint %s to %s: %w", alloc.Symbol, alloc.Address, err)
		}
	}
	return nil
}

func applyGovernance(cfg *config.Config, c state.Components) error {
	grants, err := cfg.RoleGrants()
	if err != nil {
		return err
	}
	for _, addr := range grants.Admins {
		c.Roles.Grant(state.RoleAdmin, addr)
	}
	for _, addr := range grants.Managers {
		c.Roles.Grant(state.RoleManager, addr)
	}
	for _, addr := range grants.Pausers {
		c.Roles.Grant(state.RolePauser, addr)
	}

	seed, err := cfg.PolicySeed()
	if err != nil {
		return err
	}
	c.Policy.SetAllowlistEnabled(seed.AllowlistEnabled)
	for _, addr := range seed.Allowed {
		c.Policy.Allow(addr)
	}
	for _, addr := range seed.Denied {
		c.Policy.Forbid(addr)
	}
	return nil
}

func resolveAdminSecret(cfg *config.Config) ([]byte, error) {
	envVar := strings.TrimSpace(cfg.RPC.JWTSecretEnv)
	filePath := strings.TrimSpace(cfg.RPC.JWTSecretFile)
	if envVar == "" && filePath == "" {
		return nil, nil
	}
	secret, err := secrets.NewSource(envVar, filePath).Get()
	if err != nil {
		return nil, err
	}
	return []byte(secret), nil
}

func waitForRPCStartup(addr string, errCh <-chan error, timeout time.Duration) error {
	dialAddr := dialAddressFor(addr)
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case err, ok := <-errCh:
			if !ok {
				return fmt.Errorf("rpc server terminated before startup confirmation")
			}
			if err != nil {
				return err
			}
			return fmt.Errorf("rpc server exited before startup confirmation")
		default:
		}

		conn, err := net.DialTimeout("tcp", dialAddr, 200*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}

		select {
		case err, ok := <-errCh:
			if !ok {
				return fmt.Errorf("rpc server terminated before startup confirmation")
			}
			if err != nil {
				return err
			}
			return fmt.Errorf("rpc server exited before startup confirmation")
		case <-deadline.C:
			return fmt.Errorf("timed out waiting for rpc server on %s", dialAddr)
		case <-ticker.C:
		}
	}
}

func dialAddressFor(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}
