// gascall is a gas-aware execution controller daemon. It sits in front of an
// execution engine's JSON-RPC endpoint and serves eth_call and
// eth_estimateGas with progressive deadlines, admission control and chunked
// execution of very large gas budgets.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/rs/cors"
	"github.com/urfave/cli/v2"

	"github.com/parsdextra/nanoreth/core/gascall"
	"github.com/parsdextra/nanoreth/core/gascall/audit"
	"github.com/parsdextra/nanoreth/core/gascall/duration"
	"github.com/parsdextra/nanoreth/internal/gasapi"
	"github.com/parsdextra/nanoreth/internal/upstream"
	"github.com/parsdextra/nanoreth/internal/version"
)

var (
	configFlag = &cli.StringFlag{
		Name:  "config",
		Usage: "TOML configuration file",
	}
	upstreamFlag = &cli.StringFlag{
		Name:    "upstream",
		Usage:   "Engine JSON-RPC endpoint to front",
		EnvVars: []string{"GASCALL_UPSTREAM"},
	}
	httpHostFlag = &cli.StringFlag{
		Name:  "http.addr",
		Usage: "HTTP-RPC server listening interface",
	}
	httpPortFlag = &cli.IntFlag{
		Name:  "http.port",
		Usage: "HTTP-RPC server listening port",
	}
	corsFlag = &cli.StringSliceFlag{
		Name:  "http.corsdomain",
		Usage: "Comma separated list of domains from which to accept cross origin requests",
	}
	callTimeoutFlag = &cli.DurationFlag{
		Name:    "rpc.calltimeout",
		Usage:   "Base execution deadline for calls at or below the low-gas breakpoint",
		EnvVars: []string{"GASCALL_RPC_CALLTIMEOUT"},
	}
	maxTimeoutFlag = &cli.DurationFlag{
		Name:    "rpc.maxtimeout",
		Usage:   "Upper bound for progressive deadline scaling",
		EnvVars: []string{"GASCALL_RPC_MAXTIMEOUT"},
	}
	progressiveFlag = &cli.BoolFlag{
		Name:    "rpc.progressivetimeout",
		Usage:   "Scale execution deadlines with the requested gas",
		Value:   true,
		EnvVars: []string{"GASCALL_RPC_PROGRESSIVE_TIMEOUT"},
	}
	gasCapFlag = &cli.Uint64Flag{
		Name:    "rpc.gascap",
		Usage:   "Reject calls requesting more gas than this",
		EnvVars: []string{"GASCALL_RPC_GASCAP"},
	}
	maxConcurrentFlag = &cli.Int64Flag{
		Name:    "rpc.maxconcurrent",
		Usage:   "Maximum simultaneously executing calls",
		EnvVars: []string{"GASCALL_RPC_MAX_CONCURRENT"},
	}
	chunkGasFlag = &cli.Uint64Flag{
		Name:  "chunk.gas",
		Usage: "Gas budget of one bounded sub-execution",
	}
	chunkThresholdFlag = &cli.Uint64Flag{
		Name:  "chunk.threshold",
		Usage: "Split calls requesting more gas than this into chunks",
	}
	chunkMaxFlag = &cli.IntFlag{
		Name:  "chunk.max",
		Usage: "Hard bound on the chunk count of a single call",
	}
	chunkDelayFlag = &cli.DurationFlag{
		Name:  "chunk.delay",
		Usage: "Pause between consecutive chunks",
	}
	dbReadTimeoutFlag = &cli.DurationFlag{
		Name:    "db.readtimeout",
		Usage:   "Deadline for a single storage read scope",
		EnvVars: []string{"GASCALL_DB_READTIMEOUT"},
	}
	dbMaxReadsFlag = &cli.Int64Flag{
		Name:  "db.maxreads",
		Usage: "Maximum simultaneous storage reads",
	}
	dbReadRateFlag = &cli.Float64Flag{
		Name:  "db.readrate",
		Usage: "Storage reads per second; 0 disables pacing",
	}
	auditDSNFlag = &cli.StringFlag{
		Name:    "audit.dsn",
		Usage:   "Postgres DSN for the call audit store; empty keeps records in memory",
		EnvVars: []string{"GASCALL_AUDIT_DSN"},
	}
	statsIntervalFlag = &cli.DurationFlag{
		Name:  "stats.interval",
		Usage: "Interval between gate statistics log lines; 0 disables",
	}
	verbosityFlag = &cli.IntFlag{
		Name:  "verbosity",
		Usage: "Logging verbosity: 0=silent, 1=error, 2=warn, 3=info, 4=debug, 5=detail",
		Value: 3,
	}
	logJSONFlag = &cli.BoolFlag{
		Name:  "log.json",
		Usage: "Format logs with JSON",
	}
)

func main() {
	app := &cli.App{
		Name:    "gascall",
		Usage:   "gas-aware execution controller for eth_call and eth_estimateGas",
		Version: version.WithMeta,
		Flags: []cli.Flag{
			configFlag,
			upstreamFlag,
			httpHostFlag, httpPortFlag, corsFlag,
			callTimeoutFlag, maxTimeoutFlag, progressiveFlag, gasCapFlag, maxConcurrentFlag,
			chunkGasFlag, chunkThresholdFlag, chunkMaxFlag, chunkDelayFlag,
			dbReadTimeoutFlag, dbMaxReadsFlag, dbReadRateFlag,
			auditDSNFlag,
			statsIntervalFlag, verbosityFlag, logJSONFlag,
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func setupLogging(ctx *cli.Context) {
	level := log.FromLegacyLevel(ctx.Int(verbosityFlag.Name))
	var handler slog.Handler
	if ctx.Bool(logJSONFlag.Name) {
		handler = log.JSONHandlerWithLevel(os.Stderr, level)
	} else {
		handler = log.NewTerminalHandlerWithLevel(os.Stderr, level, false)
	}
	log.SetDefault(log.NewLogger(handler))
}

// resolveConfig layers defaults, the optional TOML file and explicit flags.
func resolveConfig(ctx *cli.Context) (config, error) {
	cfg := defaultConfig()
	if path := ctx.String(configFlag.Name); path != "" {
		if err := loadConfig(path, &cfg); err != nil {
			return cfg, err
		}
	}

	if ctx.IsSet(upstreamFlag.Name) {
		cfg.Node.UpstreamURL = ctx.String(upstreamFlag.Name)
	}
	if ctx.IsSet(httpHostFlag.Name) {
		cfg.Node.HTTPHost = ctx.String(httpHostFlag.Name)
	}
	if ctx.IsSet(httpPortFlag.Name) {
		cfg.Node.HTTPPort = ctx.Int(httpPortFlag.Name)
	}
	if ctx.IsSet(corsFlag.Name) {
		cfg.Node.CORSDomains = ctx.StringSlice(corsFlag.Name)
	}
	if ctx.IsSet(statsIntervalFlag.Name) {
		cfg.Node.StatsInterval = int(ctx.Duration(statsIntervalFlag.Name).Seconds())
	}

	if ctx.IsSet(callTimeoutFlag.Name) {
		cfg.Gascall.BaseTimeout = duration.Duration(ctx.Duration(callTimeoutFlag.Name))
	}
	if ctx.IsSet(maxTimeoutFlag.Name) {
		cfg.Gascall.MaxTimeout = duration.Duration(ctx.Duration(maxTimeoutFlag.Name))
	}
	if ctx.IsSet(progressiveFlag.Name) {
		cfg.Gascall.ProgressiveTimeout = ctx.Bool(progressiveFlag.Name)
	}
	if ctx.IsSet(gasCapFlag.Name) {
		cfg.Gascall.GasCap = ctx.Uint64(gasCapFlag.Name)
	}
	if ctx.IsSet(maxConcurrentFlag.Name) {
		cfg.Gascall.MaxConcurrentCalls = ctx.Int64(maxConcurrentFlag.Name)
	}
	if ctx.IsSet(chunkGasFlag.Name) {
		cfg.Gascall.ChunkGas = ctx.Uint64(chunkGasFlag.Name)
	}
	if ctx.IsSet(chunkThresholdFlag.Name) {
		cfg.Gascall.ChunkingThreshold = ctx.Uint64(chunkThresholdFlag.Name)
	}
	if ctx.IsSet(chunkMaxFlag.Name) {
		cfg.Gascall.MaxChunks = ctx.Int(chunkMaxFlag.Name)
	}
	if ctx.IsSet(chunkDelayFlag.Name) {
		cfg.Gascall.InterChunkDelay = duration.Duration(ctx.Duration(chunkDelayFlag.Name))
	}
	if ctx.IsSet(dbReadTimeoutFlag.Name) {
		cfg.Gascall.DBReadTimeout = duration.Duration(ctx.Duration(dbReadTimeoutFlag.Name))
	}
	if ctx.IsSet(dbMaxReadsFlag.Name) {
		cfg.Gascall.MaxConcurrentReads = ctx.Int64(dbMaxReadsFlag.Name)
	}
	if ctx.IsSet(dbReadRateFlag.Name) {
		cfg.Gascall.ReadsPerSecond = ctx.Float64(dbReadRateFlag.Name)
	}
	if ctx.IsSet(auditDSNFlag.Name) {
		cfg.Audit.DSN = ctx.String(auditDSNFlag.Name)
	}
	return cfg, nil
}

func run(cliCtx *cli.Context) error {
	setupLogging(cliCtx)
	logger := log.New("gascall", true)

	cfg, err := resolveConfig(cliCtx)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := upstream.Dial(ctx, cfg.Node.UpstreamURL)
	if err != nil {
		return err
	}
	defer client.Close()

	store, err := audit.NewStorage(ctx, cfg.Audit)
	if err != nil {
		return fmt.Errorf("audit store: %w", err)
	}

	dispatcher, err := gascall.NewDispatcher(cfg.Gascall, client, store)
	if err != nil {
		return err
	}

	srv := rpc.NewServer()
	defer srv.Stop()
	if err := srv.RegisterName("eth", gasapi.NewAPI(dispatcher)); err != nil {
		return err
	}
	if err := srv.RegisterName("gascall", gasapi.NewOpsAPI(dispatcher, store)); err != nil {
		return err
	}

	var handler http.Handler = srv
	if len(cfg.Node.CORSDomains) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins: cfg.Node.CORSDomains,
			AllowedMethods: []string{http.MethodPost, http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"*"},
			MaxAge:         600,
		}).Handler(srv)
	}

	endpoint := net.JoinHostPort(cfg.Node.HTTPHost, strconv.Itoa(cfg.Node.HTTPPort))
	httpSrv := &http.Server{
		Addr:              endpoint,
		Handler:           handler,
		ReadHeaderTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server started", "endpoint", endpoint, "upstream", cfg.Node.UpstreamURL, "version", version.WithMeta)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	if cfg.Node.StatsInterval > 0 {
		go logStats(ctx, dispatcher, time.Duration(cfg.Node.StatsInterval)*time.Second, logger)
	}

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// logStats periodically reports the dispatch gate counters, so exhaustion
// trends show up in logs even when no single call fails.
func logStats(ctx context.Context, dispatcher *gascall.Dispatcher, interval time.Duration, logger log.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			stats := dispatcher.Stats()
			logger.Info("gate_stats",
				"active", stats.Active,
				"accepted", stats.Accepted,
				"rejected", stats.Rejected,
				"completed", stats.Completed,
				"timedOut", stats.TimedOut,
				"failed", stats.Failed,
				"successRate", stats.SuccessRate(),
			)
		case <-ctx.Done():
			return
		}
	}
}
