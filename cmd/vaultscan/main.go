// Command vaultscan is the CLI embedding of the vault discovery,
// classification and historical scanning engine, talking to one chain
// over plain JSON-RPC via the rpcclient package. Each subcommand opens its
// own store handles and RPC connection; none share process-wide state.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	gojson "github.com/goccy/go-json"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"

	"github.com/tradingstrategy-ai/vaultscan/chain"
	"github.com/tradingstrategy-ai/vaultscan/classify"
	"github.com/tradingstrategy-ai/vaultscan/config"
	"github.com/tradingstrategy-ai/vaultscan/discovery"
	"github.com/tradingstrategy-ai/vaultscan/multicall"
	"github.com/tradingstrategy-ai/vaultscan/orchestrator"
	"github.com/tradingstrategy-ai/vaultscan/orchestrator/statusapi"
	"github.com/tradingstrategy-ai/vaultscan/reader"
	"github.com/tradingstrategy-ai/vaultscan/rpcclient"
	"github.com/tradingstrategy-ai/vaultscan/store"
	"github.com/tradingstrategy-ai/vaultscan/tokencache"
	"github.com/tradingstrategy-ai/vaultscan/vault"
	"github.com/tradingstrategy-ai/vaultscan/verr"
	"github.com/tradingstrategy-ai/vaultscan/vlog"
)

func main() {
	app := &cli.App{
		Name:  "vaultscan",
		Usage: "ERC-4626 vault discovery, classification and historical scanning",
		Commands: []*cli.Command{
			scanVaultsCommand(),
			scanPricesCommand(),
			checkReaderStatesCommand(),
			purgePriceDataCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "vaultscan:", err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps the error taxonomy onto spec.md §6/§7's process exit
// codes: 2 for a configuration error, 1 for anything else unrecoverable.
func exitCodeFor(err error) int {
	if verr.Is(err, verr.Config) {
		return 2
	}
	return 1
}

// runtimeEnv bundles the handles every subcommand needs: config, the
// dialed client's chain, and the two store handles. Each subcommand owns
// one and closes it on exit; nothing here is process-global.
type runtimeEnv struct {
	cfg     config.Config
	bt      config.BlockTimes
	log     *vlog.Logger
	st      *store.Store
	rejects *store.RejectsStore
	client  *rpcclient.Client
	chainID chain.ID
}

func setup(ctx context.Context) (*runtimeEnv, error) {
	cfg, err := config.FromEnv()
	if err != nil {
		return nil, err
	}
	bt, err := config.LoadBlockTimes(cfg.BlockTimePath)
	if err != nil {
		return nil, err
	}
	log := newLogger()

	st, err := store.Open(cfg.StatePath)
	if err != nil {
		return nil, verr.Wrap(verr.Config, err, "vaultscan: opening state store")
	}
	rejects, err := store.OpenRejects(cfg.RejectsPath)
	if err != nil {
		st.Close()
		return nil, verr.Wrap(verr.Config, err, "vaultscan: opening rejects store")
	}

	client, err := rpcclient.New(ctx, cfg.JSONRPCURL)
	if err != nil {
		st.Close()
		rejects.Close()
		return nil, err
	}

	enabled := cfg.EnabledChainIDs(bt)
	if len(enabled) > 0 && !chainEnabled(enabled, client.ChainID()) {
		st.Close()
		rejects.Close()
		return nil, verr.New(verr.Config, fmt.Sprintf("chain %d dialed at JSON_RPC_URL is not in CHAINS_ENABLED", client.ChainID()))
	}

	return &runtimeEnv{cfg: cfg, bt: bt, log: log, st: st, rejects: rejects, client: client, chainID: client.ChainID()}, nil
}

func (e *runtimeEnv) Close() {
	e.st.Close()
	e.rejects.Close()
}

func chainEnabled(enabled []chain.ID, id chain.ID) bool {
	for _, e := range enabled {
		if e == id {
			return true
		}
	}
	return false
}

func newLogger() *vlog.Logger {
	if isatty.IsTerminal(os.Stdout.Fd()) {
		return vlog.NewDevelopment()
	}
	return vlog.New()
}

func colorableStdout() io.Writer {
	if isatty.IsTerminal(os.Stdout.Fd()) {
		return colorable.NewColorableStdout()
	}
	return os.Stdout
}

// buildJob wires one chain's Scanner and Engine against env's dialed
// client. The multicall batcher always uses the fallback-loop backend:
// rpcclient never implements transport.Aggregator (see its Client type doc).
func buildJob(env *runtimeEnv) (orchestrator.ChainJob, error) {
	batcher := multicall.New(env.client, multicall.BackendFallbackLoop, multicall.Config{}, env.log)
	registry := classify.New(env.log)

	tokens, err := tokencache.Open(0, env.st.DB(), batcher)
	if err != nil {
		return orchestrator.ChainJob{}, err
	}

	scanner := &discovery.Scanner{
		ChainID:    env.chainID,
		Events:     rpcclient.NewEventSource(env.client),
		Batcher:    batcher,
		Registry:   registry,
		Store:      env.st,
		Rejects:    env.rejects,
		Log:        env.log,
		Cfg:        discovery.Config{MaxGetLogsRange: uint64(env.cfg.MaxGetLogsRange)},
		Client:     env.client,
		TokenCache: tokens,
	}

	step, err := env.bt.BlockStep(env.chainID, env.cfg.Frequency)
	if err != nil {
		return orchestrator.ChainJob{}, err
	}

	engine := &reader.Engine{Client: env.client, Batcher: batcher}

	return orchestrator.ChainJob{
		ChainID:     env.chainID,
		Scanner:     scanner,
		Reader:      engine,
		Client:      env.client,
		BlockStep:   step,
		EndBlock:    env.cfg.EndBlock,
		HasEndBlock: env.cfg.HasEndBlock,
		ResetLeads:  env.cfg.ResetLeads,
	}, nil
}

func scanVaultsCommand() *cli.Command {
	return &cli.Command{
		Name:  "scan-vaults",
		Usage: "discover and classify vaults, skipping historical price reads",
		Action: func(cctx *cli.Context) error {
			return runOrchestrator(cctx.Context, true, false)
		},
	}
}

func scanPricesCommand() *cli.Command {
	return &cli.Command{
		Name:  "scan-prices",
		Usage: "read historical prices for vaults already discovered, skipping discovery",
		Action: func(cctx *cli.Context) error {
			return runOrchestrator(cctx.Context, false, true)
		},
	}
}

// runOrchestrator drives one long-running chain loop until the process
// receives SIGINT/SIGTERM, streaming historical reads to a JSON-lines file
// and exposing the progress dashboard over HTTP for the process's
// lifetime.
func runOrchestrator(parent context.Context, skipPostProcessing, skipDiscovery bool) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := setup(ctx)
	if err != nil {
		return err
	}
	defer env.Close()

	job, err := buildJob(env)
	if err != nil {
		return err
	}

	pricesFile, err := os.OpenFile(env.cfg.PricesPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return verr.Wrap(verr.Config, err, "vaultscan: opening price output file")
	}
	defer pricesFile.Close()
	encoder := gojson.NewEncoder(pricesFile)

	dashboard := orchestrator.NewDashboard()
	orch := &orchestrator.Orchestrator{
		Store:      env.st,
		Jobs:       []orchestrator.ChainJob{job},
		MaxWorkers: int(env.cfg.MaxWorkers),
		RetryCount: env.cfg.RetryCount,
		LockDir:    filepath.Dir(env.cfg.StatePath),
		Log:        env.log,
		Dashboard:  dashboard,
		Sink: func(r vault.HistoricalRead) {
			if err := encoder.Encode(r); err != nil {
				env.log.Error("vaultscan: writing historical read", "err", err)
			}
		},
		SkipPostProcessing: skipPostProcessing,
		SkipDiscovery:      skipDiscovery,
	}

	srv := &http.Server{Addr: env.cfg.StatusAddr, Handler: statusapi.NewHandler(dashboard)}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			env.log.Error("vaultscan: status server exited", "err", err)
		}
	}()
	defer srv.Shutdown(context.Background())

	return orch.Run(ctx)
}

func checkReaderStatesCommand() *cli.Command {
	return &cli.Command{
		Name:  "check-reader-states",
		Usage: "print a diagnostic summary of every discovered vault's reader state",
		Action: func(cctx *cli.Context) error {
			env, err := setup(cctx.Context)
			if err != nil {
				return err
			}
			defer env.Close()

			records, err := env.st.ListRecords(env.chainID)
			if err != nil {
				return verr.Wrap(verr.Transport, err, "vaultscan: listing vault records")
			}

			t := table.NewWriter()
			t.SetOutputMirror(colorableStdout())
			t.AppendHeader(table.Row{"Vault", "Protocol", "Last Scanned Block", "Reverting Calls"})
			for _, rec := range records {
				last := "never"
				reverting := 0
				if state, ok, err := env.st.LoadReaderState(rec.Key); err != nil {
					return verr.Wrap(verr.Transport, err, "vaultscan: loading reader state")
				} else if ok {
					if state.HasLastScanned {
						last = fmt.Sprintf("%d", state.LastScannedBlock)
					}
					for _, c := range state.CallStatus {
						if c.Reverts {
							reverting++
						}
					}
				}
				t.AppendRow(table.Row{rec.Key.Address.String(), rec.ProtocolName, last, reverting})
			}
			t.Render()
			return nil
		},
	}
}

func purgePriceDataCommand() *cli.Command {
	return &cli.Command{
		Name:  "purge-price-data",
		Usage: "delete persisted reader state for every discovered vault on this chain, keeping the vault records themselves",
		Action: func(cctx *cli.Context) error {
			env, err := setup(cctx.Context)
			if err != nil {
				return err
			}
			defer env.Close()

			records, err := env.st.ListRecords(env.chainID)
			if err != nil {
				return verr.Wrap(verr.Transport, err, "vaultscan: listing vault records")
			}
			purged := 0
			for _, rec := range records {
				if err := env.st.DeleteReaderState(rec.Key); err != nil {
					return verr.Wrap(verr.Transport, err, "vaultscan: purging reader state")
				}
				purged++
			}
			fmt.Fprintf(os.Stdout, "purged reader state for %d vaults on chain %d\n", purged, env.chainID)
			return nil
		},
	}
}
