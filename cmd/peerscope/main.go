// peerscope compares a stock's valuation with its GICS sector peers.
//
// Main CLI entrypoint using cobra command framework.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/seenimoa/peerscope/api"
	"github.com/seenimoa/peerscope/internal/analysis/peers"
	"github.com/seenimoa/peerscope/internal/app"
	"github.com/seenimoa/peerscope/internal/catalog"
	"github.com/seenimoa/peerscope/internal/config"
	"github.com/seenimoa/peerscope/internal/dashboard"
	"github.com/seenimoa/peerscope/internal/logging"
	"github.com/seenimoa/peerscope/internal/snapshot"
	"github.com/seenimoa/peerscope/pkg/utils"
)

// Build-time variables (set via -ldflags).
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Global state, set up by the root command before any subcommand runs.
var (
	cfg     *config.Config
	logger  *zap.Logger
	peerApp *app.App
)

func main() {
	err := rootCmd.Execute()
	if logger != nil {
		_ = logger.Sync()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "peerscope",
	Short: "Sector peer valuation for US stocks",
	Long: `peerscope compares stocks against the other members of their GICS sector
in an index list (S&P 500, Russell 1000). Fundamentals are fetched from Yahoo
Finance into timestamped snapshots; a snapshot older than four days triggers
a refetch.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" {
			return nil
		}

		var err error
		configFile, _ := cmd.Flags().GetString("config")
		if configFile != "" {
			cfg, err = config.LoadFromFile(configFile)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
			cfg.Logging.Level = lvl
		}
		logger, err = logging.New(cfg.Logging.Level, cfg.Logging.Format)
		if err != nil {
			return fmt.Errorf("failed to build logger: %w", err)
		}

		peerApp = app.New(cfg, logger)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "config file path (default: ./config/config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "", "log level override (debug, info, warn, error)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(sharpeCmd)
	rootCmd.AddCommand(indicesCmd)
	rootCmd.AddCommand(snapshotCmd)
	rootCmd.AddCommand(statusCmd)
}

// signalContext is cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// --- Version Command ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("peerscope %s\n", version)
		fmt.Printf("  commit:  %s\n", commit)
		fmt.Printf("  built:   %s\n", date)
	},
}

// --- Serve Command (API Server + Web UI) ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server and web UI",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("addr")
		if addr == "" {
			addr = cfg.Addr()
		}
		noUI, _ := cmd.Flags().GetBool("no-ui")

		srv := api.NewServer(peerApp)
		if noUI {
			srv.SetServeUI(false)
		}

		fmt.Printf("🌐 peerscope listening on http://%s\n", addr)
		return srv.ListenAndServe(context.Background(), addr)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default: api.host:api.port from config)")
	serveCmd.Flags().Bool("no-ui", false, "serve the JSON API only")
}

// --- Fetch Command ---

var fetchCmd = &cobra.Command{
	Use:   "fetch [tickers]",
	Short: "Fetch fundamentals and save a new snapshot",
	Long: `Fetch fundamentals for a comma-separated ticker list and save them as one
snapshot. With --index, every constituent sharing a GICS sector with one of the
tickers is fetched as well.

Examples:
  peerscope fetch AAPL,MSFT
  peerscope fetch NVDA --index SP500_Index`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, _ := cmd.Flags().GetString("index")

		symbols, err := peerApp.WithPeers(index, utils.ParseTickerList(args[0]))
		if err != nil {
			return err
		}

		ctx, stop := signalContext()
		defer stop()

		fmt.Printf("📡 Fetching %d symbols from %s\n", len(symbols), peerApp.Provider.Name())
		res, err := peerApp.Fetcher.Fetch(ctx, symbols)
		if res != nil {
			for _, f := range res.Failures {
				fmt.Printf("   ✗ %-8s %s\n", f.Symbol, f.Reason)
			}
		}
		if err != nil {
			return err
		}

		fmt.Printf("✅ Saved %s (%d records, %d failed)\n",
			res.Snapshot.ID, len(res.Snapshot.Records), len(res.Failures))
		return nil
	},
}

func init() {
	fetchCmd.Flags().String("index", "", "index list whose sector peers are fetched too")
}

// --- Sharpe Command ---

var sharpeCmd = &cobra.Command{
	Use:   "sharpe [tickers]",
	Short: "Find the max-Sharpe weighting of a ticker list",
	Long: `Simulate random weightings of a comma-separated ticker list over its daily
price history and report the one with the highest Sharpe ratio. With --index,
the tickers' sector peers are listed as benchmarks. Nothing is saved.

Examples:
  peerscope sharpe AAPL,MSFT,NVDA --index SP500_Index`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, _ := cmd.Flags().GetString("index")

		ctx, stop := signalContext()
		defer stop()

		resp, err := peerApp.Dashboard.Render(ctx, dashboard.Request{
			Tickers: args[0],
			Index:   index,
			View:    string(dashboard.ViewSharpe),
		})
		if err != nil {
			return err
		}
		for _, w := range resp.Warnings {
			fmt.Printf("   ⚠️  %s\n", w)
		}

		p := resp.Portfolio
		fmt.Printf("\n📈 Max Sharpe portfolio (%d simulated, %d trading days from %s)\n",
			p.Simulated, p.Days, p.From.Format("2006-01-02"))
		for i, sym := range p.Symbols {
			fmt.Printf("   %-8s %6.1f%%\n", sym, p.Best.Weights[i]*100)
		}
		fmt.Printf("   Return %.1f%%  Volatility %.1f%%  Sharpe %.2f\n",
			p.Best.Return*100, p.Best.Volatility*100, p.Best.Sharpe)

		if len(resp.Benchmarks) > 0 {
			fmt.Printf("\n🏷  %s benchmarks\n", resp.Sector)
			for _, b := range resp.Benchmarks {
				fmt.Printf("   %-8s return %6.1f%%  volatility %5.1f%%  sharpe %5.2f\n",
					b.Symbol, b.Return*100, b.Volatility*100, b.Sharpe)
			}
		}
		return nil
	},
}

func init() {
	sharpeCmd.Flags().String("index", "", "index list whose sector peers serve as benchmarks")
}

// --- Indices Commands ---

var indicesCmd = &cobra.Command{
	Use:   "indices",
	Short: "Inspect and update index constituent lists",
}

var indicesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available index lists",
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := peerApp.Catalog.List()
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Printf("No index lists in %s. Run 'peerscope indices update'.\n", peerApp.Catalog.Dir())
			return nil
		}

		for _, id := range ids {
			info, err := peerApp.Catalog.Info(id)
			if err != nil {
				fmt.Printf("  %-22s ⚠️  %v\n", id, err)
				continue
			}
			fmt.Printf("  %-22s %4d constituents  %2d sectors\n", id, info.Constituents, len(info.Sectors))
		}
		return nil
	},
}

var indicesShowCmd = &cobra.Command{
	Use:   "show [index]",
	Short: "Show an index list, optionally one sector only",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sector, _ := cmd.Flags().GetString("sector")

		info, err := peerApp.Catalog.Info(args[0])
		if err != nil {
			return err
		}
		if sector == "" {
			fmt.Printf("%s: %d constituents\n", info.ID, info.Constituents)
			for _, s := range info.Sectors {
				fmt.Printf("  %s\n", s)
			}
			return nil
		}

		constituents, err := peerApp.Catalog.Peers(args[0], sector)
		if err != nil {
			return err
		}
		fmt.Printf("%s / %s: %d constituents\n", info.ID, sector, len(constituents))
		for _, c := range constituents {
			fmt.Printf("  %-8s %-40s %s\n", c.Symbol, c.Name, c.SubIndustry)
		}
		return nil
	},
}

var indicesUpdateCmd = &cobra.Command{
	Use:   "update [index...]",
	Short: "Download index lists from Wikipedia",
	Long: `Download constituent tables from Wikipedia and rewrite the CSV files in the
index directory. Without arguments every known list is refreshed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sources := catalog.DefaultSources
		if len(args) > 0 {
			sources = nil
			for _, id := range args {
				src, ok := findSource(id)
				if !ok {
					return fmt.Errorf("%w: %s (known: %s)", catalog.ErrNotFound, id, knownSources())
				}
				sources = append(sources, src)
			}
		}

		ctx, stop := signalContext()
		defer stop()

		r := peerApp.Refresher()
		var errs []error
		for _, src := range sources {
			n, err := r.Refresh(ctx, src)
			if err != nil {
				fmt.Printf("  ✗ %-22s %v\n", src.ID, err)
				errs = append(errs, err)
				continue
			}
			fmt.Printf("  ✓ %-22s %d constituents\n", src.ID, n)
		}
		return errors.Join(errs...)
	},
}

func findSource(id string) (catalog.Source, bool) {
	for _, src := range catalog.DefaultSources {
		if strings.EqualFold(src.ID, id) {
			return src, true
		}
	}
	return catalog.Source{}, false
}

func knownSources() string {
	ids := make([]string, len(catalog.DefaultSources))
	for i, src := range catalog.DefaultSources {
		ids[i] = src.ID
	}
	return strings.Join(ids, ", ")
}

func init() {
	indicesShowCmd.Flags().String("sector", "", "GICS sector to list")

	indicesCmd.AddCommand(indicesListCmd)
	indicesCmd.AddCommand(indicesShowCmd)
	indicesCmd.AddCommand(indicesUpdateCmd)
}

// --- Snapshot Commands ---

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Inspect saved snapshots",
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved snapshots, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		metas, err := peerApp.Store.List()
		if err != nil {
			return err
		}
		if len(metas) == 0 {
			fmt.Println("No snapshots yet. Run 'peerscope fetch'.")
			return nil
		}
		now := utils.NowET()
		for i := len(metas) - 1; i >= 0; i-- {
			m := metas[i]
			fmt.Printf("  %s  %s ago\n", m.ID, utils.FormatAge(m.Age(now)))
		}
		return nil
	},
}

var snapshotLatestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Show the most recent snapshot",
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := peerApp.Store.LoadLatest()
		if err != nil {
			return err
		}
		return printSnapshot(cmd, snap)
	},
}

var snapshotShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show one snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		snap, err := peerApp.Store.Load(args[0])
		if err != nil {
			return err
		}
		return printSnapshot(cmd, snap)
	},
}

// printSnapshot prints the records with their sector market-cap share.
func printSnapshot(cmd *cobra.Command, snap *snapshot.Snapshot) error {
	sector, _ := cmd.Flags().GetString("sector")
	enriched := peers.Derive(snap.Records, sector)

	age := snap.Meta().Age(utils.NowET())
	fmt.Printf("%s  captured %s (%s ago)\n", snap.ID, utils.FormatDateTimeET(snap.CapturedAt), utils.FormatAge(age))
	if age > cfg.Data.StaleAfter {
		fmt.Printf("⚠️  older than %s; the next view will refetch\n", utils.FormatAge(cfg.Data.StaleAfter))
	}
	fmt.Println()

	fmt.Printf("  %-8s %-28s %10s %8s %10s %9s %9s\n", "SYMBOL", "SECTOR", "MKT CAP", "SHARE", "P/E", "ROE", "EPS GR")
	for _, e := range enriched {
		fmt.Printf("  %-8s %-28s %10s %7.2f%% %10.2f %9s %9s\n",
			e.Symbol, truncate(e.Sector, 28), utils.FormatUSDCompact(e.MarketCap), e.MarketCapSharePct,
			e.TrailingPE, utils.FormatPct(utils.FractionToPct(e.ROE)), utils.FormatPct(utils.FractionToPct(e.EarningsGrowth)))
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}

func init() {
	snapshotLatestCmd.Flags().String("sector", "", "restrict records and share totals to one sector")
	snapshotShowCmd.Flags().String("sector", "", "restrict records and share totals to one sector")

	snapshotCmd.AddCommand(snapshotListCmd)
	snapshotCmd.AddCommand(snapshotLatestCmd)
	snapshotCmd.AddCommand(snapshotShowCmd)
}

// --- Status Command ---

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show system status and configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		now := utils.NowET()

		fmt.Println("═══════════════════════════════════════")
		fmt.Println("  peerscope System Status")
		fmt.Println("═══════════════════════════════════════")
		fmt.Printf("  Version:       %s (%s)\n", version, commit)
		fmt.Printf("  Market Status: %s\n", utils.MarketStatus(now))
		fmt.Printf("  Time (ET):     %s\n", utils.FormatDateTimeET(now))
		fmt.Println()

		fmt.Println("  Configuration:")
		if cfg.File != "" {
			fmt.Printf("    Config File:   %s\n", cfg.File)
		}
		fmt.Printf("    Index Dir:     %s\n", cfg.Data.IndexDir)
		fmt.Printf("    Snapshot Dir:  %s\n", cfg.Data.SnapshotDir)
		fmt.Printf("    Stale After:   %s\n", utils.FormatAge(cfg.Data.StaleAfter))
		fmt.Printf("    Provider:      %s (%s)\n", peerApp.Provider.Name(), cfg.Fetch.BaseURL)
		fmt.Printf("    API Server:    %s\n", cfg.Addr())
		fmt.Println()

		fmt.Println("  Data:")
		ids, err := peerApp.Catalog.List()
		if err != nil {
			return err
		}
		fmt.Printf("    Index Lists:   %d (%s)\n", len(ids), strings.Join(ids, ", "))

		latest, err := peerApp.Store.Latest()
		switch {
		case err != nil:
			return err
		case latest == nil:
			fmt.Println("    Snapshot:      ❌ none")
		default:
			mark := "✅"
			age := latest.Age(now)
			if age > cfg.Data.StaleAfter {
				mark = "⚠️  stale,"
			}
			fmt.Printf("    Snapshot:      %s %s (%s ago)\n", mark, latest.ID, utils.FormatAge(age))
		}

		fmt.Println("═══════════════════════════════════════")
		return nil
	},
}
