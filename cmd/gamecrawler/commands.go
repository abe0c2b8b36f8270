package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/nick-cb/game-reseller-scraper/internal/config"
	"github.com/nick-cb/game-reseller-scraper/internal/crawler"
	"github.com/nick-cb/game-reseller-scraper/internal/extract"
	"github.com/nick-cb/game-reseller-scraper/internal/merge"
	"github.com/nick-cb/game-reseller-scraper/internal/query"
	"github.com/nick-cb/game-reseller-scraper/internal/storage"
	"github.com/nick-cb/game-reseller-scraper/internal/telemetry"
)

const defaultConfigPath = "configs/config.yaml"

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "gamecrawler",
		Short:         "Crawl storefront product pages into game records",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", defaultConfigPath, "Path to crawler configuration file")

	root.AddCommand(newCrawlCmd(opts), newExtractCmd(), newItemsCmd(opts))
	return root
}

// loadConfig reads the configuration file. A missing default file yields the built-in defaults.
func (o *rootOptions) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(o.configPath)
	if errors.Is(err, os.ErrNotExist) && !cmd.Flags().Changed("config") {
		def := config.Default()
		return &def, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newCrawlCmd(root *rootOptions) *cobra.Command {
	var (
		seeds    []string
		fixtures string
	)
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Walk product pages outward from the seed slugs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig(cmd)
			if err != nil {
				return err
			}
			if len(seeds) > 0 {
				if err := cfg.ApplySeeds(seeds); err != nil {
					return err
				}
			}
			if fixtures != "" {
				cfg.Crawl.FixtureDir = fixtures
			}
			return runCrawl(cmd.Context(), *cfg)
		},
	}
	cmd.Flags().StringArrayVar(&seeds, "seed", nil, "Seed page slug, repeatable; replaces configured seeds")
	cmd.Flags().StringVar(&fixtures, "fixtures", "", "Read pages from <dir>/<slug>.html instead of the network")
	return cmd
}

func runCrawl(parent context.Context, cfg config.Config) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	tel, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		if err := tel.Shutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown", "error", err)
		}
	}()

	if cfg.Metrics.Addr != "" {
		srv := &http.Server{Addr: cfg.Metrics.Addr, Handler: metricsMux(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics listener stopped", "addr", cfg.Metrics.Addr, "error", err)
			}
		}()
		defer srv.Close()
	}

	engine, err := crawler.NewEngine(cfg)
	if err != nil {
		return fmt.Errorf("initialise engine: %w", err)
	}
	if err := engine.Run(ctx); err != nil {
		return fmt.Errorf("crawler stopped: %w", err)
	}
	return nil
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func newExtractCmd() *cobra.Command {
	var slug string
	cmd := &cobra.Command{
		Use:   "extract <file>",
		Short: "Merge the record embedded in a saved page or state file and print it as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExtract(cmd.OutOrStdout(), args[0], slug)
		},
	}
	cmd.Flags().StringVar(&slug, "slug", "", "Page slug of the file, defaults to the file name")
	return cmd
}

func runExtract(w io.Writer, path, slug string) error {
	if slug == "" {
		slug = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	bundle, err := extract.ExtractFile(path)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	record, err := merge.NewMerger(logger).Merge(query.NewIndex(bundle), slug)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(record)
}

func newItemsCmd(root *rootOptions) *cobra.Command {
	var params storage.ItemListParams
	cmd := &cobra.Command{
		Use:   "items [url]",
		Short: "List stored items, or show one item by page slug",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.loadConfig(cmd)
			if err != nil {
				return err
			}
			if !cfg.DB.Enabled() {
				return errors.New("items requires db.driver and db.dsn")
			}
			store, err := storage.NewSQLWriter(cfg.DB)
			if err != nil {
				return err
			}
			defer store.Close()

			var out any
			if len(args) == 1 {
				out, err = store.GetItemByURL(cmd.Context(), args[0])
			} else {
				out, err = store.ListItems(cmd.Context(), params)
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringVar(&params.Search, "search", "", "Filter by title, url or ref_slug")
	cmd.Flags().IntVar(&params.Page, "page", 1, "Page number")
	cmd.Flags().IntVar(&params.PageSize, "page-size", 20, "Items per page, at most 200")
	return cmd
}
