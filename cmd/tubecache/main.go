// Command tubecache serves YouTube audio from a local disk cache.
//
//	serve           Run the HTTP server (default)
//	fetch           Resolve and cache videos from the command line
//	resolve         Print canonical video IDs
//	ls              List cached videos
//	rm              Evict videos from the cache
//	clean-partials  Remove abandoned partial downloads
//	healthcheck     Probe a running server (for container health checks)
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/snapetech/tubecache/internal/cache"
	"github.com/snapetech/tubecache/internal/config"
	"github.com/snapetech/tubecache/internal/health"
	"github.com/snapetech/tubecache/internal/httpclient"
	"github.com/snapetech/tubecache/internal/library"
	"github.com/snapetech/tubecache/internal/logger"
	"github.com/snapetech/tubecache/internal/server"
	"github.com/snapetech/tubecache/internal/videoid"
)

// Version is set at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var envFile, addr, cacheDir string
	root := &cobra.Command{
		Use:          "tubecache",
		Short:        "Serve YouTube audio from a local disk cache",
		Version:      Version,
		SilenceUsage: true,
		Args:         cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadEnvFile(envFile); err != nil {
				return err
			}
			// Flags beat both the environment and the env file.
			flags := cmd.Flags()
			if flags.Changed("addr") {
				if err := os.Setenv(config.Prefix+"ADDR", addr); err != nil {
					return err
				}
			}
			if flags.Changed("cache-dir") {
				if err := os.Setenv(config.Prefix+"CACHE_DIR", cacheDir); err != nil {
					return err
				}
			}
			return nil
		},
		RunE: runServe,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&envFile, "env-file", ".env", "KEY=value file loaded before reading TUBECACHE_* variables")
	pf.StringVar(&addr, "addr", "", "listen address (overrides TUBECACHE_ADDR)")
	pf.StringVar(&cacheDir, "cache-dir", "", "cache directory (overrides TUBECACHE_CACHE_DIR)")
	root.AddCommand(
		newServeCmd(),
		newFetchCmd(),
		newResolveCmd(),
		newLsCmd(),
		newRmCmd(),
		newCleanPartialsCmd(),
		newHealthcheckCmd(),
	)
	return root
}

// loadConfig reads config and builds the logger every command shares.
func loadConfig() (*config.Config, *logger.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger.New(cfg.LogLevel, cfg.LogFormat), nil
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := health.CheckCacheDir(cfg.CacheDir); err != nil {
		return err
	}
	if cfg.PartialMaxAge > 0 {
		removed, err := cache.CleanPartials(cfg.CacheDir, cfg.PartialMaxAge, time.Now())
		if err != nil {
			log.Warn("partial sweep incomplete", "err", err)
		}
		if len(removed) > 0 {
			log.Info("removed abandoned partials", "count", len(removed))
		}
	}

	srv := &server.Server{
		Addr:            cfg.Addr,
		IndexHTML:       cfg.IndexHTML,
		CacheDir:        cfg.CacheDir,
		Cache:           a.store,
		Library:         a.library,
		Metrics:         a.metrics,
		Log:             log,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}
	log.Info("tubecache starting", "version", Version, "sources", cfg.Sources, "metrics", cfg.Metrics, "library", cfg.LibraryDB != "")
	return srv.Run(ctx)
}

func newFetchCmd() *cobra.Command {
	var toStdout bool
	cmd := &cobra.Command{
		Use:   "fetch <id-or-url>...",
		Short: "Resolve and cache videos; prints path and size",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if toStdout && len(args) != 1 {
				return errors.New("--stdout takes exactly one video")
			}
			cfg, log, err := loadConfig()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := newApp(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer a.Close()

			if toStdout {
				id, err := videoid.Resolve(args[0])
				if err != nil {
					return fmt.Errorf("%s: %w", args[0], err)
				}
				b, err := a.store.GetOrFetch(ctx, id)
				if err != nil {
					return err
				}
				_, err = cmd.OutOrStdout().Write(b)
				return err
			}

			var failed int
			for _, arg := range args {
				id, err := videoid.Resolve(arg)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", arg, err)
					failed++
					continue
				}
				path, err := a.store.Materialize(ctx, id)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", id, err)
					failed++
					continue
				}
				fi, err := os.Stat(path)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", id, path, humanize.IBytes(uint64(fi.Size())))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d failed", failed, len(args))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&toStdout, "stdout", false, "write the audio of a single video to stdout")
	return cmd
}

func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <id-or-url>...",
		Short: "Print the canonical video ID for each argument",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var bad int
			for _, arg := range args {
				id, err := videoid.Resolve(arg)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "invalid: %q\n", arg)
					bad++
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			if bad > 0 {
				return fmt.Errorf("%d invalid input(s)", bad)
			}
			return nil
		},
	}
}

func newLsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ls",
		Short: "List cached videos, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			entries, err := cache.List(cfg.CacheDir)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSIZE\tCACHED")
			var total int64
			for _, e := range entries {
				total += e.Size
				fmt.Fprintf(tw, "%s\t%s\t%s\n", e.ID, humanize.IBytes(uint64(e.Size)), humanize.Time(e.ModTime))
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d videos, %s\n", len(entries), humanize.IBytes(uint64(total)))
			return nil
		},
	}
}

func newRmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id-or-url>...",
		Short: "Evict videos from the cache and the library",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			var lib *library.Library
			if cfg.LibraryDB != "" {
				if lib, err = library.Open(cfg.LibraryDB); err != nil {
					return err
				}
				defer lib.Close()
			}
			var failed int
			for _, arg := range args {
				id, err := videoid.Resolve(arg)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "invalid: %q\n", arg)
					failed++
					continue
				}
				path := cache.Path(cfg.CacheDir, id)
				if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
					fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", id, err)
					failed++
					continue
				}
				if lib != nil {
					if err := lib.Forget(cmd.Context(), id); err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", id, err)
						failed++
						continue
					}
				}
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d failed", failed, len(args))
			}
			return nil
		},
	}
}

func newCleanPartialsCmd() *cobra.Command {
	var olderThan time.Duration
	cmd := &cobra.Command{
		Use:   "clean-partials",
		Short: "Remove partial downloads older than --older-than",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			removed, err := cache.CleanPartials(cfg.CacheDir, olderThan, time.Now())
			for _, p := range removed {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return err
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", time.Hour, "minimum age of a partial file to remove")
	return cmd
}

func newHealthcheckCmd() *cobra.Command {
	var (
		baseURL  string
		upstream string
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "healthcheck",
		Short: "Exit 0 when a running server answers /healthz",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()
			if err := health.CheckEndpoints(ctx, baseURL); err != nil {
				return err
			}
			if upstream != "" {
				if err := health.CheckUpstream(ctx, httpclient.WithTimeout(timeout), upstream); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "http://127.0.0.1:8000", "base URL of the server")
	cmd.Flags().StringVar(&upstream, "upstream", "", "also require this upstream URL to answer 200")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "overall deadline")
	return cmd
}
