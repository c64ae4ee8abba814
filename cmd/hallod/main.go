package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"hallod/internal/app"
	"hallod/internal/config"
	"hallod/internal/handler"
	"hallod/internal/httpapi"
	"hallod/internal/logging"
	"hallod/internal/queue"
)

// exitCode carries a process exit status through cobra.
type exitCode int

func (e exitCode) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

func main() {
	if err := newRootCmd().Execute(); err != nil {
		var code exitCode
		if errors.As(err, &code) {
			os.Exit(int(code))
		}
		fmt.Fprintln(os.Stderr, "hallod:", err)
		os.Exit(1)
	}
}

// globals holds flags shared by every command.
type globals struct {
	configPath string
	envFiles   []string
	logLevel   string
	logFormat  string
	modelsDir  string
	device     string

	cfg config.Config
	log zerolog.Logger
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "hallod",
		Short:         "Audio-driven portrait animation worker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.configPath, "config", os.Getenv("HALLOD_CONFIG"), "Config file (.yaml, .json or .toml)")
	pf.StringSliceVar(&g.envFiles, "env-file", []string{".env"}, "Env files to load before HALLOD_* overrides")
	pf.StringVar(&g.logLevel, "log-level", "", "Log level: debug|info|warn|error")
	pf.StringVar(&g.logFormat, "log-format", "", "Log format: json|console")
	pf.StringVar(&g.modelsDir, "models-dir", "", "Model staging directory")
	pf.StringVar(&g.device, "device", "", "Preferred accelerator device")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Resolve(g.configPath, g.envFiles...)
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		if g.logLevel != "" {
			cfg.Log.Level = g.logLevel
		}
		if g.logFormat != "" {
			cfg.Log.Format = g.logFormat
		}
		if g.modelsDir != "" {
			cfg.Models.Dir = g.modelsDir
		}
		if g.device != "" {
			cfg.Models.Device = g.device
		}
		g.cfg = cfg
		g.log = logging.New(cfg.Log.Level, cfg.Log.Format)
		return nil
	}

	root.AddCommand(newRunCmd(g), newServeCmd(g), newWorkerCmd(g), newEnqueueCmd(g), newCheckCmd(g))
	return root
}

func newRunCmd(g *globals) *cobra.Command {
	var jobPath, outPath string
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run one job from a file or stdin and write its result",
		Example: "  hallod run --job job.json --out result.json\n  cat job.json | hallod run",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(jobPath, cmd.InOrStdin())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := app.New(ctx, g.cfg, g.log)
			if err != nil {
				return err
			}
			defer a.Close()

			resp := a.Handle(ctx, raw)
			if err := writeOutput(outPath, cmd.OutOrStdout(), resp); err != nil {
				return err
			}
			if handler.IsFatal(resp) {
				return exitCode(2)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&jobPath, "job", "-", "Job JSON file, - for stdin")
	cmd.Flags().StringVar(&outPath, "out", "-", "Result file, - for stdout")
	return cmd
}

func newServeCmd(g *globals) *cobra.Command {
	var addr, corsOrigins string
	var corsEnabled, noPreload bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve /runsync, health, status and metrics over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := g.cfg
			if cmd.Flags().Changed("addr") {
				cfg.Server.Addr = addr
			}
			if cmd.Flags().Changed("cors-enabled") {
				cfg.Server.CORSEnabled = corsEnabled
			}
			if cmd.Flags().Changed("cors-origins") {
				cfg.Server.CORSOrigins = splitCSV(corsOrigins)
			}
			if noPreload {
				cfg.Server.Preload = false
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := app.New(ctx, cfg, g.log)
			if err != nil {
				return err
			}
			defer a.Close()
			if cfg.Server.Preload {
				a.Preload()
			}
			return serveHTTP(ctx, cfg, g.log, a)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "HTTP listen address")
	cmd.Flags().BoolVar(&corsEnabled, "cors-enabled", false, "Enable CORS")
	cmd.Flags().StringVar(&corsOrigins, "cors-origins", "", "Comma-separated allowed origins")
	cmd.Flags().BoolVar(&noPreload, "no-preload", false, "Load the bundle on the first job instead of at startup")
	return cmd
}

func newWorkerCmd(g *globals) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Pull jobs from a Redis list and store their results",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := g.cfg
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := app.New(ctx, cfg, g.log)
			if err != nil {
				return err
			}
			defer a.Close()
			a.Preload()

			q, closeQueue, err := openQueue(ctx, cfg)
			if err != nil {
				return err
			}
			defer closeQueue()

			// Health, status and metrics stay reachable in worker mode.
			if addr != "" {
				cfg.Server.Addr = addr
				go func() {
					if err := serveHTTP(ctx, cfg, g.log, a); err != nil {
						g.log.Error().Err(err).Msg("status server")
					}
				}()
			}
			err = queue.NewWorker(q, a, handler.IsFatal, g.log).Run(ctx)
			if errors.Is(err, queue.ErrWorkerBroken) {
				return exitCode(2)
			}
			return err
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Optional HTTP address for health, status and metrics")
	return cmd
}

func newEnqueueCmd(g *globals) *cobra.Command {
	var jobPath, outPath string
	var wait time.Duration
	cmd := &cobra.Command{
		Use:     "enqueue",
		Short:   "Push one job onto the Redis list, optionally waiting for its result",
		Example: "  hallod enqueue --job job.json --wait 15m --out result.json",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := readInput(jobPath, cmd.InOrStdin())
			if err != nil {
				return err
			}
			raw, id, err := ensureJobID(raw)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			q, closeQueue, err := openQueue(ctx, g.cfg)
			if err != nil {
				return err
			}
			defer closeQueue()
			if err := q.Push(ctx, raw); err != nil {
				return fmt.Errorf("push: %w", err)
			}
			g.log.Info().Str("job_id", id).Str("list", g.cfg.Queue.List).Msg("job enqueued")
			if wait <= 0 {
				_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
				return err
			}
			wctx, cancel := context.WithTimeout(ctx, wait)
			defer cancel()
			resp, err := q.Await(wctx, id, 0)
			if err != nil {
				return fmt.Errorf("await %s: %w", id, err)
			}
			return writeOutput(outPath, cmd.OutOrStdout(), resp)
		},
	}
	cmd.Flags().StringVar(&jobPath, "job", "-", "Job JSON file, - for stdin")
	cmd.Flags().StringVar(&outPath, "out", "-", "Result JSON file, - for stdout")
	cmd.Flags().DurationVar(&wait, "wait", 0, "Wait this long for the result (0 prints the job id and returns)")
	return cmd
}

// openQueue connects to the configured Redis and returns the job queue.
func openQueue(ctx context.Context, cfg config.Config) (*queue.RedisQueue, func(), error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Queue.RedisAddr,
		Password:    cfg.Queue.RedisPassword,
		DB:          cfg.Queue.RedisDB,
		ReadTimeout: cfg.Queue.PopTimeout.Duration + 5*time.Second,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, fmt.Errorf("redis %s: %w", cfg.Queue.RedisAddr, err)
	}
	q := queue.NewRedisQueue(rdb, queue.Config{
		List:       cfg.Queue.List,
		KeyPrefix:  cfg.Queue.KeyPrefix,
		ResultTTL:  cfg.Queue.ResultTTL.Duration,
		PopTimeout: cfg.Queue.PopTimeout.Duration,
	})
	return q, func() { _ = rdb.Close() }, nil
}

// ensureJobID returns the payload with an "id" set, generating one when the
// caller left it out, so the result can be looked up.
func ensureJobID(raw []byte) ([]byte, string, error) {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, "", fmt.Errorf("job is not a JSON object: %w", err)
	}
	var id string
	if v, ok := m["id"]; ok {
		if err := json.Unmarshal(v, &id); err != nil {
			return nil, "", fmt.Errorf("job id must be a string: %w", err)
		}
	}
	if id != "" {
		return raw, id, nil
	}
	id = uuid.NewString()
	m["id"], _ = json.Marshal(id)
	out, err := json.Marshal(m)
	return out, id, err
}

func newCheckCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check binaries and the model staging tree",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(cmd.Context(), g.cfg, g.log)
			if err != nil {
				return err
			}
			defer a.Close()
			rep := a.Manager.SanityCheck()
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(rep); err != nil {
				return err
			}
			if !rep.OK {
				return exitCode(1)
			}
			return nil
		},
	}
}

func serveHTTP(ctx context.Context, cfg config.Config, log zerolog.Logger, a *app.App) error {
	httpapi.SetLogger(log)
	httpapi.SetBaseContext(ctx)
	httpapi.SetMaxBodyBytes(cfg.Server.MaxBodyBytes)
	httpapi.SetCORSOptions(cfg.Server.CORSEnabled, cfg.Server.CORSOrigins, nil, nil)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           httpapi.NewMux(a),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Server.Addr).Str("models_dir", cfg.Models.Dir).Msg("hallod listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("graceful shutdown")
	}
	return nil
}

func readInput(path string, stdin io.Reader) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func writeOutput(path string, stdout io.Writer, resp any) error {
	b, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')
	if path == "" || path == "-" {
		_, err = stdout.Write(b)
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

// splitCSV splits a comma-separated list, trimming blanks.
func splitCSV(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
