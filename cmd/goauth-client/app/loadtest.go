package app

import (
	"context"
	"fmt"
	"io"
	"net/http/httptest"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	goAuthClient "github.com/MrEthical07/goAuthClient"
	"github.com/MrEthical07/goAuthClient/auth"
	"github.com/MrEthical07/goAuthClient/authserver"
	"github.com/MrEthical07/goAuthClient/password"
)

// loadTestOptions drive one load test run.
type loadTestOptions struct {
	Requests    int
	Concurrency int
	Rounds      int
}

type loadTestReport struct {
	Requests      int
	Failures      int64
	RefreshCalls  int64
	Total         time.Duration
	P50, P95, P99 time.Duration
	Metrics       goAuthClient.MetricsSnapshot
}

func newLoadTestCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loadtest",
		Short: "Fire concurrent requests with a stale credential at an embedded server",
		Long: `Starts the reference server on an embedded Redis, signs in, replaces the
credential with a stale one and sends --requests protected calls with at most
--concurrency in flight. This repeats for --rounds. Each round should cost
exactly one refresh call.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(v.GetString("log.level"))
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			opts := loadTestOptions{
				Requests:    v.GetInt("requests"),
				Concurrency: v.GetInt("concurrency"),
				Rounds:      v.GetInt("rounds"),
			}
			report, err := runLoadTest(cmd.Context(), opts, logger)
			if err != nil {
				return err
			}
			printReport(cmd.OutOrStdout(), opts, report)
			return nil
		},
	}

	f := cmd.Flags()
	f.Int("requests", 500, "Requests per round.")
	f.Int("concurrency", 64, "Maximum requests in flight.")
	f.Int("rounds", 3, "Number of stale-credential rounds.")
	return cmd
}

func runLoadTest(ctx context.Context, opts loadTestOptions, logger *zap.Logger) (*loadTestReport, error) {
	if opts.Requests <= 0 || opts.Concurrency <= 0 || opts.Rounds <= 0 {
		return nil, fmt.Errorf("requests, concurrency and rounds must be > 0")
	}

	rdb, closeRedis, err := openRedis(ctx, "", logger)
	if err != nil {
		return nil, err
	}
	defer closeRedis()

	srv, err := authserver.New(authserver.Options{
		Redis:    rdb,
		Logger:   logger,
		Password: password.Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32, MinBytes: 8},
	})
	if err != nil {
		return nil, err
	}
	mountDemoRoutes(srv)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	cfg := goAuthClient.DefaultConfig()
	cfg.Transport.BaseURL = ts.URL
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	c, err := goAuthClient.New().WithConfig(cfg).WithLogger(logger).Build()
	if err != nil {
		return nil, err
	}
	defer c.Close()

	svc := auth.NewService(c)
	if _, err := svc.Register(ctx, auth.RegisterRequest{Email: "loadtest@example.com", Password: "loadtest-password"}); err != nil {
		return nil, fmt.Errorf("register: %w", err)
	}

	var (
		mu        sync.Mutex
		failures  atomic.Int64
		latencies = make([]time.Duration, 0, opts.Requests*opts.Rounds)
	)

	start := time.Now()
	for round := 0; round < opts.Rounds; round++ {
		c.SetAccessToken(fmt.Sprintf("stale-%d", round))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(opts.Concurrency)
		for i := 0; i < opts.Requests; i++ {
			g.Go(func() error {
				t0 := time.Now()
				_, err := c.Get(gctx, ItemsPath)
				d := time.Since(t0)
				if err != nil {
					failures.Add(1)
					logger.Debug("request failed", zap.Error(err))
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	total := time.Since(start)

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	return &loadTestReport{
		Requests:     len(latencies),
		Failures:     failures.Load(),
		RefreshCalls: srv.RefreshCount(),
		Total:        total,
		P50:          percentile(latencies, 50),
		P95:          percentile(latencies, 95),
		P99:          percentile(latencies, 99),
		Metrics:      c.MetricsSnapshot(),
	}, nil
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printReport(w io.Writer, opts loadTestOptions, r *loadTestReport) {
	fmt.Fprintln(w, "---- results ----")
	fmt.Fprintf(w, "requests=%d failures=%d total=%s\n", r.Requests, r.Failures, r.Total.Round(time.Millisecond))
	fmt.Fprintf(w, "refresh calls=%d (rounds=%d)\n", r.RefreshCalls, opts.Rounds)
	fmt.Fprintf(w, "p50=%s p95=%s p99=%s\n",
		r.P50.Round(time.Microsecond),
		r.P95.Round(time.Microsecond),
		r.P99.Round(time.Microsecond),
	)
	printMetrics(w, r.Metrics)
}
