package app

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	goAuthClient "github.com/MrEthical07/goAuthClient"
	"github.com/MrEthical07/goAuthClient/auth"
)

func newCallCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call",
		Short: "Sign in and send one authenticated request",
		Long: `Signs in with --email and --password, sends one request through the
refresh-aware client and prints the response data as JSON.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(v.GetString("log.level"))
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()
			return runCall(cmd, v, logger)
		},
	}

	f := cmd.Flags()
	addClientFlags(f)
	f.String("email", "", "Account email.")
	f.String("password", "", "Account password.")
	f.String("method", http.MethodGet, "HTTP method.")
	f.String("path", "/auth/me", "Request path.")
	f.String("body", "", "JSON request body.")
	f.Bool("metrics", false, "Print client metrics after the call.")
	return cmd
}

func addClientFlags(f *pflag.FlagSet) {
	f.String("client.base-url", "http://localhost:8080", "API base URL.")
	f.Duration("client.timeout", 30*time.Second, "Per-request timeout.")
	f.String("client.refresh-path", "/auth/refresh", "Refresh endpoint path.")
}

func clientConfig(v *viper.Viper) goAuthClient.Config {
	cfg := goAuthClient.DefaultConfig()
	cfg.Transport.BaseURL = v.GetString("client.base-url")
	cfg.Transport.Timeout = v.GetDuration("client.timeout")
	cfg.Refresh.Path = v.GetString("client.refresh-path")
	cfg.Metrics.Enabled = true
	cfg.Metrics.EnableLatencyHistograms = true
	return cfg
}

func runCall(cmd *cobra.Command, v *viper.Viper, logger *zap.Logger) error {
	ctx := cmd.Context()
	c, err := goAuthClient.New().
		WithConfig(clientConfig(v)).
		WithLogger(logger).
		WithAuditSink(goAuthClient.NewZapSink(logger)).
		Build()
	if err != nil {
		return err
	}
	defer c.Close()

	svc := auth.NewService(c)
	if _, err := svc.Login(ctx, auth.LoginRequest{Email: v.GetString("email"), Password: v.GetString("password")}); err != nil {
		return fmt.Errorf("login: %w", err)
	}

	req := goAuthClient.Request{Method: strings.ToUpper(v.GetString("method")), Path: v.GetString("path")}
	if body := v.GetString("body"); body != "" {
		req.Body = json.RawMessage(body)
	}
	data, err := c.Do(ctx, req)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if err := printJSON(out, data); err != nil {
		return err
	}
	if v.GetBool("metrics") {
		printMetrics(out, c.MetricsSnapshot())
	}
	return nil
}

func printJSON(w io.Writer, data json.RawMessage) error {
	if len(data) == 0 {
		_, err := fmt.Fprintln(w, "null")
		return err
	}
	var pretty any
	if err := json.Unmarshal(data, &pretty); err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(pretty)
}

func printMetrics(w io.Writer, snap goAuthClient.MetricsSnapshot) {
	for id := goAuthClient.MetricRequestSuccess; id <= goAuthClient.MetricCredentialCleared; id++ {
		fmt.Fprintf(w, "%-24s %d\n", id.String(), snap.Counters[id])
	}
}
