package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/telecomverify/telecom/internal/balancer"
	"github.com/telecomverify/telecom/internal/cli/ui"
	"github.com/telecomverify/telecom/internal/config"
	"github.com/telecomverify/telecom/internal/dispatch"
	"github.com/telecomverify/telecom/internal/events"
	"github.com/telecomverify/telecom/internal/provider"
	"github.com/telecomverify/telecom/internal/report"
	"github.com/telecomverify/telecom/internal/server"
	"github.com/telecomverify/telecom/internal/verification"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the verification server",
	Long: `Start the verification server in the foreground. Carriers come from the
[[providers]] list in telecom.toml; without one, three mock carriers with
different failure rates are used.

Pick the balancer and channel:
  telecom start --balancer best --channel voice

Climb sms, sms, voice, voice until a carrier delivers:
  telecom start --escalate`,
	Args: cobra.NoArgs,
	RunE: runStart,
}

func init() {
	startCmd.Flags().Int("port", 0, "Server port (default 5000)")
	startCmd.Flags().String("host", "", "Server host (default 0.0.0.0)")
	startCmd.Flags().String("config", "", "Path to telecom.toml config file")
	startCmd.Flags().String("balancer", "", "Balancer: round-robin (rr) or best (b)")
	startCmd.Flags().String("channel", "", "Delivery channel: sms or voice")
	startCmd.Flags().Bool("escalate", false, "Escalate each request through sms, sms, voice, voice")
}

func startFlags(cmd *cobra.Command) map[string]string {
	flags := make(map[string]string)
	if v, _ := cmd.Flags().GetInt("port"); v != 0 {
		flags["port"] = fmt.Sprintf("%d", v)
	}
	for _, name := range []string{"host", "balancer", "channel"} {
		if v, _ := cmd.Flags().GetString(name); v != "" {
			flags[name] = v
		}
	}
	if cmd.Flags().Changed("escalate") {
		v, _ := cmd.Flags().GetBool("escalate")
		flags["escalate"] = fmt.Sprintf("%t", v)
	}
	return flags
}

func runStart(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	// Load config (defaults → file → env → flags).
	cfg, err := config.Load(configPath, startFlags(cmd))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	// Register signal handlers before any blocking work.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	isTTY := colorEnabled()
	sp := ui.NewProgress(os.Stderr, isTTY, isTTY)

	logger, logBuffer, logLevel, closeLog, err := newLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer closeLog()
	// Progress lines replace INFO logs during interactive startup.
	if isTTY {
		logLevel.Set(slog.LevelWarn)
	}

	sp.Header(fmt.Sprintf("Telecom v%s", bannerVersion(buildVersion)))

	// Fail fast before wiring anything when the port is taken.
	if ln, err := net.Listen("tcp", cfg.Address()); err != nil {
		return ui.Diagnose(err, cfg.Server.Port)
	} else {
		ln.Close()
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sp.Step("Configuring carriers...")
	providers, err := buildProviders(ctx, cfg, logger)
	if err != nil {
		sp.Fail()
		return ui.Diagnose(err, cfg.Server.Port)
	}
	sp.Done()
	for _, pc := range cfg.Providers {
		sp.Carrier(pc.Name, pc.Type)
	}

	var emitter *events.Emitter
	started := false
	// Until the server is up, any failure must release the NATS connection.
	defer func() {
		if !started {
			closeEmitter(emitter, logger)
		}
	}()
	if cfg.Events.NATSURL != "" {
		sp.Step("Connecting to NATS...")
		pub, err := events.NewNATSPublisher(ctx, cfg.Events.NATSURL)
		if err != nil {
			sp.Fail()
			return fmt.Errorf("connecting to NATS: %w", err)
		}
		emitter = events.NewEmitter(pub, logger,
			events.WithQueueSize(cfg.Events.QueueSize),
			events.WithMaxRetries(cfg.Events.MaxRetries),
		)
		sp.Done()
	}

	sp.Step("Building dispatcher...")
	d, tokens, reporter, err := wireDispatch(cfg, providers, emitter, logger)
	if err != nil {
		sp.Fail()
		return ui.Diagnose(err, cfg.Server.Port)
	}
	sp.Done()
	if reporter != nil {
		reporter.Start(ctx)
	}

	srv := server.New(cfg, logger, d, tokens)
	srv.SetLogBuffer(logBuffer)

	sp.Step("Starting server...")
	errCh := make(chan error, 1)
	ready := make(chan struct{})
	go func() {
		errCh <- srv.StartWithReady(ready)
	}()

	select {
	case <-ready:
		sp.Done()
		if isTTY {
			logLevel.Set(parseSlogLevel(cfg.Logging.Level))
			printBannerBodyTo(os.Stderr, cfg, d.Providers(), true)
		} else {
			printBanner(cfg, d.Providers())
		}
	case err := <-errCh:
		sp.Fail()
		if reporter != nil {
			reporter.Stop()
		}
		return ui.Diagnose(err, cfg.Server.Port)
	}
	started = true

	shutdown := func() {
		if reporter != nil {
			reporter.Stop()
		}
		closeEmitter(emitter, logger)
	}

	select {
	case err := <-errCh:
		shutdown()
		return err
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig)
		fmt.Fprintf(os.Stderr, "\n  Shutting down... (press Ctrl-C again to force)\n")
		signal.Stop(sigCh) // Second Ctrl-C triggers Go default (immediate exit).

		if err := srv.Shutdown(context.Background()); err != nil {
			logger.Error("shutdown error", "error", err)
		}
		shutdown()
		return nil
	}
}

// wireDispatch builds the dispatcher and, when a schedule is configured, the
// ranking reporter. On error the emitter is closed.
func wireDispatch(cfg *config.Config, providers []provider.Provider, emitter *events.Emitter, logger *slog.Logger) (*dispatch.Dispatcher, *dispatch.TokenIssuer, *report.Reporter, error) {
	d, tokens, err := buildDispatcher(cfg, providers, emitter, logger)
	if err != nil {
		closeEmitter(emitter, logger)
		return nil, nil, nil, err
	}
	if cfg.Report.Schedule == "" {
		return d, tokens, nil, nil
	}
	window, err := cfg.Report.WindowDuration()
	if err != nil {
		closeEmitter(emitter, logger)
		return nil, nil, nil, err
	}
	reporter, err := report.New(cfg.Report.Schedule, window, d.Repo(), logger)
	if err != nil {
		closeEmitter(emitter, logger)
		return nil, nil, nil, err
	}
	return d, tokens, reporter, nil
}

// closeEmitter drains and closes e. nil is a no-op.
func closeEmitter(e *events.Emitter, logger *slog.Logger) {
	if e == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := e.Close(ctx); err != nil {
		logger.Error("closing event emitter", "error", err)
	}
}

// buildDispatcher assembles the repo, token issuer and dispatcher from cfg.
// emitter may be nil.
func buildDispatcher(cfg *config.Config, providers []provider.Provider, emitter *events.Emitter, logger *slog.Logger) (*dispatch.Dispatcher, *dispatch.TokenIssuer, error) {
	kind, err := balancer.ParseKind(cfg.Balancer.Kind)
	if err != nil {
		return nil, nil, err
	}
	scoring, err := verification.ParseScoring(cfg.Balancer.Scoring)
	if err != nil {
		return nil, nil, err
	}
	weights, err := cfg.Balancer.Weights()
	if err != nil {
		return nil, nil, err
	}
	channel, err := provider.ParseChannel(cfg.Dispatch.Channel)
	if err != nil {
		return nil, nil, err
	}
	tokens, err := dispatch.NewTokenIssuer(cfg.Token.Secret, time.Duration(cfg.Token.Duration)*time.Second)
	if err != nil {
		return nil, nil, err
	}

	opts := []dispatch.Option{
		dispatch.WithRepo(verification.NewRepo(verification.WithScoring(scoring), verification.WithStepWeights(weights))),
		dispatch.WithChannel(channel),
		dispatch.WithEscalation(cfg.Dispatch.Escalate),
		dispatch.WithAttemptTimeout(cfg.Dispatch.AttemptTimeout()),
		dispatch.WithCodeLength(cfg.Dispatch.CodeLength),
		dispatch.WithAllowedCountries(cfg.Dispatch.AllowedCountries),
		dispatch.WithTokenIssuer(tokens),
		dispatch.WithLogger(logger),
	}
	if emitter != nil {
		opts = append(opts, dispatch.WithEmitter(emitter))
	}

	d, err := dispatch.New(providers, kind, opts...)
	if err != nil {
		return nil, nil, err
	}
	return d, tokens, nil
}

// buildProviders constructs the configured carriers in order.
func buildProviders(ctx context.Context, cfg *config.Config, logger *slog.Logger) ([]provider.Provider, error) {
	out := make([]provider.Provider, 0, len(cfg.Providers))
	for _, pc := range cfg.Providers {
		p, err := buildProvider(ctx, pc, logger)
		if err != nil {
			return nil, fmt.Errorf("provider %q: %w", pc.Name, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func buildProvider(ctx context.Context, pc config.ProviderConfig, logger *slog.Logger) (provider.Provider, error) {
	switch pc.Type {
	case "mock":
		return provider.NewMockProvider(pc.Name, pc.SMSFailurePct, pc.VoiceFailurePct)
	case "log":
		return provider.NewLogProvider(pc.Name, logger), nil
	case "twilio":
		return provider.NewTwilioProvider(pc.Name, pc.AccountSID, pc.AuthToken, pc.From, pc.BaseURL), nil
	case "sns":
		publisher, err := newSNSPublisher(ctx, pc.Region)
		if err != nil {
			return nil, err
		}
		return provider.NewSNSProvider(pc.Name, publisher), nil
	case "webhook":
		return provider.NewWebhookProvider(pc.Name, pc.URL, pc.Secret), nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", provider.ErrInvalidConfig, pc.Type)
	}
}

// printBanner writes a human-readable startup summary to stderr.
func printBanner(cfg *config.Config, carriers []string) {
	printBannerTo(os.Stderr, cfg, carriers, colorEnabled())
}

// printBannerTo writes the full banner (header + body) to w.
func printBannerTo(w io.Writer, cfg *config.Config, carriers []string, useColor bool) {
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s %s\n", ui.BrandEmoji,
		boldCyan(fmt.Sprintf("Telecom v%s", bannerVersion(buildVersion)), useColor))
	printBannerBodyTo(w, cfg, carriers, useColor)
}

// printBannerBodyTo writes everything after the header.
func printBannerBodyTo(w io.Writer, cfg *config.Config, carriers []string, useColor bool) {
	// Pad labels before colorizing so ANSI codes don't break alignment.
	padLabel := func(label string) string {
		return bold(fmt.Sprintf("%-10s", label), useColor)
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s %s\n", padLabel("API:"), cyan(cfg.BaseURL(), useColor))
	fmt.Fprintf(w, "  %s %s\n", padLabel("Carriers:"), strings.Join(carriers, ", "))
	fmt.Fprintf(w, "  %s %s (%s)\n", padLabel("Balancer:"), cfg.Balancer.Kind, cfg.Balancer.Scoring)
	if cfg.Dispatch.Escalate {
		fmt.Fprintf(w, "  %s %s\n", padLabel("Channel:"), "sms, sms, voice, voice (escalating)")
	} else {
		fmt.Fprintf(w, "  %s %s\n", padLabel("Channel:"), cfg.Dispatch.Channel)
	}
	if cfg.Events.NATSURL != "" {
		fmt.Fprintf(w, "  %s %s\n", padLabel("Events:"), dim(cfg.Events.NATSURL, useColor))
	}
	if cfg.Report.Schedule != "" {
		fmt.Fprintf(w, "  %s %s\n", padLabel("Report:"), dim(cfg.Report.Schedule, useColor))
	}
	if cfg.Token.Secret == "" {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "  %s\n", yellow(
			"WARNING: token.secret is not set; tokens are signed with a per-process key.", useColor))
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "  %s\n", dim("Try:", useColor))
	fmt.Fprintf(w, "%s\n", green("telecom verify +14155552671", useColor))
	fmt.Fprintf(w, "%s\n", green("telecom rank", useColor))
	fmt.Fprintln(w)
}

// bannerVersion extracts a clean semver string for the startup banner.
// Release builds (e.g. "v0.1.0") → "0.1.0".
// Dev builds (e.g. "v0.1.0-43-ge534c04-dirty") → "0.1.0-dev".
func bannerVersion(raw string) string {
	v := strings.TrimPrefix(raw, "v")
	parts := strings.SplitN(v, "-", 2)
	if len(parts) == 1 {
		return v
	}
	// A number after the hyphen is a git-describe commit count, not a pre-release.
	if len(parts[1]) > 0 && parts[1][0] >= '0' && parts[1][0] <= '9' {
		return parts[0] + "-dev"
	}
	return v
}
