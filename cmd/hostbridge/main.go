package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/hostbridge/hostbridge/internal/agent"
	"github.com/hostbridge/hostbridge/internal/api"
	"github.com/hostbridge/hostbridge/internal/bootstrap"
	"github.com/hostbridge/hostbridge/internal/bridge"
	"github.com/hostbridge/hostbridge/internal/config"
	"github.com/hostbridge/hostbridge/internal/host"
	"github.com/hostbridge/hostbridge/internal/metrics"
	"github.com/hostbridge/hostbridge/internal/policy"
	"github.com/hostbridge/hostbridge/internal/store"
	"github.com/hostbridge/hostbridge/internal/wire"
)

var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "hostbridge",
		Short: "Request-interception bridge for an embedded server",
		Long:  "hostbridge redirects client API requests to an embedded server module\ninstead of the network, over a text frame boundary.",
	}

	var configFile string
	var port int
	var adminPort int
	var devMode bool

	// ─── start ───
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the bridge daemon and management API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(configFile, port, devMode)
		},
	}
	startCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to config file (default: hostbridge.yaml)")
	startCmd.Flags().IntVarP(&port, "port", "p", 0, "Override front port (default: 6780)")
	startCmd.Flags().BoolVar(&devMode, "dev", false, "Dev mode: verbose logs, CORS *")

	// ─── init ───
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a starter config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit()
		},
	}

	// ─── status ───
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show agent state and waiting-instance flag",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(adminPort)
		},
	}
	statusCmd.Flags().IntVar(&adminPort, "admin-port", 0, "Management API port (default: 6781)")

	// ─── version ───
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("hostbridge %s\n", version)
			fmt.Printf("  Commit:  %s\n", commit)
			fmt.Printf("  Built:   %s\n", buildDate)
		},
	}

	// ─── intercept ───
	interceptCmd := &cobra.Command{
		Use:   "intercept",
		Short: "Intercept journal commands",
	}

	var interceptOutcome string
	interceptListCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent intercepts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInterceptList(adminPort, interceptOutcome)
		},
	}
	interceptListCmd.Flags().StringVar(&interceptOutcome, "outcome", "", "Filter by outcome")
	interceptListCmd.Flags().IntVar(&adminPort, "admin-port", 0, "Management API port (default: 6781)")

	interceptCmd.AddCommand(interceptListCmd)

	// ─── rules ───
	rulesCmd := &cobra.Command{
		Use:   "rules",
		Short: "Interception rule commands",
	}

	rulesValidateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Compile the rules in the config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRulesValidate(configFile)
		},
	}
	rulesValidateCmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to config file")

	rulesReloadCmd := &cobra.Command{
		Use:   "reload",
		Short: "Hot-reload rules without restart",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := resolveAdminPort(adminPort)
			resp, err := http.Post(fmt.Sprintf("http://localhost:%d/api/rules/reload", p), "application/json", nil)
			if err != nil {
				return fmt.Errorf("failed to connect to hostbridge: %w", err)
			}
			defer func() { _ = resp.Body.Close() }()
			if resp.StatusCode == 200 {
				fmt.Println("✓ Rules reloaded")
			} else {
				fmt.Printf("✗ Reload failed (HTTP %d)\n", resp.StatusCode)
			}
			return nil
		},
	}
	rulesReloadCmd.Flags().IntVar(&adminPort, "admin-port", 0, "Management API port (default: 6781)")

	rulesListCmd := &cobra.Command{
		Use:   "list",
		Short: "Show all loaded rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := resolveAdminPort(adminPort)
			resp, err := http.Get(fmt.Sprintf("http://localhost:%d/api/rules", p))
			if err != nil {
				return fmt.Errorf("failed to connect: %w", err)
			}
			defer func() { _ = resp.Body.Close() }()
			var result map[string]interface{}
			_ = decodeJSON(resp, &result)
			rules, _ := result["rules"].([]interface{})
			if len(rules) == 0 {
				fmt.Println("No rules loaded.")
				return nil
			}
			fmt.Printf("%-25s %-10s %s\n", "NAME", "EFFECT", "CONDITION")
			fmt.Println(strings.Repeat("─", 80))
			for _, r := range rules {
				m := r.(map[string]interface{})
				fmt.Printf("%-25v %-10v %v\n", m["name"], m["effect"], truncate(str(m["condition"]), 40))
			}
			return nil
		},
	}
	rulesListCmd.Flags().IntVar(&adminPort, "admin-port", 0, "Management API port (default: 6781)")

	rulesCmd.AddCommand(rulesValidateCmd, rulesReloadCmd, rulesListCmd)

	// ─── frame ───
	frameCmd := &cobra.Command{
		Use:   "frame",
		Short: "Wire frame debugging commands",
	}

	var frameBody string
	var frameHeaders []string
	frameEncodeCmd := &cobra.Command{
		Use:   "encode [method] [url]",
		Short: "Encode a request frame and print it",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFrameEncode(args[0], args[1], frameBody, frameHeaders)
		},
	}
	frameEncodeCmd.Flags().StringVar(&frameBody, "body", "", "Request body")
	frameEncodeCmd.Flags().StringArrayVar(&frameHeaders, "header", nil, "Header as 'Name: Value' (repeatable)")

	frameDecodeCmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode a response frame read from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFrameDecode(os.Stdin)
		},
	}

	frameCmd.AddCommand(frameEncodeCmd, frameDecodeCmd)

	// ─── doctor ───
	doctorCmd := &cobra.Command{
		Use:   "doctor",
		Short: "Check config, connectivity, and storage",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(adminPort, configFile)
		},
	}
	doctorCmd.Flags().IntVar(&adminPort, "admin-port", 0, "Management API port (default: 6781)")

	rootCmd.AddCommand(startCmd, initCmd, statusCmd, versionCmd, interceptCmd, rulesCmd, frameCmd, doctorCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runStart(configFile string, portOverride int, devMode bool) error {
	// Load config
	cfgLoader := config.NewLoader()
	if configFile == "" {
		configFile = findConfigFile()
	}
	if configFile != "" {
		if err := cfgLoader.Load(configFile); err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	}

	cfg := cfgLoader.Get()

	if portOverride > 0 {
		cfg.Server.Port = portOverride
	}
	if devMode {
		cfg.Server.CORS = true
		cfg.Server.LogLevel = "debug"
	}

	// Setup logger
	logLevel := slog.LevelInfo
	switch strings.ToLower(cfg.Server.LogLevel) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))

	// Compile interception rules
	rules, err := policy.NewRuleSet(ruleSpecs(cfg.Rules), logger)
	if err != nil {
		return fmt.Errorf("failed to compile rules: %w", err)
	}

	// Metrics registry
	m := metrics.New()

	// Bridge transport and bootstrap sequencer
	transport := bridge.NewModuleTransport()
	seq := bootstrap.New(cfg.Storage.Path, cfg.Embedded.Module, transport, logger)
	defer func() { _ = seq.Close() }()

	// Host lifecycle: the waiting-instance flag is raised by the module
	// image watcher; forced activation is logged for the operator, the new
	// image is picked up on the next daemon start.
	lifecycle := host.NewProcessLifecycle(func() {
		logger.Info("waiting instance activated, restart to load the new module image")
	})

	// Interception agent. The admin server is created afterwards, so the
	// live event callback resolves it through a pointer.
	var apiServer *api.Server
	ag := agent.New(cfg.Agent.APIPrefix, transport, lifecycle, logger,
		agent.WithRules(rules),
		agent.WithMetrics(m),
		agent.WithInterceptEvents(func(rec store.Intercept) {
			if apiServer != nil {
				apiServer.BroadcastIntercept(rec)
			}
		}),
	)

	// Install + activate: bootstrap runs storage init before module start.
	// A bootstrap failure is terminal for this activation; the daemon keeps
	// running and every eligible request passes through to the network.
	if err := ag.Install(); err != nil {
		return err
	}
	ctx := context.Background()
	if err := ag.Activate(ctx, seq.Run); err != nil {
		logger.Error("bootstrap failed, eligible requests will pass through", "error", err)
	} else {
		ag.SetJournal(seq.Engine())
	}

	// Module image watcher
	watcher, err := host.NewWatcher(cfg.Embedded.ImagePath, logger)
	if err != nil {
		logger.Warn("failed to create module image watcher", "error", err)
	} else {
		watcher.OnInstall(func(path string) {
			lifecycle.MarkWaiting()
		})
		if err := watcher.Start(); err != nil {
			logger.Warn("failed to start module image watcher", "error", err)
		} else {
			defer func() { _ = watcher.Stop() }()
		}
	}

	// Journal retention pruner
	if seq.Succeeded() && cfg.Storage.Retention > 0 {
		go func() {
			ticker := time.NewTicker(time.Hour)
			defer ticker.Stop()
			for range ticker.C {
				n, err := seq.Engine().PruneBefore(time.Now().Add(-cfg.Storage.Retention))
				if err != nil {
					logger.Error("journal prune failed", "error", err)
					continue
				}
				if n > 0 {
					logger.Debug("pruned intercept journal", "removed", n)
				}
			}
		}()
	}

	// Management API server
	reloadRules := func() error {
		rs, err := policy.NewRuleSet(ruleSpecs(cfgLoader.Get().Rules), logger)
		if err != nil {
			return err
		}
		ag.SetRules(rs)
		return nil
	}
	apiServer = api.NewServer(cfg.Server, seq.Engine(), cfgLoader, ag, lifecycle, reloadRules, logger)
	apiServer.Mux().Handle("GET /metrics", m.Handler())

	go func() {
		if err := apiServer.Start(api.APIAddr(cfg.Server.AdminPort)); err != nil && err != http.ErrServerClosed {
			logger.Error("management API error", "port", cfg.Server.AdminPort, "error", err)
		}
	}()

	// Front server: agent decision in front of the normal network path
	var next http.Handler
	if cfg.Upstream.URL != "" {
		upstream, err := url.Parse(cfg.Upstream.URL)
		if err != nil {
			return fmt.Errorf("invalid upstream URL: %w", err)
		}
		next = httputil.NewSingleHostReverseProxy(upstream)
	}
	front := host.NewHandler(ag.HandleFetch, next, lifecycle, logger)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      front,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	// Print startup banner
	fmt.Println()
	fmt.Println("  ╔══════════════════════════════════════════╗")
	fmt.Println("  ║            hostbridge v" + version + "               ║")
	fmt.Println("  ║   Embedded server request bridge         ║")
	fmt.Println("  ╚══════════════════════════════════════════╝")
	fmt.Println()
	fmt.Printf("  → Front:     http://localhost:%d\n", cfg.Server.Port)
	fmt.Printf("  → Admin API: http://localhost:%d/api\n", cfg.Server.AdminPort)
	fmt.Printf("  → Metrics:   http://localhost:%d/metrics\n", cfg.Server.AdminPort)
	fmt.Printf("  → Storage:   %s\n", cfg.Storage.Path)
	fmt.Printf("  → Module:    %s\n", cfg.Embedded.Module)
	fmt.Printf("  → Agent:     %s\n", ag.State())
	if cfg.Upstream.URL != "" {
		fmt.Printf("  → Upstream:  %s\n", cfg.Upstream.URL)
	} else {
		fmt.Println("  → Upstream:  none (pass-through requests answer 502)")
	}
	fmt.Printf("  → Rules:     %d loaded\n", rules.Len())
	fmt.Println()

	// Graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		logger.Info("shutting down...")
		shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutCancel()
		_ = apiServer.Shutdown(shutCtx)
		_ = httpServer.Shutdown(shutCtx)
	}()

	logger.Info("starting front server", "port", cfg.Server.Port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("front server error: %w", err)
	}

	return nil
}

// ─── Init ───

func runInit() error {
	configPath := "hostbridge.yaml"
	if _, err := os.Stat(configPath); err == nil {
		fmt.Printf("  ⚠ %s already exists (skipping)\n", configPath)
		return nil
	}
	if err := config.GenerateDefault(configPath); err != nil {
		return err
	}
	fmt.Printf("  ✓ Generated %s\n", configPath)
	fmt.Println()
	fmt.Println("  Next steps:")
	fmt.Println("    edit hostbridge.yaml        # upstream, storage, rules")
	fmt.Println("    hostbridge start            # start the daemon")
	return nil
}

// ─── Rules Validate ───

func runRulesValidate(configFile string) error {
	path := configFile
	if path == "" {
		path = findConfigFile()
	}
	if path == "" {
		return fmt.Errorf("no config file found, run 'hostbridge init' to create one")
	}

	loader := config.NewLoader()
	if err := loader.Load(path); err != nil {
		fmt.Printf("✗ Invalid config: %s\n", err)
		return err
	}

	cfg := loader.Get()
	fmt.Printf("✓ Config file valid: %s\n", path)

	rs, err := policy.NewRuleSet(ruleSpecs(cfg.Rules), nil)
	if err != nil {
		fmt.Printf("✗ %s\n", err)
		return err
	}
	fmt.Printf("✓ %d rules compiled\n", rs.Len())
	return nil
}

// ─── Frame Debugging ───

func runFrameEncode(method, rawURL, body string, headerArgs []string) error {
	var headers []wire.Header
	for _, h := range headerArgs {
		name, value, ok := strings.Cut(h, ":")
		if !ok {
			return fmt.Errorf("invalid header %q, want 'Name: Value'", h)
		}
		headers = append(headers, wire.Header{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)})
	}

	f := wire.RequestFrame{
		Method:  strings.ToUpper(method),
		URL:     rawURL,
		Headers: headers,
	}
	if body != "" {
		f.Body = []byte(body)
	}

	frame, err := wire.Encode(f)
	if err != nil {
		return err
	}
	fmt.Print(frame)
	return nil
}

func runFrameDecode(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	resp, skipped, err := wire.Decode(string(data))
	if err != nil {
		return err
	}

	fmt.Printf("Proto:   %s\n", resp.Proto)
	fmt.Printf("Status:  %d %s\n", resp.StatusCode, resp.StatusText)
	for _, h := range resp.Headers {
		fmt.Printf("Header:  %s: %s\n", h.Name, h.Value)
	}
	for _, line := range skipped {
		fmt.Printf("Skipped: %q\n", line)
	}
	if len(resp.Body) > 0 {
		fmt.Printf("Body:    %s\n", resp.Body)
	}
	return nil
}

// ─── Doctor ───

func runDoctor(adminPort int, configFile string) error {
	fmt.Println("hostbridge Doctor")
	fmt.Println("─────────────────")

	path := configFile
	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		fmt.Printf("✓ Config file found: %s\n", path)
	} else {
		fmt.Println("⚠ No config file found (will use defaults)")
	}

	cfg := config.DefaultConfig()
	if path != "" {
		loader := config.NewLoader()
		if err := loader.Load(path); err != nil {
			fmt.Printf("✗ Invalid config: %s\n", err)
			return err
		}
		cfg = loader.Get()
	}

	if _, err := os.Stat(cfg.Storage.Path); err == nil {
		fmt.Printf("✓ Storage file exists: %s\n", cfg.Storage.Path)
	} else {
		fmt.Printf("⚠ Storage file missing: %s (created on first start)\n", cfg.Storage.Path)
	}

	p := resolveAdminPort(adminPort)
	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/api/health", p))
	if err != nil {
		fmt.Printf("✗ hostbridge not running on admin port %d\n", p)
	} else {
		_ = resp.Body.Close()
		fmt.Printf("✓ Management API running on port %d\n", p)
	}

	return nil
}

// ─── Shared Helpers ───

func runStatus(adminPort int) error {
	p := resolveAdminPort(adminPort)
	resp, err := http.Get(fmt.Sprintf("http://localhost:%d/api/state", p))
	if err != nil {
		fmt.Printf("hostbridge is not running on admin port %d\n", p)
		return nil
	}
	defer func() { _ = resp.Body.Close() }()

	var state map[string]interface{}
	if err := decodeJSON(resp, &state); err != nil {
		return err
	}

	fmt.Println("hostbridge Status")
	fmt.Println("─────────────────")
	for k, v := range state {
		fmt.Printf("  %-20s %v\n", k+":", v)
	}
	return nil
}

func runInterceptList(adminPort int, outcome string) error {
	p := resolveAdminPort(adminPort)
	reqURL := fmt.Sprintf("http://localhost:%d/api/intercepts?limit=20", p)
	if outcome != "" {
		reqURL += "&outcome=" + url.QueryEscape(outcome)
	}

	resp, err := http.Get(reqURL)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var result map[string]interface{}
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}

	intercepts, ok := result["intercepts"].([]interface{})
	if !ok || len(intercepts) == 0 {
		fmt.Println("No intercepts recorded.")
		return nil
	}

	fmt.Printf("%-26s %-7s %-12s %-7s %s\n", "TIMESTAMP", "METHOD", "OUTCOME", "STATUS", "URL")
	fmt.Println(strings.Repeat("─", 90))
	for _, it := range intercepts {
		m := it.(map[string]interface{})
		fmt.Printf("%-26v %-7v %-12v %-7v %v\n",
			m["timestamp"], m["method"], m["outcome"], num(m["status_code"]), truncate(str(m["url"]), 40))
	}
	return nil
}

func ruleSpecs(rules []config.RuleConfig) []policy.RuleSpec {
	var specs []policy.RuleSpec
	for _, r := range rules {
		specs = append(specs, policy.RuleSpec{
			Name:      r.Name,
			Condition: r.Condition,
			Effect:    r.Effect,
			Message:   r.Message,
		})
	}
	return specs
}

func findConfigFile() string {
	candidates := []string{
		"hostbridge.yaml",
		"hostbridge.yml",
		filepath.Join(os.Getenv("HOME"), ".config", "hostbridge", "config.yaml"),
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return ""
}

func resolveAdminPort(port int) int {
	if port == 0 {
		return 6781
	}
	return port
}

func decodeJSON(resp *http.Response, v interface{}) error {
	return json.NewDecoder(resp.Body).Decode(v)
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-2] + ".."
}

func str(v interface{}) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}

func num(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case int:
		return float64(n)
	default:
		return 0
	}
}
