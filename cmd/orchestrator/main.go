// Command orchestrator runs the orchestration core's HTTP surface: agent
// registry, planner, sequential executor and water accountant, wired with
// cobra for flags/subcommands and zap for structured logs.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/clearcoreai/orchestrator/internal/config"
	"github.com/clearcoreai/orchestrator/internal/corelog"
	"github.com/clearcoreai/orchestrator/internal/httpapi"
	"github.com/clearcoreai/orchestrator/internal/llmclient"
	"github.com/clearcoreai/orchestrator/internal/planner"
	"github.com/clearcoreai/orchestrator/internal/registry"
	"github.com/clearcoreai/orchestrator/internal/water"
)

const version = "0.3.0"

var (
	configPath   string
	addr         string
	registryPath string
	waterPath    string
	secretsPath  string
	llmProvider  string
	llmModel     string
	corsOrigins  []string
	verbose      bool
)

func main() {
	root := &cobra.Command{
		Use:   "orchestrator",
		Short: "Runs the agent registry, planner and executor behind one HTTP server.",
	}
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug logging")

	root.AddCommand(serveCmd(), versionCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the orchestrator version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the orchestrator HTTP server",
		RunE:  runServe,
	}
	cmd.Flags().StringVar(&configPath, "config", "", "optional YAML settings file; explicit flags always override it")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default :8080)")
	cmd.Flags().StringVar(&registryPath, "registry-file", "", "path to the persisted agent registry snapshot (default data/registry.json)")
	cmd.Flags().StringVar(&waterPath, "water-file", "", "path to the persisted water accountant counter (default data/aiwaterdrops.json)")
	cmd.Flags().StringVar(&secretsPath, "secrets-file", "", "path to the LLM provider secret file (default secrets/license_keys.json)")
	cmd.Flags().StringVar(&llmProvider, "llm-provider", "", "LLM provider backing the planner: mistral or anthropic (default mistral)")
	cmd.Flags().StringVar(&llmModel, "llm-model", "", "override the planner's default model for the chosen provider")
	cmd.Flags().StringSliceVar(&corsOrigins, "cors-origin", nil, "allowed CORS origins (repeatable); omit to disable cross-origin requests")
	return cmd
}

// applyConfigFile fills in any flag left at its empty default from the
// optional --config YAML file, then falls back to this command's own
// hardcoded defaults for whatever is still unset.
func applyConfigFile() error {
	f, err := config.Load(configPath)
	if err != nil {
		return err
	}
	config.ApplyDefault(&addr, f.Addr)
	config.ApplyDefault(&registryPath, f.RegistryFile)
	config.ApplyDefault(&waterPath, f.WaterFile)
	config.ApplyDefault(&secretsPath, f.SecretsFile)
	config.ApplyDefault(&llmProvider, f.LLMProvider)
	config.ApplyDefault(&llmModel, f.LLMModel)
	config.ApplyDefaultSlice(&corsOrigins, f.CORSOrigins)

	config.ApplyDefault(&addr, ":8080")
	config.ApplyDefault(&registryPath, "data/registry.json")
	config.ApplyDefault(&waterPath, "data/aiwaterdrops.json")
	config.ApplyDefault(&secretsPath, "secrets/license_keys.json")
	config.ApplyDefault(&llmProvider, "mistral")
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := applyConfigFile(); err != nil {
		return err
	}

	logger := buildLogger()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	llm, err := buildLLMClient(logger)
	if err != nil {
		return fmt.Errorf("build LLM client: %w", err)
	}

	acct := water.New(waterPath, water.WithLogger(logger))

	store := registry.NewFileStore(registryPath)
	reg, err := registry.New(ctx, store, registry.WithLogger(logger), registry.WithWaterSink(acct.Source("registration")))
	if err != nil {
		return fmt.Errorf("load agent registry: %w", err)
	}

	plannerOpts := []planner.Option{planner.WithLogger(logger), planner.WithWaterSink(acct.Source("planning"))}
	if llmModel != "" {
		plannerOpts = append(plannerOpts, planner.WithModel(llmModel))
	}
	pl := planner.New(llm, plannerOpts...)

	srv := httpapi.New(reg, pl, acct, logger)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv.Router(corsOrigins),
	}

	return runWithGracefulShutdown(httpServer, logger, "orchestrator")
}

// buildLLMClient selects the planner's chat backend from --llm-provider,
// reading its bearer token from the secret file the way the original's
// license_keys.json lookup does: a missing token is only fatal once a
// planning call is actually attempted (spec.md §4.4).
func buildLLMClient(logger corelog.Logger) (llmclient.ChatClient, error) {
	secrets, err := llmclient.LoadSecretStore(secretsPath)
	if err != nil {
		return nil, err
	}

	switch llmProvider {
	case "anthropic":
		return llmclient.NewAnthropicClient(secrets.Token("anthropic"), 1024), nil
	case "mistral", "":
		return llmclient.NewMistralClient(secrets.Token("mistral"), "", logger), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", llmProvider)
	}
}

func buildLogger() corelog.ComponentAwareLogger {
	level := "info"
	if verbose {
		level = "debug"
		os.Setenv("ORCHESTRATOR_LOG_LEVEL", "debug")
	}
	l := corelog.NewZapLogger("orchestrator")
	l.Info("logger initialized", map[string]interface{}{"level": level})
	return l
}

// runWithGracefulShutdown starts srv and blocks until SIGINT/SIGTERM,
// giving in-flight requests 10s to drain.
func runWithGracefulShutdown(srv *http.Server, logger corelog.Logger, component string) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info(component+" listening", map[string]interface{}{"addr": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info(component+" shutting down", map[string]interface{}{"signal": sig.String()})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
