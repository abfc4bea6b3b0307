// Command auditor runs the Auditor Core (spec.md §4.7) behind its own
// small HTTP surface. It is an ordinary registrable agent from the
// orchestrator's point of view -- it exposes /manifest and /metrics like
// any other agent, plus /run and /execute for the audit capability.
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

	"github.com/clearcoreai/orchestrator/internal/auditor"
	"github.com/clearcoreai/orchestrator/internal/auditorapi"
	"github.com/clearcoreai/orchestrator/internal/config"
	"github.com/clearcoreai/orchestrator/internal/corelog"
	"github.com/clearcoreai/orchestrator/internal/llmclient"
	"github.com/clearcoreai/orchestrator/internal/water"
)

const version = "0.3.0"

var (
	configPath  string
	addr        string
	waterPath   string
	secretsPath string
	llmProvider string
	llmModel    string
	verbose     bool
)

func main() {
	root := &cobra.Command{
		Use:   "auditor",
		Short: "Runs the Auditor Core's HTTP surface.",
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
		Short: "Print the auditor version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the auditor HTTP server",
		RunE:  runServe,
	}
	cmd.Flags().StringVar(&configPath, "config", "", "optional YAML settings file; explicit flags always override it")
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default :8090)")
	cmd.Flags().StringVar(&waterPath, "water-file", "", "path to the persisted water accountant counter (default data/auditor-aiwaterdrops.json)")
	cmd.Flags().StringVar(&secretsPath, "secrets-file", "", "path to the LLM provider secret file (default secrets/license_keys.json)")
	cmd.Flags().StringVar(&llmProvider, "llm-provider", "", "LLM provider backing the audit call: mistral or anthropic (default mistral)")
	cmd.Flags().StringVar(&llmModel, "llm-model", "", "override the auditor's default model for the chosen provider")
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
	config.ApplyDefault(&waterPath, f.WaterFile)
	config.ApplyDefault(&secretsPath, f.SecretsFile)
	config.ApplyDefault(&llmProvider, f.LLMProvider)
	config.ApplyDefault(&llmModel, f.LLMModel)

	config.ApplyDefault(&addr, ":8090")
	config.ApplyDefault(&waterPath, "data/auditor-aiwaterdrops.json")
	config.ApplyDefault(&secretsPath, "secrets/license_keys.json")
	config.ApplyDefault(&llmProvider, "mistral")
	return nil
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := applyConfigFile(); err != nil {
		return err
	}

	logger := buildLogger()

	llm, err := buildLLMClient(logger)
	if err != nil {
		return fmt.Errorf("build LLM client: %w", err)
	}

	acct := water.New(waterPath, water.WithLogger(logger))

	auditorOpts := []auditor.Option{auditor.WithLogger(logger), auditor.WithWaterSink(acct.Source("audit"))}
	if llmModel != "" {
		auditorOpts = append(auditorOpts, auditor.WithModel(llmModel))
	}
	a := auditor.New(llm, auditorOpts...)

	srv := auditorapi.New(a, acct, logger)

	httpServer := &http.Server{
		Addr:    addr,
		Handler: srv.Router(),
	}

	return runWithGracefulShutdown(httpServer, logger, "auditor")
}

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
	if verbose {
		os.Setenv("ORCHESTRATOR_LOG_LEVEL", "debug")
	}
	l := corelog.NewZapLogger("auditor")
	return l
}

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
