// Command crowdcheck validates crowdsourced answers read as JSON and prints
// the validation results.
//
//	crowdcheck -policy policy.yaml -input answers.json
//	echo '{"answer_text":"4","question_kind":"rating","other_answers":["4","5"]}' | crowdcheck
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ahrav/go-crowdcheck/infrastructure/middleware"
	"github.com/ahrav/go-crowdcheck/internal/application"
	"github.com/ahrav/go-crowdcheck/internal/domain"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr, os.Getenv); err != nil {
		fmt.Fprintf(os.Stderr, "crowdcheck: %v\n", err)
		os.Exit(1)
	}
}

type options struct {
	policyPath  string
	inputPath   string
	envFile     string
	scorer      string
	provider    string
	model       string
	logLevel    slog.Level
	metricsAddr string
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options

	flags := flag.NewFlagSet("crowdcheck", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.StringVar(&opts.policyPath, "policy", "", "Policy file (.yaml, .toml or .json); defaults are used when empty")
	flags.StringVar(&opts.inputPath, "input", "-", "JSON file with one validation context or an array of them, or - for stdin")
	flags.StringVar(&opts.envFile, "env-file", ".env", "Optional dotenv file with provider API keys")
	flags.StringVar(&opts.scorer, "scorer", "", "Confidence scorer type (heuristic or llm); overrides the policy")
	flags.StringVar(&opts.provider, "provider", "", "LLM provider for the llm scorer (openai, anthropic, google)")
	flags.StringVar(&opts.model, "model", "", "LLM model for the llm scorer")
	flags.TextVar(&opts.logLevel, "log-level", slog.LevelInfo, "Log level (debug, info, warn, error)")
	flags.StringVar(&opts.metricsAddr, "metrics-addr", "", "Serve Prometheus /metrics on this address and wait for a signal before exiting")

	if err := flags.Parse(args); err != nil {
		return options{}, err
	}
	if flags.NArg() > 0 {
		return options{}, fmt.Errorf("unexpected arguments: %v", flags.Args())
	}
	return opts, nil
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer, getenv func(string) string) error {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: opts.logLevel}))

	env, err := loadEnv(opts.envFile, getenv)
	if err != nil {
		return err
	}

	policy, err := loadPolicy(application.NewPolicyLoader(time.Minute, nil), opts)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	metrics := middleware.NewPrometheusMetrics(reg)

	scorer, err := application.DefaultScorerRegistry().Create(policy, application.ScorerDeps{
		Metrics: metrics,
		Getenv:  env,
	})
	if err != nil {
		return err
	}

	orchestrator, err := application.NewOrchestrator(application.OrchestratorConfig{
		Policy:  policy,
		Scorer:  scorer,
		Logger:  logger,
		Metrics: metrics,
	})
	if err != nil {
		return err
	}

	var srv *http.Server
	if opts.metricsAddr != "" {
		srv, err = serveMetrics(opts.metricsAddr, reg, logger)
		if err != nil {
			return err
		}
	}

	contexts, batch, err := readInput(opts.inputPath, stdin)
	if err != nil {
		return err
	}
	logger.Debug("validating answers", "count", len(contexts), "scorer", policy.Scorer.Type)

	results := orchestrator.ValidateAll(ctx, contexts)
	if err := writeResults(stdout, results, batch); err != nil {
		return err
	}

	if srv != nil {
		logger.Info("serving metrics until interrupted", "addr", opts.metricsAddr)
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
	return nil
}

// loadEnv layers the dotenv file under the process environment. A missing
// file is not an error.
func loadEnv(path string, getenv func(string) string) (func(string) string, error) {
	if path == "" {
		return getenv, nil
	}
	fileEnv, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return getenv, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read env file %s: %w", path, err)
	}

	return func(key string) string {
		if v := getenv(key); v != "" {
			return v
		}
		return fileEnv[key]
	}, nil
}

func loadPolicy(loader *application.PolicyLoader, opts options) (application.Policy, error) {
	policy := application.DefaultPolicy()
	if opts.policyPath != "" {
		p, err := loader.Load(opts.policyPath)
		if err != nil {
			return application.Policy{}, err
		}
		policy = p
	}

	if opts.scorer != "" {
		policy.Scorer.Type = opts.scorer
	}
	if opts.provider != "" {
		policy.Scorer.Provider = opts.provider
	}
	if opts.model != "" {
		policy.Scorer.Model = opts.model
	}
	return policy, policy.Validate()
}

// readInput decodes one ValidationContext or an array of them. batch
// reports which shape was read so the output mirrors it.
func readInput(path string, stdin io.Reader) (contexts []domain.ValidationContext, batch bool, err error) {
	var data []byte
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, false, fmt.Errorf("read input: %w", err)
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, false, fmt.Errorf("%w: empty input", domain.ErrInvalidInput)
	}

	if data[0] == '[' {
		if err := json.Unmarshal(data, &contexts); err != nil {
			return nil, false, fmt.Errorf("%w: decode input: %w", domain.ErrInvalidInput, err)
		}
		return contexts, true, nil
	}

	var vc domain.ValidationContext
	if err := json.Unmarshal(data, &vc); err != nil {
		return nil, false, fmt.Errorf("%w: decode input: %w", domain.ErrInvalidInput, err)
	}
	return []domain.ValidationContext{vc}, false, nil
}

func writeResults(w io.Writer, results []domain.ValidationResult, batch bool) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if batch {
		return enc.Encode(results)
	}
	return enc.Encode(results[0])
}

func serveMetrics(addr string, reg *prometheus.Registry, logger *slog.Logger) (*http.Server, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", "error", err)
		}
	}()
	return srv, nil
}
