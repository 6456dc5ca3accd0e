package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/Aquilesorei/strutex/internal/config"
	"github.com/Aquilesorei/strutex/internal/logger"
	"github.com/Aquilesorei/strutex/internal/metrics"
	"github.com/Aquilesorei/strutex/internal/output"
	"github.com/Aquilesorei/strutex/pkg/backend"
	"github.com/Aquilesorei/strutex/pkg/document"
	"github.com/Aquilesorei/strutex/pkg/schema"
	"github.com/Aquilesorei/strutex/pkg/strutex"
)

const defaultPrompt = "Extract the data described by the schema from this document."

var runCmd = &cobra.Command{
	Use:   "run [document...]",
	Short: "Extract structured data from documents",
	Long: `Extract structured data from local files, http(s):// URLs or
s3://bucket/key objects.

The schema file (JSON or YAML) describes the fields to extract, either in
the native format (a "fields" list) or as a JSON Schema document.

Examples:
  strutex run invoice.pdf -s invoice.yaml
  strutex run *.pdf -s invoice.yaml -f jsonl -o invoices.jsonl -c 8
  strutex run scan.png -s receipt.json --verify --provider openai
  strutex run --job job.yaml --format yaml`,
	RunE: runRun,
}

// runBindings maps config keys to the run flags that override them.
var runBindings = map[string]string{
	"provider":                  "provider",
	"model":                     "model",
	"concurrency":               "concurrency",
	"verify":                    "verify",
	"cache.backend":             "cache",
	"max_document_size":         "max-document-size",
	"metrics_addr":              "metrics-addr",
	"validation.fail_on_issues": "fail-on-issues",
}

func init() {
	rootCmd.AddCommand(runCmd)

	flags := runCmd.Flags()

	// Inputs
	flags.String("job", "", "YAML job file with file(s), prompt and schema")
	flags.StringP("schema", "s", "", "schema file (JSON or YAML)")
	flags.String("prompt", "", "extraction instructions")
	flags.String("prompt-file", "", "read the extraction instructions from a file")

	// Backends
	flags.StringP("provider", "p", "", "primary provider: anthropic, openai, openrouter, ollama (auto-detects from env vars)")
	flags.StringP("model", "m", "", "model for the primary provider")

	// Pipeline
	flags.IntP("concurrency", "c", 4, "documents processed in parallel")
	flags.Bool("verify", false, "run a second verification pass")
	flags.Bool("stream", false, "process documents one by one and print output deltas to stderr")
	flags.String("cache", "", "cache backend: none, memory, file, sqlite, postgres, redis")
	flags.Bool("no-cache", false, "bypass the cache for this run")
	flags.Bool("fail-on-issues", false, "treat validation issues as failures")
	flags.String("max-document-size", "", "largest accepted document (e.g. 20MiB, 0=unlimited)")
	flags.String("metrics-addr", "", "serve Prometheus metrics on this address (e.g. :9090)")

	// Output
	flags.StringP("output", "o", "", "output file (default: stdout)")
	flags.StringP("format", "f", "", "output format: json, jsonl, yaml (default: from the output extension, else json)")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var j *job
	if path, _ := cmd.Flags().GetString("job"); path != "" {
		var err error
		if j, err = loadJob(path); err != nil {
			return err
		}
	}

	cfg, err := loadConfig(cmd, runBindings)
	if err != nil {
		return err
	}
	if err := applyJob(cmd, cfg, j); err != nil {
		return err
	}

	refs := args
	if j != nil {
		refs = append(j.inputs(), refs...)
	}
	if len(refs) == 0 {
		return cmd.Help()
	}

	s, err := resolveSchema(cmd, j)
	if err != nil {
		return err
	}
	prompt, err := resolvePrompt(cmd, j, s)
	if err != nil {
		return err
	}
	w, err := openOutput(cmd)
	if err != nil {
		return err
	}
	defer func() {
		if err := w.Close(); err != nil {
			logger.Error("failed to close output", "error", err)
		}
	}()

	var m *metrics.Metrics
	if cfg.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		m = metrics.New(reg)
		stop := serveMetrics(cfg.MetricsAddr, reg)
		defer stop()
	}

	p, err := buildProcessor(cfg, m)
	if err != nil {
		return err
	}
	defer func() { _ = p.Close() }()

	var opts []strutex.CallOption
	if noCache, _ := cmd.Flags().GetBool("no-cache"); noCache {
		opts = append(opts, strutex.SkipCache())
	}

	loader := document.NewLoader()
	if n, _ := cfg.MaxDocumentBytes(); n > 0 {
		loader.MaxSize = n
	}

	start := time.Now()
	logInfo(cmd, "Processing %d document(s) with %s", len(refs), p.Chain().Name())

	var sum runSummary
	if stream, _ := cmd.Flags().GetBool("stream"); stream {
		err = streamDocuments(ctx, cmd, p, loader, refs, prompt, s, opts, w, &sum)
	} else {
		err = batchDocuments(ctx, p, loader, refs, prompt, s, opts, w, &sum)
	}
	if err != nil {
		return err
	}

	logInfo(cmd, "Done: %d succeeded, %d failed, %d cached, %s tokens in %s",
		sum.ok, sum.failed, sum.cached, humanize.Comma(int64(sum.usage.InputTokens+sum.usage.OutputTokens)),
		time.Since(start).Round(time.Millisecond))
	if sum.failed > 0 {
		return fmt.Errorf("%d of %d documents failed", sum.failed, len(refs))
	}
	return nil
}

// applyJob lets the job file choose the provider and model unless the
// command line already did.
func applyJob(cmd *cobra.Command, cfg *config.Config, j *job) error {
	if j == nil {
		return nil
	}
	if j.Provider != "" && !cmd.Flags().Changed("provider") {
		cfg.Provider = j.Provider
	}
	if j.Model != "" && !cmd.Flags().Changed("model") {
		cfg.Model = j.Model
	}
	return cfg.Validate()
}

func resolveSchema(cmd *cobra.Command, j *job) (*schema.Schema, error) {
	if path, _ := cmd.Flags().GetString("schema"); path != "" {
		s, err := schema.FromFile(path)
		if err != nil {
			return nil, err
		}
		logger.Debug("schema loaded", "path", path, "fields", len(s.Fields))
		return s, nil
	}
	if j != nil {
		return j.schema()
	}
	return nil, nil
}

func resolvePrompt(cmd *cobra.Command, j *job, s *schema.Schema) (string, error) {
	if prompt, _ := cmd.Flags().GetString("prompt"); prompt != "" {
		return prompt, nil
	}
	if path, _ := cmd.Flags().GetString("prompt-file"); path != "" {
		data, err := os.ReadFile(path) //#nosec G304 -- prompt path is user supplied
		if err != nil {
			return "", fmt.Errorf("read prompt: %w", err)
		}
		return string(data), nil
	}
	if j != nil {
		return j.Prompt, nil
	}
	if s == nil {
		return "", errors.New("a prompt or a schema is required")
	}
	return defaultPrompt, nil
}

func openOutput(cmd *cobra.Command) (output.Writer, error) {
	path, _ := cmd.Flags().GetString("output")
	name, _ := cmd.Flags().GetString("format")
	format := output.FormatFromPath(path, output.FormatJSON)
	if name != "" {
		var err error
		if format, err = output.ParseFormat(name); err != nil {
			return nil, err
		}
	}
	return output.Create(path, format)
}

type runSummary struct {
	ok, failed, cached int
	usage              backend.Usage
}

func (s *runSummary) add(res *strutex.Result, err error) {
	if err != nil {
		s.failed++
		return
	}
	s.ok++
	if res.Cached {
		s.cached++
	}
	s.usage = s.usage.Add(res.Usage)
}

// loadDocuments resolves refs in order. Failed loads are written as error
// records and left nil.
func loadDocuments(ctx context.Context, loader *document.Loader, refs []string, w output.Writer, sum *runSummary) ([]*document.Document, error) {
	docs := make([]*document.Document, len(refs))
	for i, ref := range refs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, err := loader.Load(ctx, ref)
		if err != nil {
			logger.Error("failed to load document", "source", ref, "error", err)
			sum.add(nil, err)
			if werr := w.Write(output.NewRecord(ref, nil, err, 0)); werr != nil {
				return nil, werr
			}
			continue
		}
		docs[i] = doc
	}
	return docs, nil
}

func batchDocuments(ctx context.Context, p *strutex.Processor, loader *document.Loader, refs []string,
	prompt string, s *schema.Schema, opts []strutex.CallOption, w output.Writer, sum *runSummary) error {
	docs, err := loadDocuments(ctx, loader, refs, w, sum)
	if err != nil {
		return err
	}

	var (
		reqs    []strutex.Request
		sources []string
	)
	for i, doc := range docs {
		if doc == nil {
			continue
		}
		reqs = append(reqs, strutex.Request{Document: doc, Prompt: prompt, Schema: s})
		sources = append(sources, refs[i])
	}

	for item := range p.ProcessBatchAsync(ctx, reqs, opts...) {
		var elapsed time.Duration
		if item.Result != nil {
			elapsed = item.Result.Duration
		}
		if item.Err != nil {
			logger.Error("extraction failed", "source", sources[item.Index], "error", item.Err)
		}
		sum.add(item.Result, item.Err)
		if err := w.Write(output.NewRecord(sources[item.Index], item.Result, item.Err, elapsed)); err != nil {
			return err
		}
	}
	return ctx.Err()
}

func streamDocuments(ctx context.Context, cmd *cobra.Command, p *strutex.Processor, loader *document.Loader, refs []string,
	prompt string, s *schema.Schema, opts []strutex.CallOption, w output.Writer, sum *runSummary) error {
	quiet, _ := cmd.Flags().GetBool("quiet")
	for _, ref := range refs {
		if err := ctx.Err(); err != nil {
			return err
		}
		doc, err := loader.Load(ctx, ref)
		if err != nil {
			sum.add(nil, err)
			if err := w.Write(output.NewRecord(ref, nil, err, 0)); err != nil {
				return err
			}
			continue
		}

		var (
			res     *strutex.Result
			callErr error
		)
		started := time.Now()
		for ev := range p.Stream(ctx, doc, prompt, s, opts...) {
			switch ev.Type {
			case strutex.StreamDelta:
				if !quiet {
					fmt.Fprint(os.Stderr, ev.Delta)
				}
			case strutex.StreamReset:
				if !quiet {
					fmt.Fprintf(os.Stderr, "\n[%s failed, retrying with the next backend]\n", ev.Backend)
				}
			case strutex.StreamDone:
				res = ev.Result
			case strutex.StreamError:
				callErr = ev.Err
			}
		}
		if !quiet {
			fmt.Fprintln(os.Stderr)
		}
		if callErr != nil {
			logger.Error("extraction failed", "source", ref, "error", callErr)
		}
		sum.add(res, callErr)
		if err := w.Write(output.NewRecord(ref, res, callErr, time.Since(started))); err != nil {
			return err
		}
	}
	return nil
}

// serveMetrics exposes reg on addr until the returned stop function runs.
func serveMetrics(addr string, reg *prometheus.Registry) (stop func()) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr, "path", "/metrics")
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
