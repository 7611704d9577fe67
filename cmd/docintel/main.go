package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/efebarandurmaz/docintel/internal/config"
	"github.com/efebarandurmaz/docintel/internal/inbox"
	"github.com/efebarandurmaz/docintel/internal/ingest"
	"github.com/efebarandurmaz/docintel/internal/llm"
	"github.com/efebarandurmaz/docintel/internal/llm/providers"
	"github.com/efebarandurmaz/docintel/internal/metrics"
	"github.com/efebarandurmaz/docintel/internal/observability"
	"github.com/efebarandurmaz/docintel/internal/search"
	"github.com/efebarandurmaz/docintel/internal/service"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	var (
		configPath string
		envFile    string
	)

	rootCmd := &cobra.Command{
		Use:           "docintel",
		Short:         "Document intelligence for thesis repositories",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("loading %s: %w", envFile, err)
			}
			return nil
		},
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (YAML, optional)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Dotenv file loaded before reading the environment")

	var (
		addr  string
		watch bool
	)
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the ingestion workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(configPath, addr, watch)
		},
	}
	serveCmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides server.addr)")
	serveCmd.Flags().BoolVar(&watch, "watch", false, "Also watch the inbox directory")

	var (
		documentID string
		keep       bool
		noCallback bool
		jsonReport bool
	)
	ingestCmd := &cobra.Command{
		Use:   "ingest FILE.pdf...",
		Short: "Ingest PDFs synchronously and print a run report",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if documentID != "" && len(args) > 1 {
				return errors.New("--id can only be used with a single file")
			}
			return runIngest(cmd.OutOrStdout(), configPath, documentID, args, keep, noCallback, jsonReport)
		},
	}
	ingestCmd.Flags().StringVar(&documentID, "id", "", "Document id (default: derived from the file name)")
	ingestCmd.Flags().BoolVar(&keep, "keep", false, "Keep the temporary copy of each PDF")
	ingestCmd.Flags().BoolVar(&noCallback, "no-callback", false, "Do not notify the backend")
	ingestCmd.Flags().BoolVar(&jsonReport, "json", false, "Output the run report as JSON")

	var (
		topK       int
		jsonOutput bool
	)
	searchCmd := &cobra.Command{
		Use:   "search QUERY",
		Short: "Semantic search over the index",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(configPath, func(ctx context.Context, svc *service.Service) error {
				return printResults(cmd.OutOrStdout(), svc.Search.Search(ctx, args[0], topK), jsonOutput)
			})
		},
	}
	searchCmd.Flags().IntVar(&topK, "top-k", search.DefaultTopK, "Number of results")
	searchCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")

	var similarTopK int
	similarCmd := &cobra.Command{
		Use:   "similar DOCUMENT_ID",
		Short: "Documents similar to an indexed document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(configPath, func(ctx context.Context, svc *service.Service) error {
				return printResults(cmd.OutOrStdout(), svc.Search.Similar(ctx, args[0], similarTopK), jsonOutput)
			})
		},
	}
	similarCmd.Flags().IntVar(&similarTopK, "top-k", search.DefaultSimilarTopK, "Number of results")
	similarCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output results as JSON")

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show loaded models and index size",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withService(configPath, func(ctx context.Context, svc *service.Service) error {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(svc.Info())
			})
		},
	}

	var inboxDir string
	watchCmd := &cobra.Command{
		Use:   "watch",
		Short: "Ingest PDFs dropped into the inbox directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(configPath, inboxDir)
		},
	}
	watchCmd.Flags().StringVar(&inboxDir, "dir", "", "Inbox directory (overrides inbox.dir)")

	providersCmd := &cobra.Command{
		Use:   "providers",
		Short: "List available model providers",
		Run: func(cmd *cobra.Command, args []string) {
			printProviders(cmd.OutOrStdout())
		},
	}

	rootCmd.AddCommand(serveCmd, ingestCmd, searchCmd, similarCmd, infoCmd, watchCmd, providersCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the configuration and installs the process logger.
func loadConfig(configPath string) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	observability.SetupLogging(observability.LogConfig{Level: cfg.Log.Level, Format: cfg.Log.Format})
	return cfg, nil
}

func withService(configPath string, fn func(context.Context, *service.Service) error) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	cfg.Callback.Enabled = false

	ctx := context.Background()
	svc, err := service.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close(ctx)
	return fn(ctx, svc)
}

func runIngest(out io.Writer, configPath, documentID string, files []string, keep, noCallback, jsonReport bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if noCallback {
		cfg.Callback.Enabled = false
	}

	ctx := context.Background()
	svc, err := service.Open(ctx, cfg)
	if err != nil {
		return err
	}
	defer svc.Close(ctx)

	// The orchestrator consumes its input, so it works on copies.
	tmpDir, err := os.MkdirTemp("", "docintel-ingest-*")
	if err != nil {
		return fmt.Errorf("creating temp dir: %w", err)
	}
	if !keep {
		defer os.RemoveAll(tmpDir)
	}

	info := svc.Info()
	report := metrics.New(info.IndexSize, info.Dimension)
	report.SetModels(deref(info.EmbeddingModel), deref(info.SummarizationModel), deref(info.NormalizerModel))

	for _, file := range files {
		id := documentID
		if id == "" {
			id = inbox.DocumentID(file)
		}
		tmp, err := copyFile(file, tmpDir)
		if err != nil {
			return err
		}

		start := time.Now()
		res := svc.Orchestrator.Process(ctx, ingest.Request{DocumentID: id, PDFPath: tmp, KeepFile: keep})
		report.Add(res, time.Since(start))
	}
	report.Finish(svc.Index.Len())

	if keep {
		fmt.Fprintf(out, "Temporary copies kept in %s\n", tmpDir)
	}
	if jsonReport {
		data, err := report.JSON()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(data))
		return err
	}
	report.PrintSummary(out)
	return nil
}

func copyFile(src, dir string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("opening %s: %w", src, err)
	}
	defer in.Close()

	dst, err := os.CreateTemp(dir, "*_"+filepath.Base(src))
	if err != nil {
		return "", fmt.Errorf("creating copy of %s: %w", src, err)
	}
	if _, err := io.Copy(dst, in); err != nil {
		dst.Close()
		return "", fmt.Errorf("copying %s: %w", src, err)
	}
	return dst.Name(), dst.Close()
}

func printResults(out io.Writer, results []search.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}
	if len(results) == 0 {
		fmt.Fprintln(out, "No results.")
		return nil
	}
	for i, r := range results {
		fmt.Fprintf(out, "%2d. %-12s %.4f  %s\n", i+1, r.DocumentID, r.SimilarityScore, r.Metadata.Title)
		fmt.Fprintf(out, "    %s\n", r.Reason)
	}
	return nil
}

func printProviders(out io.Writer) {
	fmt.Fprintln(out, "Available model providers:")
	fmt.Fprintln(out)

	names := providers.NewFactory().Names()
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "  %-14s %s\n", name, llm.KnownProviders[name])
	}
	fmt.Fprintln(out, "  hashing        (embedding only, built-in feature hashing)")
	fmt.Fprintln(out, "  frequency      (summarizer only, built-in extractive summary)")
	fmt.Fprintln(out, "  none           (disable the model)")
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Configure in the config file or via environment:")
	fmt.Fprintln(out, "  DOCINTEL_EMBEDDING_PROVIDER=tei")
	fmt.Fprintln(out, "  DOCINTEL_EMBEDDING_MODEL=paraphrase-multilingual-MiniLM-L12-v2")
	fmt.Fprintln(out, "  DOCINTEL_SUMMARIZER_PROVIDER=groq")
	fmt.Fprintln(out, "  DOCINTEL_SUMMARIZER_API_KEY=gsk_...")
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
