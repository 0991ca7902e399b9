package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"regchat/config"
	"regchat/embedding"
	"regchat/rag"
	"regchat/scraper"
	"regchat/security"
	"regchat/server"
	"regchat/store"
	"regchat/vectordb"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: regchat <command>")
		fmt.Println("Commands:")
		fmt.Println("  index -html <file> | -pdf <file> | -url <start-url>")
		fmt.Println("  query <question>")
		fmt.Println("  serve")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "regchat: %v\n", err)
		os.Exit(1)
	}
	setupLogging(cfg.Production)

	switch os.Args[1] {
	case "index":
		runIndex(cfg, os.Args[2:])
	case "query":
		runQuery(cfg, strings.Join(os.Args[2:], " "))
	case "serve":
		runServe(cfg)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}
}

func setupLogging(production bool) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if production {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		return
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
}

// buildPipeline wires the Gemini client, embedder, vector index and answer
// composer from configuration.
func buildPipeline(ctx context.Context, cfg config.Config) (*rag.Pipeline, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	embedder := embedding.NewGeminiEmbedder(client, cfg.Embedding)
	index, err := vectordb.Open(cfg.Vector, embedder)
	if err != nil {
		return nil, err
	}

	generator := rag.NewGeminiGenerator(client, cfg.GenerationModel)
	return rag.NewPipeline(index, generator, cfg.Chunking, cfg.RAG), nil
}

func runIndex(cfg config.Config, args []string) {
	fs := flag.NewFlagSet("index", flag.ExitOnError)
	htmlPath := fs.String("html", "", "path to a registration guide HTML file")
	pdfPath := fs.String("pdf", "", "path to a PDF manual")
	startURL := fs.String("url", "", "crawl help pages starting at this URL")
	fs.Parse(args)

	if *htmlPath == "" && *pdfPath == "" && *startURL == "" {
		log.Fatal().Msg("index requires -html, -pdf or -url")
	}

	ctx := context.Background()
	pipeline, err := buildPipeline(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build pipeline")
	}

	total := 0
	switch {
	case *htmlPath != "":
		total = indexFile(ctx, pipeline, *htmlPath, false)
	case *pdfPath != "":
		total = indexFile(ctx, pipeline, *pdfPath, true)
	case *startURL != "":
		total = indexCrawl(ctx, pipeline, *startURL)
	}

	log.Info().Int("chunks", total).Msg("indexing complete")
}

func indexFile(ctx context.Context, pipeline *rag.Pipeline, path string, isPDF bool) int {
	f, err := os.Open(path)
	if err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("cannot open source file")
	}
	defer f.Close()

	var n int
	if isPDF {
		n, err = pipeline.IndexPDF(ctx, f, filepath.Base(path))
	} else {
		n, err = pipeline.IndexHTML(ctx, f)
	}
	if errors.Is(err, security.ErrNoContentExtracted) {
		log.Warn().Str("path", path).Msg("no content extracted, retrieval stays disabled")
		return 0
	}
	if err != nil {
		log.Fatal().Err(err).Str("path", path).Msg("indexing failed")
	}
	return n
}

func indexCrawl(ctx context.Context, pipeline *rag.Pipeline, startURL string) int {
	scrapeCfg := scraper.DefaultConfig()
	scrapeCfg.StartURL = startURL

	s, err := scraper.New(scrapeCfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create scraper")
	}

	crawlCtx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()

	pages, err := s.Run(crawlCtx)
	if err != nil {
		log.Fatal().Err(err).Msg("crawl failed")
	}
	log.Info().Int("pages", len(pages)).Msg("crawl complete")

	total := 0
	for _, page := range pages {
		var n int
		var err error
		if strings.Contains(page.ContentType, "pdf") {
			n, err = pipeline.IndexPDF(ctx, bytes.NewReader(page.Body), page.URL)
		} else {
			n, err = pipeline.IndexHTML(ctx, bytes.NewReader(page.Body))
		}
		if errors.Is(err, security.ErrNoContentExtracted) {
			continue
		}
		if err != nil {
			log.Fatal().Err(err).Str("url", page.URL).Msg("indexing failed")
		}
		total += n
	}
	return total
}

func runQuery(cfg config.Config, query string) {
	validated, err := security.ValidateQuery(query)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid query")
	}

	ctx := context.Background()
	pipeline, err := buildPipeline(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build pipeline")
	}

	answer, err := pipeline.Answer(ctx, validated)
	if err != nil {
		log.Fatal().Err(err).Msg("query failed")
	}

	fmt.Println(security.SanitizeOutput(answer.Text))
	for _, img := range answer.Images {
		fmt.Printf("  [visual guide] %s (%s / %s)\n", img.URL, img.Section, img.Step)
	}
}

func runServe(cfg config.Config) {
	ctx := context.Background()

	pipeline, err := buildPipeline(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build pipeline")
	}
	if !pipeline.Retrievable() {
		log.Warn().Msg("vector index is empty, serving stock replies until indexed")
	}

	users, err := store.Open(ctx, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open user store")
	}
	defer users.Close()

	var audit *security.Auditor
	if cfg.AuditLogPath != "" {
		audit = security.NewFileAuditor(cfg.AuditLogPath)
	} else {
		audit = security.NewAuditor(os.Stderr)
	}

	limiter := security.NewLimiter(cfg.RateLimitCalls, cfg.RateLimitPeriod)
	srv := server.New(pipeline, users, limiter, audit, cfg.Production)

	if err := server.Start(srv, cfg.ListenAddr); err != nil {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
