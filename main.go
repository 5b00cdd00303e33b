// finsight ingests financial documents (native and scanned PDFs, images)
// and answers natural-language financial questions over market data and
// parsed document content.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"finsight/internal/api"
	"finsight/internal/config"
	"finsight/internal/embeddings"
	"finsight/internal/extract"
	"finsight/internal/handlers"
	"finsight/internal/intent"
	"finsight/internal/marketdata"
	"finsight/internal/parse"
	"finsight/internal/query"
	"finsight/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("starting finsight", "environment", cfg.App.Environment)

	docs, err := store.NewSQLiteDocumentStore(cfg.Store.Path, cfg.Store.Capacity, logger)
	if err != nil {
		logger.Error("failed to initialize document store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := docs.Close(); err != nil {
			logger.Error("error closing document store", "error", err)
		}
	}()

	native := extract.NewNativeExtractor(extract.NativeConfig{
		Pdftotext: cfg.Extraction.Pdftotext,
	}, logger)
	raster := extract.NewPDFRasterizer(extract.RasterConfig{
		Pdftoppm: cfg.Extraction.Pdftoppm,
		DPI:      cfg.Extraction.DPI,
	}, logger)

	var recognizer extract.Recognizer
	if engine, err := extract.NewOCREngine(cfg.Extraction.OCRLang); err != nil {
		logger.Warn("OCR engine unavailable; scanned pages will be partial", "error", err)
	} else {
		recognizer = engine
	}

	var embedder parse.Embedder
	var qaEmbedder handlers.Embedder
	if cfg.Services.Embedder.BaseURL != "" {
		e := embeddings.NewEmbedder(
			cfg.Services.Embedder.BaseURL,
			cfg.Services.Embedder.Model,
			time.Duration(cfg.Services.Embedder.Timeout)*time.Second,
		)
		embedder, qaEmbedder = e, e
	}

	parser := parse.New(parse.Config{
		DensityFloor:    cfg.Extraction.DensityFloor,
		ConfidenceFloor: cfg.Extraction.ConfidenceFloor,
		OCRWorkers:      cfg.Extraction.OCRWorkers,
		OCRRetries:      cfg.Extraction.OCRRetries,
		MaxPages:        cfg.Extraction.MaxPages,
	}, native, raster, recognizer, docs, embedder, logger)
	jobs := parse.NewJobRegistry(parser, 10*time.Minute, logger)

	market := marketdata.NewClient(
		cfg.Services.MarketData.BaseURL,
		cfg.Services.MarketData.APIKey,
		time.Duration(cfg.Services.MarketData.Timeout)*time.Second,
	)

	registry := handlers.NewRegistry()
	for _, h := range []handlers.Handler{
		handlers.NewStockQuoteHandler(market),
		handlers.NewHistoricalPriceHandler(market),
		handlers.NewMarketNewsHandler(market),
		handlers.NewDocumentQAHandler(docs, qaEmbedder, logger),
		handlers.NewGeneralHandler(),
	} {
		if err := registry.Register(h); err != nil {
			logger.Error("handler registration failed", "error", err)
			os.Exit(1)
		}
	}

	answerer := query.New(intent.NewClassifier(0), registry, cfg.QueryTimeout(), logger)

	parseSrv := newHTTPServer(cfg, cfg.Server.ParsePort,
		api.NewParseServer(parser, jobs, docs, cfg.Server.MaxUploadBytes, logger).Handler())
	querySrv := newHTTPServer(cfg, cfg.Server.QueryPort,
		api.NewQueryServer(answerer, logger).Handler())

	errCh := make(chan error, 2)
	go func() {
		logger.Info("parse API listening", "addr", parseSrv.Addr)
		errCh <- parseSrv.ListenAndServe()
	}()
	go func() {
		logger.Info("query API listening", "addr", querySrv.Addr)
		errCh <- querySrv.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
		}
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := parseSrv.Shutdown(ctx); err != nil {
		logger.Error("parse server shutdown failed", "error", err)
	}
	if err := querySrv.Shutdown(ctx); err != nil {
		logger.Error("query server shutdown failed", "error", err)
	}
}

func newHTTPServer(cfg *config.Config, port int, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, port),
		Handler:      handler,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}
}

func newLogger(cfg *config.Config) *slog.Logger {
	var level slog.Level
	switch cfg.App.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.App.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
