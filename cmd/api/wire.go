package main

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"scopekeeper/api/internal/analysis"
	"scopekeeper/api/internal/app"
	"scopekeeper/api/internal/archive"
	"scopekeeper/api/internal/cache"
	"scopekeeper/api/internal/config"
	"scopekeeper/api/internal/export"
	"scopekeeper/api/internal/extraction"
	"scopekeeper/api/internal/ingest"
	"scopekeeper/api/internal/search"
	"scopekeeper/api/internal/store"
	"scopekeeper/api/internal/textextract"
	"scopekeeper/api/internal/views"
)

// runtime holds every component built from config plus the cleanups to run
// on exit, newest first.
type runtime struct {
	service  *app.Service
	db       *sql.DB
	closers  []func()
	dialect  store.Dialect
	archived *archive.Store
}

func (r *runtime) Close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, store.Dialect, error) {
	dialect, err := store.ParseDialect(cfg.Database.Driver)
	if err != nil {
		return nil, "", err
	}
	db, err := store.Open(ctx, dialect, cfg.Database.URL)
	if err != nil {
		return nil, "", fmt.Errorf("database connection failed: %w", err)
	}
	return db, dialect, nil
}

// build wires the service graph. Redis, Meilisearch, the archive and the
// analysis client are each skipped when their config is empty.
func build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*runtime, error) {
	db, dialect, err := openDatabase(ctx, cfg)
	if err != nil {
		return nil, err
	}
	rt := &runtime{db: db, dialect: dialect}
	rt.closers = append(rt.closers, func() { _ = db.Close() })

	if cfg.Database.AutoMigrate {
		if err := store.ApplyMigrations(ctx, db, dialect); err != nil {
			rt.Close()
			return nil, fmt.Errorf("migrations failed: %w", err)
		}
	}

	rows := store.NewSQLStore(db, dialect)
	opts := []extraction.Option{
		extraction.WithViews(views.NewRegistry(views.Options{ActivityLimit: cfg.Extraction.ActivityLimit})),
		extraction.WithDecodeOptions(extraction.DecodeOptions{CollapseSingletons: cfg.Extraction.CollapseSingletons}),
		extraction.WithLogger(logger.Named("extraction")),
	}

	var cachePinger app.Pinger
	if strings.TrimSpace(cfg.Redis.URL) != "" {
		viewCache, err := cache.NewRedisViewCache(cfg.Redis.URL, cfg.Redis.TTL)
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		rt.closers = append(rt.closers, func() { _ = viewCache.Close() })
		opts = append(opts, extraction.WithCache(viewCache))
		cachePinger = viewCache
		logger.Info("view cache enabled")
	}

	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.Meili.URL) != "" {
		meiliClient = search.NewMeili(cfg.Meili.URL, cfg.Meili.MasterKey, logger.Named("meili"))
		rt.closers = append(rt.closers, meiliClient.Close)
	}
	searchService := search.NewService(meiliClient, rows, logger.Named("search"))
	rt.closers = append(rt.closers, searchService.Close)
	opts = append(opts, extraction.WithIndexer(searchService))

	if strings.TrimSpace(cfg.Archive.Endpoint) != "" {
		archived, err := archive.New(ctx, archive.Config{
			Endpoint:  cfg.Archive.Endpoint,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			Bucket:    cfg.Archive.Bucket,
			UseSSL:    cfg.Archive.UseSSL,
			Region:    cfg.Archive.Region,
		}, logger.Named("archive"))
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("archive setup failed: %w", err)
		}
		rt.archived = archived
		opts = append(opts, extraction.WithArchiver(archived))
		logger.Info("batch archive enabled", zap.String("bucket", cfg.Archive.Bucket))
	}

	extractions := extraction.NewService(rows, opts...)

	var pipeline *ingest.Pipeline
	if strings.TrimSpace(cfg.Analysis.APIKey) != "" {
		analyzer, err := analysis.New(analysis.Config{
			Provider:    cfg.Analysis.Provider,
			BaseURL:     cfg.Analysis.BaseURL,
			APIKey:      cfg.Analysis.APIKey,
			Model:       cfg.Analysis.Model,
			APIVersion:  cfg.Analysis.APIVersion,
			MaxTokens:   cfg.Analysis.MaxTokens,
			Temperature: cfg.Analysis.Temperature,
			TopP:        cfg.Analysis.TopP,
			RateLimit:   cfg.Analysis.RateLimit,
		}, logger.Named("analysis"))
		if err != nil {
			rt.Close()
			return nil, fmt.Errorf("analysis setup failed: %w", err)
		}
		var sources ingest.SourceArchive
		if rt.archived != nil {
			sources = rt.archived
		}
		pipeline = ingest.New(textextract.New(), analyzer, extractions, sources, logger.Named("ingest"))
	}

	rt.service = app.NewService(app.Deps{
		Extractions: extractions,
		Store:       rows,
		Cache:       cachePinger,
		Search:      searchService,
		Export:      export.NewService(extractions, logger.Named("export")),
		Ingest:      pipeline,
		Logger:      logger,
	})
	return rt, nil
}
