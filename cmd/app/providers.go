package main

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/yanqian/pagedigest/internal/domain/followup"
	"github.com/yanqian/pagedigest/internal/domain/summarizer"
	"github.com/yanqian/pagedigest/internal/infra/authtoken"
	"github.com/yanqian/pagedigest/internal/infra/config"
	"github.com/yanqian/pagedigest/internal/infra/docstore"
	"github.com/yanqian/pagedigest/internal/infra/imagefetch"
	"github.com/yanqian/pagedigest/internal/infra/llm"
	"github.com/yanqian/pagedigest/internal/infra/llm/registry"
	httpiface "github.com/yanqian/pagedigest/internal/interface/http"
)

func provideSummaryConfig(cfg *config.Config) summarizer.Config {
	detail := make(map[summarizer.DetailLevel]int, len(cfg.Summary.DetailTokens))
	for level, tokens := range cfg.Summary.DetailTokens {
		detail[summarizer.DetailLevel(level)] = tokens
	}
	return summarizer.Config{
		DefaultProvider:    cfg.Summary.DefaultProvider,
		ContextWindow:      cfg.Summary.ContextWindow,
		MaxRetries:         cfg.Summary.MaxRetries,
		RetryBackoff:       cfg.Summary.RetryBackoff,
		MaxImagesPerRun:    cfg.Summary.MaxImagesPerRun,
		ImagesPerRoundTrip: cfg.Summary.ImagesPerRoundTrip,
		DetailTokens:       detail,
		IntermediateTokens: cfg.Summary.IntermediateTokens,
		Temperature:        cfg.Summary.Temperature,
	}
}

func provideFollowupConfig(cfg *config.Config) followup.Config {
	return followup.Config{
		DefaultProvider: cfg.Summary.DefaultProvider,
		MaxHistory:      cfg.Followup.MaxHistory,
		MaxOutputTokens: cfg.Followup.MaxOutputTokens,
	}
}

func provideProviderRegistry(cfg *config.Config, logger *slog.Logger) (*registry.Registry, error) {
	configs := make([]llm.Config, 0, len(cfg.Providers))
	for _, id := range cfg.ProviderIDs() {
		p := cfg.Providers[id]
		configs = append(configs, llm.Config{
			ID:              id,
			Family:          llm.Family(p.Family),
			BaseURL:         p.BaseURL,
			APIKey:          p.APIKey,
			Model:           p.Model,
			TokenLimitField: p.TokenLimitField,
			Vision:          p.Vision,
			Timeout:         cfg.Summary.RequestTimeout,
		})
	}
	return registry.New(configs, cfg.Summary.DefaultProvider, registry.Constructors(), logger)
}

func provideImageFetcher(cfg *config.Config, logger *slog.Logger) summarizer.ImageFetcher {
	if !cfg.ImageFetch.Enabled {
		logger.Info("image fetching disabled")
		return nil
	}
	return imagefetch.NewFetcher(imagefetch.Config{
		Timeout:      cfg.ImageFetch.Timeout,
		MaxBytes:     cfg.ImageFetch.MaxBytes,
		MaxDimension: cfg.ImageFetch.MaxDimension,
		Concurrency:  cfg.ImageFetch.Concurrency,
	}, logger)
}

// provideDocumentSource lets the follow-up chat read the summarizer's active documents.
func provideDocumentSource(svc summarizer.Service) followup.DocumentSource {
	return svc
}

func provideTokenVerifier(cfg *config.Config) (httpiface.TokenVerifier, error) {
	if !cfg.HTTP.Auth.Enabled {
		return nil, nil
	}
	return authtoken.NewVerifier(cfg.HTTP.Auth.Secret, cfg.HTTP.Auth.Issuer)
}

// provideDocStore prefers valkey and falls back to process memory when it is unreachable.
func provideDocStore(cfg *config.Config, logger *slog.Logger) (docstore.Store, func()) {
	fallback := func() (docstore.Store, func()) {
		return docstore.NewMemoryStore(cfg.Store.TTL), func() {}
	}
	if !cfg.Store.Valkey.Enabled {
		return fallback()
	}
	opt, err := buildValkeyOptions(cfg)
	if err != nil {
		logger.Error("invalid valkey configuration, falling back to memory store", "error", err)
		return fallback()
	}
	client, err := valkey.NewClient(opt)
	if err != nil {
		logger.Error("failed to create valkey client, falling back to memory store", "error", err)
		return fallback()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		logger.Error("valkey ping failed, falling back to memory store", "error", err)
		client.Close()
		return fallback()
	}
	logger.Info("valkey document store enabled", "addr", cfg.Store.Valkey.Addr)
	return docstore.NewValkeyStore(client, cfg.Store.Valkey.Prefix, cfg.Store.TTL), client.Close
}

func buildValkeyOptions(cfg *config.Config) (valkey.ClientOption, error) {
	if strings.Contains(cfg.Store.Valkey.Addr, "://") {
		return valkey.ParseURL(cfg.Store.Valkey.Addr)
	}
	return valkey.ClientOption{InitAddress: []string{cfg.Store.Valkey.Addr}}, nil
}
