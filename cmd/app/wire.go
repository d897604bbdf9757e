//go:build wireinject
// +build wireinject

package main

import (
	"github.com/google/wire"

	"github.com/yanqian/pagedigest/internal/bootstrap"
	"github.com/yanqian/pagedigest/internal/domain/followup"
	"github.com/yanqian/pagedigest/internal/domain/session"
	"github.com/yanqian/pagedigest/internal/domain/summarizer"
	"github.com/yanqian/pagedigest/internal/infra/config"
	"github.com/yanqian/pagedigest/internal/infra/llm/registry"
	httpiface "github.com/yanqian/pagedigest/internal/interface/http"
	"github.com/yanqian/pagedigest/pkg/logger"
)

func initializeApp() (*bootstrap.App, func(), error) {
	wire.Build(
		config.Load,
		logger.New,
		provideSummaryConfig,
		provideFollowupConfig,
		provideProviderRegistry,
		provideImageFetcher,
		provideDocStore,
		provideDocumentSource,
		provideTokenVerifier,
		session.NewRegistry,
		summarizer.NewService,
		followup.NewService,
		wire.Bind(new(summarizer.ProviderSource), new(*registry.Registry)),
		wire.Bind(new(httpiface.ProviderCatalog), new(*registry.Registry)),
		httpiface.NewHandler,
		httpiface.NewRouter,
		bootstrap.NewApp,
	)
	return nil, nil, nil
}
