//go:build wireinject
// +build wireinject

package di

import (
	"MarketPull/pkg/config"
	"MarketPull/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideWarmCache,
		ProvideTransport,

		// Repositories
		ProvideQuoteStorage,
		ProvideQuotePublisher,
		ProvideQuoteStream,

		// Use cases
		ProvideQuoteProcessor,
		ProvideEngine,
		ProvideQuoteCollector,

		// HTTP
		ProvideHTTPHandler,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
