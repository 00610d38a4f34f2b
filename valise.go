// Package valise - encrypted-at-rest traveler entry record storage
package valise

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/tripforms/valise/db"
	"github.com/tripforms/valise/encryption"
	"github.com/tripforms/valise/legacy"
	"github.com/tripforms/valise/service"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// DataServiceConfig top level data service deployment settings
type DataServiceConfig struct {
	// DBDialector GORM dialector for the sealed record database
	DBDialector gorm.Dialector
	// DBLogLevel SQL log level
	DBLogLevel logger.LogLevel
	// PrimaryRSACertFile file path to the primary RSA certificate PEM
	PrimaryRSACertFile string
	// PrimaryRSAKeyFile file path to the primary RSA certificate private key PEM
	PrimaryRSAKeyFile string
	// LegacyStoreFile file path to the legacy key-value store JSON document
	LegacyStoreFile string
	// CacheTTL record cache freshness window; service default when zero
	CacheTTL time.Duration
	// MetricsRegistry optional Prometheus registerer for cache counters
	MetricsRegistry prometheus.Registerer
}

/*
NewDataService initialize a traveler data service instance.

Each instance is backed by a SQL database; two instances using the same database are
essentially copies of each other.

	@param ctx context.Context - execution context
	@param config DataServiceConfig - deployment settings
	@returns new service instance
*/
func NewDataService(
	ctx context.Context, config DataServiceConfig,
) (service.DataService, error) {
	// Prepare persistence
	persistence, err := db.NewConnection(config.DBDialector, config.DBLogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to initialized persistence client [%w]", err)
	}

	// Prepare record sealing engine
	cryptoEngine, err := encryption.NewEngine(ctx, encryption.EngineParams{
		Persistence:        persistence,
		PrimaryRSACertFile: config.PrimaryRSACertFile,
		PrimaryRSAKeyFile:  config.PrimaryRSAKeyFile,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialized sealing engine [%w]", err)
	}

	// Prepare legacy store reader
	legacyStore, err := legacy.NewFileStore(config.LegacyStoreFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialized legacy store reader [%w]", err)
	}

	dataService, err := service.NewDataService(ctx, service.DataServiceParams{
		Persistence:     persistence,
		Crypto:          cryptoEngine,
		Legacy:          legacyStore,
		CacheTTL:        config.CacheTTL,
		MetricsRegistry: config.MetricsRegistry,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialized data service [%w]", err)
	}

	return dataService, nil
}
