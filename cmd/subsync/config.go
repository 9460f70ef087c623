package main

import (
	"time"

	"github.com/dmitrymomot/subsync/pkg/alert"
	"github.com/dmitrymomot/subsync/pkg/billing"
	"github.com/dmitrymomot/subsync/pkg/httpserver"
	"github.com/dmitrymomot/subsync/pkg/logger"
	"github.com/dmitrymomot/subsync/pkg/queue"
	"github.com/dmitrymomot/subsync/pkg/redis"
)

const (
	storeMemory   = "memory"
	storeMongo    = "mongo"
	storePostgres = "postgres"
)

type appConfig struct {
	Env         string `env:"APP_ENV" envDefault:"development"`
	ServiceName string `env:"SERVICE_NAME" envDefault:"subsync"`
	StoreDriver string `env:"STORE_DRIVER" envDefault:"memory"`

	// PlansFile points at a YAML plan catalog. Without it the catalog holds a
	// monthly and an annual plan priced by the two price id variables.
	PlansFile          string `env:"PLANS_FILE"`
	MonthlyPlanPriceID string `env:"PLAN_MONTHLY_PRICE_ID"`
	AnnualPlanPriceID  string `env:"PLAN_ANNUAL_PRICE_ID"`

	ProviderTimeout   time.Duration `env:"PROVIDER_TIMEOUT" envDefault:"10s"`
	StoreTimeout      time.Duration `env:"STORE_TIMEOUT" envDefault:"5s"`
	ProcessingTimeout time.Duration `env:"EVENT_PROCESSING_TIMEOUT" envDefault:"15s"`
	RetryDelay        time.Duration `env:"EVENT_RETRY_DELAY" envDefault:"30s"`
}

// settings bundles every configuration section read at startup.
type settings struct {
	app      appConfig
	log      logger.Config
	http     httpserver.Config
	provider billing.ProviderConfig
	stripe   billing.StripeConfig
	paddle   billing.PaddleConfig
	checkout billing.CheckoutConfig
	queue    queue.Config
	redis    redis.Config
	alert    alert.Config
}
