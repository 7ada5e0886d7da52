package config

import (
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var config = viper.New()

// TierRate binds a basis-point rate to an agent tier (1 most senior .. 4 least).
type TierRate struct {
	Tier int `mapstructure:"TIER"`
	Bps  int `mapstructure:"BPS"`
}

// StarGatedRate is a flat rate gated on a minimum star rating.
type StarGatedRate struct {
	MinStar int `mapstructure:"MIN_STAR"`
	Bps     int `mapstructure:"BPS"`
}

// PromotionCondition describes one qualifying condition for a tier transition.
// Zero fields are not checked; all set fields must be satisfied.
type PromotionCondition struct {
	TotalSales int64 `mapstructure:"TOTAL_SALES"`
	MonthSales int64 `mapstructure:"MONTH_SALES"`
	TeamCount  int64 `mapstructure:"TEAM_COUNT"`
}

// FollowRule pulls direct children at FromTier up to ToTier when the
// transition named by Transition (e.g. "3->2") fires.
type FollowRule struct {
	Transition string `mapstructure:"TRANSITION"`
	FromTier   int    `mapstructure:"FROM_TIER"`
	ToTier     int    `mapstructure:"TO_TIER"`
}

type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Server struct {
		Addr         string        `mapstructure:"ADDR"`
		ReadTimeout  time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout  time.Duration `mapstructure:"IDLE_TIMEOUT"`
	} `mapstructure:"HTTP_SERVER"`
	Database struct {
		Type           string `mapstructure:"TYPE"`
		Host           string `mapstructure:"HOST"`
		Port           string `mapstructure:"PORT"`
		DBNAME         string `mapstructure:"DBNAME"`
		User           string `mapstructure:"USER"`
		Password       string `mapstructure:"PASSWORD"`
		SSLMode        string `mapstructure:"SSLMODE"`
		Timezone       string `mapstructure:"TIMEZONE"`
		ConnectionPool struct {
			MaxIdleConn     int           `mapstructure:"MAX_IDLE_CONN"`
			MaxOpenConns    int           `mapstructure:"MAX_OPEN_CONNS"`
			ConnMaxLifetime time.Duration `mapstructure:"CONN_MAX_LIFETIME"`
			ConnMaxIdleTime time.Duration `mapstructure:"CONN_MAX_IDLE_TIME"`
		} `mapstructure:"CONNECTION_POOL"`
	} `mapstructure:"DATABASE"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Flagsmith struct {
		Addr   string `mapstructure:"ADDR"`
		ApiKey string `mapstructure:"API_KEY"`
	} `mapstructure:"FLAGSMITH"`
	OrderService struct {
		BaseURL string        `mapstructure:"BASE_URL"`
		Timeout time.Duration `mapstructure:"TIMEOUT"`
	} `mapstructure:"ORDER_SERVICE"`
	Commission struct {
		Scheme       string        `mapstructure:"SCHEME"` // legacy | simplified
		TotalRateBps int           `mapstructure:"TOTAL_RATE_BPS"`
		Basic        []TierRate    `mapstructure:"BASIC"`
		Repurchase   StarGatedRate `mapstructure:"REPURCHASE"`
		TeamMgmt     StarGatedRate `mapstructure:"TEAM_MGMT"`
		Nurture      StarGatedRate `mapstructure:"NURTURE"`
		Own          []TierRate    `mapstructure:"OWN"`
		Upstream     []int         `mapstructure:"UPSTREAM"`
	} `mapstructure:"COMMISSION"`
	Settlement struct {
		BatchSize   int           `mapstructure:"BATCH_SIZE"`
		SettleDelay time.Duration `mapstructure:"SETTLE_DELAY"`
		RunInterval time.Duration `mapstructure:"RUN_INTERVAL"`
	} `mapstructure:"SETTLEMENT"`
	Promotion struct {
		// Thresholds is keyed by target tier ("1".."3"); conditions OR per
		// transition.
		Thresholds  map[string][]PromotionCondition `mapstructure:"THRESHOLDS"`
		FollowRules []FollowRule                    `mapstructure:"FOLLOW_RULES"`
	} `mapstructure:"PROMOTION"`
	Fraud struct {
		MaxRegistrationsPerIP int           `mapstructure:"MAX_REGISTRATIONS_PER_IP"`
		Window                time.Duration `mapstructure:"WINDOW"`
	} `mapstructure:"FRAUD"`
}

var Module = fx.Module("config", fx.Provide(LoadConfig))

func LoadConfig() *Config {
	config.SetConfigName("config")
	config.SetConfigType("yaml")
	config.AddConfigPath(".")

	config.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	config.AutomaticEnv()

	if err := config.ReadInConfig(); err != nil {
		zap.L().Error("failed to read config file", zap.Error(err))
		os.Exit(1)
	}

	var cfg Config
	if err := config.Unmarshal(&cfg); err != nil {
		zap.L().Error("failed to unmarshal config", zap.Error(err))
		os.Exit(1)
	}

	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.Settlement.BatchSize == 0 {
		c.Settlement.BatchSize = 100
	}
	if c.Settlement.SettleDelay == 0 {
		c.Settlement.SettleDelay = 7 * 24 * time.Hour
	}
	if c.Settlement.RunInterval == 0 {
		c.Settlement.RunInterval = time.Hour
	}
	if c.Fraud.MaxRegistrationsPerIP == 0 {
		c.Fraud.MaxRegistrationsPerIP = 5
	}
	if c.Fraud.Window == 0 {
		c.Fraud.Window = 24 * time.Hour
	}
	if c.Commission.Scheme == "" {
		c.Commission.Scheme = "simplified"
	}
}
