package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Catalog  CatalogConfig  `mapstructure:"catalog"`
	Engine   EngineConfig   `mapstructure:"engine"`
	Security SecurityConfig `mapstructure:"security"`
}

type ServerConfig struct {
	Port     int    `mapstructure:"port"`
	Debug    bool   `mapstructure:"debug"`
	AdminKey string `mapstructure:"admin_key"`
	// AdminAllowIPs restricts /api/admin to the listed client IPs.
	// Empty means no IP restriction (the admin key still applies).
	AdminAllowIPs []string `mapstructure:"admin_allow_ips"`
}

type DatabaseConfig struct {
	Mode         string        `mapstructure:"mode"` // sqlite | sqlite_memory | mysql
	SQLitePath   string        `mapstructure:"sqlite_path"`
	MySQLDSN     string        `mapstructure:"mysql_dsn"`
	MySQLMaxOpen int           `mapstructure:"mysql_max_open"`
	MySQLMaxIdle int           `mapstructure:"mysql_max_idle"`
	MySQLMaxLife time.Duration `mapstructure:"mysql_max_life"`
}

type CacheConfig struct {
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	LocalGCInterval time.Duration `mapstructure:"local_gc_interval"`
	LocalPubSubBuf  int           `mapstructure:"local_pubsub_buf"`
}

type CatalogConfig struct {
	QuestDir     string `mapstructure:"quest_dir"`
	ChallengeDir string `mapstructure:"challenge_dir"`
}

type EngineConfig struct {
	// ExpirySweepInterval is how often timed-out quest instances are failed.
	ExpirySweepInterval time.Duration `mapstructure:"expiry_sweep_interval"`
	// RolloverInterval is how often challenge periods are checked for expiry.
	RolloverInterval time.Duration `mapstructure:"rollover_interval"`
	// RedeliverInterval is how often undispatched reward requests are re-published.
	RedeliverInterval time.Duration `mapstructure:"redeliver_interval"`
	// DedupTTL bounds the cross-process event dedup window.
	DedupTTL time.Duration `mapstructure:"dedup_ttl"`
	// DedupLRUSize bounds the in-process recent-event-id set.
	DedupLRUSize int `mapstructure:"dedup_lru_size"`
	// ChallengesPerPeriod is how many challenges are issued per character per period.
	ChallengesPerPeriod int `mapstructure:"challenges_per_period"`
}

type SecurityConfig struct {
	JWTSecret      string        `mapstructure:"jwt_secret"`
	JWTTTL         time.Duration `mapstructure:"jwt_ttl"`
	RateLimitRPS   float64       `mapstructure:"rate_limit_rps"`
	RateLimitBurst int           `mapstructure:"rate_limit_burst"`
}

// Load reads config from the given YAML file path.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.debug", false)
	v.SetDefault("database.mode", "sqlite")
	v.SetDefault("database.sqlite_path", "./data/engine.db")
	v.SetDefault("database.mysql_max_open", 50)
	v.SetDefault("database.mysql_max_idle", 10)
	v.SetDefault("database.mysql_max_life", "1h")
	v.SetDefault("cache.local_gc_interval", "30s")
	v.SetDefault("cache.local_pubsub_buf", 256)
	v.SetDefault("catalog.quest_dir", "./content/quests")
	v.SetDefault("catalog.challenge_dir", "./content/challenges")
	v.SetDefault("engine.expiry_sweep_interval", "1m")
	v.SetDefault("engine.rollover_interval", "5m")
	v.SetDefault("engine.redeliver_interval", "30s")
	v.SetDefault("engine.dedup_ttl", "24h")
	v.SetDefault("engine.dedup_lru_size", 65536)
	v.SetDefault("engine.challenges_per_period", 3)
	v.SetDefault("security.jwt_ttl", "72h")
	v.SetDefault("security.rate_limit_rps", 100)
	v.SetDefault("security.rate_limit_burst", 200)

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
