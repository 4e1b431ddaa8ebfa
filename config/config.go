package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"matrixfund/database"
	"matrixfund/domain/entities"
	"matrixfund/domain/services"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration
type Config struct {
	// Database configuration
	DatabaseURL  string `env:"DATABASE_URL"`
	DatabaseName string `env:"DATABASE_NAME" envDefault:"matrixfund"`

	// HTTP API configuration
	APIAddr           string  `env:"API_ADDR" envDefault:":8080"`
	APIRateLimit      float64 `env:"API_RATE_LIMIT" envDefault:"20"` // requests per second per client
	APIRateLimitBurst int     `env:"API_RATE_LIMIT_BURST" envDefault:"40"`

	// NATS configuration; empty disables event publishing
	NATSServers string `env:"NATS_SERVERS"`

	// OpenTelemetry configuration
	OTelEnabled              bool   `env:"OTEL_ENABLED" envDefault:"false"`
	OTelServiceName          string `env:"OTEL_SERVICE_NAME" envDefault:"matrixfund"`
	OTelExporterType         string `env:"OTEL_EXPORTER_TYPE" envDefault:"otlp"` // otlp, console or none
	OTelOTLPEndpoint         string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	OTelExportIntervalMillis int    `env:"OTEL_EXPORT_INTERVAL_MILLIS" envDefault:"15000"`

	// Bootstrap: the matrix root and the privileged addresses
	RootAddress        string   `env:"ROOT_ADDRESS"`
	RootTier           string   `env:"ROOT_TIER" envDefault:"gold"`
	AdminReserve       string   `env:"ADMIN_RESERVE_ADDRESS"`
	AdminAddresses     []string `env:"ADMIN_ADDRESSES" envSeparator:","`
	EmergencyAddresses []string `env:"EMERGENCY_ADDRESSES" envSeparator:","`

	// Treasury multi-signature
	Signers            []string      `env:"TREASURY_SIGNERS" envSeparator:","`
	RequiredSignatures int           `env:"TREASURY_REQUIRED_SIGNATURES" envDefault:"2"`
	ProposalTTL        time.Duration `env:"TREASURY_PROPOSAL_TTL" envDefault:"72h"`

	Plan       PlanConfig       `envPrefix:"PLAN_"`
	Automation AutomationConfig `envPrefix:"AUTOMATION_"`

	// Environment
	Environment string `env:"ENVIRONMENT" envDefault:"development"` // "development", "production" or "test"
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
}

// PlanConfig is the compensation plan table; amounts are in micro-USDT
type PlanConfig struct {
	StarterPrice int64 `env:"STARTER_PRICE" envDefault:"30000000"`
	BronzePrice  int64 `env:"BRONZE_PRICE" envDefault:"50000000"`
	SilverPrice  int64 `env:"SILVER_PRICE" envDefault:"100000000"`
	GoldPrice    int64 `env:"GOLD_PRICE" envDefault:"200000000"`

	DirectBps     int64 `env:"DIRECT_BPS" envDefault:"4000"`
	LevelBps      int64 `env:"LEVEL_BPS" envDefault:"1000"`
	UplineBps     int64 `env:"UPLINE_BPS" envDefault:"1000"`
	LeaderBps     int64 `env:"LEADER_BPS" envDefault:"1000"`
	GlobalHelpBps int64 `env:"GLOBAL_HELP_BPS" envDefault:"3000"`
	ClubBps       int64 `env:"CLUB_BPS" envDefault:"0"`

	LevelLadderBps        []int64 `env:"LEVEL_LADDER_BPS" envSeparator:"," envDefault:"3000,1000,1000,1000,1000,1000,500,500,500,500"`
	UplineDepth           int     `env:"UPLINE_DEPTH" envDefault:"30"`
	EarningsCapMultiplier int64   `env:"EARNINGS_CAP_MULTIPLIER" envDefault:"4"`

	WithdrawalTiers WithdrawalTiers `env:"WITHDRAWAL_TIERS" envDefault:"0:7000,5:7500,20:8000"`
	AdminFeeBps     int64           `env:"ADMIN_FEE_BPS" envDefault:"500"`

	ReinvestLevelBps      int64 `env:"REINVEST_LEVEL_BPS" envDefault:"4000"`
	ReinvestUplineBps     int64 `env:"REINVEST_UPLINE_BPS" envDefault:"3000"`
	ReinvestGlobalHelpBps int64 `env:"REINVEST_GLOBAL_HELP_BPS" envDefault:"3000"`

	ShiningStarTeamSize   int64 `env:"SHINING_STAR_TEAM_SIZE" envDefault:"250"`
	ShiningStarDirects    int64 `env:"SHINING_STAR_DIRECTS" envDefault:"10"`
	SilverStarTeamSize    int64 `env:"SILVER_STAR_TEAM_SIZE" envDefault:"500"`
	LeaderShiningShareBps int64 `env:"LEADER_SHINING_SHARE_BPS" envDefault:"5000"`

	ActivityWindow time.Duration `env:"ACTIVITY_WINDOW" envDefault:"720h"`
}

// AutomationConfig drives the distribution worker and its circuit breaker
type AutomationConfig struct {
	GlobalHelpSchedule  string        `env:"GLOBAL_HELP_SCHEDULE" envDefault:"@every 168h"`
	LeaderBonusSchedule string        `env:"LEADER_BONUS_SCHEDULE" envDefault:"0 0 1,16 * *"`
	ClubSchedule        string        `env:"CLUB_SCHEDULE" envDefault:"0 0 1 * *"`
	SafetyBuffer        time.Duration `env:"SAFETY_BUFFER" envDefault:"1h"`
	PollInterval        time.Duration `env:"POLL_INTERVAL" envDefault:"1m"`
	BatchSize           int           `env:"BATCH_SIZE" envDefault:"50"`
	FailureThreshold    int           `env:"FAILURE_THRESHOLD" envDefault:"5"`
	RetryBudget         int           `env:"RETRY_BUDGET" envDefault:"3"`
	Cooldown            time.Duration `env:"COOLDOWN" envDefault:"2h"`
}

// WithdrawalTiers is the direct-referral ladder, written as "directs:bps" pairs
// separated by commas, for example "0:7000,5:7500,20:8000"
type WithdrawalTiers []entities.WithdrawalTier

// UnmarshalText parses the ladder
func (w *WithdrawalTiers) UnmarshalText(text []byte) error {
	var tiers WithdrawalTiers
	for _, pair := range strings.Split(string(text), ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		directs, bps, ok := strings.Cut(pair, ":")
		if !ok {
			return fmt.Errorf("withdrawal tier %q must be directs:bps", pair)
		}
		minDirects, err := strconv.ParseInt(strings.TrimSpace(directs), 10, 64)
		if err != nil {
			return fmt.Errorf("withdrawal tier %q: %w", pair, err)
		}
		withdrawBps, err := strconv.ParseInt(strings.TrimSpace(bps), 10, 64)
		if err != nil {
			return fmt.Errorf("withdrawal tier %q: %w", pair, err)
		}
		tiers = append(tiers, entities.WithdrawalTier{MinDirectReferrals: minDirects, WithdrawBps: withdrawBps})
	}
	*w = tiers
	return nil
}

var (
	instance *Config
	once     sync.Once
	mu       sync.Mutex // Protects instance for test setup
)

// Get returns the global configuration instance
func Get() *Config {
	mu.Lock()
	defer mu.Unlock()

	if instance != nil {
		return instance
	}

	once.Do(func() {
		var err error
		instance, err = load()
		if err != nil {
			if os.Getenv("ENVIRONMENT") == "test" {
				instance = NewTestConfig()
			} else {
				panic(fmt.Sprintf("failed to load config: %v", err))
			}
		}
	})
	return instance
}

// GetDatabaseURL constructs the full database URL by combining base URL and database name
func (c *Config) GetDatabaseURL() string {
	return database.ConstructDatabaseURL(c.DatabaseURL, c.DatabaseName)
}

// load loads configuration from environment variables
func load() (*Config, error) {
	config := &Config{}
	if err := env.Parse(config); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if config.Environment != "test" {
		if config.DatabaseURL == "" {
			return nil, fmt.Errorf("DATABASE_URL is required")
		}
		if config.RootAddress == "" {
			return nil, fmt.Errorf("ROOT_ADDRESS is required")
		}
		if config.AdminReserve == "" {
			return nil, fmt.Errorf("ADMIN_RESERVE_ADDRESS is required")
		}
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate checks the plan table, the signer set and the job schedules
func (c *Config) Validate() error {
	if err := c.CompensationPlan().Validate(); err != nil {
		return fmt.Errorf("invalid compensation plan: %w", err)
	}
	if _, err := c.RootPackageTier(); err != nil {
		return err
	}
	if c.RequiredSignatures <= 0 {
		return errors.New("TREASURY_REQUIRED_SIGNATURES must be positive")
	}
	if len(c.Signers) > 0 && len(c.Signers) < c.RequiredSignatures {
		return fmt.Errorf("%d treasury signers cannot reach %d required signatures", len(c.Signers), c.RequiredSignatures)
	}
	if c.Automation.FailureThreshold <= 0 {
		return errors.New("AUTOMATION_FAILURE_THRESHOLD must be positive")
	}
	if c.Automation.PollInterval <= 0 {
		return errors.New("AUTOMATION_POLL_INTERVAL must be positive")
	}
	if _, err := c.Schedule(); err != nil {
		return err
	}
	return nil
}

// CompensationPlan returns the plan table consumed by the domain services
func (c *Config) CompensationPlan() entities.CompensationPlan {
	p := c.Plan
	return entities.CompensationPlan{
		PackagePrices: map[entities.PackageTier]int64{
			entities.PackageTierStarter: p.StarterPrice,
			entities.PackageTierBronze:  p.BronzePrice,
			entities.PackageTierSilver:  p.SilverPrice,
			entities.PackageTierGold:    p.GoldPrice,
		},
		DirectBps:             p.DirectBps,
		LevelBps:              p.LevelBps,
		UplineBps:             p.UplineBps,
		LeaderBps:             p.LeaderBps,
		GlobalHelpBps:         p.GlobalHelpBps,
		ClubBps:               p.ClubBps,
		LevelLadderBps:        append([]int64(nil), p.LevelLadderBps...),
		UplineDepth:           p.UplineDepth,
		EarningsCapMultiplier: p.EarningsCapMultiplier,
		WithdrawalTiers:       append([]entities.WithdrawalTier(nil), p.WithdrawalTiers...),
		AdminFeeBps:           p.AdminFeeBps,
		ReinvestLevelBps:      p.ReinvestLevelBps,
		ReinvestUplineBps:     p.ReinvestUplineBps,
		ReinvestGlobalHelpBps: p.ReinvestGlobalHelpBps,
		ShiningStarTeamSize:   p.ShiningStarTeamSize,
		ShiningStarDirects:    p.ShiningStarDirects,
		SilverStarTeamSize:    p.SilverStarTeamSize,
		LeaderShiningShareBps: p.LeaderShiningShareBps,
		ActivityWindow:        p.ActivityWindow,
	}
}

// Schedule parses the distribution job schedules
func (c *Config) Schedule() (*services.Schedule, error) {
	schedule, err := services.NewSchedule(map[entities.PoolType]string{
		entities.PoolTypeGlobalHelp:  c.Automation.GlobalHelpSchedule,
		entities.PoolTypeLeaderBonus: c.Automation.LeaderBonusSchedule,
		entities.PoolTypeClub:        c.Automation.ClubSchedule,
	}, c.Automation.SafetyBuffer)
	if err != nil {
		return nil, fmt.Errorf("invalid automation schedule: %w", err)
	}
	return schedule, nil
}

// RootPackageTier returns the genesis package of the matrix root
func (c *Config) RootPackageTier() (entities.PackageTier, error) {
	tier, err := entities.ParsePackageTier(c.RootTier)
	if err != nil {
		return 0, fmt.Errorf("invalid ROOT_TIER: %w", err)
	}
	return tier, nil
}

// DistributionConfig returns the scheduler's operating limits
func (c *Config) DistributionConfig() services.DistributionConfig {
	return services.DistributionConfig{
		BatchSize:        c.Automation.BatchSize,
		FailureThreshold: c.Automation.FailureThreshold,
		RetryBudget:      c.Automation.RetryBudget,
		Cooldown:         c.Automation.Cooldown,
		AdminReserve:     entities.NewUserID(c.AdminReserve),
	}
}

// GovernanceConfig returns the multi-signature parameters
func (c *Config) GovernanceConfig() services.GovernanceConfig {
	return services.GovernanceConfig{
		RequiredSignatures: c.RequiredSignatures,
		ProposalTTL:        c.ProposalTTL,
	}
}

// Test helpers - only use in tests

// SetTestConfig overrides the global config instance for testing
func SetTestConfig(testConfig *Config) {
	mu.Lock()
	defer mu.Unlock()
	instance = testConfig
}

// ResetConfig resets the global config instance and sync.Once for testing
func ResetConfig() {
	mu.Lock()
	defer mu.Unlock()
	instance = nil
	once = sync.Once{}
}

// NewTestConfig creates a config holding every default, independent of the process environment
func NewTestConfig() *Config {
	config := &Config{}
	err := env.ParseWithOptions(config, env.Options{
		Environment: map[string]string{
			"ENVIRONMENT":           "test",
			"ROOT_ADDRESS":          "0xroot",
			"ADMIN_RESERVE_ADDRESS": "0xreserve",
		},
	})
	if err != nil {
		panic(fmt.Sprintf("failed to build test config: %v", err))
	}
	return config
}
