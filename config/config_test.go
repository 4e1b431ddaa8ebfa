package config

import (
	"testing"
	"time"

	"matrixfund/domain/entities"

	"github.com/caarlos0/env/v11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewTestConfigDefaults(t *testing.T) {
	cfg := NewTestConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "test", cfg.Environment)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, entities.DefaultCompensationPlan(), cfg.CompensationPlan())
	assert.Equal(t, 50, cfg.Automation.BatchSize)
	assert.Equal(t, 2*time.Hour, cfg.Automation.Cooldown)

	tier, err := cfg.RootPackageTier()
	require.NoError(t, err)
	assert.Equal(t, entities.PackageTierGold, tier)

	schedule, err := cfg.Schedule()
	require.NoError(t, err)
	assert.Equal(t, entities.AllPoolTypes(), schedule.Jobs())
}

func TestWithdrawalTiers_UnmarshalText(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    WithdrawalTiers
		wantErr bool
	}{
		{
			name:  "default ladder",
			input: "0:7000,5:7500,20:8000",
			want: WithdrawalTiers{
				{MinDirectReferrals: 0, WithdrawBps: 7000},
				{MinDirectReferrals: 5, WithdrawBps: 7500},
				{MinDirectReferrals: 20, WithdrawBps: 8000},
			},
		},
		{
			name:  "spaces and trailing comma",
			input: " 0 : 6000 , 3:9000,",
			want: WithdrawalTiers{
				{MinDirectReferrals: 0, WithdrawBps: 6000},
				{MinDirectReferrals: 3, WithdrawBps: 9000},
			},
		},
		{name: "missing separator", input: "0-7000", wantErr: true},
		{name: "not a number", input: "0:lots", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var tiers WithdrawalTiers
			err := tiers.UnmarshalText([]byte(tt.input))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, tiers)
		})
	}
}

func TestConfigFromEnvironment(t *testing.T) {
	cfg := &Config{}
	err := env.ParseWithOptions(cfg, env.Options{Environment: map[string]string{
		"DATABASE_URL":                 "postgres://u:p@localhost:5432",
		"TREASURY_SIGNERS":             "0xs1,0xs2,0xs3",
		"TREASURY_REQUIRED_SIGNATURES": "3",
		"PLAN_CLUB_BPS":                "500",
		"PLAN_GLOBAL_HELP_BPS":         "2500",
		"PLAN_WITHDRAWAL_TIERS":        "0:6000,10:9000",
		"AUTOMATION_BATCH_SIZE":        "10",
		"AUTOMATION_CLUB_SCHEDULE":     "@monthly",
	}})
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, []string{"0xs1", "0xs2", "0xs3"}, cfg.Signers)
	assert.Equal(t, "postgres://u:p@localhost:5432/matrixfund?sslmode=disable", cfg.GetDatabaseURL())

	plan := cfg.CompensationPlan()
	assert.Equal(t, int64(500), plan.ClubBps)
	assert.Equal(t, int64(9000), plan.WithdrawBpsFor(12))
	assert.Equal(t, 10, cfg.DistributionConfig().BatchSize)
	assert.Equal(t, 3, cfg.GovernanceConfig().RequiredSignatures)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"split does not sum", func(c *Config) { c.Plan.DirectBps = 5000 }},
		{"too few signers", func(c *Config) { c.Signers = []string{"0xs1"}; c.RequiredSignatures = 2 }},
		{"bad schedule", func(c *Config) { c.Automation.ClubSchedule = "monthly please" }},
		{"bad root tier", func(c *Config) { c.RootTier = "platinum" }},
		{"descending ladder", func(c *Config) {
			c.Plan.WithdrawalTiers = WithdrawalTiers{{MinDirectReferrals: 0, WithdrawBps: 7000}, {MinDirectReferrals: 0, WithdrawBps: 8000}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewTestConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestGetUsesTestConfig(t *testing.T) {
	defer ResetConfig()

	cfg := NewTestConfig()
	cfg.APIAddr = ":9999"
	SetTestConfig(cfg)
	assert.Equal(t, ":9999", Get().APIAddr)
}
