package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/therapy-match-server/internal/domain"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestNewManager_Defaults(t *testing.T) {
	m, err := NewManagerFromFile(writeConfigFile(t, "environment: development\n"))
	require.NoError(t, err)

	cfg := m.GetConfig()
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 40, cfg.Server.RateLimitBurst)
	assert.Equal(t, "therapy_match", cfg.Database.Database)
	assert.Equal(t, 25, cfg.Database.MaxOpenConns)
	assert.Equal(t, 5*time.Minute, cfg.Database.ConnMaxLifetime)
	assert.True(t, cfg.Cache.Enabled)
	assert.Equal(t, 15*time.Minute, cfg.Cache.DefaultTTL)
	assert.Equal(t, 1024, cfg.Analytics.QueueSize)
	assert.Equal(t, 5*time.Second, cfg.Analytics.WriteTimeout)
	assert.Equal(t, uint32(5), cfg.Analytics.BreakerFailures)
	assert.Equal(t, domain.DefaultAlgorithmVersion, m.GetMatchingConfig().AlgorithmVersion)
	assert.Equal(t, 8, m.GetMatchingConfig().MaxConcurrency)

	profiles := m.GetMatchingConfig().Profiles()
	assert.Equal(t, domain.HighUrgencyWeights(), profiles.Get(domain.WeightProfileHighUrgency))
	assert.NoError(t, m.Validate())
	assert.True(t, m.IsDevelopment())
	assert.False(t, m.IsProduction())
}

func TestNewManager_FileOverrides(t *testing.T) {
	path := writeConfigFile(t, `
environment: production
server:
  port: 9000
database:
  host: db.internal
  username: matcher
  password: secret
logging:
  level: debug
matching:
  default_limit: 5
  weight_profiles:
    default:
      condition_match: 0.30
      approach_compatibility: 0.20
      experience_and_success: 0.20
      reviews_and_ratings: 0.10
      availability_and_logistics: 0.20
`)

	m, err := NewManagerFromFile(path)
	require.NoError(t, err)
	require.NoError(t, m.Validate())

	assert.Equal(t, 9000, m.GetServerConfig().Port)
	assert.Equal(t, "db.internal", m.GetDatabaseConfig().Host)
	assert.Equal(t, 5, m.GetMatchingConfig().DefaultLimit)
	assert.True(t, m.IsProduction())
	assert.Equal(t,
		"host=db.internal port=5432 user=matcher password=secret dbname=therapy_match sslmode=disable",
		m.GetDatabaseConnectionString())
	assert.Equal(t, "redis://localhost:6379", m.GetRedisConnectionString())

	weights := m.GetMatchingConfig().Profiles().Get(domain.WeightProfileDefault)
	assert.InDelta(t, 0.30, weights.ConditionMatch, 1e-9)
	assert.Equal(t, domain.NewClientWeights(), m.GetMatchingConfig().Profiles().Get(domain.WeightProfileNewClient))
}

func TestNewManager_EnvironmentOverrides(t *testing.T) {
	t.Setenv("THERAPY_MATCH_SERVER_PORT", "7070")
	t.Setenv("THERAPY_MATCH_ANALYTICS_QUEUE_SIZE", "16")

	m, err := NewManagerFromFile(writeConfigFile(t, "server:\n  port: 9000\n"))
	require.NoError(t, err)

	assert.Equal(t, 7070, m.GetServerConfig().Port)
	assert.Equal(t, 16, m.GetConfig().Analytics.QueueSize)
}

func TestNewManager_MalformedFile(t *testing.T) {
	_, err := NewManagerFromFile(writeConfigFile(t, "server: [unclosed\n"))
	assert.Error(t, err)
}

func TestManager_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(cfg *domain.Config)
		wantErr string
	}{
		{
			name:    "Invalid_Port",
			mutate:  func(cfg *domain.Config) { cfg.Server.Port = 70000 },
			wantErr: "invalid server port",
		},
		{
			name:    "Missing_Database_Host",
			mutate:  func(cfg *domain.Config) { cfg.Database.Host = "" },
			wantErr: "database host is required",
		},
		{
			name: "Missing_Redis_URL",
			mutate: func(cfg *domain.Config) {
				cfg.Cache.RedisURL = ""
			},
			wantErr: "Redis URL is required",
		},
		{
			name:    "Invalid_Log_Level",
			mutate:  func(cfg *domain.Config) { cfg.Logging.Level = "verbose" },
			wantErr: "invalid log level",
		},
		{
			name:    "Zero_Queue_Size",
			mutate:  func(cfg *domain.Config) { cfg.Analytics.QueueSize = 0 },
			wantErr: "queue_size",
		},
		{
			name: "Weights_Do_Not_Sum_To_One",
			mutate: func(cfg *domain.Config) {
				w := domain.DefaultMatchingWeights()
				w.ConditionMatch = 0.5
				cfg.Matching.WeightProfiles = map[string]domain.MatchingWeights{"default": w}
			},
			wantErr: "weight profile default",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := NewManagerFromFile(writeConfigFile(t, "environment: test\n"))
			require.NoError(t, err)

			tt.mutate(m.GetConfig())

			err = m.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	t.Run("Cache_Disabled_Without_Redis", func(t *testing.T) {
		m, err := NewManagerFromFile(writeConfigFile(t, "environment: test\n"))
		require.NoError(t, err)
		m.GetConfig().Cache.Enabled = false
		m.GetConfig().Cache.RedisURL = ""
		assert.NoError(t, m.Validate())
	})
}

func TestManager_Reload(t *testing.T) {
	path := writeConfigFile(t, "server:\n  port: 9000\n")
	m, err := NewManagerFromFile(path)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: 9100\n"), 0644))
	require.NoError(t, m.Reload())

	assert.Equal(t, 9100, m.GetServerConfig().Port)
}
