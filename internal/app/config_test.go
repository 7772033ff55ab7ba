package app

import (
	"testing"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/fresh-pickup/internal/domain/stock"
)

func load(t *testing.T, env map[string]string) (*Config, error) {
	t.Helper()
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PORT", "")
	for k, v := range env {
		t.Setenv(k, v)
	}
	return loadConfig(aconfig.Config{
		EnvPrefix: "PICKUP",
		SkipFlags: true,
		SkipFiles: true,
	})
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := load(t, map[string]string{"PICKUP_STORE": "memory"})
	require.NoError(t, err)

	assert.Equal(t, defaultAddr, cfg.Addr)
	assert.Equal(t, "memory", cfg.Notify.Queue)
	assert.Equal(t, 2, cfg.Notify.Workers)
	assert.Equal(t, 256, cfg.Notify.Buffer)
	assert.Equal(t, "0 6 * * *", cfg.Digest.Cron)
	assert.Equal(t, 100, cfg.RateLimit.Max)
	assert.Equal(t, time.Minute, cfg.RateLimit.Window)
	assert.Equal(t, 15*time.Second, cfg.Graceful.ShutdownTimeout)
	assert.False(t, cfg.Notify.WhatsApp.Enabled())

	minKg, err := cfg.MinWeightKg()
	require.NoError(t, err)
	assert.Equal(t, "0.5", minKg.String())

	policy, err := cfg.StockPolicy()
	require.NoError(t, err)
	assert.Equal(t, stock.PolicyFloor, policy)

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestLoadConfig_Env(t *testing.T) {
	cfg, err := load(t, map[string]string{
		"PICKUP_DATABASE_URL":           "postgres://pickup@db/pickup",
		"PICKUP_TIMEZONE":               "Europe/Lisbon",
		"PICKUP_ORDERING_STOCK_POLICY":  "strict",
		"PICKUP_ORDERING_MIN_WEIGHT_KG": "0.25",
		"PICKUP_NOTIFY_QUEUE":           "redis",
		"PICKUP_NOTIFY_WORKERS":         "4",
	})
	require.NoError(t, err)

	assert.Equal(t, "postgres://pickup@db/pickup", cfg.DatabaseURL)
	assert.Equal(t, "redis", cfg.Notify.Queue)
	assert.Equal(t, 4, cfg.Notify.Workers)

	policy, err := cfg.StockPolicy()
	require.NoError(t, err)
	assert.Equal(t, stock.PolicyStrict, policy)

	minKg, err := cfg.MinWeightKg()
	require.NoError(t, err)
	assert.Equal(t, "0.25", minKg.String())

	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "Europe/Lisbon", loc.String())
}

func TestLoadConfig_PlatformDefaults(t *testing.T) {
	cfg, err := load(t, map[string]string{
		"DATABASE_URL": "postgres://platform/db",
		"PORT":         "9090",
	})
	require.NoError(t, err)
	assert.Equal(t, "postgres://platform/db", cfg.DatabaseURL)
	assert.Equal(t, "0.0.0.0:9090", cfg.Addr)
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want string
	}{
		{name: "postgres without url", env: map[string]string{}, want: "database URL is required"},
		{name: "unknown store", env: map[string]string{"PICKUP_STORE": "sqlite"}, want: "unknown store"},
		{
			name: "unknown queue",
			env:  map[string]string{"PICKUP_STORE": "memory", "PICKUP_NOTIFY_QUEUE": "kafka"},
			want: "unknown notify queue",
		},
		{
			name: "bad timezone",
			env:  map[string]string{"PICKUP_STORE": "memory", "PICKUP_TIMEZONE": "Mars/Olympus"},
			want: "timezone",
		},
		{
			name: "bad policy",
			env:  map[string]string{"PICKUP_STORE": "memory", "PICKUP_ORDERING_STOCK_POLICY": "maybe"},
			want: "policy",
		},
		{
			name: "zero min weight",
			env:  map[string]string{"PICKUP_STORE": "memory", "PICKUP_ORDERING_MIN_WEIGHT_KG": "0"},
			want: "must be positive",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := load(t, tt.env)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
