package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// chdirTemp switches to an empty temp dir so no config.yaml is found.
func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, int32(10), cfg.Store.MaxConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, []string{"*"}, cfg.Server.AllowedOrigins)
	assert.InDelta(t, 100.0, cfg.Targeting.MaxDistanceKM, 0.001)
	assert.InDelta(t, 100000.0, cfg.Targeting.MinAssetValue, 0.001)
	assert.True(t, cfg.Targeting.RequireUninsured)
	assert.False(t, cfg.Targeting.RequireHomeowner)
	assert.False(t, cfg.Targeting.ExcludeDoNotCall)
	assert.Equal(t, 50, cfg.Targeting.Limit)
	assert.Equal(t, 1000, cfg.Targeting.MaxLimit)
	assert.InDelta(t, 5.0, cfg.Targeting.TieBandKM, 0.001)
	assert.Equal(t, "https://earthquake.usgs.gov/fdsnws/event/1", cfg.USGS.BaseURL)
	assert.Equal(t, 24, cfg.USGS.Hours)
	assert.Equal(t, 4, cfg.Ingest.Concurrency)
	assert.Equal(t, 900, cfg.Callbot.ThresholdSecs)
	assert.Equal(t, "user_signup", cfg.Callbot.Channel)
	assert.Equal(t, 100, cfg.Callbot.BackfillLimit)
	assert.Equal(t, "memory", cfg.Callbot.Dedup)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.Model)
	assert.Empty(t, cfg.Risk.DistanceBandsKM)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
  format: console
server:
  port: 9090
targeting:
  max_distance_km: 50
  limit: 25
risk:
  distance_bands_km: [5, 15, 30]
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.InDelta(t, 50.0, cfg.Targeting.MaxDistanceKM, 0.001)
	assert.Equal(t, 25, cfg.Targeting.Limit)
	assert.Equal(t, []float64{5, 15, 30}, cfg.Risk.DistanceBandsKM)
	// Defaults still apply for unset values
	assert.Equal(t, 1000, cfg.Targeting.MaxLimit)
	assert.True(t, cfg.Targeting.RequireUninsured)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("TARGETING_STORE_DRIVER", "postgres")
	t.Setenv("TARGETING_LOG_LEVEL", "warn")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("TARGETING_SERVER_PORT", "3000")
	t.Setenv("TARGETING_CALLBOT_THRESHOLD_SECS", "60")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, 60, cfg.Callbot.ThresholdSecs)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unterminated"), 0644))

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "config: read file")
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.Driver = "postgres"
	cfg.Store.DatabaseURL = "postgres://localhost/targeting"
	cfg.Server.Port = 8080
	cfg.Targeting.MaxLimit = 1000
	cfg.Targeting.TieBandKM = 5
	cfg.USGS.BaseURL = "https://earthquake.usgs.gov/fdsnws/event/1"
	cfg.Callbot.Dedup = "memory"
	return cfg
}

func TestValidate_SQLiteNeedsNoURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "sqlite"
	cfg.Store.DatabaseURL = ""

	assert.NoError(t, cfg.Validate("serve"))
}

func TestValidate_PostgresMissingURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")
}

func TestValidate_UnknownDriver(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "mysql"

	err := cfg.Validate("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `store.driver "mysql" is not supported`)
}

func TestValidateServe_InvalidPort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 0

	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port 0 is out of range")
}

func TestValidateCallbot_MissingTelephony(t *testing.T) {
	cfg := validDefaults()

	err := cfg.Validate("callbot")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telephony.account_sid is required")
	assert.Contains(t, err.Error(), "telephony.auth_token is required")
	assert.Contains(t, err.Error(), "telephony.from_number is required")
	assert.Contains(t, err.Error(), "telephony.ivr_url is required")
}

func TestValidateCallbot_RequiresPostgres(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.Driver = "sqlite"
	cfg.Telephony = TelephonyConfig{AccountSID: "AC1", AuthToken: "tok", FromNumber: "+15550000000", IVRURL: "https://ivr"}

	err := cfg.Validate("callbot")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires the postgres driver")
}

func TestValidateCallbot_BadDedup(t *testing.T) {
	cfg := validDefaults()
	cfg.Telephony = TelephonyConfig{AccountSID: "AC1", AuthToken: "tok", FromNumber: "+15550000000", IVRURL: "https://ivr"}
	cfg.Callbot.Dedup = "file"

	err := cfg.Validate("callbot")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `callbot.dedup "file"`)
}

func TestValidateCampaign_MissingKey(t *testing.T) {
	cfg := validDefaults()

	err := cfg.Validate("campaign")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key is required")

	cfg.Anthropic.Key = "sk-ant-test"
	assert.NoError(t, cfg.Validate("campaign"))
}
