package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultMatchesDeployment(t *testing.T) {
	cfg := Default()
	require.Equal(t, ":8080", cfg.HTTPAddr)
	require.Equal(t, "esp_data", cfg.MySQL.DBName)
	require.Equal(t, "user", cfg.MySQL.User)
	require.Equal(t, "password", cfg.MySQL.Password)
	require.Equal(t, 3306, cfg.MySQL.Port)
	require.Equal(t, "Asia/Jakarta", cfg.TimeZone.Name)
	require.Equal(t, "+07:00", cfg.TimeZone.Offset)
}

func TestDSNCarriesTimeZone(t *testing.T) {
	dsn := Default().MySQL.DSN()
	require.Equal(t, "user:password@tcp(mysql-container:3306)/esp_data?charset=utf8mb4&parseTime=true&loc=Asia%2FJakarta&time_zone=%27%2B07%3A00%27", dsn)
}

func TestDSNMaskedHidesPassword(t *testing.T) {
	m := Default().MySQL
	m.Password = "s3cret"
	masked := m.DSNMasked()
	require.NotContains(t, masked, "s3cret")
	require.True(t, strings.HasPrefix(masked, "user:******@tcp("))
}

func TestLoadFromYAMLOverridesNonZero(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
env: prod
mysql:
  host: db.internal
  password: strong-one
  conn_max_lifetime: 5m
limits:
  ingest_per_window: 10
  window: 30s
retention:
  enable: true
  max_age: 720h
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg := Default()
	require.NoError(t, loadFromFile(path, &cfg))
	require.Equal(t, "prod", cfg.Env)
	require.Equal(t, "db.internal", cfg.MySQL.Host)
	require.Equal(t, "strong-one", cfg.MySQL.Password)
	require.Equal(t, "user", cfg.MySQL.User)
	require.Equal(t, 5*time.Minute, cfg.MySQL.ConnMaxLifetime)
	require.Equal(t, 10, cfg.Limits.IngestPerWindow)
	require.Equal(t, 30*time.Second, cfg.Limits.Window)
	require.True(t, cfg.Retention.Enable)
	require.Equal(t, 720*time.Hour, cfg.Retention.MaxAge)
	require.Equal(t, "@daily", cfg.Retention.Schedule)
}

func TestLoadFromFileRejectsUnknownExtension(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("env = 'x'"), 0o600))
	cfg := Default()
	require.Error(t, loadFromFile(path, &cfg))
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("MYSQL_HOST", "mysql-container")
	t.Setenv("MYSQL_PORT", "3307")
	t.Setenv("MYSQL_DATABASE", "esp_data_test")
	t.Setenv("REDIS_ENABLE", "true")
	t.Setenv("ESP_DEVICE_KEY", "k1")

	cfg := Default()
	require.NoError(t, loadFromEnv(&cfg))
	require.Equal(t, 3307, cfg.MySQL.Port)
	require.Equal(t, "esp_data_test", cfg.MySQL.DBName)
	require.True(t, cfg.Redis.Enable)
	require.Equal(t, "k1", cfg.Ingest.DeviceKey)
}
