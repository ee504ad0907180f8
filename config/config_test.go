package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	// GIVEN: An empty directory and no TUITION_* variables
	dir := t.TempDir()

	// WHEN: Configuration is loaded
	cfg, err := LoadFrom(dir)

	// THEN: Defaults apply
	require.NoError(t, err)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, ":8080", cfg.Addr())
	assert.Equal(t, "UTC", cfg.Location.String())
	assert.Equal(t, []string{"*"}, cfg.CORSOrigins)
	assert.True(t, cfg.LateFeeEnabled)
	assert.Equal(t, "@hourly", cfg.LateFeeSchedule)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("TUITION_PORT", "9090")
	t.Setenv("TUITION_TIMEZONE", "America/Mexico_City")
	t.Setenv("TUITION_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("TUITION_LATE_FEE_ENABLED", "false")

	cfg, err := LoadFrom(t.TempDir())

	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "America/Mexico_City", cfg.Location.String())
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.False(t, cfg.LateFeeEnabled)
}

func TestLoad_DotEnvFile(t *testing.T) {
	// GIVEN: A .env.staging file and one variable already exported
	dir := t.TempDir()
	content := "TUITION_DB_PATH=/tmp/staging.db\nTUITION_LOG_LEVEL=debug\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env.staging"), []byte(content), 0o600))
	t.Setenv("TUITION_ENV", "staging")
	t.Setenv("TUITION_LOG_LEVEL", "warn")

	// godotenv sets variables process-wide; drop them after the test
	t.Cleanup(func() { os.Unsetenv("TUITION_DB_PATH") })

	// WHEN: Configuration is loaded
	cfg, err := LoadFrom(dir)

	// THEN: The file fills gaps but does not override the environment
	require.NoError(t, err)
	assert.Equal(t, "staging", cfg.Env)
	assert.Equal(t, "/tmp/staging.db", cfg.DBPath)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.False(t, cfg.IsDevelopment())
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"port", "TUITION_PORT", "70000"},
		{"timezone", "TUITION_TIMEZONE", "Mars/Olympus"},
		{"log level", "TUITION_LOG_LEVEL", "loud"},
		{"schedule", "TUITION_LATE_FEE_SCHEDULE", "every now and then"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.val)

			_, err := LoadFrom(t.TempDir())

			assert.Error(t, err)
		})
	}
}

func TestValidate_AfterOverrides(t *testing.T) {
	// GIVEN: A valid loaded configuration
	cfg, err := LoadFrom(t.TempDir())
	require.NoError(t, err)

	// WHEN: Fields are overridden with bad values
	port := *cfg
	port.Port = 0
	db := *cfg
	db.DBPath = ""

	// THEN: Validation catches them
	assert.Error(t, port.Validate())
	assert.Error(t, db.Validate())

	ok := *cfg
	ok.Port = 9191
	ok.DBPath = ":memory:"
	assert.NoError(t, ok.Validate())
}
