package config

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ACL_SECRET_KEY", testSecret)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.True(t, cfg.CacheEnabled)
	assert.True(t, cfg.SchedulerEnabled)
	assert.Equal(t, time.Hour, cfg.ExpiryCheckPeriod)
	assert.Equal(t, 9, cfg.NotifyHourUTC)
	assert.Equal(t, 7, cfg.NotifyLookaheadDays)
	assert.Equal(t, 5*time.Minute, cfg.DecisionTTL)
	assert.Equal(t, 6*time.Hour, cfg.AncestorsTTL)
	assert.Equal(t, "admin", cfg.BootstrapAdminUsername)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("ACL_SECRET_KEY", testSecret)
	t.Setenv("ACL_PORT", "9090")
	t.Setenv("ACL_CACHE_ENABLED", "false")
	t.Setenv("ACL_EXPIRY_CHECK_PERIOD", "30m")
	t.Setenv("ACL_NOTIFY_HOUR_UTC", "3")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Port)
	assert.False(t, cfg.CacheEnabled)
	assert.Equal(t, 30*time.Minute, cfg.ExpiryCheckPeriod)
	assert.Equal(t, 3, cfg.NotifyHourUTC)
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	t.Setenv("ACL_SECRET_KEY", testSecret)
	t.Setenv("ACL_PORT", "not-a-number")
	t.Setenv("ACL_CACHE_ENABLED", "not-a-bool")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ACL_PORT")
	assert.Contains(t, err.Error(), "ACL_CACHE_ENABLED")
}

func TestValidateRequiresSecret(t *testing.T) {
	t.Setenv("ACL_SECRET_KEY", "")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ACL_SECRET_KEY")
}

func TestValidateRejectsShortSecret(t *testing.T) {
	t.Setenv("ACL_SECRET_KEY", "short")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 32 bytes")
}

func TestValidateNotifyHourRange(t *testing.T) {
	t.Setenv("ACL_SECRET_KEY", testSecret)
	t.Setenv("ACL_NOTIFY_HOUR_UTC", "24")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, strings.ToLower(err.Error()), "notify_hour")
}
