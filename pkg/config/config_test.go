package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	return v
}

func TestFromViperDefaults(t *testing.T) {
	cfg, err := fromViper(newTestViper())
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "./data/attendance.db", cfg.Database.Path)
	assert.Equal(t, "Local", cfg.Attendance.Timezone)
	assert.Equal(t, 8, cfg.Attendance.ScanCodeLength)
	assert.Equal(t, 12*time.Hour, cfg.JWT.Expiration)
	assert.False(t, cfg.Cache.Enabled)
	assert.Empty(t, cfg.Operator.PasswordHash)
}

func TestFromViperRejectsUnknownDriver(t *testing.T) {
	v := newTestViper()
	v.Set("DB_DRIVER", "mysql")

	_, err := fromViper(v)
	require.Error(t, err)
}

func TestFromViperClampsCodeLength(t *testing.T) {
	v := newTestViper()
	v.Set("SCAN_CODE_LENGTH", 2)

	cfg, err := fromViper(v)
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.Attendance.ScanCodeLength)
}

func TestParseDurationFallback(t *testing.T) {
	assert.Equal(t, time.Minute, parseDuration("", time.Minute))
	assert.Equal(t, time.Minute, parseDuration("soon", time.Minute))
	assert.Equal(t, 90*time.Second, parseDuration("90s", time.Minute))
}

func TestSplitAndTrim(t *testing.T) {
	assert.Nil(t, splitAndTrim(""))
	assert.Equal(t, []string{"http://a", "http://b"}, splitAndTrim(" http://a , ,http://b "))
}
