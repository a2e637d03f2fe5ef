package conf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	settings, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "mindtrack-go", settings.Main.Name)
	assert.Equal(t, 50, settings.Cache.MaxRecent)
	assert.Equal(t, 12*time.Hour, settings.Cache.SequenceTTL)
	assert.Equal(t, time.Hour, settings.Cache.BlobTTL)
	assert.Equal(t, 6, settings.Sampling.MaxHashDistance)
	assert.InDelta(t, 0.97, settings.Sampling.FingerprintMinSim, 1e-9)
	assert.InDelta(t, 0.85, settings.Sampling.StructuralThreshold, 1e-9)
	assert.Equal(t, "suggestions_channel", settings.Listener.Channel)
	assert.Equal(t, time.Second, settings.Listener.PollTimeout)
	assert.Equal(t, 25*time.Second, settings.SSE.HeartbeatInterval)

	// Load stores the instance for Setting()
	assert.Same(t, settings, Setting())
}

func TestValidateSettings(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Settings)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(s *Settings) {},
		},
		{
			name: "both backends enabled",
			mutate: func(s *Settings) {
				s.Database.Postgres.Enabled = true
				s.Database.Postgres.DSN = "postgres://x"
				s.Database.SQLite.Enabled = true
			},
			wantErr: "only one database backend",
		},
		{
			name: "postgres without dsn",
			mutate: func(s *Settings) {
				s.Database.SQLite.Enabled = false
				s.Database.Postgres.Enabled = true
			},
			wantErr: "database.postgres.dsn is required",
		},
		{
			name: "listener without dsn",
			mutate: func(s *Settings) {
				s.Listener.Enabled = true
			},
			wantErr: "listener.dsn is required",
		},
		{
			name: "zero recency cap",
			mutate: func(s *Settings) {
				s.Cache.MaxRecent = 0
			},
			wantErr: "cache.maxrecent",
		},
		{
			name: "similarity threshold out of range",
			mutate: func(s *Settings) {
				s.Sampling.FingerprintMinSim = 1.5
			},
			wantErr: "sampling.fingerprintminsim",
		},
		{
			name: "inverted backoff bounds",
			mutate: func(s *Settings) {
				s.Listener.MinBackoff = time.Minute
				s.Listener.MaxBackoff = time.Second
			},
			wantErr: "minbackoff exceeds",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSettings()
			tt.mutate(s)
			err := ValidateSettings(s)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func validSettings() *Settings {
	s := &Settings{}
	s.Database.SQLite.Enabled = true
	s.Database.SQLite.Path = "test.db"
	s.Cache.MaxRecent = 50
	s.Cache.SequenceTTL = 12 * time.Hour
	s.Cache.BlobTTL = time.Hour
	s.Sampling.MaxHashDistance = 6
	s.Sampling.FingerprintMinSim = 0.97
	s.Sampling.StructuralThreshold = 0.85
	s.Sampling.ThumbnailWidth = 480
	s.Listener.Channel = "suggestions_channel"
	s.Listener.PollTimeout = time.Second
	s.Listener.MinBackoff = time.Second
	s.Listener.MaxBackoff = 30 * time.Second
	s.SSE.HeartbeatInterval = 25 * time.Second
	s.SSE.ClientBuffer = 64
	return s
}
