package configs

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	req := require.New(t)
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := LoadConfig()
	req.NoError(err)
	req.Equal(45*time.Second, cfg.LivenessTimeout)
	req.Equal(15*time.Second, cfg.SweepInterval)
	req.Equal(200, cfg.LogRetention)
	req.Equal(50, cfg.RecentWindow)
	req.Equal("@ai", cfg.BotTrigger)
	req.Equal([]string{"developer", "owner"}, cfg.ModeratorRoles)
	req.NotEmpty(cfg.JWTSecret)
	req.False(cfg.S3Enabled())
	req.Equal(time.Second, cfg.ResponderBaseDelay)
}

func TestLoadConfigValidation(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"sweep not shorter than timeout", map[string]string{"SWEEP_INTERVAL": "45s", "LIVENESS_TIMEOUT": "45s"}},
		{"unknown driver", map[string]string{"STORE_DRIVER": "mongo"}},
		{"privileged port", map[string]string{"PORT": "80"}},
		{"window above retention", map[string]string{"LOG_RETENTION": "10", "RECENT_WINDOW": "20"}},
		{"secret required in production", map[string]string{"ENVIRONMENT": "production", "JWT_SECRET": ""}},
		{"partial s3", map[string]string{"S3_BUCKET_NAME": "avatars"}},
		{"zero responder delay", map[string]string{"RESPONDER_BASE_DELAY": "0s"}},
		{"negative responder delay", map[string]string{"RESPONDER_BASE_DELAY": "-1s"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("ENVIRONMENT", "development")
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			require.Error(t, err)
		})
	}
}

func TestLoadConfigTrimsLists(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("DEVELOPER_IDS", " alice , ,bob")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, []string{"alice", "bob"}, cfg.DeveloperIDs)
}
