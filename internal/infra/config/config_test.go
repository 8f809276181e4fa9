package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gocql/gocql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("STORE_DRIVER", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("KAFKA_BROKERS", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, DriverMemory, cfg.StoreDriver)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "dev-secret", cfg.JWTSecret)
	assert.Equal(t, 24*time.Hour, cfg.JWTTTL)
	assert.Equal(t, gocql.Quorum, cfg.ScyllaConsistency)
	assert.Equal(t, 10, cfg.SendBurst)
	assert.False(t, cfg.KafkaEnabled())
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name string
		env  map[string]string
	}{
		{"mongo without uri", map[string]string{"STORE_DRIVER": "mongo", "MONGO_URI": ""}},
		{"unknown driver", map[string]string{"STORE_DRIVER": "sqlite"}},
		{"bad ttl", map[string]string{"JWT_TTL": "forever"}},
		{"bad consistency", map[string]string{"SCYLLA_CONSISTENCY": "two"}},
		{"prod without secret", map[string]string{"APP_ENV": "prod", "JWT_SECRET": ""}},
		{"bad ssl flag", map[string]string{"S3_USE_SSL": "maybe"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("APP_ENV", "dev")
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			require.Error(t, err)
		})
	}
}

func TestLoadKafkaAndScylla(t *testing.T) {
	t.Setenv("APP_ENV", "dev")
	t.Setenv("STORE_DRIVER", "scylla")
	t.Setenv("SCYLLA_HOSTS", "a, b ,")
	t.Setenv("SCYLLA_CONSISTENCY", "local_quorum")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, cfg.ScyllaHosts)
	assert.Equal(t, gocql.LocalQuorum, cfg.ScyllaConsistency)
	assert.True(t, cfg.KafkaEnabled())
	assert.Equal(t, "chat.events", cfg.KafkaTopic)
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("RENTCHAT_DOTENV_PROBE=from-file\n"), 0o600))
	t.Setenv("RENTCHAT_DOTENV_PROBE", "")
	require.NoError(t, os.Unsetenv("RENTCHAT_DOTENV_PROBE"))

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-file", os.Getenv("RENTCHAT_DOTENV_PROBE"))

	require.NoError(t, LoadDotEnv(filepath.Join(dir, "missing.env")))
}
