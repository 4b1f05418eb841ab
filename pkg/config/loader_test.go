package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/aresqos/qosd/pkg/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadUsesDefaultsWhenUnset(t *testing.T) {
	cfg := config.Load()
	require.NotNil(t, cfg)

	assert.Equal(t, 1000.0, cfg.SystemThroughput)
	assert.Equal(t, 1.0, cfg.MinCost)
	assert.Equal(t, 30*time.Second, cfg.PurgeInterval)
	assert.Equal(t, []string{"localhost:2379"}, cfg.EtcdEndpoints)
	assert.Equal(t, "default", cfg.Namespace)
	assert.NoError(t, config.Validate(cfg))
}

func TestLoadReadsEnvironmentOverrides(t *testing.T) {
	t.Setenv("QOSD_SYSTEM_THROUGHPUT", "500")
	t.Setenv("QOSD_ETCD_ENDPOINTS", "etcd-1:2379, etcd-2:2379")
	t.Setenv("QOSD_K8S_NAMESPACE", "tenants")

	cfg := config.Load()
	assert.Equal(t, 500.0, cfg.SystemThroughput)
	assert.Equal(t, []string{"etcd-1:2379", "etcd-2:2379"}, cfg.EtcdEndpoints)
	assert.Equal(t, "tenants", cfg.Namespace)
}

func TestValidateRejectsNonPositiveSystemThroughput(t *testing.T) {
	cfg := config.Load()
	cfg.SystemThroughput = 0
	assert.Error(t, config.Validate(cfg))
}

func TestValidateRejectsMaxTokensNotExceedingMinCost(t *testing.T) {
	cfg := config.Load()
	cfg.MinCost = 10
	cfg.MaxTokensPerSub = 10
	assert.Error(t, config.Validate(cfg))
}

func TestValidateRejectsEmptyEtcdEndpoints(t *testing.T) {
	cfg := config.Load()
	cfg.EtcdEndpoints = nil
	assert.Error(t, config.Validate(cfg))
}

func TestMain(m *testing.M) {
	// Ensure no stray QOSD_* vars from the host environment leak into the
	// defaults test.
	for _, key := range []string{
		"QOSD_SYSTEM_THROUGHPUT", "QOSD_MIN_COST", "QOSD_MAX_TOKENS_PER_SUBQUEUE",
		"QOSD_PURGE_INTERVAL", "QOSD_ETCD_ENDPOINTS", "QOSD_ETCD_TIMEOUT",
		"QOSD_REDIS_ADDR", "QOSD_REDIS_PASSWORD", "QOSD_REDIS_DB",
		"QOSD_KUBECONFIG", "QOSD_K8S_NAMESPACE", "QOSD_LOG_LEVEL",
	} {
		os.Unsetenv(key)
	}
	os.Exit(m.Run())
}
