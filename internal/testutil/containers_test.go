package testutil

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/testcontainers/testcontainers-go"
)

func TestDetectContainerProvider(t *testing.T) {
	t.Run("returns a known provider", func(t *testing.T) {
		provider := DetectContainerProvider()
		assert.Contains(t, []testcontainers.ProviderType{
			testcontainers.ProviderDocker,
			testcontainers.ProviderPodman,
		}, provider)
	})

	t.Run("podman socket in DOCKER_HOST", func(t *testing.T) {
		t.Setenv("DOCKER_HOST", "unix:///run/user/1000/podman/podman.sock")
		assert.Equal(t, testcontainers.ProviderPodman, DetectContainerProvider())
	})

	t.Run("defaults to docker when docker binary is missing", func(t *testing.T) {
		t.Setenv("DOCKER_HOST", "")
		t.Setenv("PATH", "")
		assert.Equal(t, testcontainers.ProviderDocker, DetectContainerProvider())
	})
}

func TestConfigureRyuk(t *testing.T) {
	t.Run("sets env var only when disabling", func(t *testing.T) {
		t.Setenv("TESTCONTAINERS_RYUK_DISABLED", "")
		os.Unsetenv("TESTCONTAINERS_RYUK_DISABLED")

		if ConfigureRyuk() {
			assert.Equal(t, "true", os.Getenv("TESTCONTAINERS_RYUK_DISABLED"))
		}
	})

	t.Run("keeps explicit setting", func(t *testing.T) {
		t.Setenv("TESTCONTAINERS_RYUK_DISABLED", "false")

		assert.False(t, ConfigureRyuk())
		assert.Equal(t, "false", os.Getenv("TESTCONTAINERS_RYUK_DISABLED"))
	})
}
