package testutil

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// MinIO root credentials used by StartMinIO.
const (
	MinIOAccessKey = "minioadmin"
	MinIOSecretKey = "minioadmin"
)

// isPodman checks if the current container engine is Podman.
func isPodman() bool {
	// DOCKER_HOST commonly points at the podman socket on Fedora/RHEL.
	if dockerHost := os.Getenv("DOCKER_HOST"); strings.Contains(dockerHost, "podman") {
		return true
	}

	// Podman's docker-compat layer reports "podman" in docker info.
	cmd := exec.Command("docker", "info")
	output, err := cmd.CombinedOutput()
	if err == nil && strings.Contains(strings.ToLower(string(output)), "podman") {
		return true
	}

	return false
}

// DetectContainerProvider returns ProviderPodman when Podman is the active
// container engine and ProviderDocker otherwise.
func DetectContainerProvider() testcontainers.ProviderType {
	if isPodman() {
		return testcontainers.ProviderPodman
	}
	return testcontainers.ProviderDocker
}

// ConfigureRyuk disables the Ryuk reaper under Podman, where it usually
// lacks permissions. Returns true if Ryuk was disabled.
func ConfigureRyuk() bool {
	if isPodman() && os.Getenv("TESTCONTAINERS_RYUK_DISABLED") == "" {
		os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")
		return true
	}
	return false
}

// RequireContainers skips the test in -short mode or when no container
// provider is reachable.
func RequireContainers(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ConfigureRyuk()
	testcontainers.SkipIfProviderIsNotHealthy(t)
}

// StartMinIO starts a MinIO container for the duration of the test and
// returns its host:port endpoint.
func StartMinIO(t *testing.T) string {
	t.Helper()
	RequireContainers(t)

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "minio/minio:latest",
		ExposedPorts: []string{"9000/tcp"},
		Env: map[string]string{
			"MINIO_ROOT_USER":     MinIOAccessKey,
			"MINIO_ROOT_PASSWORD": MinIOSecretKey,
		},
		Cmd:        []string{"server", "/data"},
		WaitingFor: wait.ForHTTP("/minio/health/ready").WithPort("9000").WithStartupTimeout(60 * time.Second),
	}

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
		ProviderType:     DetectContainerProvider(),
	})
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	endpoint, err := ctr.Endpoint(ctx, "")
	require.NoError(t, err)
	return endpoint
}

// StartRedis starts a Redis container for the duration of the test and
// returns its host:port address.
func StartRedis(t *testing.T) string {
	t.Helper()
	RequireContainers(t)

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
	}

	ctr, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
		ProviderType:     DetectContainerProvider(),
	})
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	endpoint, err := ctr.Endpoint(ctx, "")
	require.NoError(t, err)
	return endpoint
}
