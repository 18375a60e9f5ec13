package integration

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/JavidSumra/care-be/internal/platform/db"
)

const (
	defaultPostgresImage = "postgres:16-alpine"
	postgresReadyTimeout = 30 * time.Second
)

// startPostgres runs a disposable database container and returns its
// connection string with a function that removes the container.
// INTEGRATION_POSTGRES_IMAGE overrides the image.
func startPostgres(ctx context.Context) (string, func(), error) {
	image := os.Getenv("INTEGRATION_POSTGRES_IMAGE")
	if image == "" {
		image = defaultPostgresImage
	}

	// Docker picks the host port, so parallel runs never collide.
	out, err := docker(ctx, "run", "-d", "--rm",
		"--label", "care-be.integration=true",
		"-p", "127.0.0.1::5432",
		"-e", "POSTGRES_USER=care",
		"-e", "POSTGRES_PASSWORD=care",
		"-e", "POSTGRES_DB=caretest",
		image,
	)
	if err != nil {
		return "", nil, err
	}
	id := out
	cleanup := func() { _, _ = docker(context.Background(), "rm", "-f", id) }

	hostPort, err := docker(ctx, "port", id, "5432/tcp")
	if err != nil {
		cleanup()
		return "", nil, err
	}
	// "docker port" may list several bindings, one per line.
	hostPort = strings.SplitN(hostPort, "\n", 2)[0]

	connStr := fmt.Sprintf("postgres://care:care@%s/caretest?sslmode=disable", hostPort)
	if err := awaitPostgres(ctx, connStr); err != nil {
		cleanup()
		return "", nil, err
	}
	return connStr, cleanup, nil
}

func docker(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "docker", args...).CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("docker %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return strings.TrimSpace(string(out)), nil
}

// awaitPostgres polls until the server answers a ping. The container accepts
// TCP connections before initdb finishes, so a successful dial is not enough.
func awaitPostgres(ctx context.Context, connStr string) error {
	ctx, cancel := context.WithTimeout(ctx, postgresReadyTimeout)
	defer cancel()

	tick := time.NewTicker(500 * time.Millisecond)
	defer tick.Stop()

	var lastErr error
	for {
		attemptCtx, stop := context.WithTimeout(ctx, 2*time.Second)
		p, err := db.NewPool(attemptCtx, db.PoolConfig{URL: connStr, MaxConns: 1})
		if err == nil {
			p.Close()
			stop()
			return nil
		}
		stop()
		lastErr = err

		select {
		case <-ctx.Done():
			return fmt.Errorf("postgres not ready after %v: %w", postgresReadyTimeout, lastErr)
		case <-tick.C:
		}
	}
}
