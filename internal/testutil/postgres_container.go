package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const (
	pgUser     = "orderflow"
	pgPassword = "orderflow"
	pgDatabase = "orderflow_test"
)

var (
	pgOnce sync.Once
	pgDSN  string
	pgErr  error
)

// GetPostgresEndpoint starts a shared postgres:16 container on first use and
// returns a pgx DSN for it. The test is skipped when no container runtime is
// available.
func GetPostgresEndpoint(t *testing.T) string {
	t.Helper()

	pgOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()

		postgresC, err := testcontainers.Run(
			ctx, "postgres:16",
			testcontainers.WithExposedPorts("5432/tcp"),
			testcontainers.WithWaitStrategy(
				wait.ForAll(
					wait.ForListeningPort("5432/tcp"),
					wait.ForLog("ready to accept connections"),
					wait.ForSQL("5432/tcp", "pgx", func(host string, port nat.Port) string {
						return postgresDSN(fmt.Sprintf("%s:%s", host, port.Port()))
					}).WithQuery("SELECT 1"),
				).WithDeadline(2*time.Minute),
			),
			testcontainers.WithEnv(map[string]string{
				"POSTGRES_USER":     pgUser,
				"POSTGRES_PASSWORD": pgPassword,
				"POSTGRES_DB":       pgDatabase,
			}),
		)
		if err != nil {
			pgErr = err
			return
		}

		// Shared by every test in the package; the testcontainers reaper
		// removes it when the test binary exits.
		endpoint, err := postgresC.Endpoint(ctx, "")
		if err != nil {
			_ = postgresC.Terminate(context.Background())
			pgErr = err
			return
		}

		pgDSN = postgresDSN(endpoint)
	})

	if pgErr != nil {
		t.Skipf("postgres container unavailable: %v", pgErr)
	}
	return pgDSN
}

func postgresDSN(hostPort string) string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s?sslmode=disable", pgUser, pgPassword, hostPort, pgDatabase)
}
