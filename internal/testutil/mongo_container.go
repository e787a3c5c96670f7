package testutil

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	mongoOnce sync.Once
	mongoURI  string
	mongoErr  error
)

// GetMongoURI starts a shared mongo:7 container on first use and returns its
// connection URI. The test is skipped when no container runtime is available.
func GetMongoURI(t *testing.T) string {
	t.Helper()

	mongoOnce.Do(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()

		mongoC, err := testcontainers.Run(
			ctx, "mongo:7",
			testcontainers.WithExposedPorts("27017/tcp"),
			testcontainers.WithWaitStrategy(
				wait.ForListeningPort("27017/tcp"),
				wait.ForLog("mongod startup complete"),
			),
		)
		if err != nil {
			mongoErr = err
			return
		}

		// Shared by every test in the package; the testcontainers reaper
		// removes it when the test binary exits.
		endpoint, err := mongoC.Endpoint(ctx, "")
		if err != nil {
			_ = mongoC.Terminate(context.Background())
			mongoErr = err
			return
		}

		mongoURI = fmt.Sprintf("mongodb://%s", endpoint)
	})

	if mongoErr != nil {
		t.Skipf("mongo container unavailable: %v", mongoErr)
	}
	return mongoURI
}
