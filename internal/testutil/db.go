package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"videojobs/internal/platform/database"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestDB holds a migrated Postgres database running in a container.
type TestDB struct {
	DB        *sqlx.DB
	container testcontainers.Container
}

// SetupTestDB starts postgres:15, applies the migrations and returns a
// connected DB. It skips under -short and when no container runtime is reachable.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping Postgres integration test in short mode")
	}
	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		t.Logf("No .env file found: %v. Using defaults.", err)
	}
	user := envOr("TEST_DB_USER", "videojobs")
	password := envOr("TEST_DB_PASSWORD", "videojobs")
	name := envOr("TEST_DB_NAME", "videojobs_test")

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     user,
			"POSTGRES_PASSWORD": password,
			"POSTGRES_DB":       name,
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Postgres container unavailable: %v", err)
	}

	td := &TestDB{container: container}
	host, err := container.Host(ctx)
	if err != nil {
		td.terminate(t)
		t.Fatal(err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		td.terminate(t)
		t.Fatal(err)
	}
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port.Port(), name)

	if _, err := database.Migrate("file://"+migrationsDir(), connStr); err != nil {
		td.terminate(t)
		t.Fatalf("Failed to apply migrations: %v", err)
	}

	td.DB, err = database.OpenPostgres(connStr)
	if err != nil {
		td.terminate(t)
		t.Fatalf("Failed to connect to test DB: %v", err)
	}
	return td
}

// Teardown closes the connection and removes the container.
func (td *TestDB) Teardown(t *testing.T) {
	if td.DB != nil {
		if err := td.DB.Close(); err != nil {
			t.Errorf("Failed to close DB connection: %v", err)
		}
	}
	td.terminate(t)
}

func (td *TestDB) terminate(t *testing.T) {
	if err := td.container.Terminate(context.Background()); err != nil {
		t.Errorf("Failed to terminate container: %v", err)
	}
}

func migrationsDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "..", "..", "migrations")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
