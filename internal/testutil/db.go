package testutil

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/joho/godotenv"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"gorm.io/gorm"

	"github.com/ifuryst/murmur/internal/store"
)

// TestDB holds a migrated postgres container and a gorm handle to it.
type TestDB struct {
	DB        *gorm.DB
	container testcontainers.Container
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// SetupTestDB starts postgres in a container and applies the migrations.
// The test is skipped under -short or when no container runtime is available.
func SetupTestDB(t *testing.T) *TestDB {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres test in short mode")
	}

	ctx := context.Background()

	if err := godotenv.Load(); err != nil {
		t.Logf("No .env file found: %v. Using defaults.", err)
	}

	username := envOr("DB_USERNAME", "murmur")
	password := envOr("DB_PASSWORD", "murmur")
	dbName := envOr("DB_NAME", "murmur_test")

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     username,
			"POSTGRES_PASSWORD": password,
			"POSTGRES_DB":       dbName,
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
		t.Skipf("postgres container unavailable: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		terminate(t, container)
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		terminate(t, container)
		t.Fatalf("Failed to get mapped port: %v", err)
	}

	url := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", username, password, host, port.Port(), dbName)
	if err := store.MigrateUp(url); err != nil {
		terminate(t, container)
		t.Fatalf("Failed to apply migrations: %v", err)
	}

	dsn := fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=disable TimeZone=UTC",
		host, username, password, dbName, port.Port())
	db, err := store.OpenDSN(dsn)
	if err != nil {
		terminate(t, container)
		t.Fatalf("Failed to connect to test DB: %v", err)
	}

	return &TestDB{DB: db, container: container}
}

func terminate(t *testing.T, c testcontainers.Container) {
	if err := c.Terminate(context.Background()); err != nil {
		t.Logf("Failed to terminate container: %v", err)
	}
}

// Teardown closes the connection and removes the container.
func (td *TestDB) Teardown(t *testing.T) {
	if sqlDB, err := td.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			t.Errorf("Failed to close DB connection: %v", err)
		}
	}
	terminate(t, td.container)
}
