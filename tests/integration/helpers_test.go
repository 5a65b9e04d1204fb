//go:build integration

package integration

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go/modules/mysql"
	redisTC "github.com/testcontainers/testcontainers-go/modules/redis"

	"fives-agent/internal/config"
	"fives-agent/internal/repository"
)

func integrationEnabled() bool {
	return os.Getenv("INTEGRATION") == "1"
}

func startRedis(t *testing.T, ctx context.Context) *redis.Client {
	t.Helper()

	redisC, err := redisTC.RunContainer(ctx)
	if err != nil {
		t.Fatalf("redis container: %v", err)
	}
	t.Cleanup(func() { _ = redisC.Terminate(ctx) })

	endpoint, err := redisC.Endpoint(ctx, "tcp")
	if err != nil {
		t.Fatalf("redis endpoint: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: strings.TrimPrefix(endpoint, "tcp://")})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func setupMySQLDB(t *testing.T, ctx context.Context) *sqlx.DB {
	t.Helper()

	mysqlC, err := mysql.RunContainer(ctx,
		mysql.WithDatabase("fives_agent_test"),
		mysql.WithUsername("root"),
		mysql.WithPassword("root"),
	)
	if err != nil {
		t.Fatalf("mysql container: %v", err)
	}
	t.Cleanup(func() { _ = mysqlC.Terminate(ctx) })

	host, err := mysqlC.Host(ctx)
	if err != nil {
		t.Fatalf("mysql host: %v", err)
	}
	port, err := mysqlC.MappedPort(ctx, "3306")
	if err != nil {
		t.Fatalf("mysql port: %v", err)
	}

	cfg := config.MySQLConfig{
		Host:     host,
		Port:     port.Int(),
		DBName:   "fives_agent_test",
		User:     "root",
		Password: "root",
	}

	migrationsPath, err := findMigrationsPath()
	if err != nil {
		t.Fatalf("migrations path: %v", err)
	}
	m, err := migrate.New("file://"+filepath.ToSlash(migrationsPath), "mysql://"+repository.MySQLDSN(cfg))
	if err != nil {
		t.Fatalf("migrate.New: %v", err)
	}
	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		t.Fatalf("migrate.Up: %v", err)
	}
	t.Cleanup(func() { _, _ = m.Close() })

	db, err := repository.NewMySQL(ctx, cfg, 10*time.Second)
	if err != nil {
		t.Fatalf("mysql: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func findMigrationsPath() (string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for {
		candidate := filepath.Join(wd, "migrations")
		if st, err := os.Stat(candidate); err == nil && st.IsDir() {
			return candidate, nil
		}
		parent := filepath.Dir(wd)
		if parent == wd {
			break
		}
		wd = parent
	}
	return "", os.ErrNotExist
}

func cacheConfig() config.CacheConfig {
	singleFlight := true
	return config.CacheConfig{
		StorageKey:          "fives_last_match_cache",
		StaleAfter:          5 * time.Minute,
		MinRequestInterval:  6 * time.Second,
		ThrottleWait:        time.Second,
		MaxBytes:            2 * 1024 * 1024,
		MinRetained:         10,
		MaxFetchesPerWindow: 10,
		FetchWindow:         time.Minute,
		DefaultSeason:       "2024",
		SingleFlight:        &singleFlight,
	}
}
