package postgres

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/mihaimyh/promptbuddy/pkg/quota"
)

// setupTestStorage creates a test storage instance
// Uses POSTGRES_TEST_DSN; tests are skipped when it is unset or unreachable
func setupTestStorage(t *testing.T) *Storage {
	t.Helper()

	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}

	ctx := context.Background()
	config := DefaultConfig()
	config.ConnectionString = dsn
	config.CleanupEnabled = false

	storage, err := New(ctx, config)
	if err != nil {
		t.Skipf("Skipping test: failed to connect to PostgreSQL: %v", err)
	}
	if err := storage.EnsureSchema(ctx); err != nil {
		storage.Close()
		t.Fatalf("EnsureSchema failed: %v", err)
	}

	_, _ = storage.pool.Exec(ctx, "TRUNCATE TABLE daily_usage")

	return storage
}

func TestNew_RequiresConnectionString(t *testing.T) {
	_, err := New(context.Background(), DefaultConfig())
	if err == nil {
		t.Fatal("Expected error for empty connection string")
	}
}

func TestStorage_IncrementAndGet(t *testing.T) {
	storage := setupTestStorage(t)
	defer storage.Close()
	ctx := context.Background()

	used, err := storage.GetUsed(ctx, "subject1", "2024-07-01", quota.KindPrompt)
	if err != nil {
		t.Fatalf("GetUsed failed: %v", err)
	}
	if used != 0 {
		t.Errorf("Expected 0, got %d", used)
	}

	for want := 1; want <= 3; want++ {
		used, err = storage.Increment(ctx, "subject1", "2024-07-01", quota.KindPrompt)
		if err != nil {
			t.Fatalf("Increment failed: %v", err)
		}
		if used != want {
			t.Errorf("Expected %d, got %d", want, used)
		}
	}

	used, _ = storage.GetUsed(ctx, "subject1", "2024-07-02", quota.KindPrompt)
	if used != 0 {
		t.Errorf("Expected next day's counter to be 0, got %d", used)
	}

	// EnsureSchema is idempotent
	if err := storage.EnsureSchema(ctx); err != nil {
		t.Fatalf("second EnsureSchema failed: %v", err)
	}
	if err := storage.Cleanup(ctx); err != nil {
		t.Fatalf("Cleanup failed: %v", err)
	}
	used, _ = storage.GetUsed(ctx, "subject1", "2024-07-01", quota.KindPrompt)
	if used != 3 {
		t.Errorf("Cleanup removed a fresh counter, got %d", used)
	}
}

func TestStorage_ConcurrentIncrements(t *testing.T) {
	storage := setupTestStorage(t)
	defer storage.Close()
	ctx := context.Background()

	const goroutines = 50
	var wg sync.WaitGroup
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := storage.Increment(ctx, "hot", "2024-07-01", quota.KindCoach); err != nil {
				t.Errorf("Increment failed: %v", err)
			}
		}()
	}
	wg.Wait()

	used, err := storage.GetUsed(ctx, "hot", "2024-07-01", quota.KindCoach)
	if err != nil {
		t.Fatalf("GetUsed failed: %v", err)
	}
	if used != goroutines {
		t.Errorf("Expected %d, got %d", goroutines, used)
	}
}
