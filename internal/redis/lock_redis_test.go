package redisclient

import (
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func testRedis(t *testing.T) *redis.Client {
	t.Helper()

	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}

	rdb, err := NewRedisClient(context.Background(), addr, "", "")
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRedisLockerMutualExclusion(t *testing.T) {
	rdb := testRedis(t)
	key := ProviderDayKey("provider-"+uuid.NewString(), "2026-03-03")

	var (
		wg      sync.WaitGroup
		inside  atomic.Int32
		entered atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			locker := NewRedisLocker(rdb, 5*time.Second, 5*time.Second)
			err := locker.WithLock(context.Background(), key, func(ctx context.Context) error {
				if inside.Add(1) != 1 {
					t.Errorf("two holders inside the critical section")
				}
				time.Sleep(20 * time.Millisecond)
				inside.Add(-1)
				entered.Add(1)
				return nil
			})
			if err != nil {
				t.Errorf("with lock: %v", err)
			}
		}()
	}
	wg.Wait()

	if entered.Load() != 8 {
		t.Fatalf("expected every contender to get the lock eventually, got %d", entered.Load())
	}
	if n, _ := rdb.Exists(context.Background(), key).Result(); n != 0 {
		t.Fatalf("lock key left behind")
	}
}

func TestRedisLockerGivesUpAfterWait(t *testing.T) {
	rdb := testRedis(t)
	key := ProviderDayKey("provider-"+uuid.NewString(), "2026-03-03")

	holding := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- NewRedisLocker(rdb, 5*time.Second, time.Second).WithLock(context.Background(), key, func(context.Context) error {
			close(holding)
			<-release
			return nil
		})
	}()
	<-holding

	err := NewRedisLocker(rdb, 5*time.Second, 100*time.Millisecond).WithLock(context.Background(), key, func(context.Context) error {
		t.Error("critical section entered while the lock was held")
		return nil
	})
	close(release)

	if !errors.Is(err, ErrLockNotAcquired) {
		t.Fatalf("expected ErrLockNotAcquired, got %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("holder: %v", err)
	}
}

func TestRedisLockerReleaseKeepsForeignToken(t *testing.T) {
	rdb := testRedis(t)
	ctx := context.Background()
	key := ProviderDayKey("provider-"+uuid.NewString(), "2026-03-03")

	l := NewRedisLocker(rdb, 5*time.Second, time.Second).(*redisLocker)
	if err := rdb.Set(ctx, key, "someone-else", 5*time.Second).Err(); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := l.release(ctx, key, "my-token"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if v, _ := rdb.Get(ctx, key).Result(); v != "someone-else" {
		t.Fatalf("release removed a lock it did not own")
	}
	_ = rdb.Del(ctx, key).Err()
}
