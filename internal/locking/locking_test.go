package locking

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestKeyedMutexSerialisesSameKey(t *testing.T) {
	km := NewKeyedMutex()
	var (
		inside  int32
		maxSeen int32
		wg      sync.WaitGroup
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := km.Lock(context.Background(), "lead:1")
			if err != nil {
				t.Error(err)
				return
			}
			n := atomic.AddInt32(&inside, 1)
			if n > atomic.LoadInt32(&maxSeen) {
				atomic.StoreInt32(&maxSeen, n)
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(&inside, -1)
			unlock()
		}()
	}
	wg.Wait()

	if maxSeen != 1 {
		t.Fatalf("expected exclusive access, saw %d concurrent holders", maxSeen)
	}
	if len(km.locks) != 0 {
		t.Fatalf("expected entries to be cleaned up, %d left", len(km.locks))
	}
}

func TestKeyedMutexHonoursContext(t *testing.T) {
	km := NewKeyedMutex()
	unlock, err := km.Lock(context.Background(), "k")
	if err != nil {
		t.Fatal(err)
	}
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := km.Lock(ctx, "k"); err == nil {
		t.Fatal("expected context error while key is held")
	}
}

func TestRedisLockerExcludesSecondHolder(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	locker := NewRedisLocker(client, time.Second, 5*time.Millisecond)
	unlock, err := locker.Lock(context.Background(), "lead:42")
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, err := locker.Lock(ctx, "lead:42"); err == nil {
		t.Fatal("second holder must wait")
	}

	unlock()
	if mr.Exists(lockKeyPrefix + "lead:42") {
		t.Fatal("release must delete the key")
	}
	again, err := locker.Lock(context.Background(), "lead:42")
	if err != nil {
		t.Fatalf("expected lock after release, got %v", err)
	}
	again()
}

func TestLayeredReleasesOnFailure(t *testing.T) {
	local := NewKeyedMutex()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	mr.Close()

	layered := Layered{local, NewRedisLocker(client, time.Second, time.Millisecond)}
	if _, err := layered.Lock(context.Background(), "x"); err == nil {
		t.Fatal("expected redis failure")
	}
	unlock, err := local.Lock(context.Background(), "x")
	if err != nil {
		t.Fatal("local lock must have been released")
	}
	unlock()
}
