package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/kursadbilgin/otp-dispatch/internal/lock"
)

func TestKeyLockerExclusive(t *testing.T) {
	t.Parallel()

	locker, err := NewKeyLocker(newTestRedisClient(t), 30*time.Millisecond)
	if err != nil {
		t.Fatalf("NewKeyLocker() error = %v", err)
	}

	release, err := locker.Acquire(context.Background(), "otp:email:email_verification:a@x.com", time.Minute)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	_, err = locker.Acquire(context.Background(), "otp:email:email_verification:a@x.com", time.Minute)
	if !errors.Is(err, lock.ErrNotAcquired) {
		t.Fatalf("second Acquire() error = %v, want ErrNotAcquired", err)
	}

	if _, err := locker.Acquire(context.Background(), "otp:email:password_reset:a@x.com", time.Minute); err != nil {
		t.Fatalf("Acquire() on other key error = %v", err)
	}

	if err := release(context.Background()); err != nil {
		t.Fatalf("release() error = %v", err)
	}

	release2, err := locker.Acquire(context.Background(), "otp:email:email_verification:a@x.com", time.Minute)
	if err != nil {
		t.Fatalf("Acquire() after release error = %v", err)
	}
	_ = release2(context.Background())
}

func TestKeyLockerReleaseDoesNotDropForeignLease(t *testing.T) {
	t.Parallel()

	rdb := newTestRedisClient(t)
	locker, err := NewKeyLocker(rdb, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewKeyLocker() error = %v", err)
	}

	release, err := locker.Acquire(context.Background(), "scope", time.Minute)
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	// Simulate lease expiry followed by another holder.
	if err := rdb.Set(context.Background(), "lock:scope", "other-holder", time.Minute).Err(); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	if err := release(context.Background()); err != nil {
		t.Fatalf("release() error = %v", err)
	}

	got, err := rdb.Get(context.Background(), "lock:scope").Result()
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got != "other-holder" {
		t.Fatalf("lock value = %q, want other-holder", got)
	}
}

func TestKeyLockerHonorsContext(t *testing.T) {
	t.Parallel()

	locker, err := NewKeyLocker(newTestRedisClient(t), time.Minute)
	if err != nil {
		t.Fatalf("NewKeyLocker() error = %v", err)
	}

	if _, err := locker.Acquire(context.Background(), "busy", time.Minute); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()

	_, err = locker.Acquire(ctx, "busy", time.Minute)
	if !errors.Is(err, lock.ErrNotAcquired) {
		t.Fatalf("Acquire() error = %v, want ErrNotAcquired", err)
	}
}

func TestKeyLockerValidatesInput(t *testing.T) {
	t.Parallel()

	locker, err := NewKeyLocker(newTestRedisClient(t), 0)
	if err != nil {
		t.Fatalf("NewKeyLocker() error = %v", err)
	}

	if _, err := locker.Acquire(context.Background(), "", time.Second); err == nil {
		t.Fatal("Acquire() with empty key should fail")
	}
	if _, err := locker.Acquire(context.Background(), "k", 0); err == nil {
		t.Fatal("Acquire() with zero ttl should fail")
	}
	if _, err := NewKeyLocker(nil, 0); err == nil {
		t.Fatal("NewKeyLocker(nil) should fail")
	}
}
