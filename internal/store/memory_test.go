package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/urbanflux/netatmo-ingest/internal/device"
)

func testDev(id string, lastChecked time.Time) device.Device {
	return device.Device{
		DeviceID:    id,
		LastChecked: lastChecked,
		Modules: []device.Module{
			{ModuleID: id + "-mod", Types: []string{"temperature", "humidity"}},
		},
	}
}

func TestMemoryStoreCreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	dev := testDev("70:ee:50:17:eb:1a", time.Now().UTC())
	if err := s.Create(ctx, dev); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := s.Get(ctx, dev.DeviceID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.DeviceID != dev.DeviceID || len(got.Modules) != 1 {
		t.Errorf("unexpected device: %+v", got)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("create should stamp created/updated times")
	}
}

func TestMemoryStoreGetNotFound(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestMemoryStoreGetOldestLastChecked(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if _, err := s.GetOldestLastChecked(ctx); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("empty store: expected ErrDeviceNotFound, got %v", err)
	}

	now := time.Now().UTC()
	s.Create(ctx, testDev("dev-recent", now))
	s.Create(ctx, testDev("dev-oldest", now.Add(-3*time.Hour)))
	s.Create(ctx, testDev("dev-middle", now.Add(-time.Hour)))

	got, err := s.GetOldestLastChecked(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.DeviceID != "dev-oldest" {
		t.Errorf("expected dev-oldest, got %s", got.DeviceID)
	}
}

func TestMemoryStoreUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	dev := testDev("70:ee:50:17:eb:1a", time.Now().UTC())
	s.Create(ctx, dev)
	created, _ := s.Get(ctx, dev.DeviceID)

	dev.LastChecked = dev.LastChecked.Add(time.Hour)
	updated, err := s.Update(ctx, dev.DeviceID, dev)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.LastChecked.Equal(dev.LastChecked) {
		t.Errorf("lastChecked not updated: %v", updated.LastChecked)
	}
	if !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Error("update must preserve createdAt")
	}

	if _, err := s.Update(ctx, "missing", dev); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
}

func TestMemoryStoreDeleteAndCount(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	s.Create(ctx, testDev("a", time.Now().UTC()))
	s.Create(ctx, testDev("b", time.Now().UTC()))

	if n, _ := s.Count(ctx); n != 2 {
		t.Fatalf("expected 2 devices, got %d", n)
	}

	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n, _ := s.Count(ctx); n != 1 {
		t.Errorf("expected 1 device after delete, got %d", n)
	}
	if err := s.Delete(ctx, "a"); !errors.Is(err, ErrDeviceNotFound) {
		t.Fatalf("expected ErrDeviceNotFound, got %v", err)
	}
}
