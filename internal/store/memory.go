package store

import (
	"context"
	"sync"
	"time"

	"github.com/urbanflux/netatmo-ingest/internal/device"
)

// MemoryStore is a concurrency-safe in-memory DeviceStore, used in tests
// and dry runs.
type MemoryStore struct {
	mu      sync.RWMutex
	devices map[string]device.Device
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		devices: make(map[string]device.Device),
	}
}

func (s *MemoryStore) Create(ctx context.Context, dev device.Device) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	dev.CreatedAt = now
	dev.UpdatedAt = now
	s.devices[dev.DeviceID] = dev
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, deviceID string) (device.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	dev, ok := s.devices[deviceID]
	if !ok {
		return device.Device{}, ErrDeviceNotFound
	}
	return dev, nil
}

// GetOldestLastChecked returns the device that has gone longest without a
// reading poll.
func (s *MemoryStore) GetOldestLastChecked(ctx context.Context) (device.Device, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var oldest device.Device
	found := false
	for _, dev := range s.devices {
		if !found || dev.LastChecked.Before(oldest.LastChecked) {
			oldest = dev
			found = true
		}
	}
	if !found {
		return device.Device{}, ErrDeviceNotFound
	}
	return oldest, nil
}

func (s *MemoryStore) Update(ctx context.Context, deviceID string, dev device.Device) (device.Device, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.devices[deviceID]
	if !ok {
		return device.Device{}, ErrDeviceNotFound
	}

	dev.DeviceID = deviceID
	dev.CreatedAt = existing.CreatedAt
	dev.UpdatedAt = time.Now().UTC()
	s.devices[deviceID] = dev
	return dev, nil
}

func (s *MemoryStore) Delete(ctx context.Context, deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.devices[deviceID]; !ok {
		return ErrDeviceNotFound
	}
	delete(s.devices, deviceID)
	return nil
}

func (s *MemoryStore) Count(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.devices), nil
}
