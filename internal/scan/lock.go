package scan

import (
	"fmt"
	"sync"
)

// DeviceLock is a registry of capture devices held by running sessions. At
// most one owner may hold a device ID at a time. It is safe for concurrent
// use.
type DeviceLock struct {
	mu   sync.Mutex
	held map[string]string // device ID → owner session ID
}

// NewDeviceLock returns an empty registry.
func NewDeviceLock() *DeviceLock {
	return &DeviceLock{held: make(map[string]string)}
}

// defaultLocks is used by controllers that are not given a registry.
var defaultLocks = NewDeviceLock()

// Acquire marks deviceID as held by owner. It returns an error wrapping
// [ErrDeviceBusy] when another owner holds the device. Re-acquiring by the
// same owner succeeds.
func (l *DeviceLock) Acquire(deviceID, owner string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur, ok := l.held[deviceID]; ok && cur != owner {
		return fmt.Errorf("scan: device %q held by session %s: %w", deviceID, cur, ErrDeviceBusy)
	}
	l.held[deviceID] = owner
	return nil
}

// Release frees deviceID if owner holds it. Releasing a device held by
// someone else, or not held at all, is a no-op.
func (l *DeviceLock) Release(deviceID, owner string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.held[deviceID] == owner {
		delete(l.held, deviceID)
	}
}

// Holder returns the session holding deviceID.
func (l *DeviceLock) Holder(deviceID string) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	owner, ok := l.held[deviceID]
	return owner, ok
}
