// Package devices maps (user, device) pairs to registered ed25519
// public keys. Registration is an idempotent upsert; there is no delete
// operation, device retirement happens through grant allow-lists.
package devices

import (
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/arvht/chainkey/internal/keyValStore"
)

// ErrDeviceNotRegistered means no public key is stored for the
// requested (user, device) pair.
var ErrDeviceNotRegistered = errors.New("devices: device not registered")

// Device is a registered device key.
type Device struct {
	User      string `json:"user"`
	DeviceID  string `json:"device_id"`
	PublicKey []byte `json:"public_key"`
}

// Registry stores device keys in memory with write-through persistence
// to the KV store.
type Registry struct {
	mu      sync.RWMutex
	devices map[string]Device
	store   *keyValStore.KeyValStore
}

// NewRegistry creates a registry. The store may be nil for a
// memory-only registry (tests).
func NewRegistry(store *keyValStore.KeyValStore) *Registry { // A
	return &Registry{
		devices: make(map[string]Device),
		store:   store,
	}
}

// Register upserts the public key for (user, device). Re-registering
// the same pair overwrites the stored key.
func (r *Registry) Register(user, deviceID string, publicKey []byte) (Device, error) { // A
	if user == "" || deviceID == "" {
		return Device{}, fmt.Errorf("devices: user and device id must not be empty")
	}
	if len(publicKey) != ed25519.PublicKeySize {
		return Device{}, fmt.Errorf(
			"devices: invalid public key length: expected %d, got %d",
			ed25519.PublicKeySize, len(publicKey),
		)
	}

	device := Device{
		User:      user,
		DeviceID:  deviceID,
		PublicKey: append([]byte(nil), publicKey...),
	}

	if r.store != nil {
		raw, err := json.Marshal(device)
		if err != nil {
			return Device{}, fmt.Errorf("marshal device: %w", err)
		}
		if err := r.store.Write(deviceKey(user, deviceID), raw); err != nil {
			return Device{}, fmt.Errorf("persist device: %w", err)
		}
	}

	r.mu.Lock()
	r.devices[registryKey(user, deviceID)] = device
	r.mu.Unlock()
	return device, nil
}

// Lookup resolves the registered public key for (user, device). The
// registry is the only authority for verification keys; a key supplied
// with a request is never trusted once a device is registered.
func (r *Registry) Lookup(user, deviceID string) (Device, error) { // A
	r.mu.RLock()
	device, ok := r.devices[registryKey(user, deviceID)]
	r.mu.RUnlock()
	if ok {
		return device, nil
	}

	if r.store == nil {
		return Device{}, ErrDeviceNotRegistered
	}

	raw, err := r.store.Read(deviceKey(user, deviceID))
	if err != nil {
		if keyValStore.IsNotFound(err) {
			return Device{}, ErrDeviceNotRegistered
		}
		return Device{}, fmt.Errorf("read device: %w", err)
	}

	if err := json.Unmarshal(raw, &device); err != nil {
		return Device{}, fmt.Errorf("decode device: %w", err)
	}

	r.mu.Lock()
	r.devices[registryKey(user, deviceID)] = device
	r.mu.Unlock()
	return device, nil
}

func registryKey(user, deviceID string) string { // A
	return user + "::" + deviceID
}

func deviceKey(user, deviceID string) []byte { // A
	return []byte("device/" + user + "/" + deviceID)
}
