package storage

import "framepipe/internal/ports"

// Provider is the delivery storage contract. It aliases
// ports.StorageProvider to keep call-sites simple.
type Provider = ports.StorageProvider

// FrameStore aliases ports.FrameStore.
type FrameStore = ports.FrameStore
