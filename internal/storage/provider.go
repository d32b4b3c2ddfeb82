package storage

import "lienzo/internal/ports"

// Provider is the storage contract the worker persists artifacts through.
// It is an alias to ports.StorageProvider to keep call-sites simple.
type Provider = ports.StorageProvider
