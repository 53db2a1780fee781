package v1

import "github.com/minerva-erp/glcore/internal/storage/memory"

// Compile-time assertion that the in-memory store satisfies the readiness probe.
var _ Pinger = (*memory.Store)(nil)
