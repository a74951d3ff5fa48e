package store

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/wednesday-solutions/my-memories-sub001/internal/health"
)

// NewHealthChecker pings the store periodically.
func NewHealthChecker(s Store, log zerolog.Logger, probeTimeout time.Duration) *health.PingChecker {
	return health.NewPingChecker("store", s, probeTimeout, log)
}
