package supervisor

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/wednesday-solutions/my-memories-sub001/internal/health"
)

// NewServerHealthChecker watches the inference server liveness endpoint. Its
// IsHealthy is the Ready gate for extraction.
func NewServerHealthChecker(baseURL, healthPath string, log zerolog.Logger) *health.PingChecker {
	return health.NewPingChecker("inference-server", NewServerProbe(baseURL, healthPath), 2*time.Second, log)
}
