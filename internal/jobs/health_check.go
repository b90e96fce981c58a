package jobs

import (
	"context"
	"log"
	"time"

	"tgchat/internal/services"
)

const healthCheckTimeout = 15 * time.Second

// HealthCheckJob periodically probes the bot's upstream dependencies so
// outages show up in the logs before users notice.
type HealthCheckJob struct {
	redis *services.RedisService
	ai    *services.AIService
}

// NewHealthCheckJob creates the dependency health probe
func NewHealthCheckJob(redis *services.RedisService, ai *services.AIService) *HealthCheckJob {
	return &HealthCheckJob{redis: redis, ai: ai}
}

// Run pings Redis and the AI provider, logging any failures
func (j *HealthCheckJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), healthCheckTimeout)
	defer cancel()

	healthy := true

	if err := j.redis.Ping(ctx); err != nil {
		healthy = false
		log.Printf("❌ [HEALTH] Redis unreachable: %v", err)
	}

	if err := j.ai.HealthCheck(ctx); err != nil {
		healthy = false
		log.Printf("⚠️ [HEALTH] AI provider %s check failed: %v", j.ai.Provider(), err)
	}

	if healthy {
		log.Printf("💚 [HEALTH] All dependencies healthy")
	}
}
