package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/one-time-login-api/internal/scheduler"
)

// Cron runs due token cleanups opportunistically at the top of every
// inbound request, so scheduled retirements fire even when the polling
// loop is disabled or the process just restarted. The run happens in
// the background; the request never waits on it.
func Cron(sched *scheduler.Scheduler, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		if sched != nil {
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := sched.RunDue(ctx); err != nil {
					logger.Warn("opportunistic cleanup run failed", zap.Error(err))
				}
			}()
		}
		c.Next()
	}
}
