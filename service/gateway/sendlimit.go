package gateway

import (
	"context"

	"golang.org/x/time/rate"
)

// Gateway command budget: 120 commands per 60 seconds per connection.
// Heartbeats bypass the limiter; everything else (identify, resume,
// presence, voice state, member requests) queues behind it.
const (
	sendBudget = 120
	sendWindow = 60 // seconds
)

func newSendLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(float64(sendBudget)/float64(sendWindow)), sendBudget)
}

func waitSend(ctx context.Context, lim *rate.Limiter) error {
	return lim.Wait(ctx)
}
