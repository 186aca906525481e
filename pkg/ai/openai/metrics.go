package openai

import (
	"math"

	"github.com/lattice-docs/graphrag/pkg/ai"
)

// ResetMetrics zeroes the usage counters accumulated by this client.
func (c *GraphOpenAIClient) ResetMetrics() {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	c.metrics = ai.ModelMetrics{}
}

// GetMetrics reports token usage and timing accumulated since the last
// reset.
func (c *GraphOpenAIClient) GetMetrics() ai.ModelMetrics {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	return c.metrics
}

// recordUsage folds one request's usage into the running totals and
// refreshes the derived throughput figure.
func (c *GraphOpenAIClient) recordUsage(usage ai.ModelMetrics) {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()

	c.metrics.InputTokens += usage.InputTokens
	c.metrics.OutputTokens += usage.OutputTokens
	c.metrics.TotalTokens += usage.TotalTokens
	c.metrics.DurationMs += usage.DurationMs
	if c.metrics.DurationMs > 0 {
		c.metrics.TokenPerSecond = roundedThroughput(c.metrics.TotalTokens, c.metrics.DurationMs)
	}
}

func roundedThroughput(totalTokens int, durationMs int64) float32 {
	perSecond := float64(totalTokens) * 1000 / float64(durationMs)
	return float32(math.Round(perSecond*100) / 100)
}
