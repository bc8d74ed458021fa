package engine

import (
	"sync"
	"time"

	"ratesim/internal/model"
)

// Cooldown throttles repeated warnings for a client at a given level.
type Cooldown struct {
	mu   sync.Mutex
	last map[string]time.Time
}

func NewCooldown() *Cooldown {
	return &Cooldown{last: make(map[string]time.Time)}
}

func (c *Cooldown) Allow(clientID string, level model.Level, now time.Time, cooldown time.Duration) bool {
	return c.AllowKey(clientID+"|"+level.String(), now, cooldown)
}

func (c *Cooldown) AllowKey(key string, now time.Time, cooldown time.Duration) bool {
	if cooldown <= 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts, ok := c.last[key]; ok && now.Sub(ts) < cooldown {
		return false
	}
	c.last[key] = now
	return true
}

// Forget drops every key of a cleared client.
func (c *Cooldown) Forget(clientID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, level := range []model.Level{model.LevelNormal, model.LevelWarning, model.LevelCritical} {
		delete(c.last, clientID+"|"+level.String())
	}
}
