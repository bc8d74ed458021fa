package policy

import "ratesim/internal/config"

// FromConfig builds the enabled policies in their fixed evaluation order.
func FromConfig(cfg config.PoliciesConfig, clock Clock) []Policy {
	var out []Policy
	if cfg.FixedWindow.Enabled {
		out = append(out, FixedWindow{Max: cfg.FixedWindow.MaxRequests, Window: cfg.FixedWindow.Window, Clock: clock})
	}
	if cfg.SlidingWindow.Enabled {
		out = append(out, SlidingWindow{Max: cfg.SlidingWindow.MaxRequests, Window: cfg.SlidingWindow.Window})
	}
	if cfg.Burst.Enabled {
		out = append(out, Burst{Threshold: cfg.Burst.Threshold, Window: cfg.Burst.Window})
	}
	if cfg.AbnormalPattern.Enabled {
		out = append(out, AbnormalPattern{
			UnusualHourThreshold: cfg.AbnormalPattern.UnusualHourThreshold,
			UniformTolerance:     cfg.AbnormalPattern.UniformTolerance,
		})
	}
	if cfg.RetryAbuse.Enabled {
		out = append(out, RetryAbuse{MaxConsecutive: cfg.RetryAbuse.MaxConsecutive, Window: cfg.RetryAbuse.Window})
	}
	return out
}

// Defaults returns the standard policy set.
func Defaults(clock Clock) []Policy {
	return FromConfig(config.DefaultConfig().Policies, clock)
}
