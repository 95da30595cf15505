/*
Package resilience provides a circuit breaker for calls that can fail in
bursts, such as browser launches and webhook deliveries.

# Usage

	breaker := resilience.New("browser-launch", resilience.Settings{
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts resilience.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
	})

	err := breaker.Execute(func() error {
		return drv.Launch(url, vp)
	})
	if errors.Is(err, resilience.ErrCircuitOpen) {
		// fail fast
	}

# States

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                    [failure]
	                                           |
	                                           v
	                                         Open
*/
package resilience
