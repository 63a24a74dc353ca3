package sessions

import "time"

// durationFromSeconds converts a float seconds value (as configured via
// EXECUTE_GOAL_MIN_INTERVAL_SEC) into a time.Duration.
func durationFromSeconds(seconds float64) time.Duration {
	return time.Duration(seconds * float64(time.Second))
}
