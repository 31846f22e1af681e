package engine

import (
	"errors"
	"fmt"
)

// actionLimiter counts the actions admitted by one Update call and stops
// the loop once the limit is reached.
//
// Two scenarios that keep requesting events for each other never reach
// quiescence; the limit turns that into an error instead of a hang.
type actionLimiter struct {
	max     int // 0 disables the limit
	current int
}

func newActionLimiter(max int) *actionLimiter {
	return &actionLimiter{max: max}
}

// Check increments the counter and returns ActionLimitError once the limit
// is exceeded.
func (l *actionLimiter) Check(lastActionID int64) error {
	l.current++
	if l.max > 0 && l.current > l.max {
		return &ActionLimitError{
			Actions:  l.current - 1,
			Limit:    l.max,
			ActionID: lastActionID,
		}
	}
	return nil
}

// Reset sets the counter back to zero. Called at the start of every Update.
func (l *actionLimiter) Reset() {
	l.current = 0
}

// ActionLimitError is returned when one Update admits more actions than
// the configured limit. The engine stays usable: the next Update continues
// from where the previous one stopped.
type ActionLimitError struct {
	Actions  int   // actions admitted before stopping
	Limit    int   // configured limit
	ActionID int64 // id of the last admitted action
}

// Error implements the error interface.
func (e *ActionLimitError) Error() string {
	return fmt.Sprintf("update exceeded action limit: %d actions >= %d limit (last action %d)",
		e.Actions, e.Limit, e.ActionID)
}

// IsActionLimitError returns true if the error is an ActionLimitError.
// Uses errors.As to handle wrapped errors.
func IsActionLimitError(err error) bool {
	var le *ActionLimitError
	return errors.As(err, &le)
}
