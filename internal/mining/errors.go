package mining

import (
	"errors"
	"fmt"

	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/internal/mining/counter"
)

var (
	// ErrInvalidConfig is wrapped by every *ConfigurationError.
	ErrInvalidConfig = errors.New("invalid mining configuration")

	// ErrDuplicateItem is wrapped by every *DuplicateItemError.
	ErrDuplicateItem = counter.ErrDuplicateItem
)

// DuplicateItemError reports a transaction that repeats an item. It aborts
// the whole run in both itemset and sequence mode.
type DuplicateItemError = counter.DuplicateItemError

// ConfigurationError reports a tunable outside its valid range. It is
// returned before any partition work starts.
type ConfigurationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("%s: %s=%v: %s", ErrInvalidConfig, e.Field, e.Value, e.Reason)
}

func (e *ConfigurationError) Unwrap() error { return ErrInvalidConfig }
