package mining

import "math"

// Options are the mining tunables.
type Options struct {
	// MinSupport is the fraction of transactions, in (0, 1], a pattern must
	// occur in to be reported.
	MinSupport float64
	// NumPartitions is the number of mining partitions. Zero selects the
	// natural partition count of the input dataset.
	NumPartitions int
	// Ordered switches from itemset mining to sequence mining: patterns
	// keep the relative order of their items in the transactions.
	Ordered bool
}

// Validate returns a *ConfigurationError for out-of-range tunables.
func (o Options) Validate() error {
	if math.IsNaN(o.MinSupport) || o.MinSupport <= 0 || o.MinSupport > 1 {
		return &ConfigurationError{Field: "MinSupport", Value: o.MinSupport, Reason: "must be in (0, 1]"}
	}
	if o.NumPartitions < 0 {
		return &ConfigurationError{Field: "NumPartitions", Value: o.NumPartitions, Reason: "must not be negative"}
	}
	return nil
}

// MinCount converts a support fraction into an absolute count over n
// transactions: ceil(support × n). Products within 1e-9 of an integer are
// snapped to it so binary rounding (0.7 × 10 = 7.000000000000001) does not
// raise the threshold by one.
func MinCount(support float64, n int64) int64 {
	c := support * float64(n)
	if r := math.Round(c); math.Abs(c-r) <= 1e-9*math.Max(1, c) {
		return int64(r)
	}
	return int64(math.Ceil(c))
}
