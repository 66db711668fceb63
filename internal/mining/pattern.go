package mining

import (
	"fmt"
	"strings"
)

// FrequentPattern is a mined itemset (Ordered == false) or sequence
// (Ordered == true) with the number of transactions containing it.
// In itemset mode Items are listed most frequent first; in sequence mode
// they follow their order in the transactions.
type FrequentPattern[T comparable] struct {
	Items     []T
	Frequency int64
	Ordered   bool
}

func (p FrequentPattern[T]) String() string {
	parts := make([]string, len(p.Items))
	for i, item := range p.Items {
		parts[i] = fmt.Sprint(item)
	}
	open, closing := "{", "}"
	if p.Ordered {
		open, closing = "<", ">"
	}
	return fmt.Sprintf("%s%s%s:%d", open, strings.Join(parts, ","), closing, p.Frequency)
}

// ItemCount is a frequent item with its global count.
type ItemCount[T comparable] struct {
	Item  T
	Count int64
}
