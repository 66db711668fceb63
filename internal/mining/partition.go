package mining

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"

	"github.com/Adithya-Monish-Kumar-K/Parallel-FP-Growth/internal/mining/fptree"
)

// RankPartitioner routes a rank to one of numParts partitions. The same rank
// always lands on the same partition, across processes and runs.
func RankPartitioner(numParts int) func(fptree.Rank) int {
	return func(r fptree.Rank) int {
		var buf [4]byte
		binary.LittleEndian.PutUint32(buf[:], uint32(r))
		return int(xxhash.Sum64(buf[:]) % uint64(numParts))
	}
}
