package match

// Queues holds the per (mode, tier) waiting lists. Pairing is strictly FIFO
// inside a bucket; the tier itself is the matching key. Not safe for
// concurrent use; the coordinator serializes access.
type Queues struct {
	buckets map[bucketKey][]string
}

type bucketKey struct {
	mode Mode
	tier Tier
}

func NewQueues() *Queues {
	return &Queues{buckets: make(map[bucketKey][]string)}
}

// Enqueue appends addr to the (mode, tier) bucket. A wallet already waiting in
// that bucket is left where it is and reported via the second return.
func (q *Queues) Enqueue(addr string, mode Mode, tier Tier) (queued bool, already bool) {
	key := bucketKey{mode: mode, tier: tier}
	for _, w := range q.buckets[key] {
		if w == addr {
			return false, true
		}
	}
	q.buckets[key] = append(q.buckets[key], addr)
	return true, false
}

// PopPair removes and returns the two oldest entries of the bucket when at
// least two wallets are waiting.
func (q *Queues) PopPair(mode Mode, tier Tier) (first, second string, ok bool) {
	key := bucketKey{mode: mode, tier: tier}
	list := q.buckets[key]
	if len(list) < 2 {
		return "", "", false
	}
	first, second = list[0], list[1]
	q.buckets[key] = list[2:]
	return first, second, true
}

// Remove deletes addr from whichever bucket holds it. Buckets are few and
// short, a full scan is fine.
func (q *Queues) Remove(addr string) {
	for key, list := range q.buckets {
		for i, w := range list {
			if w == addr {
				q.buckets[key] = append(list[:i:i], list[i+1:]...)
				break
			}
		}
	}
}

// Waiting returns the current length of one bucket.
func (q *Queues) Waiting(mode Mode, tier Tier) int {
	return len(q.buckets[bucketKey{mode: mode, tier: tier}])
}
