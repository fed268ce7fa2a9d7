package slot

import "container/list"

// seenTxidSet is a bounded LRU of txids, used to make FillEvent
// application idempotent under replay. container/list + a map; a dedicated
// LRU dependency would be oversized for one call site.
type seenTxidSet struct {
	capacity int
	ll       *list.List
	index    map[string]*list.Element
}

func newSeenTxidSet(capacity int) *seenTxidSet {
	if capacity <= 0 {
		capacity = 4096
	}
	return &seenTxidSet{
		capacity: capacity,
		ll:       list.New(),
		index:    make(map[string]*list.Element, capacity),
	}
}

// Contains reports whether txid has already been applied.
func (s *seenTxidSet) Contains(txid string) bool {
	_, ok := s.index[txid]
	return ok
}

// Add records txid as applied, evicting the least-recently-used entry if
// the set is at capacity.
func (s *seenTxidSet) Add(txid string) {
	if el, ok := s.index[txid]; ok {
		s.ll.MoveToFront(el)
		return
	}
	el := s.ll.PushFront(txid)
	s.index[txid] = el
	if s.ll.Len() > s.capacity {
		oldest := s.ll.Back()
		if oldest != nil {
			s.ll.Remove(oldest)
			delete(s.index, oldest.Value.(string))
		}
	}
}
