package swarm

import (
	"slices"
)

// RecomputePreferredNeighbors picks the new preferred set among interested
// neighbors and queues the choke changes it implies.
func (s *Swarm) RecomputePreferredNeighbors() []int {
	s.mu.Lock()

	candidates := make([]*Neighbor, 0, len(s.neighbors))
	for i, n := range s.neighbors {
		if i != s.self && s.interested[i] {
			candidates = append(candidates, n)
		}
	}

	// shuffling first gives random tie breaks to the stable sort.
	s.rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})
	if !s.local.Finished() {
		slices.SortStableFunc(candidates, func(a, b *Neighbor) int {
			switch {
			case a.bytesReceived < b.bytesReceived:
				return -1
			case a.bytesReceived > b.bytesReceived:
				return 1
			}
			return 0
		})
	}

	k := min(s.common.NumberOfPreferredNeighbors, len(candidates))
	s.preferred = s.preferred[:0]
	for _, n := range candidates[:k] {
		s.preferred = append(s.preferred, n.Info.ID)
	}

	for _, n := range s.neighbors {
		n.bytesReceived = 0
	}
	s.requested.Clear()

	for i, n := range s.neighbors {
		if i == s.self {
			continue
		}
		wanted := s.wantsToUnchoke(n.Info.ID)
		switch {
		case n.choked && wanted:
			s.updates[i] = ShouldBeUnchoked
			n.choked = false
		case !n.choked && !wanted:
			s.updates[i] = ShouldBeChoked
			n.choked = true
		}
	}
	s.chokingSeq++
	preferred := slices.Clone(s.preferred)
	s.mu.Unlock()

	s.log.PreferredNeighbors(preferred)
	s.changed.Broadcast()
	return preferred
}

// PickOptimisticNeighbor unchokes one random neighbor that is interested
// but choked. With no candidate the previous pick stays and -1 is returned.
func (s *Swarm) PickOptimisticNeighbor() int {
	s.mu.Lock()

	candidates := make([]int, 0, len(s.neighbors))
	for i, n := range s.neighbors {
		if i != s.self && s.interested[i] && n.choked {
			candidates = append(candidates, i)
		}
	}
	s.requested.Clear()

	if len(candidates) == 0 {
		s.mu.Unlock()
		return -1
	}

	idx := candidates[s.rand.IntN(len(candidates))]
	n := s.neighbors[idx]
	s.optimistic = n.Info.ID
	s.updates[idx] = ShouldBeUnchoked
	n.choked = false
	s.optimisticSeq++
	s.mu.Unlock()

	s.log.OptimisticNeighbor(n.Info.ID)
	s.changed.Broadcast()
	return n.Info.ID
}

// WantsToUnchoke reports whether id is preferred or the optimistic pick.
func (s *Swarm) WantsToUnchoke(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.wantsToUnchoke(id)
}

func (s *Swarm) wantsToUnchoke(id int) bool {
	return id == s.optimistic || slices.Contains(s.preferred, id)
}

func (s *Swarm) Preferred() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.preferred)
}

func (s *Swarm) Optimistic() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.optimistic
}
