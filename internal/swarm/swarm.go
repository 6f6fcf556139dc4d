// Package swarm holds the state shared by every connection of a peer and the
// choking decisions taken on it.
package swarm

import (
	"log/slog"
	"math/rand/v2"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/anacrolix/chansync"
	"github.com/anacrolix/chansync/events"
	"github.com/pkg/errors"

	"github.com/WendelHime/peerswarm/internal/bitfield"
	"github.com/WendelHime/peerswarm/internal/eventlog"
	"github.com/WendelHime/peerswarm/internal/shared/models"
)

var (
	ErrUnknownPeer     = errors.New("peer is not part of the swarm")
	ErrPieceOutOfRange = errors.New("piece index out of range")
)

// ChokingUpdate is a pending choke decision for one neighbor's connection.
type ChokingUpdate int

const (
	NoAction ChokingUpdate = iota
	ShouldBeUnchoked
	ShouldBeChoked
)

func (u ChokingUpdate) String() string {
	switch u {
	case ShouldBeUnchoked:
		return "SHOULD_BE_UNCHOKED"
	case ShouldBeChoked:
		return "SHOULD_BE_CHOKED"
	default:
		return "NO_ACTION"
	}
}

// Neighbor is one configured peer of the swarm, including ourselves.
type Neighbor struct {
	Info     models.PeerInfo
	Bitfield *bitfield.Bitfield

	choked        bool
	bytesReceived int64
}

// Generation is the last scheduler decision a connection has acted on.
type Generation struct {
	choking    uint64
	optimistic uint64
}

type Option func(*Swarm)

// WithRand replaces the random source used for every random choice.
func WithRand(r *rand.Rand) Option {
	return func(s *Swarm) {
		s.rand = r
	}
}

// Swarm is the single owner of the mutable state of the local peer. One lock
// guards all of it.
type Swarm struct {
	mu sync.Mutex

	common    models.Common
	neighbors []*Neighbor
	self      int
	local     *bitfield.Bitfield

	updates    []ChokingUpdate
	interested []bool
	requested  *roaring.Bitmap

	preferred  []int
	optimistic int

	chokingSeq    uint64
	optimisticSeq uint64

	forceExit chansync.SetOnce
	changed   chansync.BroadcastCond

	rand *rand.Rand
	log  eventlog.Logger
}

func New(cfg models.Config, selfID int, log eventlog.Logger, opts ...Option) (*Swarm, error) {
	self := cfg.IndexOf(selfID)
	if self < 0 {
		return nil, errors.Wrapf(ErrUnknownPeer, "peer %d", selfID)
	}

	n := cfg.Common.NumberOfPieces()
	s := &Swarm{
		common:     cfg.Common,
		neighbors:  make([]*Neighbor, len(cfg.Peers)),
		self:       self,
		updates:    make([]ChokingUpdate, len(cfg.Peers)),
		interested: make([]bool, len(cfg.Peers)),
		requested:  roaring.New(),
		optimistic: -1,
		rand:       rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		log:        log,
	}
	for i, info := range cfg.Peers {
		s.neighbors[i] = &Neighbor{Info: info, Bitfield: bitfield.New(n), choked: true}
	}
	s.local = s.neighbors[self].Bitfield
	if cfg.Peers[self].HasFile {
		s.local.SetAll()
	}

	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Swarm) Common() models.Common {
	return s.common
}

// Self is the index of the local peer in the neighbor list.
func (s *Swarm) Self() int {
	return s.self
}

func (s *Swarm) SelfID() int {
	return s.neighbors[s.self].Info.ID
}

func (s *Swarm) Len() int {
	return len(s.neighbors)
}

func (s *Swarm) Neighbor(idx int) models.PeerInfo {
	return s.neighbors[idx].Info
}

// NeighborBitfield is the set of pieces neighbor idx is known to own.
func (s *Swarm) NeighborBitfield(idx int) *bitfield.Bitfield {
	return s.neighbors[idx].Bitfield
}

// Local is the bitfield of pieces owned by the local peer.
func (s *Swarm) Local() *bitfield.Bitfield {
	return s.local
}

func (s *Swarm) HasPiece(index int) bool {
	return s.local.Has(index)
}

func (s *Swarm) checkIndex(index int) error {
	if index < 0 || index >= s.common.NumberOfPieces() {
		return errors.Wrapf(ErrPieceOutOfRange, "piece %d", index)
	}
	return nil
}

// SetInterested records whether neighbor idx declared interest in us.
func (s *Swarm) SetInterested(idx int, interested bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interested[idx] = interested
}

// Interested reports whether neighbor idx last declared interest in us.
func (s *Swarm) Interested(idx int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interested[idx]
}

// Interesting reports whether neighbor idx owns a piece we lack.
func (s *Swarm) Interesting(idx int) bool {
	return s.local.InterestingIndex(s.neighbors[idx].Bitfield) >= 0
}

// RecordHave marks piece index as owned by neighbor idx and reports whether
// the neighbor is now interesting to us.
func (s *Swarm) RecordHave(idx, index int) (bool, error) {
	if err := s.checkIndex(index); err != nil {
		return false, err
	}
	s.mu.Lock()
	s.neighbors[idx].Bitfield.Set(index)
	s.mu.Unlock()
	return s.Interesting(idx), nil
}

// RecordBitfield merges a packed bitfield into neighbor idx's view and
// reports whether the neighbor is interesting to us.
func (s *Swarm) RecordBitfield(idx int, packed []byte) bool {
	s.mu.Lock()
	s.neighbors[idx].Bitfield.Decode(packed)
	s.mu.Unlock()
	return s.Interesting(idx)
}

// NeighborChoked reports whether we currently refuse requests from idx.
func (s *Swarm) NeighborChoked(idx int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.neighbors[idx].choked
}

// ReserveRandomPiece picks uniformly among the pieces neighbor idx has that
// we neither own nor have requested, and marks the pick as requested.
func (s *Swarm) ReserveRandomPiece(idx int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := s.local.Missing(s.neighbors[idx].Bitfield)
	candidates.AndNot(s.requested)
	n := candidates.GetCardinality()
	if n == 0 {
		return -1, false
	}
	pick, err := candidates.Select(uint32(s.rand.Uint64N(n)))
	if err != nil {
		return -1, false
	}
	s.requested.Add(pick)
	return int(pick), true
}

// Requested reports whether piece index is currently marked as requested.
func (s *Swarm) Requested(index int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requested.ContainsInt(index)
}

// CompletePiece records a piece received from neighbor idx. It reports
// whether the piece was new, how many pieces we now own and whether this
// piece completed the file.
func (s *Swarm) CompletePiece(idx, index, size int) (added bool, count int, finished bool, err error) {
	if err := s.checkIndex(index); err != nil {
		return false, 0, false, err
	}

	s.mu.Lock()
	s.neighbors[idx].bytesReceived += int64(size)
	added = s.local.Set(index)
	count = s.local.Count()
	finished = added && count == s.local.Len()
	s.mu.Unlock()

	if added {
		s.changed.Broadcast()
	}
	return added, count, finished, nil
}

func (s *Swarm) BytesReceived(idx int) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.neighbors[idx].bytesReceived
}

// Unannounced returns the owned pieces missing from announced.
func (s *Swarm) Unannounced(announced *roaring.Bitmap) []int {
	owned := s.local.Bitmap()
	owned.AndNot(announced)
	out := make([]int, 0, owned.GetCardinality())
	for it := owned.Iterator(); it.HasNext(); {
		out = append(out, int(it.Next()))
	}
	return out
}

// CheckCompletion sets the force-exit signal once every peer, ourselves
// included, owns the complete file.
func (s *Swarm) CheckCompletion() bool {
	if s.forceExit.IsSet() {
		return true
	}
	s.mu.Lock()
	for _, n := range s.neighbors {
		if !n.Bitfield.Finished() {
			s.mu.Unlock()
			return false
		}
	}
	s.mu.Unlock()

	if s.forceExit.Set() {
		s.log.Debug("every peer has the complete file")
		s.changed.Broadcast()
	}
	return true
}

// Done is closed once the whole swarm owns the file.
func (s *Swarm) Done() events.Done {
	return s.forceExit.Done()
}

func (s *Swarm) ForceExit() bool {
	return s.forceExit.IsSet()
}

// Changed is signaled by the next scheduler decision or newly owned piece.
// Grab it before inspecting state so no change is missed.
func (s *Swarm) Changed() events.Signaled {
	return s.changed.Signaled()
}

// TakeChokeDirective returns the pending directive for neighbor idx if a
// scheduler decision happened since gen was last updated. The directive is
// cleared once taken.
func (s *Swarm) TakeChokeDirective(idx int, gen *Generation) ChokingUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen.choking == s.chokingSeq && gen.optimistic == s.optimisticSeq {
		return NoAction
	}
	gen.choking, gen.optimistic = s.chokingSeq, s.optimisticSeq
	update := s.updates[idx]
	s.updates[idx] = NoAction
	return update
}

// Unfinished lists the peers still missing pieces with their remaining count.
func (s *Swarm) Unfinished() map[int]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[int]int)
	for _, n := range s.neighbors {
		if remaining := n.Bitfield.Remaining(); remaining > 0 {
			out[n.Info.ID] = remaining
		}
	}
	return out
}

func (s *Swarm) logUnfinished() {
	for id, remaining := range s.Unfinished() {
		s.log.Debug("peer has not finished", slog.Int("remote", id), slog.Int("remaining", remaining))
	}
}
