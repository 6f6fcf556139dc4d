package logic

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/pkg/errors"

	"github.com/WendelHime/peerswarm/internal/eventlog"
	"github.com/WendelHime/peerswarm/internal/filestore"
	"github.com/WendelHime/peerswarm/internal/p2p"
	"github.com/WendelHime/peerswarm/internal/shared/models"
	"github.com/WendelHime/peerswarm/internal/swarm"
)

type State int32

const (
	StateHandshake State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHandshake:
		return "HANDSHAKE"
	case StateActive:
		return "ACTIVE"
	default:
		return "CLOSED"
	}
}

// Deps are the collaborators shared by every connection of a peer.
type Deps struct {
	Swarm  *swarm.Swarm
	Store  filestore.Store
	Events eventlog.Logger
	Log    *slog.Logger
}

// Resolver maps the id announced in a handshake to a neighbor index.
type Resolver func(remoteID int) (int, error)

// ExpectPeer accepts only the neighbor at index idx.
func ExpectPeer(sw *swarm.Swarm, idx int) Resolver {
	want := sw.Neighbor(idx).ID
	return func(remoteID int) (int, error) {
		if remoteID != want {
			return -1, errors.Wrapf(ErrUnexpectedPeer, "expected %d, got %d", want, remoteID)
		}
		return idx, nil
	}
}

type Session interface {
	Run(ctx context.Context) error
	State() State
	// Remote is the neighbor index, -1 before the handshake.
	Remote() int
}

type session struct {
	Deps
	client  p2p.P2PClient
	resolve Resolver
	dialed  bool
	linger  time.Duration

	state  atomic.Int32
	remote atomic.Int32

	gen         swarm.Generation
	announced   *roaring.Bitmap
	unchokedBy  bool
	interested  bool
	outstanding int
}

// NewSession drives one connection. dialed tells whether we opened it.
func NewSession(deps Deps, client p2p.P2PClient, resolve Resolver, dialed bool, linger time.Duration) Session {
	s := &session{
		Deps:        deps,
		client:      client,
		resolve:     resolve,
		dialed:      dialed,
		linger:      linger,
		announced:   roaring.New(),
		outstanding: -1,
	}
	s.remote.Store(-1)
	return s
}

func (s *session) State() State {
	return State(s.state.Load())
}

func (s *session) Remote() int {
	return int(s.remote.Load())
}

func (s *session) remoteID() int {
	if idx := s.Remote(); idx >= 0 {
		return s.Swarm.Neighbor(idx).ID
	}
	return -1
}

func (s *session) fail(phase Phase, err error) error {
	return &SessionError{Remote: s.remoteID(), Phase: phase, Err: err}
}

type inbound struct {
	msg models.PeerMessage
	err error
}

// Run performs the handshake and serves the connection until the whole swarm
// has the file, the connection fails or ctx is cancelled. The connection is
// always closed on return.
func (s *session) Run(ctx context.Context) (err error) {
	quit := make(chan struct{})
	defer func() {
		if r := recover(); r != nil {
			err = s.fail(PhasePanic, fmt.Errorf("%v", r))
		}
		close(quit)
		if s.Remote() >= 0 {
			// whatever this neighbor told us may have completed the swarm.
			s.Swarm.CheckCompletion()
		}
		if cerr := s.client.Close(); cerr != nil {
			s.Log.Debug("closing connection", slog.Int("remote", s.remoteID()), slog.Any("error", cerr))
		}
		s.state.Store(int32(StateClosed))
	}()

	if err := s.handshake(ctx); err != nil {
		return s.fail(PhaseHandshake, err)
	}
	s.state.Store(int32(StateActive))

	if err := s.start(); err != nil {
		return err
	}

	incoming := make(chan inbound)
	go s.readLoop(incoming, quit)

	if err := s.loop(ctx, incoming); err != nil {
		return err
	}

	// one last pass so pending HAVEs reach the neighbor before we hang up.
	if err := s.lifetimeChecks(); err != nil {
		return err
	}
	s.drain(ctx, incoming)
	return nil
}

// drain keeps reading without reacting until the linger period ends, so the
// close is not turned into a reset by unread bytes.
func (s *session) drain(ctx context.Context, incoming <-chan inbound) {
	timer := time.NewTimer(s.linger)
	defer timer.Stop()
	for {
		select {
		case in := <-incoming:
			if in.err != nil {
				return
			}
		case <-timer.C:
			return
		case <-ctx.Done():
			return
		}
	}
}

func (s *session) handshake(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.Swarm.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	_, err := s.client.Handshake(ctx, func(remoteID int) error {
		idx, err := s.resolve(remoteID)
		if err != nil {
			return err
		}
		s.remote.Store(int32(idx))
		return nil
	})
	if err != nil {
		return err
	}

	if s.dialed {
		s.Events.ConnectTo(s.remoteID())
	} else {
		s.Events.ConnectFrom(s.remoteID())
	}
	return nil
}

// start announces our pieces right after the handshake.
func (s *session) start() error {
	owned := s.Swarm.Local().Bitmap()
	if err := s.send(p2p.NewBitfield(s.Swarm.Local().Encode())); err != nil {
		return err
	}
	s.announced.Or(owned)
	return nil
}

func (s *session) readLoop(out chan<- inbound, quit <-chan struct{}) {
	for {
		msg, err := s.client.ReadMessage()
		select {
		case out <- inbound{msg: msg, err: err}:
		case <-quit:
			return
		}
		if err != nil {
			return
		}
	}
}

func (s *session) loop(ctx context.Context, incoming <-chan inbound) error {
	for {
		changed := s.Swarm.Changed()
		if err := s.lifetimeChecks(); err != nil {
			return err
		}
		if s.Swarm.ForceExit() {
			return nil
		}

		select {
		case in := <-incoming:
			if in.err != nil {
				return s.fail(PhaseRead, in.err)
			}
			if err := s.react(in.msg); err != nil {
				return err
			}
		case <-changed:
		case <-s.Swarm.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// lifetimeChecks sends whatever the shared state now owes this neighbor.
func (s *session) lifetimeChecks() error {
	s.Swarm.CheckCompletion()

	switch s.Swarm.TakeChokeDirective(s.Remote(), &s.gen) {
	case swarm.ShouldBeChoked:
		if err := s.send(p2p.NewChoke()); err != nil {
			return err
		}
	case swarm.ShouldBeUnchoked:
		if err := s.send(p2p.NewUnchoke()); err != nil {
			return err
		}
	}

	for _, index := range s.Swarm.Unannounced(s.announced) {
		if err := s.send(p2p.NewHave(index)); err != nil {
			return err
		}
		s.announced.AddInt(index)
	}

	// request flags may have been reset or the neighbor may have gained a
	// piece while we sat idle.
	if s.unchokedBy && s.outstanding < 0 && !s.Swarm.ForceExit() {
		return s.requestPiece()
	}
	return nil
}

func (s *session) send(msg models.PeerMessage) error {
	if err := s.client.WriteMessage(msg); err != nil {
		return s.fail(PhaseWrite, errors.Wrapf(err, "sending %s", msg.ID))
	}
	return nil
}

func (s *session) requestPiece() error {
	index, ok := s.Swarm.ReserveRandomPiece(s.Remote())
	if !ok {
		return nil
	}
	s.outstanding = index
	return s.send(p2p.NewRequest(index))
}

func (s *session) sendInterest() error {
	s.interested = s.Swarm.Interesting(s.Remote())
	return s.send(p2p.NewInterest(s.interested))
}

func (s *session) react(msg models.PeerMessage) error {
	idx := s.Remote()
	id := s.remoteID()

	switch msg.ID {
	case models.MessageIDChoke:
		s.Events.ChokedBy(id)
		s.unchokedBy = false
		s.outstanding = -1

	case models.MessageIDUnchoke:
		s.Events.UnchokedBy(id)
		s.unchokedBy = true
		return s.requestPiece()

	case models.MessageIDInterested:
		s.Events.InterestedReceived(id)
		s.Swarm.SetInterested(idx, true)

	case models.MessageIDNotInterested:
		s.Events.NotInterestedReceived(id)
		s.Swarm.SetInterested(idx, false)

	case models.MessageIDHave:
		index, err := p2p.ParseIndex(msg.Payload)
		if err != nil {
			return s.fail(PhaseReact, err)
		}
		if _, err := s.Swarm.RecordHave(idx, index); err != nil {
			return s.fail(PhaseReact, err)
		}
		s.Events.HaveReceived(id, index)
		if err := s.sendInterest(); err != nil {
			return err
		}
		if s.interested && s.unchokedBy && s.outstanding < 0 {
			return s.requestPiece()
		}

	case models.MessageIDBitfield:
		s.Swarm.RecordBitfield(idx, msg.Payload)
		s.Events.Debug("received bitfield", slog.Int("remote", id), slog.String("bitfield", s.Swarm.NeighborBitfield(idx).String()))
		return s.sendInterest()

	case models.MessageIDRequest:
		index, err := p2p.ParseIndex(msg.Payload)
		if err != nil {
			return s.fail(PhaseReact, err)
		}
		return s.serve(idx, index)

	case models.MessageIDPiece:
		return s.receive(idx, msg.Payload)
	}
	return nil
}

func (s *session) serve(idx, index int) error {
	if index < 0 || index >= s.Swarm.Local().Len() {
		return s.fail(PhaseReact, errors.Wrapf(swarm.ErrPieceOutOfRange, "request for piece %d", index))
	}
	if s.Swarm.NeighborChoked(idx) || !s.Swarm.HasPiece(index) {
		return nil
	}
	piece, err := s.Store.ReadPiece(index)
	if err != nil {
		return s.fail(PhaseReact, err)
	}
	return s.send(p2p.NewPiece(piece))
}

func (s *session) receive(idx int, payload []byte) error {
	piece, err := p2p.ParsePiece(payload)
	if err != nil {
		return s.fail(PhaseReact, err)
	}
	if err := s.Store.WritePiece(piece); err != nil {
		return s.fail(PhaseReact, err)
	}
	added, count, finished, err := s.Swarm.CompletePiece(idx, piece.Index, len(piece.Data))
	if err != nil {
		return s.fail(PhaseReact, err)
	}
	if added {
		s.Events.PieceDownloaded(s.remoteID(), piece.Index, count)
	}
	if finished {
		s.Events.DownloadComplete()
	}
	if piece.Index == s.outstanding {
		s.outstanding = -1
	}

	if err := s.requestPiece(); err != nil {
		return err
	}
	if s.outstanding < 0 && s.interested && !s.Swarm.Interesting(idx) {
		s.interested = false
		return s.send(p2p.NewInterest(false))
	}
	return nil
}
