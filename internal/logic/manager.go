package logic

import (
	"context"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/WendelHime/peerswarm/internal/p2p"
	"github.com/WendelHime/peerswarm/internal/swarm"
)

type (
	DialFunc   func(ctx context.Context, network, address string) (net.Conn, error)
	ListenFunc func(ctx context.Context, network, address string) (net.Listener, error)
)

type Manager interface {
	// Run connects the full mesh and returns once every peer of the swarm
	// has the file.
	Run(ctx context.Context) error
}

type Option func(*manager)

// WithLinger sets how long a finished connection stays open before closing.
func WithLinger(d time.Duration) Option {
	return func(m *manager) {
		m.linger = d
	}
}

// WithIntervals overrides the configured choking intervals.
func WithIntervals(unchoking, optimistic time.Duration) Option {
	return func(m *manager) {
		m.unchoking, m.optimistic = unchoking, optimistic
	}
}

// WithDialLimiter paces dial attempts to peers that are not listening yet.
func WithDialLimiter(l *rate.Limiter) Option {
	return func(m *manager) {
		m.limiter = l
	}
}

func WithDialer(dial DialFunc) Option {
	return func(m *manager) {
		m.dial = dial
	}
}

func WithListener(listen ListenFunc) Option {
	return func(m *manager) {
		m.listen = listen
	}
}

type manager struct {
	Deps

	linger     time.Duration
	unchoking  time.Duration
	optimistic time.Duration
	limiter    *rate.Limiter
	dial       DialFunc
	listen     ListenFunc

	mu      sync.Mutex
	pending map[int]int
	claimed chan struct{}
	closers []io.Closer
}

func NewManager(deps Deps, opts ...Option) Manager {
	var dialer net.Dialer
	var lc net.ListenConfig
	m := &manager{
		Deps:    deps,
		linger:  2 * time.Second,
		limiter: rate.NewLimiter(rate.Every(100*time.Millisecond), 1),
		dial:    dialer.DialContext,
		listen:  lc.Listen,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *manager) Run(ctx context.Context) error {
	self := m.Swarm.Self()
	selfInfo := m.Swarm.Neighbor(self)

	m.pending = make(map[int]int)
	for i := self + 1; i < m.Swarm.Len(); i++ {
		m.pending[m.Swarm.Neighbor(i).ID] = i
	}
	m.claimed = make(chan struct{})
	if len(m.pending) == 0 {
		close(m.claimed)
	}

	g, gctx := errgroup.WithContext(ctx)
	schedCtx, stopScheduler := context.WithCancel(gctx)
	defer stopScheduler()
	scheduler := swarm.NewScheduler(m.Swarm, m.unchoking, m.optimistic)
	g.Go(func() error {
		return scheduler.Run(schedCtx)
	})

	var workers sync.WaitGroup
	spawn := func(fn func() error) {
		workers.Add(1)
		g.Go(func() error {
			defer workers.Done()
			return fn()
		})
	}

	if len(m.pending) > 0 {
		addr := net.JoinHostPort("", strconv.Itoa(int(selfInfo.Port)))
		ln, err := m.listen(gctx, "tcp", addr)
		if err != nil {
			m.Log.Error("failed to listen, later peers will not connect", slog.String("addr", addr), slog.Any("error", err))
		} else {
			m.track(ln)
			spawn(func() error {
				return m.accept(gctx, ln, spawn)
			})
		}
	}

	for i := 0; i < self; i++ {
		idx := i
		spawn(func() error {
			return m.connect(gctx, idx, spawn)
		})
	}

	g.Go(func() error {
		workers.Wait()
		stopScheduler()
		return nil
	})

	err := g.Wait()
	switch {
	case err != nil:
		return err
	case m.Swarm.CheckCompletion():
		m.Log.Info("All peers have file. Exiting.")
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return ErrSwarmIncomplete
	}
}

func (m *manager) track(c io.Closer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closers = append(m.closers, c)
}

// closeAll tears down every connection and listener opened so far.
func (m *manager) closeAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.closers {
		c.Close()
	}
	m.closers = nil
}

// claim resolves an incoming handshake to a later neighbor that has not
// connected yet.
func (m *manager) claim(remoteID int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx, ok := m.pending[remoteID]
	if !ok {
		return -1, errors.Wrapf(ErrUnexpectedPeer, "peer %d is not awaited", remoteID)
	}
	delete(m.pending, remoteID)
	if len(m.pending) == 0 {
		close(m.claimed)
	}
	return idx, nil
}

func (m *manager) accept(ctx context.Context, ln net.Listener, spawn func(func() error)) error {
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-m.claimed:
		case <-m.Swarm.Done():
		case <-ctx.Done():
		case <-stop:
		}
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			m.Log.Error("accepting connections failed, closing every connection", slog.Any("error", err))
			m.closeAll()
			return errors.Wrap(err, "accept")
		}
		m.track(conn)
		spawn(func() error {
			m.serve(ctx, conn, m.claim, false)
			return nil
		})
	}
}

// connect dials an earlier neighbor until it answers. Only a refused
// connection is retried; any other failure abandons that neighbor.
func (m *manager) connect(ctx context.Context, idx int, spawn func(func() error)) error {
	addr := m.Swarm.Neighbor(idx).Addr().String()
	for {
		if m.Swarm.ForceExit() {
			return nil
		}
		if err := m.limiter.Wait(ctx); err != nil {
			return nil
		}

		conn, err := m.dial(ctx, "tcp", addr)
		switch {
		case err == nil:
			m.track(conn)
			spawn(func() error {
				m.serve(ctx, conn, ExpectPeer(m.Swarm, idx), true)
				return nil
			})
			return nil
		case errors.Is(err, syscall.ECONNREFUSED):
			m.Log.Debug("peer not listening yet", slog.String("addr", addr))
		case ctx.Err() != nil:
			return nil
		default:
			m.Log.Error("failed to connect, giving up on peer", slog.String("addr", addr), slog.Any("error", err))
			return nil
		}
	}
}

func (m *manager) serve(ctx context.Context, conn net.Conn, resolve Resolver, dialed bool) {
	client := p2p.NewClient(conn, m.Swarm.SelfID(), p2p.MaxMessageLength(m.Swarm.Common()))
	session := NewSession(m.Deps, client, resolve, dialed, m.linger)
	if err := session.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		m.Log.Warn("connection ended", slog.String("addr", conn.RemoteAddr().String()), slog.Any("error", err))
	}
}
