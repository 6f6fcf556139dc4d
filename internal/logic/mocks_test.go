package logic

import (
	"context"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/WendelHime/peerswarm/internal/filestore"
	"github.com/WendelHime/peerswarm/internal/p2p"
	"github.com/WendelHime/peerswarm/internal/shared/models"
	"github.com/WendelHime/peerswarm/internal/swarm"
)

type mockEvents struct {
	mock.Mock
}

func newMockEvents() *mockEvents {
	return allowAll(&mockEvents{})
}

// allowAll accepts any event not matched by an earlier expectation.
func allowAll(m *mockEvents) *mockEvents {
	for _, method := range []string{"ConnectTo", "ConnectFrom", "PreferredNeighbors", "OptimisticNeighbor",
		"UnchokedBy", "ChokedBy", "InterestedReceived", "NotInterestedReceived"} {
		m.On(method, mock.Anything).Maybe()
	}
	m.On("HaveReceived", mock.Anything, mock.Anything).Maybe()
	m.On("PieceDownloaded", mock.Anything, mock.Anything, mock.Anything).Maybe()
	m.On("DownloadComplete").Maybe()
	m.On("Debug", mock.Anything, mock.Anything).Maybe()
	return m
}

func (m *mockEvents) ConnectTo(remote int)             { m.Called(remote) }
func (m *mockEvents) ConnectFrom(remote int)           { m.Called(remote) }
func (m *mockEvents) PreferredNeighbors(ids []int)     { m.Called(ids) }
func (m *mockEvents) OptimisticNeighbor(id int)        { m.Called(id) }
func (m *mockEvents) UnchokedBy(remote int)            { m.Called(remote) }
func (m *mockEvents) ChokedBy(remote int)              { m.Called(remote) }
func (m *mockEvents) HaveReceived(remote, piece int)   { m.Called(remote, piece) }
func (m *mockEvents) InterestedReceived(remote int)    { m.Called(remote) }
func (m *mockEvents) NotInterestedReceived(remote int) { m.Called(remote) }
func (m *mockEvents) PieceDownloaded(remote, piece, count int) {
	m.Called(remote, piece, count)
}
func (m *mockEvents) DownloadComplete()                    { m.Called() }
func (m *mockEvents) Debug(msg string, attrs ...slog.Attr) { m.Called(msg, attrs) }

type mockStore struct {
	mock.Mock
}

func (m *mockStore) ReadPiece(index int) (models.Piece, error) {
	args := m.Called(index)
	return args.Get(0).(models.Piece), args.Error(1)
}

func (m *mockStore) WritePiece(piece models.Piece) error {
	return m.Called(piece).Error(0)
}

func (m *mockStore) Close() error {
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// three pieces: 10, 10 and 5 bytes.
func testConfig(hasFile ...bool) models.Config {
	cfg := models.Config{Common: models.Common{
		NumberOfPreferredNeighbors:  1,
		UnchokingInterval:           5,
		OptimisticUnchokingInterval: 15,
		FileName:                    "TheFile.dat",
		FileSize:                    25,
		PieceSize:                   10,
	}}
	for i, has := range hasFile {
		cfg.Peers = append(cfg.Peers, models.PeerInfo{ID: 1001 + i, Hostname: "127.0.0.1", Port: uint16(6001 + i), HasFile: has})
	}
	return cfg
}

const fileContent = "aaaaaaaaaabbbbbbbbbbccccc"

func pieceData(index int) []byte {
	end := min((index+1)*10, len(fileContent))
	return []byte(fileContent[index*10 : end])
}

func newTestSwarm(t *testing.T, cfg models.Config, selfID int, events *mockEvents) *swarm.Swarm {
	t.Helper()
	sw, err := swarm.New(cfg, selfID, events, swarm.WithRand(rand.New(rand.NewPCG(7, 11))))
	require.NoError(t, err)
	return sw
}

func newMemStore(t *testing.T, cfg models.Config, selfID int, seed bool) filestore.Store {
	t.Helper()
	fs := afero.NewMemMapFs()
	if seed {
		require.NoError(t, afero.WriteFile(fs, filestore.Path("", selfID, cfg.Common), []byte(fileContent), 0o644))
	}
	store, err := filestore.Open(fs, "", selfID, cfg.Common)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func tcpPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- conn
	}()

	dialed, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	other, ok := <-accepted
	require.True(t, ok)
	t.Cleanup(func() {
		dialed.Close()
		other.Close()
	})
	return dialed, other
}

// fakePeer plays the remote end of a session by hand.
type fakePeer struct {
	t      *testing.T
	conn   net.Conn
	client p2p.P2PClient
}

func newFakePeer(t *testing.T, conn net.Conn, id int) *fakePeer {
	return &fakePeer{t: t, conn: conn, client: p2p.NewClient(conn, id, 0)}
}

func (f *fakePeer) handshake() int {
	f.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	id, err := f.client.Handshake(ctx, nil)
	require.NoError(f.t, err)
	return id
}

func (f *fakePeer) send(msg models.PeerMessage) {
	f.t.Helper()
	require.NoError(f.t, f.client.WriteMessage(msg))
}

func (f *fakePeer) next() models.PeerMessage {
	f.t.Helper()
	require.NoError(f.t, f.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	msg, err := f.client.ReadMessage()
	require.NoError(f.t, err)
	return msg
}

func (f *fakePeer) expect(id models.MessageID) models.PeerMessage {
	f.t.Helper()
	msg := f.next()
	require.Equal(f.t, id, msg.ID, "got %s", msg.ID)
	return msg
}

func (f *fakePeer) expectIndex(id models.MessageID) int {
	f.t.Helper()
	index, err := p2p.ParseIndex(f.expect(id).Payload)
	require.NoError(f.t, err)
	return index
}

// expectClosed reads until the session hangs up.
func (f *fakePeer) expectClosed() []models.PeerMessage {
	f.t.Helper()
	var rest []models.PeerMessage
	require.NoError(f.t, f.conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		msg, err := f.client.ReadMessage()
		if err != nil {
			require.ErrorIs(f.t, err, io.EOF)
			return rest
		}
		rest = append(rest, msg)
	}
}
