package logic

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	ErrUnexpectedPeer  = errors.New("unexpected peer")
	ErrSwarmIncomplete = errors.New("every connection ended before the swarm completed")
)

type Phase string

const (
	PhaseHandshake Phase = "handshake"
	PhaseRead      Phase = "read"
	PhaseWrite     Phase = "write"
	PhaseReact     Phase = "react"
	PhasePanic     Phase = "panic"
)

// SessionError tells which step of a connection failed. Remote is -1 when
// the handshake did not identify the peer.
type SessionError struct {
	Remote int
	Phase  Phase
	Err    error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("peer %d %s: %v", e.Remote, e.Phase, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}
