package p2p

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

const (
	HandshakeHeader = "P2PFILESHARINGPROJ"
	HandshakeLength = 32

	handshakeZeroes = 10
)

var (
	ErrInvalidHeader    = errors.New("invalid handshake header")
	ErrInvalidHandshake = errors.New("invalid handshake length")
)

// EncodeHandshake builds the 32 byte greeting: header, zero padding and the
// big-endian peer id.
func EncodeHandshake(peerID int) []byte {
	buf := make([]byte, 0, HandshakeLength)
	buf = append(buf, HandshakeHeader...)
	buf = append(buf, make([]byte, handshakeZeroes)...)
	return binary.BigEndian.AppendUint32(buf, uint32(peerID))
}

// DecodeHandshake returns the peer id carried by a greeting. The padding
// bytes are not inspected.
func DecodeHandshake(buf []byte) (int, error) {
	if len(buf) != HandshakeLength {
		return 0, ErrInvalidHandshake
	}
	if !bytes.Equal(buf[:len(HandshakeHeader)], []byte(HandshakeHeader)) {
		return 0, ErrInvalidHeader
	}
	return int(binary.BigEndian.Uint32(buf[HandshakeLength-4:])), nil
}
