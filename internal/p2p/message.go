package p2p

import (
	"encoding/binary"
	"io"

	"github.com/pkg/errors"

	"github.com/WendelHime/peerswarm/internal/shared/models"
)

var (
	ErrMessageTooLong   = errors.New("message too long")
	ErrMessageTooShort  = errors.New("message length below header size")
	ErrUnknownMessage   = errors.New("unknown message type")
	ErrMalformedPayload = errors.New("malformed payload")
)

// MaxMessageLength is the largest frame a peer of the swarm can legally send:
// a full PIECE or a full BITFIELD, whichever is bigger.
func MaxMessageLength(common models.Common) int {
	piece := int(common.PieceSize) + 4
	bitfield := (common.NumberOfPieces() + 7) / 8
	return max(piece, bitfield) + models.HeaderLength
}

// EncodeMessage frames msg as length, type, payload.
func EncodeMessage(msg models.PeerMessage) []byte {
	buf := make([]byte, models.HeaderLength, msg.Length())
	binary.BigEndian.PutUint32(buf, uint32(msg.Length()))
	buf[4] = byte(msg.ID)
	return append(buf, msg.Payload...)
}

// ReadMessage blocks until one whole frame is read from r. A maxLength of 0
// disables the length guard.
func ReadMessage(r io.Reader, maxLength int) (models.PeerMessage, error) {
	var header [models.HeaderLength]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return models.PeerMessage{}, err
	}

	length := int(binary.BigEndian.Uint32(header[:4]))
	if length < models.HeaderLength {
		return models.PeerMessage{}, errors.Wrapf(ErrMessageTooShort, "length %d", length)
	}
	if maxLength > 0 && length > maxLength {
		return models.PeerMessage{}, errors.Wrapf(ErrMessageTooLong, "length %d exceeds %d", length, maxLength)
	}

	id := models.MessageID(header[4])
	if !id.Valid() {
		return models.PeerMessage{}, errors.Wrapf(ErrUnknownMessage, "type %d", header[4])
	}

	payload := make([]byte, length-models.HeaderLength)
	if _, err := io.ReadFull(r, payload); err != nil {
		return models.PeerMessage{}, errors.Wrap(err, "reading payload")
	}

	return models.PeerMessage{ID: id, Payload: payload}, nil
}

func NewChoke() models.PeerMessage {
	return models.PeerMessage{ID: models.MessageIDChoke}
}

func NewUnchoke() models.PeerMessage {
	return models.PeerMessage{ID: models.MessageIDUnchoke}
}

// NewInterest returns INTERESTED or NOTINTERESTED.
func NewInterest(interested bool) models.PeerMessage {
	if interested {
		return models.PeerMessage{ID: models.MessageIDInterested}
	}
	return models.PeerMessage{ID: models.MessageIDNotInterested}
}

func NewHave(index int) models.PeerMessage {
	return models.PeerMessage{ID: models.MessageIDHave, Payload: binary.BigEndian.AppendUint32(nil, uint32(index))}
}

func NewRequest(index int) models.PeerMessage {
	return models.PeerMessage{ID: models.MessageIDRequest, Payload: binary.BigEndian.AppendUint32(nil, uint32(index))}
}

func NewBitfield(packed []byte) models.PeerMessage {
	return models.PeerMessage{ID: models.MessageIDBitfield, Payload: packed}
}

func NewPiece(piece models.Piece) models.PeerMessage {
	payload := make([]byte, 4, 4+len(piece.Data))
	binary.BigEndian.PutUint32(payload, uint32(piece.Index))
	return models.PeerMessage{ID: models.MessageIDPiece, Payload: append(payload, piece.Data...)}
}

// ParseIndex reads the piece index of a HAVE or REQUEST payload.
func ParseIndex(payload []byte) (int, error) {
	if len(payload) != 4 {
		return 0, errors.Wrapf(ErrMalformedPayload, "index payload of %d bytes", len(payload))
	}
	return int(binary.BigEndian.Uint32(payload)), nil
}

// ParsePiece splits a PIECE payload into its index and data.
func ParsePiece(payload []byte) (models.Piece, error) {
	if len(payload) < 4 {
		return models.Piece{}, errors.Wrapf(ErrMalformedPayload, "piece payload of %d bytes", len(payload))
	}
	return models.Piece{
		Index: int(binary.BigEndian.Uint32(payload[:4])),
		Data:  payload[4:],
	}, nil
}
