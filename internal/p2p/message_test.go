package p2p

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WendelHime/peerswarm/internal/shared/models"
)

func TestMessageRoundTrip(t *testing.T) {
	payloads := [][]byte{nil, {0x00}, {0, 0, 0, 9}, bytes.Repeat([]byte{0xab}, 300)}
	for id := models.MessageIDChoke; id <= models.MessageIDPiece; id++ {
		for _, payload := range payloads {
			msg := models.PeerMessage{ID: id, Payload: payload}
			frame := EncodeMessage(msg)
			require.Equal(t, uint32(len(payload)+5), binary.BigEndian.Uint32(frame[:4]))
			require.Equal(t, byte(id), frame[4])

			got, err := ReadMessage(bytes.NewReader(frame), 0)
			require.NoError(t, err)
			assert.Equal(t, id, got.ID)
			assert.Equal(t, len(payload), len(got.Payload))
			if len(payload) > 0 {
				assert.Equal(t, payload, got.Payload)
			}
		}
	}
}

func TestReadMessage(t *testing.T) {
	var tests = []struct {
		name   string
		setup  func() io.Reader
		assert func(t *testing.T, msg models.PeerMessage, err error)
	}{
		{
			name: "reads frames back to back",
			setup: func() io.Reader {
				buf := EncodeMessage(NewHave(3))
				buf = append(buf, EncodeMessage(NewUnchoke())...)
				r := bytes.NewReader(buf)
				_, _ = ReadMessage(r, 0)
				return r
			},
			assert: func(t *testing.T, msg models.PeerMessage, err error) {
				assert.Nil(t, err)
				assert.Equal(t, models.MessageIDUnchoke, msg.ID)
				assert.Empty(t, msg.Payload)
			},
		},
		{
			name:  "eof on empty stream",
			setup: func() io.Reader { return bytes.NewReader(nil) },
			assert: func(t *testing.T, msg models.PeerMessage, err error) {
				assert.Equal(t, io.EOF, err)
			},
		},
		{
			name: "truncated payload",
			setup: func() io.Reader {
				frame := EncodeMessage(NewHave(3))
				return bytes.NewReader(frame[:len(frame)-1])
			},
			assert: func(t *testing.T, msg models.PeerMessage, err error) {
				assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
			},
		},
		{
			name:  "length below header",
			setup: func() io.Reader { return bytes.NewReader([]byte{0, 0, 0, 4, 0}) },
			assert: func(t *testing.T, msg models.PeerMessage, err error) {
				assert.ErrorIs(t, err, ErrMessageTooShort)
			},
		},
		{
			name:  "unknown type",
			setup: func() io.Reader { return bytes.NewReader([]byte{0, 0, 0, 5, 8}) },
			assert: func(t *testing.T, msg models.PeerMessage, err error) {
				assert.ErrorIs(t, err, ErrUnknownMessage)
			},
		},
		{
			name:  "length over limit",
			setup: func() io.Reader { return bytes.NewReader(EncodeMessage(NewBitfield(make([]byte, 64)))) },
			assert: func(t *testing.T, msg models.PeerMessage, err error) {
				assert.ErrorIs(t, err, ErrMessageTooLong)
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			msg, err := ReadMessage(tt.setup(), 32)
			tt.assert(t, msg, err)
		})
	}
}

func TestPayloads(t *testing.T) {
	idx, err := ParseIndex(NewRequest(258).Payload)
	require.NoError(t, err)
	assert.Equal(t, 258, idx)

	_, err = ParseIndex([]byte{1, 2})
	assert.ErrorIs(t, err, ErrMalformedPayload)

	piece, err := ParsePiece(NewPiece(models.Piece{Index: 2, Data: []byte("abc")}).Payload)
	require.NoError(t, err)
	assert.Equal(t, 2, piece.Index)
	assert.Equal(t, []byte("abc"), piece.Data)

	_, err = ParsePiece([]byte{0})
	assert.ErrorIs(t, err, ErrMalformedPayload)

	assert.Equal(t, models.MessageIDInterested, NewInterest(true).ID)
	assert.Equal(t, models.MessageIDNotInterested, NewInterest(false).ID)
}

func TestMaxMessageLength(t *testing.T) {
	assert.Equal(t, 109, MaxMessageLength(models.Common{FileSize: 1000, PieceSize: 100}))
	// 10000 one-byte pieces need a 1250 byte bitfield.
	assert.Equal(t, 1255, MaxMessageLength(models.Common{FileSize: 10000, PieceSize: 1}))
}
