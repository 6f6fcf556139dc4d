package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommonPieces(t *testing.T) {
	var tests = []struct {
		name   string
		common Common
		assert func(t *testing.T, c Common)
	}{
		{
			name:   "file size multiple of piece size",
			common: Common{FileSize: 300, PieceSize: 100},
			assert: func(t *testing.T, c Common) {
				assert.Equal(t, 3, c.NumberOfPieces())
				assert.Equal(t, int64(100), c.PieceLength(2))
			},
		},
		{
			name:   "last piece holds the remainder",
			common: Common{FileSize: 250, PieceSize: 100},
			assert: func(t *testing.T, c Common) {
				assert.Equal(t, 3, c.NumberOfPieces())
				assert.Equal(t, int64(100), c.PieceLength(0))
				assert.Equal(t, int64(50), c.PieceLength(2))
			},
		},
		{
			name:   "out of range index has no length",
			common: Common{FileSize: 250, PieceSize: 100},
			assert: func(t *testing.T, c Common) {
				assert.Zero(t, c.PieceLength(3))
				assert.Zero(t, c.PieceLength(-1))
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			tt.assert(t, tt.common)
		})
	}
}

func TestCommonValidate(t *testing.T) {
	valid := Common{
		NumberOfPreferredNeighbors:  2,
		UnchokingInterval:           5,
		OptimisticUnchokingInterval: 15,
		FileName:                    "TheFile.dat",
		FileSize:                    1000,
		PieceSize:                   100,
	}
	assert.NoError(t, valid.Validate())

	broken := valid
	broken.PieceSize = 0
	assert.ErrorIs(t, broken.Validate(), ErrInvalidCommon)

	broken = valid
	broken.NumberOfPreferredNeighbors = 0
	assert.ErrorIs(t, broken.Validate(), ErrInvalidCommon)
}

func TestMessage(t *testing.T) {
	assert.Equal(t, "PIECE", MessageIDPiece.String())
	assert.Equal(t, "MessageID(9)", MessageID(9).String())
	assert.False(t, MessageID(8).Valid())
	assert.Equal(t, 9, PeerMessage{ID: MessageIDHave, Payload: []byte{0, 0, 0, 1}}.Length())
}

func TestConfigIndexOf(t *testing.T) {
	cfg := Config{Peers: []PeerInfo{{ID: 1001}, {ID: 1002}}}
	assert.Equal(t, 1, cfg.IndexOf(1002))
	assert.Equal(t, -1, cfg.IndexOf(1003))
	assert.Equal(t, "localhost:6008", PeerInfo{Hostname: "localhost", Port: 6008}.Addr().String())
}
