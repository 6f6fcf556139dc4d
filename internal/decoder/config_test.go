package decoder

import (
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WendelHime/peerswarm/internal/shared/models"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const common = `NumberOfPreferredNeighbors 2
UnchokingInterval 5
OptimisticUnchokingInterval 15
FileName TheFile.dat
FileSize 10000232
PieceSize 32768
`

const peerInfo = `1001 lin114-00.cise.ufl.edu 6008 1
1002 lin114-01.cise.ufl.edu 6008 0

# spare
1003 lin114-02.cise.ufl.edu 6008 0
`

func TestDecodeCommon(t *testing.T) {
	var tests = []struct {
		name   string
		input  string
		assert func(t *testing.T, c models.Common, err error)
	}{
		{
			name:  "all keys",
			input: common,
			assert: func(t *testing.T, c models.Common, err error) {
				assert.Nil(t, err)
				assert.Equal(t, models.Common{
					NumberOfPreferredNeighbors:  2,
					UnchokingInterval:           5,
					OptimisticUnchokingInterval: 15,
					FileName:                    "TheFile.dat",
					FileSize:                    10000232,
					PieceSize:                   32768,
				}, c)
				assert.Equal(t, 306, c.NumberOfPieces())
			},
		},
		{
			name:  "unknown keys and bad values are skipped",
			input: "Color blue\nPieceSize lots\nFileSize 10\nlonely\n",
			assert: func(t *testing.T, c models.Common, err error) {
				assert.Nil(t, err)
				assert.Equal(t, int64(10), c.FileSize)
				assert.Zero(t, c.PieceSize)
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewDecoder(discard()).DecodeCommon(strings.NewReader(tt.input))
			tt.assert(t, c, err)
		})
	}
}

func TestDecodePeers(t *testing.T) {
	var tests = []struct {
		name   string
		input  string
		assert func(t *testing.T, peers []models.PeerInfo, err error)
	}{
		{
			name:  "keeps file order",
			input: peerInfo,
			assert: func(t *testing.T, peers []models.PeerInfo, err error) {
				assert.Nil(t, err)
				require.Len(t, peers, 3)
				assert.Equal(t, models.PeerInfo{ID: 1001, Hostname: "lin114-00.cise.ufl.edu", Port: 6008, HasFile: true}, peers[0])
				assert.False(t, peers[1].HasFile)
				assert.Equal(t, 1003, peers[2].ID)
			},
		},
		{
			name:  "short and invalid lines are skipped",
			input: "1001 localhost 6001\nabc localhost 6002 0\n1003 localhost port 0\n1004 localhost 6004 0\n",
			assert: func(t *testing.T, peers []models.PeerInfo, err error) {
				assert.Nil(t, err)
				require.Len(t, peers, 1)
				assert.Equal(t, 1004, peers[0].ID)
			},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			peers, err := NewDecoder(discard()).DecodePeers(strings.NewReader(tt.input))
			tt.assert(t, peers, err)
		})
	}
}

func TestLoadConfig(t *testing.T) {
	fs := afero.NewMemMapFs()
	d := NewDecoder(discard())

	_, err := LoadConfig(fs, d, "Common.cfg", "PeerInfo.cfg")
	assert.ErrorIs(t, err, ErrMissingConfig)

	require.NoError(t, afero.WriteFile(fs, "Common.cfg", []byte(common), 0o644))
	_, err = LoadConfig(fs, d, "Common.cfg", "PeerInfo.cfg")
	assert.ErrorIs(t, err, ErrMissingConfig)

	require.NoError(t, afero.WriteFile(fs, "PeerInfo.cfg", []byte(peerInfo), 0o644))
	cfg, err := LoadConfig(fs, d, "Common.cfg", "PeerInfo.cfg")
	require.NoError(t, err)
	assert.Equal(t, "TheFile.dat", cfg.Common.FileName)
	assert.Equal(t, 2, cfg.IndexOf(1003))
}
