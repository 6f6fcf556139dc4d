package models

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidCommon = errors.New("invalid common configuration")

// Common holds the parameters shared by every peer of the swarm.
type Common struct {
	NumberOfPreferredNeighbors  int
	UnchokingInterval           int
	OptimisticUnchokingInterval int
	FileName                    string
	FileSize                    int64
	PieceSize                   int64
}

func (c Common) NumberOfPieces() int {
	if c.PieceSize <= 0 {
		return 0
	}
	return int((c.FileSize + c.PieceSize - 1) / c.PieceSize)
}

// PieceLength returns the byte length of piece i. Every piece is PieceSize
// long except the last one, which holds the remainder of the file.
func (c Common) PieceLength(i int) int64 {
	if i < 0 || i >= c.NumberOfPieces() {
		return 0
	}
	if i == c.NumberOfPieces()-1 {
		return c.FileSize - c.PieceSize*int64(i)
	}
	return c.PieceSize
}

func (c Common) UnchokingPeriod() time.Duration {
	return time.Duration(c.UnchokingInterval) * time.Second
}

func (c Common) OptimisticUnchokingPeriod() time.Duration {
	return time.Duration(c.OptimisticUnchokingInterval) * time.Second
}

func (c Common) Validate() error {
	switch {
	case c.NumberOfPreferredNeighbors < 1:
		return fmt.Errorf("%w: NumberOfPreferredNeighbors must be at least 1", ErrInvalidCommon)
	case c.UnchokingInterval <= 0:
		return fmt.Errorf("%w: UnchokingInterval must be positive", ErrInvalidCommon)
	case c.OptimisticUnchokingInterval <= 0:
		return fmt.Errorf("%w: OptimisticUnchokingInterval must be positive", ErrInvalidCommon)
	case c.FileName == "":
		return fmt.Errorf("%w: FileName is empty", ErrInvalidCommon)
	case c.FileSize <= 0:
		return fmt.Errorf("%w: FileSize must be positive", ErrInvalidCommon)
	case c.PieceSize <= 0:
		return fmt.Errorf("%w: PieceSize must be positive", ErrInvalidCommon)
	}
	return nil
}

type Config struct {
	Common Common
	Peers  []PeerInfo
}

// IndexOf returns the position of the peer with the given id, or -1.
func (c Config) IndexOf(id int) int {
	for i, p := range c.Peers {
		if p.ID == id {
			return i
		}
	}
	return -1
}
