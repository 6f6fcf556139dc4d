// Package filestore keeps the shared file on disk, addressed by piece index.
package filestore

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/WendelHime/peerswarm/internal/shared/models"
)

var (
	ErrPieceOutOfRange = errors.New("piece index out of range")
	ErrPieceLength     = errors.New("piece has unexpected length")
	ErrClosed          = errors.New("store closed")
)

type Store interface {
	ReadPiece(index int) (models.Piece, error)
	WritePiece(piece models.Piece) error
	Close() error
}

type store struct {
	mu     sync.Mutex
	file   afero.File
	common models.Common
}

// Dir is the directory holding the shared file of one peer.
func Dir(workDir string, peerID int) string {
	return filepath.Join(workDir, fmt.Sprintf("peer_%d", peerID))
}

// Path is the location of the shared file of one peer.
func Path(workDir string, peerID int, common models.Common) string {
	return filepath.Join(Dir(workDir, peerID), common.FileName)
}

// Open opens or creates the shared file of peerID and grows it to FileSize
// so pieces can be written in any order.
func Open(fs afero.Fs, workDir string, peerID int, common models.Common) (Store, error) {
	if err := fs.MkdirAll(Dir(workDir, peerID), 0o755); err != nil {
		return nil, errors.Wrap(err, "creating peer directory")
	}

	path := Path(workDir, peerID, common)
	f, err := fs.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "opening %s", path)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "stat %s", path)
	}
	if info.Size() < common.FileSize {
		if err := f.Truncate(common.FileSize); err != nil {
			f.Close()
			return nil, errors.Wrapf(err, "growing %s", path)
		}
	}

	return &store{file: f, common: common}, nil
}

func (s *store) bounds(index int) (offset, length int64, err error) {
	if index < 0 || index >= s.common.NumberOfPieces() {
		return 0, 0, errors.Wrapf(ErrPieceOutOfRange, "piece %d", index)
	}
	return int64(index) * s.common.PieceSize, s.common.PieceLength(index), nil
}

func (s *store) ReadPiece(index int) (models.Piece, error) {
	offset, length, err := s.bounds(index)
	if err != nil {
		return models.Piece{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return models.Piece{}, ErrClosed
	}
	data := make([]byte, length)
	if _, err := s.file.ReadAt(data, offset); err != nil {
		return models.Piece{}, errors.Wrapf(err, "reading piece %d", index)
	}
	return models.Piece{Index: index, Data: data}, nil
}

func (s *store) WritePiece(piece models.Piece) error {
	offset, length, err := s.bounds(piece.Index)
	if err != nil {
		return err
	}
	if int64(len(piece.Data)) != length {
		return errors.Wrapf(ErrPieceLength, "piece %d: got %d bytes, want %d", piece.Index, len(piece.Data), length)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return ErrClosed
	}
	if _, err := s.file.WriteAt(piece.Data, offset); err != nil {
		return errors.Wrapf(err, "writing piece %d", piece.Index)
	}
	return nil
}

func (s *store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
