// Package decoder reads the swarm configuration files.
package decoder

import (
	"bufio"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/WendelHime/peerswarm/internal/shared/models"
)

var ErrMissingConfig = errors.New("configuration file not found")

type ConfigDecoder interface {
	DecodeCommon(io.Reader) (models.Common, error)
	DecodePeers(io.Reader) ([]models.PeerInfo, error)
}

type decoder struct {
	log *slog.Logger
}

func NewDecoder(logger *slog.Logger) ConfigDecoder {
	return decoder{log: logger}
}

// DecodeCommon parses "Key Value" lines. Unknown keys and unparsable values
// are logged and skipped; only a failing reader is an error.
func (d decoder) DecodeCommon(r io.Reader) (models.Common, error) {
	var common models.Common
	err := eachLine(r, func(lineNo int, fields []string) {
		if len(fields) < 2 {
			d.log.Warn("skipping malformed common line", slog.Int("line", lineNo))
			return
		}
		key, value := fields[0], fields[1]
		var err error
		switch key {
		case "NumberOfPreferredNeighbors":
			common.NumberOfPreferredNeighbors, err = strconv.Atoi(value)
		case "UnchokingInterval":
			common.UnchokingInterval, err = strconv.Atoi(value)
		case "OptimisticUnchokingInterval":
			common.OptimisticUnchokingInterval, err = strconv.Atoi(value)
		case "FileName":
			common.FileName = value
		case "FileSize":
			common.FileSize, err = strconv.ParseInt(value, 10, 64)
		case "PieceSize":
			common.PieceSize, err = strconv.ParseInt(value, 10, 64)
		default:
			d.log.Warn("skipping unknown common key", slog.String("key", key), slog.Int("line", lineNo))
		}
		if err != nil {
			d.log.Warn("invalid common value", slog.String("key", key), slog.String("value", value), slog.Any("error", err))
		}
	})
	return common, errors.Wrap(err, "reading common configuration")
}

// DecodePeers parses "ID Host Port HasFile" lines in swarm order.
func (d decoder) DecodePeers(r io.Reader) ([]models.PeerInfo, error) {
	peers := make([]models.PeerInfo, 0)
	err := eachLine(r, func(lineNo int, fields []string) {
		if len(fields) < 4 {
			d.log.Warn("skipping malformed peer line", slog.Int("line", lineNo))
			return
		}
		id, err := strconv.Atoi(fields[0])
		if err != nil || id < 0 {
			d.log.Warn("skipping peer with invalid id", slog.String("id", fields[0]), slog.Int("line", lineNo))
			return
		}
		port, err := strconv.ParseUint(fields[2], 10, 16)
		if err != nil {
			d.log.Warn("skipping peer with invalid port", slog.String("port", fields[2]), slog.Int("line", lineNo))
			return
		}
		peers = append(peers, models.PeerInfo{
			ID:       id,
			Hostname: fields[1],
			Port:     uint16(port),
			HasFile:  fields[3] == "1",
		})
	})
	return peers, errors.Wrap(err, "reading peer list")
}

func eachLine(r io.Reader, fn func(lineNo int, fields []string)) error {
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fn(lineNo, strings.Fields(line))
	}
	return scanner.Err()
}

// LoadConfig reads both configuration files from fs. A file that does not
// exist halts startup with ErrMissingConfig.
func LoadConfig(fs afero.Fs, d ConfigDecoder, commonPath, peerInfoPath string) (models.Config, error) {
	var cfg models.Config

	f, err := open(fs, commonPath)
	if err != nil {
		return cfg, err
	}
	cfg.Common, err = d.DecodeCommon(f)
	f.Close()
	if err != nil {
		return cfg, err
	}

	f, err = open(fs, peerInfoPath)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	cfg.Peers, err = d.DecodePeers(f)
	return cfg, err
}

func open(fs afero.Fs, path string) (afero.File, error) {
	f, err := fs.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, errors.Wrap(ErrMissingConfig, path)
	}
	return f, errors.Wrapf(err, "opening %s", path)
}
