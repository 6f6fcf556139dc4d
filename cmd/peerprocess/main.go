package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/afero"

	"github.com/WendelHime/peerswarm/internal/decoder"
	"github.com/WendelHime/peerswarm/internal/eventlog"
	"github.com/WendelHime/peerswarm/internal/filestore"
	"github.com/WendelHime/peerswarm/internal/logic"
	"github.com/WendelHime/peerswarm/internal/swarm"
)

type args struct {
	PeerID   int           `arg:"positional,required" help:"id of this peer in the peer list"`
	Common   string        `arg:"--common" default:"Common.cfg" help:"shared swarm parameters"`
	PeerInfo string        `arg:"--peer-info" default:"PeerInfo.cfg" help:"ordered list of peers"`
	WorkDir  string        `arg:"--work-dir" default:"." help:"directory holding peer_<id> and the log file"`
	Debug    bool          `arg:"--debug" help:"log debug events"`
	Progress bool          `arg:"--progress" help:"draw a progress bar on stderr"`
	Linger   time.Duration `arg:"--linger" default:"2s" help:"how long connections stay open once the swarm is done"`
}

func (args) Description() string {
	return "peerprocess joins a swarm of peers and exchanges a file with them"
}

func main() {
	var a args
	p := arg.MustParse(&a)
	if a.PeerID < 0 {
		p.Fail("peer id must not be negative")
	}

	if err := run(a); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(a args) error {
	fs := afero.NewOsFs()

	logPath := filepath.Join(a.WorkDir, fmt.Sprintf("log_peer_%d.log", a.PeerID))
	logOut, err := fs.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("creating log file: %w", err)
	}
	defer logOut.Close()

	level := slog.LevelInfo
	if a.Debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{Level: level}))

	cfg, err := decoder.LoadConfig(fs, decoder.NewDecoder(logger), a.Common, a.PeerInfo)
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		return err
	}
	if err := cfg.Common.Validate(); err != nil {
		logger.Error("invalid configuration", slog.Any("error", err))
		return err
	}

	logger.Info("starting peer",
		slog.Int("peer", a.PeerID),
		slog.String("file", cfg.Common.FileName),
		slog.String("file_size", humanize.Bytes(uint64(cfg.Common.FileSize))),
		slog.String("piece_size", humanize.Bytes(uint64(cfg.Common.PieceSize))),
		slog.Int("pieces", cfg.Common.NumberOfPieces()),
		slog.Int("peers", len(cfg.Peers)),
	)

	events := eventlog.New(a.PeerID, logger)
	var bar *progressbar.ProgressBar
	if a.Progress {
		bar = progressbar.NewOptions(cfg.Common.NumberOfPieces(),
			progressbar.OptionSetDescription(fmt.Sprintf("peer %d", a.PeerID)),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
		)
		events = eventlog.WithProgress(events, bar, cfg.Common)
	}

	sw, err := swarm.New(cfg, a.PeerID, events)
	if err != nil {
		logger.Error("peer is not in the peer list", slog.Any("error", err))
		return err
	}
	if bar != nil {
		_ = bar.Set(sw.Local().Count())
	}

	store, err := filestore.Open(fs, a.WorkDir, a.PeerID, cfg.Common)
	if err != nil {
		logger.Error("failed to open shared file", slog.Any("error", err))
		return err
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := logic.NewManager(logic.Deps{
		Swarm:  sw,
		Store:  store,
		Events: events,
		Log:    logger,
	}, logic.WithLinger(a.Linger))
	if err := m.Run(ctx); err != nil {
		logger.Error("peer stopped before the swarm completed", slog.Any("error", err))
		return err
	}
	return nil
}
