// Package eventlog records the swarm events of one peer as log lines.
package eventlog

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
)

// Logger receives the events of the local peer. Calls never fail and never
// affect control flow.
type Logger interface {
	ConnectTo(remote int)
	ConnectFrom(remote int)
	PreferredNeighbors(ids []int)
	OptimisticNeighbor(id int)
	UnchokedBy(remote int)
	ChokedBy(remote int)
	HaveReceived(remote, piece int)
	InterestedReceived(remote int)
	NotInterestedReceived(remote int)
	PieceDownloaded(remote, piece, count int)
	DownloadComplete()
	Debug(msg string, attrs ...slog.Attr)
}

type logger struct {
	self int
	log  *slog.Logger
}

func New(self int, log *slog.Logger) Logger {
	return &logger{self: self, log: log.With(slog.Int("peer", self))}
}

func (l *logger) event(name, msg string, attrs ...slog.Attr) {
	attrs = append(attrs, slog.String("event", name))
	l.log.LogAttrs(context.Background(), slog.LevelInfo, msg, attrs...)
}

func (l *logger) ConnectTo(remote int) {
	l.event("connect_to", fmt.Sprintf("Peer %d makes a connection to Peer %d.", l.self, remote), slog.Int("remote", remote))
}

func (l *logger) ConnectFrom(remote int) {
	l.event("connect_from", fmt.Sprintf("Peer %d is connected from Peer %d.", l.self, remote), slog.Int("remote", remote))
}

func (l *logger) PreferredNeighbors(ids []int) {
	l.event("preferred_neighbors",
		fmt.Sprintf("Peer %d has the preferred neighbors %s.", l.self, joinIDs(ids)),
		slog.Any("neighbors", ids))
}

func (l *logger) OptimisticNeighbor(id int) {
	l.event("optimistic_neighbor",
		fmt.Sprintf("Peer %d has the optimistically unchoked neighbor %d.", l.self, id),
		slog.Int("remote", id))
}

func (l *logger) UnchokedBy(remote int) {
	l.event("unchoked_by", fmt.Sprintf("Peer %d is unchoked by %d.", l.self, remote), slog.Int("remote", remote))
}

func (l *logger) ChokedBy(remote int) {
	l.event("choked_by", fmt.Sprintf("Peer %d is choked by %d.", l.self, remote), slog.Int("remote", remote))
}

func (l *logger) HaveReceived(remote, piece int) {
	l.event("have",
		fmt.Sprintf("Peer %d received a 'have' message from %d for the piece %d.", l.self, remote, piece),
		slog.Int("remote", remote), slog.Int("piece", piece))
}

func (l *logger) InterestedReceived(remote int) {
	l.event("interested",
		fmt.Sprintf("Peer %d received the 'interested' message from %d.", l.self, remote),
		slog.Int("remote", remote))
}

func (l *logger) NotInterestedReceived(remote int) {
	l.event("not_interested",
		fmt.Sprintf("Peer %d received the 'not interested' message from %d.", l.self, remote),
		slog.Int("remote", remote))
}

func (l *logger) PieceDownloaded(remote, piece, count int) {
	l.event("piece_downloaded",
		fmt.Sprintf("Peer %d has downloaded the piece %d from %d. Now the number of pieces it has is %d.", l.self, piece, remote, count),
		slog.Int("remote", remote), slog.Int("piece", piece), slog.Int("count", count))
}

func (l *logger) DownloadComplete() {
	l.event("download_complete", fmt.Sprintf("Peer %d has downloaded the complete file.", l.self))
}

func (l *logger) Debug(msg string, attrs ...slog.Attr) {
	l.log.LogAttrs(context.Background(), slog.LevelDebug, "DEBUG: "+msg, attrs...)
}

func joinIDs(ids []int) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}
