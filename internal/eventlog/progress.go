package eventlog

import (
	"fmt"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/schollz/progressbar/v3"

	"github.com/WendelHime/peerswarm/internal/shared/models"
)

type progress struct {
	Logger
	bar    *progressbar.ProgressBar
	common models.Common

	mu       sync.Mutex
	received int64
}

// WithProgress forwards every event to next and moves bar to the number of
// owned pieces as they arrive. The bar description shows the bytes received
// so far.
func WithProgress(next Logger, bar *progressbar.ProgressBar, common models.Common) Logger {
	return &progress{Logger: next, bar: bar, common: common}
}

func (p *progress) PieceDownloaded(remote, piece, count int) {
	p.Logger.PieceDownloaded(remote, piece, count)

	p.mu.Lock()
	p.received += p.common.PieceLength(piece)
	received := p.received
	p.mu.Unlock()

	p.bar.Describe(fmt.Sprintf("%s received", humanize.Bytes(uint64(received))))
	_ = p.bar.Set(count)
}

func (p *progress) DownloadComplete() {
	p.Logger.DownloadComplete()
	_ = p.bar.Finish()
}
