package logsource

import (
	"bytes"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// remoteClient abstracts the FTP and SFTP transports behind the shared
// polling discipline.
type remoteClient interface {
	// Connect establishes the session. Must map transport failures to
	// ErrConnectionFailed / ErrAuthFailed.
	Connect() error
	// Size stats the remote file; ErrFileNotFound when absent.
	Size(path string) (int64, error)
	// ReadRange copies [offset, EOF) of the remote file into w.
	ReadRange(path string, offset int64, w *bytes.Buffer) error
	Close() error
}

// PollConfig configures a remote source.
type PollConfig struct {
	Path         string
	Interval     time.Duration
	StartFromEnd bool
}

// remotePoller periodically stats the remote file and downloads the new
// tail range. A shrinking file means rotation: reset to zero and clear
// the carried fragment. Overlapping polls are skipped, and a failed
// poll is dropped silently; the next tick retries.
type remotePoller struct {
	cfg    PollConfig
	client remoteClient
	logger zerolog.Logger

	pollMu  sync.Mutex
	stateMu sync.Mutex

	watching bool
	lastPos  int64
	buf      LineBuffer
	fn       LineFunc
	stop     chan struct{}
	done     chan struct{}
}

func newRemotePoller(component string, cfg PollConfig, client remoteClient) *remotePoller {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	return &remotePoller{
		cfg:    cfg,
		client: client,
		logger: log.With().Str("component", component).Str("path", cfg.Path).Logger(),
	}
}

func (p *remotePoller) Path() string { return p.cfg.Path }

func (p *remotePoller) IsWatching() bool {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()
	return p.watching
}

func (p *remotePoller) Watch(fn LineFunc) error {
	p.stateMu.Lock()
	if p.watching {
		p.stateMu.Unlock()
		return ErrAlreadyWatching
	}
	p.stateMu.Unlock()

	// Health check before declaring the source live: connect and stat.
	if err := p.client.Connect(); err != nil {
		return err
	}
	size, err := p.client.Size(p.cfg.Path)
	if err != nil {
		p.client.Close()
		return err
	}

	p.stateMu.Lock()
	p.fn = fn
	p.watching = true
	if p.cfg.StartFromEnd {
		p.lastPos = size
	} else {
		p.lastPos = 0
	}
	p.buf.Reset()
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	stop, done := p.stop, p.done
	p.stateMu.Unlock()

	go p.loop(stop, done)
	p.logger.Info().Int64("startPosition", p.lastPos).Msg("Watching remote log file")
	return nil
}

func (p *remotePoller) loop(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.pollOnce()
		}
	}
}

// pollOnce performs one stat+download cycle. Exposed to tests through
// the concrete sources.
func (p *remotePoller) pollOnce() {
	if !p.pollMu.TryLock() {
		// Previous poll still downloading; skip this tick.
		return
	}
	defer p.pollMu.Unlock()

	size, err := p.client.Size(p.cfg.Path)
	if err != nil {
		p.logger.Debug().Err(err).Msg("Poll stat failed, retrying next tick")
		return
	}

	p.stateMu.Lock()
	lastPos := p.lastPos
	p.stateMu.Unlock()

	if size < lastPos {
		p.logger.Info().Int64("size", size).Int64("position", lastPos).Msg("Log rotation detected")
		p.stateMu.Lock()
		p.lastPos = 0
		p.buf.Reset()
		p.stateMu.Unlock()
		lastPos = 0
	}
	if size == lastPos {
		return
	}

	var chunk bytes.Buffer
	if err := p.client.ReadRange(p.cfg.Path, lastPos, &chunk); err != nil {
		p.logger.Debug().Err(err).Msg("Poll download failed, retrying next tick")
		return
	}

	p.stateMu.Lock()
	p.lastPos = lastPos + int64(chunk.Len())
	lines := p.buf.Push(chunk.String())
	fn := p.fn
	p.stateMu.Unlock()

	for _, line := range lines {
		fn(line)
	}
}

func (p *remotePoller) Unwatch() error {
	p.stateMu.Lock()
	if !p.watching {
		p.stateMu.Unlock()
		return nil
	}
	p.watching = false
	stop, done := p.stop, p.done
	p.stateMu.Unlock()

	close(stop)
	<-done
	return p.client.Close()
}
