package logsource

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/hpcloud/tail"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// TailConfig configures a local file source.
type TailConfig struct {
	Path         string
	StartFromEnd bool
	// PollInterval drives the fallback poller alongside fsnotify.
	PollInterval time.Duration
}

// TailSource follows a local log file. Rotation (truncate or replace)
// is handled by reopening the file at offset zero.
type TailSource struct {
	cfg    TailConfig
	logger zerolog.Logger

	mu       sync.Mutex
	tailer   *tail.Tail
	watching bool
	done     chan struct{}
}

func NewTailSource(cfg TailConfig) *TailSource {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	return &TailSource{
		cfg:    cfg,
		logger: log.With().Str("component", "TailSource").Str("path", cfg.Path).Logger(),
	}
}

func (s *TailSource) Path() string { return s.cfg.Path }

func (s *TailSource) IsWatching() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watching
}

func (s *TailSource) Watch(fn LineFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watching {
		return ErrAlreadyWatching
	}

	if _, err := os.Stat(s.cfg.Path); err != nil {
		if os.IsNotExist(err) {
			return ErrFileNotFound
		}
		if os.IsPermission(err) {
			return ErrPermissionDenied
		}
		return ErrReadError
	}

	var location *tail.SeekInfo
	if s.cfg.StartFromEnd {
		location = &tail.SeekInfo{Offset: 0, Whence: io.SeekEnd}
	}

	tailer, err := tail.TailFile(s.cfg.Path, tail.Config{
		Follow:    true,
		ReOpen:    true,
		Poll:      true,
		Location:  location,
		MustExist: true,
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return ErrReadError
	}

	s.tailer = tailer
	s.watching = true
	s.done = make(chan struct{})

	go func(done chan struct{}) {
		defer close(done)
		for line := range tailer.Lines {
			if line.Err != nil {
				s.logger.Warn().Err(line.Err).Msg("Tail read error")
				continue
			}
			fn(line.Text)
		}
	}(s.done)

	s.logger.Info().Msg("Watching local log file")
	return nil
}

func (s *TailSource) Unwatch() error {
	s.mu.Lock()
	tailer := s.tailer
	done := s.done
	s.tailer = nil
	s.watching = false
	s.mu.Unlock()

	if tailer == nil {
		return nil
	}
	err := tailer.Stop()
	tailer.Cleanup()
	if done != nil {
		<-done
	}
	return err
}
