// Package notifier delivers fire-and-forget user notifications. Sends
// are queued, paced by a shared limiter, and failures are logged only;
// nothing in the engines ever blocks on a notification.
package notifier

import (
	"context"
	"strconv"
	"sync"

	"golang.org/x/time/rate"

	"fwdbot/internal/transport"
	"fwdbot/pkg/logx"
)

type Config struct {
	QueueSize  int
	RatePerSec int
}

type item struct {
	userID int64
	text   string
}

type Service struct {
	sink    transport.Sink
	log     logx.Logger
	limiter *rate.Limiter

	queue chan item

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}

	droppedMu sync.Mutex
	dropped   uint64
}

func New(cfg Config, sink transport.Sink, log logx.Logger) *Service {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 20
	}
	return &Service{
		sink:    sink,
		log:     log.With(logx.String("comp", "notifier")),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec),
		queue:   make(chan item, cfg.QueueSize),
		done:    make(chan struct{}),
	}
}

func (s *Service) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		ctx, s.cancel = context.WithCancel(ctx)
		go s.worker(ctx)
	})
}

func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
			<-s.done
		}
	})
}

// Notify queues a message to userID. Never blocks; when the queue is
// full the notification is dropped and counted.
func (s *Service) Notify(ctx context.Context, userID int64, text string) {
	select {
	case s.queue <- item{userID: userID, text: text}:
	default:
		s.droppedMu.Lock()
		s.dropped++
		n := s.dropped
		s.droppedMu.Unlock()
		if n%100 == 1 {
			s.log.Warn("notification queue full, dropping",
				logx.Int64("user", userID), logx.Any("dropped_total", n))
		}
	}
}

func (s *Service) worker(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case it := <-s.queue:
			if err := s.limiter.Wait(ctx); err != nil {
				return
			}
			_, err := s.sink.SendText(ctx, transport.ChatRef{ID: it.userID}, it.text, &transport.SendOptions{HTML: true})
			if err != nil {
				s.log.Warn("notify failed",
					logx.String("user", strconv.FormatInt(it.userID, 10)), logx.Err(err))
			}
		}
	}
}
