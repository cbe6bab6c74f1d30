package bootstrap

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"booking_worker/adapter/in/imap"
	"booking_worker/adapter/in/worker"
	"booking_worker/adapter/out/messaging"
	"booking_worker/core/domain"
	"booking_worker/pkg/ratelimit"
)

const poolDrainTimeout = 30 * time.Second

// Worker consumes the trigger stream and, when configured, polls an IMAP inbox.
type Worker struct {
	pool     *worker.Pool
	consumer *messaging.TriggerConsumer
	poller   *imap.Poller
	zlog     zerolog.Logger
}

func NewWorker(deps *Dependencies) (*Worker, error) {
	cfg := deps.Config
	zlog := deps.Zlog.With().Str("component", "worker").Logger()

	pool := worker.NewPool(deps.Pipeline, &worker.PoolConfig{
		Workers:        cfg.WorkerMax,
		WorkerChanSize: cfg.WorkerQueueSize,
		JobTimeout:     worker.DefaultPoolConfig().JobTimeout,
	}, deps.Zlog)

	w := &Worker{pool: pool, zlog: zlog}

	if deps.Redis != nil {
		w.consumer = messaging.NewTriggerConsumer(deps.Redis, &messaging.ConsumerConfig{
			Stream:   cfg.TriggerStream,
			Group:    cfg.TriggerGroup,
			Consumer: cfg.WorkerID,
			Batch:    cfg.ConsumerBatch,
			Block:    time.Duration(cfg.ConsumerBlockMS) * time.Millisecond,
			Handler: &dedupHandler{
				next:  pool,
				dedup: ratelimit.NewDeduper(deps.Redis, cfg.TriggerDedup),
				log:   zlog,
			},
			Logger: deps.Zlog,
		})
	}

	if cfg.IMAPEnabled() {
		dial := imap.NewTLSDialer(imap.ServerConfig{
			Server:   cfg.IMAPServer,
			Username: cfg.IMAPUsername,
			Password: cfg.IMAPPassword,
			Mailbox:  cfg.IMAPMailbox,
		})
		w.poller = imap.NewPoller(dial, cfg.IMAPMailbox, cfg.IMAPPollInterval, deps.Pipeline, deps.Zlog)
	}

	if w.consumer == nil && w.poller == nil {
		return nil, errors.New("worker has no input: set REDIS_URL or IMAP_SERVER")
	}
	return w, nil
}

// Run blocks until ctx ends, then drains the pool.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.pool.Start(ctx); err != nil {
		return err
	}

	var wg sync.WaitGroup
	if w.consumer != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.zlog.Error().Err(err).Msg("trigger consumer stopped")
			}
		}()
	}
	if w.poller != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.zlog.Error().Err(err).Msg("imap poller stopped")
			}
		}()
	}

	<-ctx.Done()
	wg.Wait()

	drainCtx, cancel := context.WithTimeout(context.Background(), poolDrainTimeout)
	defer cancel()
	return w.pool.Stop(drainCtx)
}

// dedupHandler drops a trigger already claimed within the dedup window.
type dedupHandler struct {
	next  messaging.TriggerHandler
	dedup *ratelimit.Deduper
	log   zerolog.Logger
}

func (h *dedupHandler) HandleTrigger(ctx context.Context, trigger domain.Trigger) error {
	if !h.dedup.Claim(ctx, trigger.Bucket+"/"+trigger.Key) {
		h.log.Info().
			Str("bucket", trigger.Bucket).
			Str("key", trigger.Key).
			Msg("duplicate trigger dropped")
		return nil
	}
	return h.next.HandleTrigger(ctx, trigger)
}
