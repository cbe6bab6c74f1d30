package imap

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"booking_worker/core/domain"
	"booking_worker/core/port/in"
	"booking_worker/pkg/metrics"
)

// Poller runs every unseen message through the pipeline on a fixed interval.
type Poller struct {
	dial     Dialer
	mailbox  string
	interval time.Duration
	service  in.EmailProcessingService
	log      zerolog.Logger
}

// NewPoller creates a poller. mailbox only labels triggers; the Dialer selects it.
func NewPoller(dial Dialer, mailbox string, interval time.Duration, service in.EmailProcessingService, log zerolog.Logger) *Poller {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Poller{
		dial:     dial,
		mailbox:  mailbox,
		interval: interval,
		service:  service,
		log:      log.With().Str("component", "imap_poller").Str("mailbox", mailbox).Logger(),
	}
}

// Run polls immediately and then every interval until ctx ends.
func (p *Poller) Run(ctx context.Context) error {
	p.log.Info().Dur("interval", p.interval).Msg("starting imap poller")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if n, err := p.PollOnce(ctx); err != nil {
			p.log.Error().Err(err).Msg("poll failed")
		} else if n > 0 {
			p.log.Info().Int("messages", n).Msg("poll finished")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// PollOnce processes the current unseen messages and returns how many ran.
// A message is flagged \Seen after its run whatever the outcome.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	mb, err := p.dial()
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := mb.Close(); err != nil {
			p.log.Warn().Err(err).Msg("error closing imap session")
		}
	}()

	uids, err := mb.UnseenUIDs()
	if err != nil {
		return 0, err
	}

	processed := 0
	for _, uid := range uids {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}

		raw, err := mb.FetchRaw(uid)
		if err != nil {
			p.log.Error().Err(err).Uint32("uid", uid).Msg("fetch failed")
			continue
		}

		trigger := domain.Trigger{Bucket: p.mailbox, Key: strconv.FormatUint(uint64(uid), 10)}
		start := time.Now()
		outcome := p.service.ProcessRaw(ctx, trigger, raw)
		metrics.Runs().Record("imap", string(outcome.Action), outcome.ErrorCode, time.Since(start))
		processed++

		p.log.Info().
			Uint32("uid", uid).
			Str("run_id", outcome.RunID).
			Str("action", string(outcome.Action)).
			Str("error_code", outcome.ErrorCode).
			Msg("message processed")

		if err := mb.MarkSeen(uid); err != nil {
			p.log.Error().Err(err).Uint32("uid", uid).Msg("failed to flag message seen")
		}
	}
	return processed, nil
}
