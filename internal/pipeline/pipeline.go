// Package pipeline coordinates the processing of vendor recording
// notifications: the synchronous admission path (verify, extract,
// claim) that decides the webhook response, and the asynchronous
// worker path (fetch audio, build the vcon record, deliver it) that
// runs on a bounded queue behind a fixed worker pool.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/vconbridge/telephony-adapters/internal/domain"
	"github.com/vconbridge/telephony-adapters/internal/fetch"
	"github.com/vconbridge/telephony-adapters/internal/poster"
	"github.com/vconbridge/telephony-adapters/internal/tracker"
	"github.com/vconbridge/telephony-adapters/internal/vcon"
	"github.com/vconbridge/telephony-adapters/internal/vendors"
	"github.com/vconbridge/telephony-adapters/internal/verify"
)

// ErrQueueFull reports that the work queue is saturated; the vendor
// should redeliver later.
var ErrQueueFull = errors.New("pipeline: work queue full")

var (
	// notifications counts admission outcomes by verdict.
	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "recording_notifications_total",
			Help: "Recording notifications by admission outcome.",
		},
		[]string{"outcome"},
	)

	// deliveries counts final processing outcomes per admitted recording.
	deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "conserver_deliveries_total",
			Help: "Processed recordings by delivery outcome.",
		},
		[]string{"result"},
	)

	// audioFailures counts recordings relayed without audio because the
	// fetch failed.
	audioFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "recording_audio_fetch_failures_total",
			Help: "Recordings processed without audio after a failed fetch.",
		},
	)

	// queueDepth gauges jobs waiting for a worker.
	queueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "pipeline_queue_depth",
			Help: "Jobs currently queued for processing.",
		},
	)
)

func init() {
	prometheus.MustRegister(notifications, deliveries, audioFailures, queueDepth)
}

// Verdict is the caller-visible admission outcome of a notification.
type Verdict int

const (
	// Accepted means the notification was admitted and queued.
	Accepted Verdict = iota
	// Duplicate means the recording was already processed or is being
	// processed; the notification is acknowledged and dropped.
	Duplicate
	// Ignored means the adapter deliberately skipped the event.
	Ignored
)

// Outcome is the result of Submit. VconUUID is set for duplicates of a
// completed recording.
type Outcome struct {
	Verdict  Verdict
	VconUUID string
}

// Pipeline wires the vendor adapter, verifier, ledger, audio fetcher,
// vcon builder, and conserver poster into one processing flow.
type Pipeline struct {
	adapter  vendors.Adapter
	verifier verify.Verifier
	tracker  *tracker.Tracker
	fetcher  *fetch.Client // nil disables audio download
	builder  *vcon.Builder
	poster   *poster.Poster
	queue    chan *domain.RecordingEvent
	workers  int
	log      zerolog.Logger
}

// New assembles a Pipeline. fetcher may be nil, in which case records
// reference recordings by locator instead of embedding audio.
func New(adapter vendors.Adapter, verifier verify.Verifier, tr *tracker.Tracker,
	fetcher *fetch.Client, builder *vcon.Builder, p *poster.Poster,
	workers, queueSize int, log zerolog.Logger) *Pipeline {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &Pipeline{
		adapter:  adapter,
		verifier: verifier,
		tracker:  tr,
		fetcher:  fetcher,
		builder:  builder,
		poster:   p,
		queue:    make(chan *domain.RecordingEvent, queueSize),
		workers:  workers,
		log:      log,
	}
}

// Submit runs the synchronous admission path for one notification.
// The error is non-nil for authenticity failures (verify.ErrAuthenticity),
// malformed payloads (*vendors.ExtractionError), queue saturation
// (ErrQueueFull), and ledger faults; the HTTP layer maps each to a
// status code. Authenticity is checked before anything else, so a
// forged notification leaves no trace in the ledger.
func (p *Pipeline) Submit(ctx context.Context, req verify.Request, contentType string) (Outcome, error) {
	if err := p.verifier.Verify(req); err != nil {
		notifications.WithLabelValues("forged").Inc()
		return Outcome{}, err
	}

	ev, err := p.adapter.Extract(req.Body, contentType)
	if err != nil {
		if errors.Is(err, vendors.ErrIgnored) {
			notifications.WithLabelValues("ignored").Inc()
			return Outcome{Verdict: Ignored}, nil
		}
		notifications.WithLabelValues("malformed").Inc()
		return Outcome{}, err
	}

	adm, err := p.tracker.Admit(ctx, ev.RecordingID)
	if err != nil {
		return Outcome{}, err
	}
	switch adm.Verdict {
	case tracker.VerdictDuplicate:
		notifications.WithLabelValues("duplicate").Inc()
		p.log.Info().Str("vendor", p.adapter.Name()).Str("recording_id", ev.RecordingID).
			Str("vcon_uuid", adm.VconUUID).Msg("duplicate notification dropped")
		return Outcome{Verdict: Duplicate, VconUUID: adm.VconUUID}, nil
	case tracker.VerdictInFlight:
		notifications.WithLabelValues("duplicate").Inc()
		return Outcome{Verdict: Duplicate}, nil
	}

	select {
	case p.queue <- ev:
		queueDepth.Inc()
	default:
		p.tracker.Release(ev.RecordingID)
		notifications.WithLabelValues("overloaded").Inc()
		return Outcome{}, ErrQueueFull
	}

	notifications.WithLabelValues("accepted").Inc()
	p.log.Info().Str("vendor", p.adapter.Name()).Str("recording_id", ev.RecordingID).
		Float64("duration_seconds", ev.DurationSeconds).Msg("recording notification accepted")
	return Outcome{Verdict: Accepted}, nil
}

// Run operates the worker pool until ctx is canceled, then drains jobs
// already queued before returning. Jobs in progress at cancellation are
// finished on a grace-period context so an accepted notification is
// never silently dropped.
func (p *Pipeline) Run(ctx context.Context) {
	done := make(chan struct{}, p.workers)
	for i := 0; i < p.workers; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			p.worker(ctx)
		}()
	}
	for i := 0; i < p.workers; i++ {
		<-done
	}
}

func (p *Pipeline) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			// Drain what was already accepted.
			for {
				select {
				case ev := <-p.queue:
					queueDepth.Dec()
					// Bounded grace period so an accepted job still
					// gets a delivery attempt during shutdown.
					gctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
					p.process(gctx, ev)
					cancel()
				default:
					return
				}
			}
		case ev := <-p.queue:
			queueDepth.Dec()
			p.process(ctx, ev)
		}
	}
}

// process runs the asynchronous path for one admitted event.
func (p *Pipeline) process(ctx context.Context, ev *domain.RecordingEvent) {
	log := p.log.With().
		Str("vendor", p.adapter.Name()).
		Str("recording_id", ev.RecordingID).
		Logger()
	ctx = log.WithContext(ctx)

	var audio *domain.AudioArtifact
	if p.fetcher != nil {
		if req, ok := p.adapter.AudioRequest(ev); ok {
			a, err := p.fetcher.Fetch(ctx, req)
			if err != nil {
				// Degrade to a reference-only record rather than
				// losing the conversation metadata.
				audioFailures.Inc()
				log.Warn().Err(err).Msg("audio fetch failed, relaying without audio")
			} else {
				audio = a
			}
		}
	}

	rec := p.builder.Build(ev, audio)

	res, err := p.poster.Deliver(ctx, rec)
	switch res {
	case poster.Delivered:
		if err := p.tracker.Complete(ctx, ev.RecordingID, rec.UUID); err != nil {
			log.Error().Err(err).Msg("ledger update failed after delivery")
			return
		}
		deliveries.WithLabelValues("delivered").Inc()
		log.Info().Str("vcon_uuid", rec.UUID).Msg("conversation record delivered")
	case poster.Rejected:
		// The downstream refused this record outright; redelivering
		// the identical payload cannot succeed, so the entry is
		// terminal no matter how much attempt budget remains.
		if rerr := p.tracker.Reject(ctx, ev.RecordingID); rerr != nil {
			log.Error().Err(rerr).Msg("ledger update failed after rejection")
		}
		deliveries.WithLabelValues("rejected").Inc()
		log.Error().Err(err).Msg("conversation record rejected downstream")
	default:
		terminal, ferr := p.tracker.Fail(ctx, ev.RecordingID)
		if ferr != nil {
			log.Error().Err(ferr).Msg("ledger update failed after delivery failure")
		}
		deliveries.WithLabelValues("transient_failure").Inc()
		log.Error().Err(err).Bool("terminal", terminal).
			Msg("conversation record not delivered")
	}
}
