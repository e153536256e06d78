package submit

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hpungsan/intake/internal/config"
	"github.com/hpungsan/intake/internal/errors"
	"github.com/hpungsan/intake/internal/flow"
	"github.com/hpungsan/intake/internal/ops"
	"github.com/hpungsan/intake/internal/payload"
)

// Recorder keeps a log of submission attempts.
type Recorder interface {
	RecordSubmission(ctx context.Context, input ops.RecordSubmissionInput) error
}

// Options is the submission policy.
type Options struct {
	Timeout       time.Duration
	MaxEdgePixels int
	Quality       float64
	MinPhotos     int
	MaxPhotos     int
}

// OptionsFromConfig reads the policy from cfg.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Timeout:       cfg.SubmitTimeout(),
		MaxEdgePixels: cfg.MaxEdgePixels,
		Quality:       cfg.JPEGQuality,
		MinPhotos:     cfg.MinPhotos,
		MaxPhotos:     cfg.MaxPhotos(),
	}
}

// Controller runs submissions: compress, canonicalize, post once, and route
// the outcome back through the navigator.
type Controller struct {
	nav        *flow.Navigator
	compressor payload.Compressor
	transport  Transport
	recorder   Recorder
	opts       Options
	log        *zap.Logger
	wg         sync.WaitGroup
}

// NewController creates a Controller. recorder and log may be nil.
func NewController(nav *flow.Navigator, compressor payload.Compressor, transport Transport, recorder Recorder, opts Options, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	return &Controller{
		nav:        nav,
		compressor: compressor,
		transport:  transport,
		recorder:   recorder,
		opts:       opts,
		log:        log,
	}
}

// Submit runs one attempt for s and returns when it has finished. It returns
// a BUSY error if an attempt is already in flight and the gate's error if the
// answers are not ready; neither touches the network.
func (c *Controller) Submit(ctx context.Context, s *flow.Session, origin payload.Origin) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	start := &flow.SubmitStarted{Cancel: cancel}
	if err := c.nav.Dispatch(ctx, s, start); err != nil {
		return err
	}
	return c.finish(runCtx, s, start.Ticket, origin)
}

// Start is Submit without waiting: the attempt is accepted (or refused)
// synchronously and then runs on its own goroutine. The attempt outlives
// ctx; it ends on completion, timeout or an Abandon command.
func (c *Controller) Start(ctx context.Context, s *flow.Session, origin payload.Origin) error {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	start := &flow.SubmitStarted{Cancel: cancel}
	if err := c.nav.Dispatch(ctx, s, start); err != nil {
		cancel()
		return err
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer cancel()
		_ = c.finish(runCtx, s, start.Ticket, origin)
	}()
	return nil
}

// Wait blocks until every attempt started with Start has finished.
func (c *Controller) Wait() {
	c.wg.Wait()
}

func (c *Controller) finish(ctx context.Context, s *flow.Session, t flow.Ticket, origin payload.Origin) error {
	requestID := uuid.NewString()
	log := c.log.With(
		zap.String("session", s.ID),
		zap.String("request_id", requestID),
		zap.Int("photos", len(t.Photos)))
	began := time.Now()

	err := c.attempt(ctx, s, t, origin, requestID)
	elapsed := time.Since(began)

	// Outcome bookkeeping must land even if ctx was cancelled.
	bg := context.WithoutCancel(ctx)
	if err == nil {
		log.Info("submission accepted", zap.Duration("elapsed", elapsed))
		c.dispatchOutcome(bg, s, flow.SubmitSucceeded{Generation: t.Generation}, log)
	} else {
		err = classify(err)
		log.Warn("submission failed", zap.Duration("elapsed", elapsed), zap.Error(err))
		c.dispatchOutcome(bg, s, flow.SubmitFailed{Generation: t.Generation, Err: err}, log)
	}

	if c.recorder != nil {
		rerr := c.recorder.RecordSubmission(bg, ops.RecordSubmissionInput{
			SessionID:  s.ID,
			RequestID:  requestID,
			Err:        err,
			PhotoCount: len(t.Photos),
			Elapsed:    elapsed,
		})
		if rerr != nil {
			log.Warn("submission log write failed", zap.Error(rerr))
		}
	}
	return err
}

func (c *Controller) dispatchOutcome(ctx context.Context, s *flow.Session, cmd flow.Command, log *zap.Logger) {
	if err := c.nav.Dispatch(ctx, s, cmd); stderrors.Is(err, flow.ErrStale) {
		log.Info("outcome of abandoned submission dropped")
	}
}

func (c *Controller) attempt(ctx context.Context, s *flow.Session, t flow.Ticket, origin payload.Origin, requestID string) error {
	compressed, err := payload.CompressAll(ctx, c.compressor, t.Photos, payload.CompressOptions{
		MaxEdgePixels: c.opts.MaxEdgePixels,
		Quality:       c.opts.Quality,
		Progress: func(done, total int) {
			_ = c.nav.Dispatch(ctx, s, flow.ReportProgress{Generation: t.Generation, Done: done, Total: total})
		},
	})
	if err != nil {
		return err
	}

	if c.opts.MaxPhotos > 0 && len(compressed) > c.opts.MaxPhotos {
		compressed = compressed[:c.opts.MaxPhotos]
	}
	if len(compressed) < max(1, c.opts.MinPhotos) {
		return errors.NewUnexpected(fmt.Errorf("no photos were prepared for upload"))
	}

	body, err := payload.FromAnswers(t.Answers, compressed, origin).Marshal()
	if err != nil {
		return errors.NewUnexpected(err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	res, err := c.transport.Send(sendCtx, body, requestID)
	if err != nil {
		if stderrors.Is(sendCtx.Err(), context.DeadlineExceeded) {
			return errors.NewNetworkTimeout(err)
		}
		return err
	}
	if !res.OK {
		return errors.NewNetworkRejected(res.Message, res.Status)
	}
	return nil
}

// classify maps any failure onto an IntakeError with a calm message.
func classify(err error) error {
	var iErr *errors.IntakeError
	if errors.As(err, &iErr) {
		return iErr
	}
	if stderrors.Is(err, context.DeadlineExceeded) {
		return errors.NewNetworkTimeout(err)
	}
	return errors.NewUnexpected(err)
}
