package worker

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/media-vetting/internal/domain"
	"github.com/google/uuid"
)

// Queue is the part of the queue manager a worker drives
type Queue interface {
	Spec(kind domain.Kind) (domain.KindSpec, error)
	Claim(ctx context.Context, kind domain.Kind, token string, lease time.Duration) (*domain.Job, error)
	ExtendLease(ctx context.Context, kind domain.Kind, id, token string, lease time.Duration) error
	ReportProgress(ctx context.Context, job *domain.Job, token string, progress domain.JobProgress) error
	Complete(ctx context.Context, job *domain.Job, token string, result *domain.JobResult) error
	Fail(ctx context.Context, job *domain.Job, token string, result *domain.JobResult) error
	Retry(ctx context.Context, job *domain.Job, token, reason string, delay time.Duration) error
	Release(ctx context.Context, job *domain.Job, token, reason string) error
	RecoverStalled(ctx context.Context, kind domain.Kind) (int, error)
}

// Handler executes one job of a kind. Returning an error fails the attempt;
// whether it is retried is decided by domain.IsRetryable.
type Handler interface {
	Handle(ctx context.Context, job *domain.Job, progress ProgressReporter) (*domain.JobResult, error)
}

// HandlerFunc adapts a function to Handler
type HandlerFunc func(ctx context.Context, job *domain.Job, progress ProgressReporter) (*domain.JobResult, error)

func (f HandlerFunc) Handle(ctx context.Context, job *domain.Job, progress ProgressReporter) (*domain.JobResult, error) {
	return f(ctx, job, progress)
}

// Config holds worker configuration
type Config struct {
	Logger  *slog.Logger
	Queue   Queue
	Kind    domain.Kind
	Handler Handler

	// Concurrency overrides the kind's catalog concurrency when positive
	Concurrency     int
	LeaseDuration   time.Duration
	PollInterval    time.Duration
	StalledInterval time.Duration
	JobTimeout      time.Duration
}

const (
	defaultLeaseDuration   = 30 * time.Second
	defaultPollInterval    = time.Second
	defaultStalledInterval = 30 * time.Second
	defaultJobTimeout      = 10 * time.Minute
)

// claimedJob is a job handed from the dispatcher to the pool with its lock token
type claimedJob struct {
	job       *domain.Job
	token     string
	leaseLost atomic.Bool
}

// Worker runs the handler of one kind with bounded concurrency
type Worker struct {
	logger   *slog.Logger
	queue    Queue
	kind     domain.Kind
	spec     domain.KindSpec
	handler  Handler
	workerID string

	concurrency     int
	leaseDuration   time.Duration
	pollInterval    time.Duration
	stalledInterval time.Duration
	jobTimeout      time.Duration

	jobsChan chan *claimedJob
	slots    chan struct{}
	wg       sync.WaitGroup
	stopChan chan struct{}
	stopOnce sync.Once

	// abortCtx ends running handlers; only Abort cancels it
	abortCtx context.Context
	abortFn  context.CancelFunc
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) (*Worker, error) {
	if cfg.Handler == nil {
		return nil, fmt.Errorf("worker %s: handler is required", cfg.Kind)
	}
	spec, err := cfg.Queue.Spec(cfg.Kind)
	if err != nil {
		return nil, err
	}

	concurrency := spec.Concurrency
	if cfg.Concurrency > 0 {
		concurrency = cfg.Concurrency
	}
	if concurrency < 1 {
		concurrency = 1
	}

	abortCtx, abortFn := context.WithCancel(context.Background())

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}

	return &Worker{
		logger:          cfg.Logger.With(slog.String("kind", string(cfg.Kind))),
		queue:           cfg.Queue,
		kind:            cfg.Kind,
		spec:            spec,
		handler:         cfg.Handler,
		workerID:        fmt.Sprintf("%s-%s-%s", hostname, cfg.Kind, uuid.NewString()[:8]),
		concurrency:     concurrency,
		leaseDuration:   orDefault(cfg.LeaseDuration, defaultLeaseDuration),
		pollInterval:    orDefault(cfg.PollInterval, defaultPollInterval),
		stalledInterval: orDefault(cfg.StalledInterval, defaultStalledInterval),
		jobTimeout:      orDefault(cfg.JobTimeout, defaultJobTimeout),
		jobsChan:        make(chan *claimedJob, concurrency),
		slots:           make(chan struct{}, concurrency),
		stopChan:        make(chan struct{}),
		abortCtx:        abortCtx,
		abortFn:         abortFn,
	}, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// ID returns the worker identity used in logs
func (w *Worker) ID() string {
	return w.workerID
}

// Start begins processing jobs. It blocks until ctx is canceled or Stop is called
// and returns after every in-flight job has finished. Canceling ctx only stops
// claiming and never cancels a running handler.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("lease", w.leaseDuration),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	w.spawnWorkerPool(ctx)

	w.wg.Add(1)
	go w.recoverStalledLoop(ctx)

	w.startDispatcher(ctx)

	// no more claims; let the pool finish what it holds
	close(w.jobsChan)
	w.wg.Wait()

	w.logger.Info("Worker stopped", slog.String("worker_id", w.workerID))
	return nil
}

// Stop asks the worker to stop claiming jobs. Start returns once running jobs are done.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping worker...", slog.String("worker_id", w.workerID))
		close(w.stopChan)
	})
}

// Abort stops claiming and cancels running handlers. Jobs interrupted this way go
// back to the waiting set with their attempt refunded.
func (w *Worker) Abort() {
	w.Stop()
	w.logger.Warn("Aborting running jobs", slog.String("worker_id", w.workerID))
	w.abortFn()
}
