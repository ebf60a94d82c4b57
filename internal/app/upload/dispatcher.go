package upload

import (
	"context"
	"io"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/rayvision-network/rendersync/internal/domain"
	"github.com/rayvision-network/rendersync/internal/infra/metrics"
)

// DefaultPoolSize is the number of concurrent asset uploads.
const DefaultPoolSize = 10

// DispatchReport is the outcome of one Dispatch call, in input order.
type DispatchReport struct {
	Total     int
	Succeeded []string
	Failed    []domain.TaskFailure // TaskID holds the upload path
}

// Dispatcher uploads many asset lists through a fixed-size pool.
type Dispatcher struct {
	uploader *Uploader
	poolSize int
	logger   domain.Logger
}

// NewDispatcher creates a dispatcher. A non-positive poolSize means
// DefaultPoolSize.
func NewDispatcher(u *Uploader, poolSize int, logger domain.Logger) *Dispatcher {
	if poolSize <= 0 {
		poolSize = DefaultPoolSize
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Dispatcher{uploader: u, poolSize: poolSize, logger: logger}
}

// PoolSize returns the concurrency bound.
func (d *Dispatcher) PoolSize() int { return d.poolSize }

// Dispatch uploads every path and waits for all of them. Each unit has its
// own spec and retry budget; a failing unit never stops the others. The db
// ini is never generated for pooled uploads. A *domain.BatchError lists the
// failed paths.
func (d *Dispatcher) Dispatch(ctx context.Context, paths []string, opts Options) (DispatchReport, error) {
	opts.WithDB = false

	errs := make([]error, len(paths))
	var g errgroup.Group
	g.SetLimit(d.poolSize)

	var mu sync.Mutex
	inFlight := 0
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			metrics.UploadsInFlight.Inc()
			mu.Lock()
			inFlight++
			d.logger.Printf("[dispatch] start %s (%d in flight)", path, inFlight)
			mu.Unlock()

			errs[i] = d.uploader.UploadAsset(ctx, path, opts)

			mu.Lock()
			inFlight--
			mu.Unlock()
			metrics.UploadsInFlight.Dec()
			return nil
		})
	}
	_ = g.Wait()

	report := DispatchReport{Total: len(paths)}
	for i, path := range paths {
		if errs[i] != nil {
			d.logger.Printf("[dispatch] %s failed: %v", path, errs[i])
			report.Failed = append(report.Failed, domain.TaskFailure{TaskID: domain.TaskID(path), Cause: errs[i]})
			continue
		}
		report.Succeeded = append(report.Succeeded, path)
	}
	if len(report.Failed) > 0 {
		return report, &domain.BatchError{Failures: report.Failed}
	}
	return report, nil
}
