package reset

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/dreamware/arena/internal/control"
	"github.com/dreamware/arena/internal/world"
)

// Stage names reported through Progress.
const (
	StepLockJoin     = "LOCK_JOIN"
	StepUnloadActive = "UNLOAD_ACTIVE"
	StepDeleteActive = "DELETE_ACTIVE_FILES"
	StepCopyTemplate = "COPY_TEMPLATE_FILES"
	StepLoadActive   = "LOAD_ACTIVE"
	StepDone         = "DONE"
)

// Progress is reported before each stage runs.
type Progress struct {
	Step    string `json:"step"`
	Percent int    `json:"percent"`
}

// ProgressFunc receives progress reports. It is called from the caller's
// goroutine, the control loop and background workers, never concurrently.
type ProgressFunc func(Progress)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithStageTimeout bounds each background stage. Zero, the default, waits
// indefinitely. Control-loop stages are never bounded.
func WithStageTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		p.stageTimeout = d
	}
}

// Pipeline sequences Stages across the control loop and background workers.
type Pipeline struct {
	stages       Stages
	loop         *control.Loop
	workers      *control.Workers
	stageTimeout time.Duration
}

// NewPipeline creates a pipeline running stages on loop and workers.
func NewPipeline(stages Stages, loop *control.Loop, workers *control.Workers, opts ...Option) *Pipeline {
	p := &Pipeline{
		stages:  stages,
		loop:    loop,
		workers: workers,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// HardReset replaces activeID with a fresh copy of templateID and returns a
// Future resolving to the loaded environment. It does not block.
func (p *Pipeline) HardReset(templateID, activeID string, onProgress ProgressFunc) *Future {
	f := newFuture()
	report := func(step string, pct int) {
		if onProgress != nil {
			onProgress(Progress{Step: step, Percent: pct})
		}
	}

	report(StepLockJoin, 5)

	ok := p.loop.Submit(func(c *control.Ctx) {
		report(StepUnloadActive, 15)
		err := guard(StepUnloadActive, func() error {
			return p.stages.UnloadSync(c, activeID)
		})
		if err != nil {
			p.fail(f, StepUnloadActive, err)
			return
		}
		p.workers.Go(func() {
			p.runFileStages(f, templateID, activeID, report)
		})
	})
	if !ok {
		p.fail(f, StepUnloadActive, control.ErrLoopStopped)
	}
	return f
}

func (p *Pipeline) runFileStages(f *Future, templateID, activeID string, report func(string, int)) {
	report(StepDeleteActive, 35)
	err := p.background(StepDeleteActive, func(ctx context.Context) error {
		return p.stages.DeleteDirectory(ctx, activeID)
	})
	if err != nil {
		p.fail(f, StepDeleteActive, err)
		return
	}

	report(StepCopyTemplate, 65)
	err = p.background(StepCopyTemplate, func(ctx context.Context) error {
		return p.stages.CopyDirectory(ctx, templateID, activeID)
	})
	if err != nil {
		p.fail(f, StepCopyTemplate, err)
		return
	}

	ok := p.loop.Submit(func(c *control.Ctx) {
		report(StepLoadActive, 90)
		var env world.Environment
		err := guard(StepLoadActive, func() error {
			var err error
			env, err = p.stages.LoadOrCreateSync(c, activeID)
			return err
		})
		if err != nil {
			p.fail(f, StepLoadActive, err)
			return
		}
		report(StepDone, 100)
		f.resolve(env, nil)
	})
	if !ok {
		p.fail(f, StepLoadActive, control.ErrLoopStopped)
	}
}

// background runs a file stage, enforcing the stage timeout when one is set.
// A stage that outlives its timeout has its context cancelled, and the reset
// does not finish until the stage has actually returned.
func (p *Pipeline) background(stage string, fn func(ctx context.Context) error) error {
	if p.stageTimeout <= 0 {
		return guard(stage, func() error { return fn(context.Background()) })
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.stageTimeout)
	defer cancel()

	errc := make(chan error, 1)
	p.workers.Go(func() {
		errc <- guard(stage, func() error { return fn(ctx) })
	})

	select {
	case err := <-errc:
		if err != nil && ctx.Err() != nil {
			return &StageTimeoutError{Stage: stage, Timeout: p.stageTimeout, Err: err}
		}
		return err
	case <-ctx.Done():
		log.Printf("[reset] stage %s exceeded %s, waiting for it to stop", stage, p.stageTimeout)
		<-errc
		return &StageTimeoutError{Stage: stage, Timeout: p.stageTimeout, Err: ctx.Err()}
	}
}

func (p *Pipeline) fail(f *Future, stage string, err error) {
	log.Printf("[reset] stage %s failed: %v", stage, err)
	f.resolve(world.Environment{}, err)
}

// guard turns a panicking stage into an error.
func guard(stage string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("stage %s panicked: %v", stage, r)
		}
	}()
	return fn()
}
