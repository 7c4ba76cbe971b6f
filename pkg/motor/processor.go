package motor

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Processor calls [Manager.Tick] at the control period of the manager
// from its own goroutine. The ticker follows period changes made by a new
// motor configuration.
type Processor struct {
	logger  *log.Entry
	manager *Manager
	cancel  context.CancelFunc
	wg      *sync.WaitGroup
	// Called after every tick, from the processing goroutine
	afterTick func()
}

func NewProcessor(manager *Manager, logger *log.Entry) *Processor {
	if logger == nil {
		logger = log.WithField("service", "[CTRLR]")
	}
	return &Processor{logger: logger, manager: manager, wg: &sync.WaitGroup{}}
}

// Register a hook run after each tick
func (p *Processor) AfterTick(hook func()) {
	p.afterTick = hook
}

func (p *Processor) main(ctx context.Context) {
	period := p.manager.ControlPeriod()
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	p.logger.Infof("starting control loop, period %v", period)
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("exited control loop")
			return
		case <-ticker.C:
			p.manager.Tick()
			if p.afterTick != nil {
				p.afterTick()
			}
			if next := p.manager.ControlPeriod(); next != period {
				p.logger.Infof("control period changed | %v ==> %v", period, next)
				period = next
				ticker.Reset(period)
			}
		}
	}
}

// Start processing, this will be run inside of a go routine
// Call Stop() to stop processing or cancel the context
// Call Wait() to wait for end of execution
func (p *Processor) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.main(ctx)
	}()
	return nil
}

// Stop processing, Wait should be called to make sure the loop has exited
func (p *Processor) Stop() error {
	if p.cancel != nil {
		p.cancel()
	}
	return nil
}

// Wait for processing to finish (blocking)
func (p *Processor) Wait() error {
	p.wg.Wait()
	return nil
}

func (p *Processor) Manager() *Manager {
	return p.manager
}
