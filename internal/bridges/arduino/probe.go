package arduino

import "time"

// versionProbe repeats the version query until a report arrives or the
// watchdog fires.
type versionProbe struct {
	interval time.Duration
	timeout  time.Duration

	gen      uint64
	tick     *time.Timer
	watchdog *time.Timer
}

// start arms both timers. onTick and onExpire receive the generation they
// belong to so the driver can ignore stale firings.
func (p *versionProbe) start(onTick, onExpire func(gen uint64)) {
	p.stop()
	gen := p.gen
	p.tick = time.AfterFunc(p.interval, func() { onTick(gen) })
	p.watchdog = time.AfterFunc(p.timeout, func() { onExpire(gen) })
}

// rearm schedules the next tick for gen.
func (p *versionProbe) rearm(gen uint64, onTick func(gen uint64)) {
	if gen != p.gen || p.tick == nil {
		return
	}
	p.tick = time.AfterFunc(p.interval, func() { onTick(gen) })
}

func (p *versionProbe) stop() {
	p.gen++
	if p.tick != nil {
		p.tick.Stop()
		p.tick = nil
	}
	if p.watchdog != nil {
		p.watchdog.Stop()
		p.watchdog = nil
	}
}
