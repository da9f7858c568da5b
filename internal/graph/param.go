package graph

import "math"

type eventKind int

const (
	eventSet eventKind = iota
	eventTarget
)

// settleEpsilon is the distance from a target at which a glide is folded into
// the intrinsic value.
const settleEpsilon = 1e-7

type automationEvent struct {
	kind  eventKind
	time  float64
	value float64
	tau   float64
}

// Param is an automatable node parameter such as a gain or a frequency.
//
// A Param holds an intrinsic value plus a time-ordered list of automation
// events. Its value at context time t is the intrinsic value carried through
// every event scheduled at or before t: a set event jumps, a target event
// approaches its value exponentially with time-constant tau.
type Param struct {
	ctx    *Context
	name   string
	value  float64
	events []automationEvent
}

func newParam(ctx *Context, name string, value float64) *Param {
	return &Param{ctx: ctx, name: name, value: value}
}

// Name returns the parameter name, e.g. "frequency".
func (p *Param) Name() string { return p.name }

// Value returns the parameter value at the context's current time.
func (p *Param) Value() float64 {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	return p.valueAt(p.ctx.currentTimeLocked())
}

// ValueAt returns the scheduled value at context time t.
func (p *Param) ValueAt(t float64) float64 {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	return p.valueAt(t)
}

// Target returns the value the automation converges to once every scheduled
// event has played out.
func (p *Param) Target() float64 {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	if len(p.events) == 0 {
		return p.value
	}
	return p.events[len(p.events)-1].value
}

// SetValue replaces the intrinsic value and drops any pending automation.
func (p *Param) SetValue(v float64) {
	p.ctx.mu.Lock()
	p.value = v
	p.events = p.events[:0]
	p.ctx.mu.Unlock()
}

// SetValueAtTime schedules an instantaneous change to v at context time t.
func (p *Param) SetValueAtTime(v, t float64) {
	p.ctx.mu.Lock()
	p.insert(automationEvent{kind: eventSet, time: t, value: v})
	p.ctx.mu.Unlock()
}

// SetTargetAtTime schedules an exponential approach towards target starting
// at context time t. After one time-constant the value has covered ~63% of
// the distance, after three ~95%. A non-positive tau behaves like
// SetValueAtTime.
func (p *Param) SetTargetAtTime(target, t, tau float64) {
	if tau <= 0 {
		p.SetValueAtTime(target, t)
		return
	}
	p.ctx.mu.Lock()
	p.insert(automationEvent{kind: eventTarget, time: t, value: target, tau: tau})
	p.ctx.mu.Unlock()
}

// Automating reports whether events are still pending.
func (p *Param) Automating() bool {
	p.ctx.mu.Lock()
	defer p.ctx.mu.Unlock()
	return len(p.events) > 0
}

// insert keeps events sorted by time; equal times keep insertion order.
func (p *Param) insert(e automationEvent) {
	i := len(p.events)
	for i > 0 && p.events[i-1].time > e.time {
		i--
	}
	p.events = append(p.events, automationEvent{})
	copy(p.events[i+1:], p.events[i:])
	p.events[i] = e
}

func (p *Param) valueAt(t float64) float64 {
	v := p.value
	for i, e := range p.events {
		if e.time > t {
			break
		}
		end := t
		if i+1 < len(p.events) && p.events[i+1].time <= t {
			end = p.events[i+1].time
		}
		v = e.apply(v, end)
	}
	return v
}

func (e automationEvent) apply(from, at float64) float64 {
	switch e.kind {
	case eventTarget:
		return e.value + (from-e.value)*math.Exp(-(at-e.time)/e.tau)
	default:
		return e.value
	}
}

// fill writes per-frame values for one render quantum and compacts events
// that can no longer influence the future.
func (p *Param) fill(dst []float64, q quantum) {
	if len(p.events) == 0 {
		for i := range dst {
			dst[i] = p.value
		}
		return
	}
	for i := range dst {
		dst[i] = p.valueAt(q.time + float64(i)*q.dt)
	}
	p.compact(q.time + float64(len(dst))*q.dt)
}

func (p *Param) compact(now float64) {
	for len(p.events) > 1 && p.events[1].time <= now {
		p.value = p.events[0].apply(p.value, p.events[1].time)
		p.events = p.events[1:]
	}
	if len(p.events) != 1 || p.events[0].time > now {
		return
	}
	e := p.events[0]
	switch e.kind {
	case eventSet:
		p.value = e.value
		p.events = p.events[:0]
	case eventTarget:
		if math.Abs(e.apply(p.value, now)-e.value) < settleEpsilon {
			p.value = e.value
			p.events = p.events[:0]
		}
	}
}
