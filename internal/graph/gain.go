package graph

import "fmt"

// Gain scales its input by an a-rate gain parameter.
type Gain struct {
	*node
	gain *Param
}

type gainProc struct {
	gain *Param
	vals [RenderQuantum]float64
}

// NewGain returns a unity gain node.
func (c *Context) NewGain() *Gain {
	p := &gainProc{gain: newParam(c, "gain", 1)}
	return &Gain{node: newNode(c, "gain", 1, p), gain: p.gain}
}

// Gain is the linear amplitude factor.
func (g *Gain) Gain() *Param { return g.gain }

func (p *gainProc) process(in []block, out *block, q quantum) {
	p.gain.fill(p.vals[:], q)
	*out = in[0]
	if out.channels == 0 {
		out.silence()
		return
	}
	for c := 0; c < out.channels; c++ {
		for i := range RenderQuantum {
			out.data[c][i] *= p.vals[i]
		}
	}
}

// ChannelMerger places the mono down-mix of input i on output channel i.
type ChannelMerger struct {
	*node
}

type mergerProc struct {
	mono [RenderQuantum]float64
}

// NewChannelMerger returns a merger with the given number of inputs (1 or 2).
func (c *Context) NewChannelMerger(inputs int) (*ChannelMerger, error) {
	if inputs < 1 || inputs > maxChannels {
		return nil, fmt.Errorf("channel merger with %d inputs: %w", inputs, ErrIndexSize)
	}
	return &ChannelMerger{node: newNode(c, "channelmerger", inputs, &mergerProc{})}, nil
}

func (p *mergerProc) process(in []block, out *block, _ quantum) {
	out.clear()
	out.channels = maxChannels
	for i := range in {
		in[i].mono(&p.mono)
		out.data[i] = p.mono
	}
}
