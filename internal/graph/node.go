package graph

import "fmt"

// RenderQuantum is the number of frames every node renders per pull.
const RenderQuantum = 128

// maxChannels bounds the channel count flowing between nodes.
const maxChannels = 2

// quantum identifies one render pass.
type quantum struct {
	index int64
	time  float64 // context time of the first frame
	dt    float64 // seconds per frame
}

func (q quantum) at(i int) float64 { return q.time + float64(i)*q.dt }

// block is one quantum of planar audio.
type block struct {
	channels int
	data     [maxChannels][RenderQuantum]float64
}

func (b *block) clear() {
	b.channels = 0
	b.data = [maxChannels][RenderQuantum]float64{}
}

// silence leaves a single zeroed channel.
func (b *block) silence() {
	b.clear()
	b.channels = 1
}

// mix sums src into b, up-mixing mono to stereo when the counts differ.
func (b *block) mix(src *block) {
	if src.channels == 0 {
		return
	}
	if b.channels == 1 && src.channels == 2 {
		b.data[1] = b.data[0]
		b.channels = 2
	}
	if b.channels == 0 {
		b.channels = src.channels
	}
	for c := 0; c < b.channels; c++ {
		sc := c
		if sc >= src.channels {
			sc = 0
		}
		for i := range RenderQuantum {
			b.data[c][i] += src.data[sc][i]
		}
	}
}

// mono writes the speaker down-mix of b into dst.
func (b *block) mono(dst *[RenderQuantum]float64) {
	switch b.channels {
	case 0:
		*dst = [RenderQuantum]float64{}
	case 1:
		*dst = b.data[0]
	default:
		for i := range RenderQuantum {
			dst[i] = 0.5 * (b.data[0][i] + b.data[1][i])
		}
	}
}

// processor renders one quantum from the mixed inputs into out.
type processor interface {
	process(in []block, out *block, q quantum)
}

type link struct {
	dst   *node
	input int
}

type node struct {
	ctx      *Context
	kind     string
	proc     processor
	inputs   [][]*node
	outputs  []link
	in       []block
	out      block
	rendered int64
}

func newNode(ctx *Context, kind string, inputs int, proc processor) *node {
	return &node{
		ctx:      ctx,
		kind:     kind,
		proc:     proc,
		inputs:   make([][]*node, inputs),
		in:       make([]block, inputs),
		rendered: -1,
	}
}

// Node is any vertex of the audio graph.
type Node interface {
	base() *node
}

func (n *node) base() *node { return n }

// Kind names the node type, e.g. "gain".
func (n *node) Kind() string { return n.kind }

// NumberOfInputs is the count of input slots the node accepts.
func (n *node) NumberOfInputs() int { return len(n.inputs) }

// Connect routes this node's output into input 0 of dst.
func (n *node) Connect(dst Node) error {
	return n.ConnectInput(dst, 0)
}

// ConnectInput routes this node's output into the given input of dst.
// Connecting the same pair twice is a no-op.
func (n *node) ConnectInput(dst Node, input int) error {
	if dst == nil {
		return fmt.Errorf("connect %s: %w", n.kind, ErrInvalidNode)
	}
	d := dst.base()
	if d.ctx != n.ctx {
		return fmt.Errorf("connect %s to %s: %w", n.kind, d.kind, ErrInvalidNode)
	}
	if input < 0 || input >= len(d.inputs) {
		return fmt.Errorf("connect %s to %s input %d: %w", n.kind, d.kind, input, ErrIndexSize)
	}
	n.ctx.mu.Lock()
	defer n.ctx.mu.Unlock()
	for _, l := range n.outputs {
		if l.dst == d && l.input == input {
			return nil
		}
	}
	n.outputs = append(n.outputs, link{dst: d, input: input})
	d.inputs[input] = append(d.inputs[input], n)
	return nil
}

// Disconnect removes every outgoing connection of this node.
func (n *node) Disconnect() {
	n.ctx.mu.Lock()
	defer n.ctx.mu.Unlock()
	for _, l := range n.outputs {
		ups := l.dst.inputs[l.input]
		for i, u := range ups {
			if u == n {
				l.dst.inputs[l.input] = append(ups[:i], ups[i+1:]...)
				break
			}
		}
	}
	n.outputs = nil
}

// Connected reports whether src feeds any input of dst directly.
func Connected(src, dst Node) bool {
	if src == nil || dst == nil {
		return false
	}
	s, d := src.base(), dst.base()
	s.ctx.mu.Lock()
	defer s.ctx.mu.Unlock()
	for _, l := range s.outputs {
		if l.dst == d {
			return true
		}
	}
	return false
}

// InputCount returns the number of connections feeding dst.
func InputCount(dst Node) int {
	d := dst.base()
	d.ctx.mu.Lock()
	defer d.ctx.mu.Unlock()
	total := 0
	for _, ups := range d.inputs {
		total += len(ups)
	}
	return total
}

// pull renders the node for q once, reusing the result for every consumer.
// Caller holds ctx.mu.
func (n *node) pull(q quantum) *block {
	if n.rendered == q.index {
		return &n.out
	}
	n.rendered = q.index
	for i := range n.in {
		n.in[i].clear()
		for _, up := range n.inputs[i] {
			n.in[i].mix(up.pull(q))
		}
	}
	n.proc.process(n.in, &n.out, q)
	return &n.out
}
