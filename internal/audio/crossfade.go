package audio

// Smoothstep eases t in [0,1] along 3t^2 - 2t^3. Values outside the range
// are clamped.
func Smoothstep(t float64) float64 {
	if t <= 0 {
		return 0
	}
	if t >= 1 {
		return 1
	}
	return t * t * (3 - 2*t)
}

// Crossfade writes the smoothstep blend of outgoing and incoming into dst at
// the given progress (0 = all outgoing, 1 = all incoming). dst may alias
// either input. All three slices must have the same length.
func Crossfade(dst, outgoing, incoming []float32, progress float64) {
	gain := float32(Smoothstep(progress))
	for i := range dst {
		dst[i] = outgoing[i]*(1-gain) + incoming[i]*gain
	}
}
