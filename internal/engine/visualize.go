package engine

// FrequencyData is a snapshot of the analyser spectrum: one byte per bin,
// 0-255 over -100..-30 dB. It is empty before the first Start.
func (e *Engine) FrequencyData() []byte {
	e.mu.Lock()
	a := e.analyser
	e.mu.Unlock()
	if a == nil {
		return []byte{}
	}
	return a.ByteFrequencyData()
}

// TimeDomainData is a snapshot of the analysed waveform as 128·(1+x). It is
// empty before the first Start.
func (e *Engine) TimeDomainData() []byte {
	e.mu.Lock()
	a := e.analyser
	e.mu.Unlock()
	if a == nil {
		return []byte{}
	}
	return a.ByteTimeDomainData()
}
