package modsynth

// ExpressionDim identifies one continuous expression controller.
type ExpressionDim string

const (
	ExprModWheel    ExpressionDim = "modWheel"
	ExprAftertouch  ExpressionDim = "aftertouch"
	ExprMPEPressure ExpressionDim = "mpePressure"
	ExprMPETimbre   ExpressionDim = "mpeTimbre"
	ExprCC7         ExpressionDim = "cc7"
	ExprCC74        ExpressionDim = "cc74"
	ExprPitchBend   ExpressionDim = "pitchBend"
)

var expressionDims = map[ExpressionDim]bool{
	ExprModWheel:    true,
	ExprAftertouch:  true,
	ExprMPEPressure: true,
	ExprMPETimbre:   true,
	ExprCC7:         true,
	ExprCC74:        true,
	ExprPitchBend:   true,
}

// ExpressionUpdate carries one asynchronous controller change.
type ExpressionUpdate struct {
	Dimension ExpressionDim
	Value     float64 // [0,1]
}

// SetExpression updates a process-wide expression value and pushes it into
// every active voice's injection point for that dimension.
func (e *Engine) SetExpression(dim ExpressionDim, value float64) {
	if !expressionDims[dim] {
		return
	}
	v := float32(clampf(value, 0, 1))
	e.expr[dim] = v
	for _, voice := range e.voices {
		voice.setExpression(dim, v)
	}
}

// SetNoteExpression updates an expression value only on voices bound to the
// given note key.
func (e *Engine) SetNoteExpression(noteKey string, dim ExpressionDim, value float64) {
	if !expressionDims[dim] {
		return
	}
	v := float32(clampf(value, 0, 1))
	for _, voice := range e.voices {
		if voice.noteKey == noteKey {
			voice.setExpression(dim, v)
		}
	}
}

// Expression returns the current process-wide value for a dimension.
func (e *Engine) Expression(dim ExpressionDim) float64 {
	return float64(e.expr[dim])
}
