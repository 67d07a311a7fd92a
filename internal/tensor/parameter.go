package tensor

// Parameter is a trainable tensor with its gradient buffer.
type Parameter struct {
	Name  string
	Value *Tensor
	Grad  *Tensor
}

// NewParameter allocates a zeroed parameter and gradient of the given shape.
func NewParameter(name string, shape ...int) *Parameter {
	return &Parameter{
		Name:  name,
		Value: New(shape...),
		Grad:  New(shape...),
	}
}

// ZeroGrad clears the gradient buffer.
func (p *Parameter) ZeroGrad() {
	clear(p.Grad.Data)
}
