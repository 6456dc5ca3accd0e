package backend

import "context"

// Func adapts a function to Backend. It is mostly useful for rule-based
// extractors and tests.
type Func struct {
	Desc Descriptor
	Fn   func(ctx context.Context, req Request) (*Result, error)
}

func (f *Func) Name() string           { return f.Desc.Name }
func (f *Func) Model() string          { return f.Desc.Model }
func (f *Func) Descriptor() Descriptor { return f.Desc }

// Call invokes Fn and stamps the result with the backend identity.
func (f *Func) Call(ctx context.Context, req Request) (*Result, error) {
	res, err := f.Fn(ctx, req)
	if err != nil {
		return nil, err
	}
	if res.Backend == "" {
		res.Backend = f.Desc.Name
	}
	if res.Model == "" {
		res.Model = f.Desc.Model
	}
	return res, nil
}
