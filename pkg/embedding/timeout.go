package embedding

import (
	"context"
	"time"
)

type timeoutModel struct {
	Model
	timeout time.Duration
}

// WithTimeout bounds every Embed call on m by d. A non-positive d returns m
// unchanged.
func WithTimeout(m Model, d time.Duration) Model {
	if d <= 0 {
		return m
	}
	return &timeoutModel{Model: m, timeout: d}
}

func (t *timeoutModel) Embed(ctx context.Context, text string) ([]float64, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	type result struct {
		vec []float64
		err error
	}
	ch := make(chan result, 1)
	go func() {
		vec, err := t.Model.Embed(ctx, text)
		ch <- result{vec, err}
	}()

	select {
	case r := <-ch:
		return r.vec, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
