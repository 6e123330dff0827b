package mcpexec

import (
	"context"
	"fmt"
)

// Prober checks a backend by opening a session and pinging it.
type Prober struct {
	dialer *Dialer
}

func NewProber(dialer *Dialer) *Prober {
	return &Prober{dialer: dialer}
}

func (p *Prober) Probe(ctx context.Context, backend string) error {
	c, err := p.dialer.connect(ctx, backend)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := c.Ping(ctx); err != nil {
		return fmt.Errorf("ping %s: %w", backend, err)
	}
	return nil
}
