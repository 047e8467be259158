package providers

import (
	"context"
)

// Config represents the configuration for a vision provider call
type Config struct {
	Model       string
	Temperature float64
	Prompt      string
}

// Provider defines the describe-capability: given image bytes, produce a
// short text description. Implementations are expected to enforce their own
// network timeouts via ctx.
type Provider interface {
	DescribeImage(ctx context.Context, config Config, image []byte, contentType string) (string, error)
}
