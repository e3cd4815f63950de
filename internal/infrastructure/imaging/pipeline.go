package imaging

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"
)

// PipelineConfig holds retry settings for the image pipeline
type PipelineConfig struct {
	MaxAttempts int
	RetryDelay  time.Duration
	Watermark   WatermarkOptions
}

// DefaultPipelineConfig returns two attempts one second apart
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		MaxAttempts: 2,
		RetryDelay:  time.Second,
		Watermark:   DefaultWatermarkOptions(),
	}
}

// Pipeline turns an uploaded photo into the clean deliverable and the
// watermarked preview
type Pipeline struct {
	config  PipelineConfig
	remover BackgroundRemover
	logger  *zap.Logger
}

// NewPipeline creates a new image pipeline
func NewPipeline(config PipelineConfig, remover BackgroundRemover, logger *zap.Logger) *Pipeline {
	def := DefaultPipelineConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = def.MaxAttempts
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = def.RetryDelay
	}
	if config.Watermark.Color.A == 0 {
		config.Watermark = def.Watermark
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		config:  config,
		remover: remover,
		logger:  logger.Named("imaging"),
	}
}

type processed struct {
	deliverable []byte
	preview     []byte
}

// Process validates the original, removes its background and watermarks a
// copy. Invalid uploads fail immediately; upstream failures are retried.
func (p *Pipeline) Process(ctx context.Context, original []byte) ([]byte, []byte, error) {
	if _, err := Validate(original); err != nil {
		return nil, nil, err
	}
	pngData, err := ToPNG(original)
	if err != nil {
		return nil, nil, err
	}

	attempt := 0
	result, err := backoff.Retry(ctx, func() (processed, error) {
		attempt++
		clean, err := p.remover.RemoveBackground(ctx, pngData)
		if err != nil {
			if errors.Is(err, ErrUpstreamBadRequest) {
				return processed{}, backoff.Permanent(err)
			}
			return processed{}, err
		}
		preview, err := Watermark(clean, p.config.Watermark)
		if err != nil {
			return processed{}, fmt.Errorf("watermark upstream image: %w", err)
		}
		return processed{deliverable: clean, preview: preview}, nil
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(p.config.RetryDelay)),
		backoff.WithMaxTries(uint(p.config.MaxAttempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			p.logger.Warn("Image processing attempt failed",
				zap.Int("attempt", attempt),
				zap.Duration("retry_in", next),
				zap.Error(err),
			)
		}),
	)
	if err != nil {
		return nil, nil, err
	}

	p.logger.Debug("Image processed",
		zap.Int("attempts", attempt),
		zap.Int("deliverable_bytes", len(result.deliverable)),
		zap.Int("preview_bytes", len(result.preview)),
	)
	return result.deliverable, result.preview, nil
}
