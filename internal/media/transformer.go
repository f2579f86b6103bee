package media

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

var ErrNoTransformer = errors.New("no transformer configured for media kind")

// Transformer shrinks media to fit an envelope.
type Transformer interface {
	Transform(ctx context.Context, data []byte, mimeType string, env Envelope) ([]byte, string, error)
}

// Router picks a transformer by media kind and skips inputs that already fit.
type Router struct {
	image Transformer
	video Transformer
}

func NewRouter(image, video Transformer) *Router {
	return &Router{image: image, video: video}
}

func (r *Router) Compress(ctx context.Context, data []byte, mimeType string, env Envelope) ([]byte, string, error) {
	if env.Fits(len(data)) {
		return data, mimeType, nil
	}

	var t Transformer
	kind := KindFromMime(mimeType)
	switch kind {
	case KindImage:
		t = r.image
	case KindVideo:
		t = r.video
	}
	if t == nil {
		return nil, "", fmt.Errorf("%w: %q", ErrNoTransformer, mimeType)
	}

	out, outMime, err := t.Transform(ctx, data, mimeType, env)
	if err != nil {
		return nil, "", fmt.Errorf("failed to compress %s: %w", kind, err)
	}

	slog.Info("compressed media", "kind", kind, "from_bytes", len(data), "to_bytes", len(out), "limit_bytes", env.MaxBytes)
	return out, outMime, nil
}
