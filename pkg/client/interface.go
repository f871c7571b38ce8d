package client

import (
	"context"
)

// VisionClient sends a prompt with one base64 encoded image to a vision
// language model and returns the model's text reply.
type VisionClient interface {
	Query(ctx context.Context, model, prompt, imgB64 string) (string, error)
}
