// Package preview renders the first page of a PDF into a JPEG image.
package preview

import (
	"context"
	"errors"
)

// OutputExtension is appended by renderers to the destination path.
const OutputExtension = ".jpg"

// ErrDisabled is returned by the Disabled renderer.
var ErrDisabled = errors.New("preview: rendering disabled")

// Renderer writes a preview of sourcePDFPath to destWithoutExt + OutputExtension.
type Renderer interface {
	Render(ctx context.Context, sourcePDFPath string, destWithoutExt string) error
}

// Disabled never produces a preview.
type Disabled struct{}

func (Disabled) Render(context.Context, string, string) error {
	return ErrDisabled
}
