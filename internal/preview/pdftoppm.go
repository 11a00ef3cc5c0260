package preview

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/ledongthuc/pdf"
)

const (
	defaultBinary  = "pdftoppm"
	defaultWidth   = 800
	defaultTimeout = 30 * time.Second
)

// ErrUnreadablePDF reports a source that does not parse as a PDF with at least one page.
var ErrUnreadablePDF = errors.New("preview: unreadable pdf")

type commandRunner func(ctx context.Context, name string, args ...string) error

// PdftoppmConfig configures the poppler subprocess renderer.
type PdftoppmConfig struct {
	Binary  string
	Width   int
	Timeout time.Duration
}

// Pdftoppm renders previews by invoking poppler's pdftoppm.
type Pdftoppm struct {
	binary  string
	width   int
	timeout time.Duration
	run     commandRunner
}

// NewPdftoppm constructs a renderer; zero config values fall back to defaults.
func NewPdftoppm(cfg PdftoppmConfig) *Pdftoppm {
	renderer := &Pdftoppm{
		binary:  strings.TrimSpace(cfg.Binary),
		width:   cfg.Width,
		timeout: cfg.Timeout,
		run:     runCommand,
	}
	if renderer.binary == "" {
		renderer.binary = defaultBinary
	}
	if renderer.width <= 0 {
		renderer.width = defaultWidth
	}
	if renderer.timeout <= 0 {
		renderer.timeout = defaultTimeout
	}
	return renderer
}

// Render checks the source is a readable PDF, then rasterises its first page.
func (r *Pdftoppm) Render(ctx context.Context, sourcePDFPath string, destWithoutExt string) error {
	if err := checkPDF(sourcePDFPath); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	args := []string{
		"-singlefile",
		"-jpeg",
		"-scale-to-x", strconv.Itoa(r.width),
		"-scale-to-y", "-1",
		sourcePDFPath,
		strings.TrimSuffix(destWithoutExt, OutputExtension),
	}
	if err := r.run(ctx, r.binary, args...); err != nil {
		return fmt.Errorf("preview: %s failed: %w", r.binary, err)
	}
	return nil
}

func checkPDF(path string) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("%w: %v", ErrUnreadablePDF, recovered)
		}
	}()

	file, reader, openErr := pdf.Open(path)
	if openErr != nil {
		return fmt.Errorf("%w: %v", ErrUnreadablePDF, openErr)
	}
	defer file.Close()

	if reader.NumPage() < 1 {
		return fmt.Errorf("%w: no pages", ErrUnreadablePDF)
	}
	return nil
}

func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if message := strings.TrimSpace(stderr.String()); message != "" {
			return fmt.Errorf("%w: %s", err, message)
		}
		return err
	}
	return nil
}
