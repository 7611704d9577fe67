package pdftext

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// executor abstracts command execution for testing.
type executor interface {
	LookPath(file string) (string, error)
	Output(ctx context.Context, name string, args ...string) ([]byte, error)
}

// osExecutor is the production executor backed by os/exec.
type osExecutor struct{}

func (osExecutor) LookPath(file string) (string, error) {
	return exec.LookPath(file)
}

func (osExecutor) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("%w: %s", err, msg)
		}
		return nil, err
	}
	return out, nil
}

// CommandBackend runs an external text extractor that writes the document's
// text to stdout with pages separated by form feeds (poppler's pdftotext).
type CommandBackend struct {
	name string
	bin  string
	args []string
	exec executor
}

// NewCommandBackend creates a backend that runs `bin args... <pdf> -`.
func NewCommandBackend(name, bin string, args ...string) *CommandBackend {
	return &CommandBackend{name: name, bin: bin, args: args, exec: osExecutor{}}
}

// NewLayoutBackend is the primary backend: pdftotext in layout mode.
func NewLayoutBackend(bin string) *CommandBackend {
	if bin == "" {
		bin = "pdftotext"
	}
	return NewCommandBackend("pdftotext-layout", bin, "-layout", "-enc", "UTF-8")
}

// NewRawBackend is the fallback backend: pdftotext in raw content-stream
// order, which still recovers text from PDFs whose layout analysis fails.
func NewRawBackend(bin string) *CommandBackend {
	if bin == "" {
		bin = "pdftotext"
	}
	return NewCommandBackend("pdftotext-raw", bin, "-raw", "-enc", "UTF-8")
}

func (c *CommandBackend) Name() string { return c.name }

// Available reports whether the backend binary is on PATH.
func (c *CommandBackend) Available() bool {
	_, err := c.exec.LookPath(c.bin)
	return err == nil
}

func (c *CommandBackend) Pages(ctx context.Context, pdfPath string) ([]string, error) {
	if _, err := c.exec.LookPath(c.bin); err != nil {
		return nil, fmt.Errorf("%s not found: %w", c.bin, err)
	}

	args := make([]string, 0, len(c.args)+2)
	args = append(args, c.args...)
	args = append(args, pdfPath, "-")

	out, err := c.exec.Output(ctx, c.bin, args...)
	if err != nil {
		return nil, fmt.Errorf("running %s: %w", c.bin, err)
	}
	return splitPages(string(out)), nil
}

func splitPages(out string) []string {
	pages := strings.Split(out, "\f")
	if n := len(pages); n > 0 && strings.TrimSpace(pages[n-1]) == "" {
		pages = pages[:n-1]
	}
	return pages
}

var _ Backend = (*CommandBackend)(nil)
