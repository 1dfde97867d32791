// Package convert turns merged documents into distributable PDF files by
// delegating to an external conversion tool (LibreOffice in headless mode).
// The subprocess runs with a bounded timeout and all failure modes surface
// as distinct errors; the temporary input document is removed on every
// exit path.
package convert

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/mhollstein/briefwerk/internal/domain"
)

// DefaultTimeout bounds one conversion subprocess run.
const DefaultTimeout = 120 * time.Second

var (
	// ErrTimeout reports that the conversion subprocess exceeded its deadline.
	ErrTimeout = errors.New("conversion timed out")

	// ErrToolNotFound reports that the configured conversion tool does not exist.
	ErrToolNotFound = errors.New("conversion tool not found")
)

// Converter invokes the external document-conversion tool.
type Converter struct {
	toolPath string
	outDir   string
	timeout  time.Duration
}

// NewConverter creates a Converter writing PDF output under outDir.
// A non-positive timeout falls back to DefaultTimeout.
func NewConverter(toolPath, outDir string, timeout time.Duration) (*Converter, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create conversion output directory: %w", err)
	}
	return &Converter{
		toolPath: toolPath,
		outDir:   outDir,
		timeout:  timeout,
	}, nil
}

// Convert converts the merged document at inputPath into a PDF named
// outputName under the output directory. Success requires the subprocess to
// exit zero and the expected artifact to exist afterward; on nonzero exit
// the tool's diagnostic output becomes the error message. The input file is
// consumed: it is deleted whether conversion succeeds or fails.
func (c *Converter) Convert(ctx context.Context, inputPath, outputName string) (string, error) {
	defer os.Remove(inputPath)

	if _, err := os.Stat(c.toolPath); err != nil {
		return "", domain.WrapError(
			fmt.Errorf("%w at %q", ErrToolNotFound, c.toolPath),
			domain.EUNAVAILABLE, "convert.run",
			fmt.Sprintf("conversion tool not found at %q", c.toolPath),
		)
	}

	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, c.toolPath,
		"--headless",
		"--convert-to", "pdf",
		"--outdir", c.outDir,
		inputPath,
	)
	output, err := cmd.CombinedOutput()

	if runCtx.Err() == context.DeadlineExceeded {
		return "", domain.WrapError(ErrTimeout, domain.ETIMEOUT, "convert.run",
			fmt.Sprintf("conversion of %s timed out after %s", filepath.Base(inputPath), c.timeout))
	}
	if err != nil {
		diag := strings.TrimSpace(string(output))
		if diag == "" {
			diag = err.Error()
		}
		return "", domain.Errorf(domain.EINTERNAL, "convert.run", "conversion failed: %s", diag)
	}

	// The tool names its artifact after the input file.
	produced := filepath.Join(c.outDir, replaceExt(filepath.Base(inputPath), ".pdf"))
	if _, err := os.Stat(produced); err != nil {
		return "", domain.Errorf(domain.EINTERNAL, "convert.run",
			"conversion produced no output file %s", filepath.Base(produced))
	}

	final := filepath.Join(c.outDir, outputName)
	if produced != final {
		// A prior run may have left a file under the requested name.
		if err := os.Remove(final); err != nil && !os.IsNotExist(err) {
			os.Remove(produced)
			return "", domain.Internal(err, "convert.run", "could not replace existing output file")
		}
		if err := os.Rename(produced, final); err != nil {
			os.Remove(produced)
			return "", domain.Internal(err, "convert.run", "could not move converted file into place")
		}
	}
	return final, nil
}

func replaceExt(name, ext string) string {
	return strings.TrimSuffix(name, filepath.Ext(name)) + ext
}
