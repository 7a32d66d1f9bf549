// Package printing sends converted label documents to the system print
// spooler.
package printing

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os/exec"
	"time"

	"github.com/printflow/printflow/models"
)

// Printer submits label PDFs to the lp spooler. When no spooler is installed
// the printer runs in simulation mode: jobs are logged and reported printed
// so the rest of the pipeline behaves the same on development machines.
type Printer struct {
	lpPath      string
	printerName string
	timeout     time.Duration
}

// NewPrinter looks for the lp executable. printerName selects the target
// queue; empty means the system default.
func NewPrinter(printerName string) *Printer {
	path, err := exec.LookPath("lp")
	if err != nil {
		log.Print("WARN (Printer): lp executable not found in PATH, running in simulation mode")
	} else {
		log.Printf("INFO (Printer): Found lp executable at: %s", path)
	}
	return &Printer{
		lpPath:      path,
		printerName: printerName,
		timeout:     30 * time.Second,
	}
}

// Simulated reports whether print jobs are only logged, not spooled.
func (p *Printer) Simulated() bool { return p.lpPath == "" }

// PrintAttachment spools the attachment's converted document, falling back
// to the original file when no converted counterpart exists. A failed spool
// is returned to the caller for status bookkeeping; it is never retried.
func (p *Printer) PrintAttachment(ctx context.Context, attachment *models.Attachment) error {
	path := attachment.PDFPath
	if path == "" {
		path = attachment.FilePath
	}
	if path == "" {
		return fmt.Errorf("attachment %s has no file to print", attachment.ID)
	}

	if p.Simulated() {
		log.Printf("INFO (Printer): [simulation] Would print %s (%s sheet #%d)", path, attachment.SheetType, attachment.SheetNumber)
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	args := []string{}
	if p.printerName != "" {
		args = append(args, "-d", p.printerName)
	}
	args = append(args, path)

	cmd := exec.CommandContext(ctx, p.lpPath, args...)
	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	if err := cmd.Run(); err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return fmt.Errorf("lp timed out after %v printing %s: %w", p.timeout, path, ctx.Err())
		}
		return fmt.Errorf("lp failed for %s: %w. Stderr: %s", path, err, stderrBuf.String())
	}
	log.Printf("INFO (Printer): Spooled %s for printing", path)
	return nil
}
