package agentdeploy

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
)

// Markers prefix progress lines.
const (
	MarkerConfig   = "🔧"
	MarkerPackage  = "📦"
	MarkerSuccess  = "✅"
	MarkerLaunch   = "🚀"
	MarkerWait     = "⏳"
	MarkerResource = "📋"
	MarkerTest     = "🧪"
	MarkerContent  = "📝"
	MarkerMetadata = "🔍"
	MarkerVerdict  = "⚖️ "
	MarkerDelete   = "🗑️ "
	MarkerDone     = "🎉"
	MarkerError    = "❌"
)

// Display prints operator-facing progress. Errors go to a separate writer.
type Display struct {
	out io.Writer
	err io.Writer

	// render formats agent replies; nil prints them unchanged.
	render func(string) (string, error)
}

func NewDisplay(out, errOut io.Writer) *Display {
	return &Display{out: out, err: errOut}
}

// WithMarkdown renders agent replies as terminal Markdown using the style
// selected by GLAMOUR_STYLE.
func (d *Display) WithMarkdown() *Display {
	d.render = glamour.RenderWithEnvironmentConfig
	return d
}

// Step prints a line prefixed with marker.
func (d *Display) Step(marker string, format string, args ...any) {
	fmt.Fprintf(d.out, marker+" "+format+"\n", args...)
}

// Detail prints an indented line under the previous step.
func (d *Display) Detail(format string, args ...any) {
	fmt.Fprintf(d.out, "   "+format+"\n", args...)
}

// Println prints a plain line.
func (d *Display) Println(format string, args ...any) {
	line := fmt.Sprintf(format, args...)
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	io.WriteString(d.out, line)
}

// Content prints one piece of an agent reply. If rendering fails the reply
// is printed raw.
func (d *Display) Content(text string) {
	if d.render != nil {
		pretty, err := d.render(text)
		if err == nil {
			d.Step(MarkerContent, "%s", strings.Trim(pretty, "\n"))
			return
		}
		fmt.Fprintf(d.err, "Markdown rendering failed: %v. Falling back to raw display.\n", err)
	}
	d.Step(MarkerContent, "%s", text)
}

// Error prints a diagnostic line prefixed with the error marker.
func (d *Display) Error(format string, args ...any) {
	fmt.Fprintf(d.err, MarkerError+" "+format+"\n", args...)
}

// Config prints the resolved configuration.
func (d *Display) Config(cfg Config) {
	d.Step(MarkerConfig, "Configuration:")
	d.Detail("Project ID: %s", cfg.ProjectID)
	d.Detail("Location: %s", cfg.Location)
	d.Detail("GCS Bucket: %s", cfg.Bucket)
	d.Detail("Display Name: %s", cfg.DisplayName)
	d.Println("")
}
