package report

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"

	"github.com/nao1215/prnuscan/internal/model"
)

// SimpleWriter outputs human-readable text reports for terminal display.
// Status markers are colored when color output is enabled; fatih/color
// turns itself off when the output is not a terminal or NO_COLOR is set.
type SimpleWriter struct {
	baseWriter

	// verbose adds the per-device table.
	verbose bool

	// color overrides fatih/color's terminal detection when set.
	color *bool

	good, warn, bad, info func(a ...any) string
}

// SimpleWriterOption configures a SimpleWriter.
type SimpleWriterOption func(*SimpleWriter)

// WithVerbose enables verbose output with per-device averages.
func WithVerbose(verbose bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.verbose = verbose
	}
}

// WithColor forces color output on or off.
func WithColor(enabled bool) SimpleWriterOption {
	return func(w *SimpleWriter) {
		w.color = &enabled
	}
}

// NewSimpleWriter creates a SimpleWriter that outputs to the given writer.
func NewSimpleWriter(output io.Writer, opts ...SimpleWriterOption) *SimpleWriter {
	w := &SimpleWriter{baseWriter: newBaseWriter(output)}
	for _, opt := range opts {
		opt(w)
	}
	w.good = w.colorFunc(color.FgGreen)
	w.warn = w.colorFunc(color.FgYellow)
	w.bad = w.colorFunc(color.FgRed, color.Bold)
	w.info = w.colorFunc(color.FgBlue)
	return w
}

func (w *SimpleWriter) colorFunc(attrs ...color.Attribute) func(a ...any) string {
	c := color.New(attrs...)
	if w.color != nil {
		if *w.color {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return c.SprintFunc()
}

// Write outputs the summary in human-readable format.
func (w *SimpleWriter) Write(s *Summary) (int, error) {
	var sb strings.Builder

	w.writeHeader(&sb, s)
	w.writeOutcomes(&sb, s)
	if w.verbose {
		w.writeGroups(&sb, s)
	}
	w.writeWins(&sb, s)
	w.writeIdentification(&sb, s)
	w.writeFooter(&sb)

	return io.WriteString(w.output, sb.String())
}

func section(sb *strings.Builder, title string) {
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n")
	sb.WriteString(title)
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("-", 70))
	sb.WriteString("\n\n")
}

func (w *SimpleWriter) writeHeader(sb *strings.Builder, s *Summary) {
	sb.WriteString("\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("                      PRNU ANONYMIZATION REPORT\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n\n")

	fmt.Fprintf(sb, "Generated:  %s\n", s.GeneratedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(sb, "Algorithms: %d\n", len(s.Algorithms))
	fmt.Fprintf(sb, "Devices:    %d\n", len(s.Devices))
	if len(s.Groups) == 0 {
		fmt.Fprintf(sb, "%s No metrics recorded\n", w.warn("[!]"))
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) marker(o model.Outcome) string {
	switch o {
	case model.OutcomeAnonymized, model.OutcomeAlreadyBelow:
		return w.good("[+]")
	case model.OutcomeBestEffort:
		return w.warn("[!]")
	case model.OutcomeUnmodified:
		return w.bad("[-]")
	default:
		return w.info("[*]")
	}
}

func (w *SimpleWriter) writeOutcomes(sb *strings.Builder, s *Summary) {
	if len(s.Outcomes) == 0 {
		return
	}
	section(sb, "OUTCOMES")
	for _, a := range s.Algorithms {
		fmt.Fprintf(sb, "%s\n", DisplayName(a))
		for _, o := range model.Outcomes() {
			if n := s.Outcomes[a][o]; n > 0 {
				fmt.Fprintf(sb, "  %s %-14s %d\n", w.marker(o), o.String(), n)
			}
		}
		sb.WriteString("\n")
	}
}

func (w *SimpleWriter) writeGroups(sb *strings.Builder, s *Summary) {
	if len(s.Groups) == 0 {
		return
	}
	section(sb, "PER-DEVICE AVERAGES")
	fmt.Fprintf(sb, "  %-22s %-6s %6s %10s %10s %8s\n", "ALGORITHM", "DEVICE", "IMAGES", "PSNR", "PCE", "CCN")
	for _, g := range s.Groups {
		fmt.Fprintf(sb, "  %-22s %-6s %6d %10.3f %10.3f %8.4f\n",
			DisplayName(g.Algorithm), "D"+g.Device, g.Images, g.MeanPSNR, g.MeanPCE, g.MeanCCN)
	}
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeWins(sb *strings.Builder, s *Summary) {
	if len(s.Wins) == 0 {
		return
	}
	section(sb, "ALGORITHM COMPARISON")
	for _, win := range s.Wins {
		fmt.Fprintf(sb, "%s (%d images)\n", strings.ToUpper(win.Metric), win.Images)
		for _, a := range s.Algorithms {
			fmt.Fprintf(sb, "  %s %-22s %4d  %5.1f%%\n", w.info("[*]"), DisplayName(a), win.ByAlgorithm[a], win.Percent(a))
		}
		sb.WriteString("\n")
	}
}

func (w *SimpleWriter) writeIdentification(sb *strings.Builder, s *Summary) {
	id := s.Identification
	if id == nil {
		return
	}
	section(sb, "SOURCE IDENTIFICATION")
	fmt.Fprintf(sb, "  Images:       %d\n", id.Total)
	fmt.Fprintf(sb, "  Correct:      %s\n", w.good(id.Correct))
	fmt.Fprintf(sb, "  Unattributed: %s\n", w.warn(id.Unattributed))
	fmt.Fprintf(sb, "  Accuracy:     %.1f%%\n", 100*id.Accuracy())
	sb.WriteString("\n")
}

func (w *SimpleWriter) writeFooter(sb *strings.Builder) {
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
	sb.WriteString("Report generated by prnuscan\n")
	sb.WriteString("https://github.com/nao1215/prnuscan\n")
	sb.WriteString(strings.Repeat("=", 70))
	sb.WriteString("\n")
}
