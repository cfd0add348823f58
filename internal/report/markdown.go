package report

import (
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/nao1215/markdown"
	"github.com/nao1215/markdown/mermaid/piechart"

	"github.com/nao1215/prnuscan/internal/model"
)

// MarkdownWriter outputs reports in Markdown format for documentation and
// sharing. Outcome and win distributions are rendered as mermaid pie charts.
type MarkdownWriter struct {
	baseWriter
}

// NewMarkdownWriter creates a MarkdownWriter that outputs to the given writer.
func NewMarkdownWriter(output io.Writer) *MarkdownWriter {
	return &MarkdownWriter{baseWriter: newBaseWriter(output)}
}

// Write outputs the summary in Markdown format.
func (w *MarkdownWriter) Write(s *Summary) (int, error) {
	md := markdown.NewMarkdown(w.output)

	w.writeHeader(md, s)
	w.writeOutcomes(md, s)
	w.writeGroups(md, s)
	w.writeWins(md, s)
	w.writeIdentification(md, s)
	w.writeFooter(md)

	return len(md.String()), md.Build()
}

func (w *MarkdownWriter) writeHeader(md *markdown.Markdown, s *Summary) {
	md.H1("PRNU Anonymization Report")
	md.PlainText("")

	names := make([]string, len(s.Algorithms))
	for i, a := range s.Algorithms {
		names[i] = DisplayName(a)
	}
	md.Table(markdown.TableSet{
		Header: []string{"Property", "Value"},
		Rows: [][]string{
			{"Generated", s.GeneratedAt.Format("2006-01-02 15:04:05 MST")},
			{"Algorithms", joinOrDash(names)},
			{"Devices", strconv.Itoa(len(s.Devices))},
		},
	})
	md.PlainText("")

	if len(s.Groups) == 0 {
		md.Note("No metrics recorded yet. Run the anonymize or metrics command first.")
		md.PlainText("")
	}
}

func (w *MarkdownWriter) writeOutcomes(md *markdown.Markdown, s *Summary) {
	if len(s.Outcomes) == 0 {
		return
	}
	md.H2("Outcomes")
	md.PlainText("")

	header := []string{"Algorithm"}
	for _, o := range model.Outcomes() {
		header = append(header, o.String())
	}
	rows := make([][]string, 0, len(s.Algorithms))
	for _, a := range s.Algorithms {
		row := []string{DisplayName(a)}
		for _, o := range model.Outcomes() {
			row = append(row, strconv.Itoa(s.Outcomes[a][o]))
		}
		rows = append(rows, row)
	}
	md.Table(markdown.TableSet{Header: header, Rows: rows})
	md.PlainText("")

	for _, a := range s.Algorithms {
		chart := piechart.NewPieChart(
			io.Discard,
			piechart.WithTitle(DisplayName(a)+" outcomes"),
			piechart.WithShowData(true),
		)
		for _, o := range model.Outcomes() {
			if n := s.Outcomes[a][o]; n > 0 {
				chart.LabelAndIntValue(o.String(), uint64(n))
			}
		}
		md.CodeBlocks(markdown.SyntaxHighlightMermaid, chart.String())
		md.PlainText("")
	}

	w.writeAlert(md, s)
}

// writeAlert flags algorithms that left images unmodified.
func (w *MarkdownWriter) writeAlert(md *markdown.Markdown, s *Summary) {
	var failed []string
	for _, a := range s.Algorithms {
		if s.Outcomes[a][model.OutcomeUnmodified] > 0 {
			failed = append(failed, fmt.Sprintf("%s (%d)", DisplayName(a), s.Outcomes[a][model.OutcomeUnmodified]))
		}
	}
	if len(failed) > 0 {
		md.Warningf("Some images could not be improved and were left unmodified: %s.", joinOrDash(failed))
	} else {
		md.Tip("Every processed image was improved or already below the threshold.")
	}
	md.PlainText("")
}

func (w *MarkdownWriter) writeGroups(md *markdown.Markdown, s *Summary) {
	if len(s.Groups) == 0 {
		return
	}
	md.H2("Per-Device Averages")
	md.PlainText("")

	rows := make([][]string, len(s.Groups))
	for i, g := range s.Groups {
		rows[i] = []string{
			DisplayName(g.Algorithm),
			"D" + g.Device,
			strconv.Itoa(g.Images),
			formatFloat(g.MeanPSNR),
			formatFloat(g.MeanPCE),
			formatFloat(g.MeanCCN),
		}
	}
	md.Table(markdown.TableSet{
		Header: []string{"Algorithm", "Device", "Images", "PSNR (dB)", "PCE", "CCN"},
		Rows:   rows,
	})
	md.PlainText("")
}

func (w *MarkdownWriter) writeWins(md *markdown.Markdown, s *Summary) {
	if len(s.Wins) == 0 {
		return
	}
	md.H2("Algorithm Comparison")
	md.PlainText("")
	md.PlainText("An algorithm wins an image when it scores strictly better than every other " +
		"algorithm: highest PSNR, or largest PCE or CCN drop.")
	md.PlainText("")

	header := []string{"Metric", "Images"}
	for _, a := range s.Algorithms {
		header = append(header, DisplayName(a))
	}
	rows := make([][]string, len(s.Wins))
	for i, win := range s.Wins {
		row := []string{win.Metric, strconv.Itoa(win.Images)}
		for _, a := range s.Algorithms {
			row = append(row, fmt.Sprintf("%d (%.1f%%)", win.ByAlgorithm[a], win.Percent(a)))
		}
		rows[i] = row
	}
	md.Table(markdown.TableSet{Header: header, Rows: rows})
	md.PlainText("")
}

func (w *MarkdownWriter) writeIdentification(md *markdown.Markdown, s *Summary) {
	id := s.Identification
	if id == nil {
		return
	}
	md.H2("Source Identification")
	md.PlainText("")
	md.Table(markdown.TableSet{
		Header: []string{"Images", "Correct", "Unattributed", "Accuracy"},
		Rows: [][]string{{
			strconv.Itoa(id.Total),
			strconv.Itoa(id.Correct),
			strconv.Itoa(id.Unattributed),
			fmt.Sprintf("%.1f%%", 100*id.Accuracy()),
		}},
	})
	md.PlainText("")

	devices := make([]string, 0, len(id.Confusion))
	for d := range id.Confusion {
		devices = append(devices, d)
	}
	slices.Sort(devices)

	rows := make([][]string, 0)
	for _, d := range devices {
		preds := make([]string, 0, len(id.Confusion[d]))
		for p := range id.Confusion[d] {
			preds = append(preds, p)
		}
		slices.Sort(preds)
		for _, p := range preds {
			label := "D" + p
			if p == "" {
				label = "-"
			}
			rows = append(rows, []string{"D" + d, label, strconv.Itoa(id.Confusion[d][p])})
		}
	}
	confusion := markdown.NewMarkdown(io.Discard)
	confusion.Table(markdown.TableSet{
		Header: []string{"True", "Predicted", "Images"},
		Rows:   rows,
	})
	md.Details("Confusion counts", confusion.String())
	md.PlainText("")
}

func (w *MarkdownWriter) writeFooter(md *markdown.Markdown) {
	md.HorizontalRule()
	md.PlainText("")
	md.PlainTextf("*Report generated by [prnuscan](https://github.com/nao1215/prnuscan)*")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func joinOrDash(items []string) string {
	if len(items) == 0 {
		return "-"
	}
	return strings.Join(items, ", ")
}
