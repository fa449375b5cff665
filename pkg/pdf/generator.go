package pdf

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/jung-kurt/gofpdf"
)

// Document is the content of a rendered form summary.
type Document struct {
	Title    string
	Subtitle string
	Sections []Section
}

// Section is a titled block of label/value rows.
type Section struct {
	Heading string
	Rows    []Row
}

// Row is a single label/value line.
type Row struct {
	Label string
	Value string
}

type Generator interface {
	Generate(ctx context.Context, doc Document) (io.ReadSeeker, error)
}

// Options configures page layout.
type Options struct {
	PageSize      string
	FontFamily    string
	FontSize      float64
	TitleFontSize float64
	LabelWidth    float64
	DateFormat    string
	HeaderColor   Color
}

// Color is an RGB color.
type Color struct {
	R, G, B int
}

// DefaultOptions returns A4 portrait options.
func DefaultOptions() Options {
	return Options{
		PageSize:      "A4",
		FontFamily:    "Arial",
		FontSize:      10,
		TitleFontSize: 16,
		LabelWidth:    60,
		DateFormat:    "2006-01-02 15:04 MST",
		HeaderColor:   Color{R: 0, G: 94, B: 184},
	}
}

type gofpdfGenerator struct {
	options Options
}

func NewGenerator(options Options) Generator {
	return &gofpdfGenerator{options: options}
}

func (g *gofpdfGenerator) Generate(ctx context.Context, doc Document) (io.ReadSeeker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pdf := gofpdf.New("P", "mm", g.options.PageSize, "")
	pdf.SetMargins(15, 20, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont(g.options.FontFamily, "", 8)
		pdf.SetTextColor(128, 128, 128)
		pdf.CellFormat(0, 10, fmt.Sprintf("Page %d", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont(g.options.FontFamily, "B", g.options.TitleFontSize)
	pdf.SetTextColor(0, 0, 0)
	pdf.CellFormat(0, 10, tr(doc.Title), "", 1, "C", false, 0, "")

	if doc.Subtitle != "" {
		pdf.SetFont(g.options.FontFamily, "", g.options.FontSize+2)
		pdf.SetTextColor(100, 100, 100)
		pdf.CellFormat(0, 8, tr(doc.Subtitle), "", 1, "C", false, 0, "")
	}

	pdf.SetFont(g.options.FontFamily, "", g.options.FontSize-1)
	pdf.SetTextColor(128, 128, 128)
	generated := fmt.Sprintf("Generated: %s", time.Now().UTC().Format(g.options.DateFormat))
	pdf.CellFormat(0, 6, generated, "", 1, "R", false, 0, "")

	for _, section := range doc.Sections {
		pdf.Ln(6)
		pdf.SetFont(g.options.FontFamily, "B", g.options.FontSize+1)
		pdf.SetFillColor(g.options.HeaderColor.R, g.options.HeaderColor.G, g.options.HeaderColor.B)
		pdf.SetTextColor(255, 255, 255)
		pdf.CellFormat(0, 8, tr(section.Heading), "", 1, "L", true, 0, "")
		pdf.Ln(2)

		pdf.SetTextColor(0, 0, 0)
		for _, row := range section.Rows {
			pdf.SetFont(g.options.FontFamily, "B", g.options.FontSize)
			pdf.CellFormat(g.options.LabelWidth, 6, tr(row.Label+":"), "", 0, "L", false, 0, "")
			pdf.SetFont(g.options.FontFamily, "", g.options.FontSize)
			pdf.MultiCell(0, 6, tr(row.Value), "", "L", false)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return bytes.NewReader(buf.Bytes()), nil
}
