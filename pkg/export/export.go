package export

import (
	"bytes"
	"encoding/csv"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

// LoginSlip is one row of an exported login-URL hand-out.
type LoginSlip struct {
	UserLabel   string
	URL         string
	ActiveFrom  string
	ActiveUntil string
}

var headers = []string{"User", "Login URL", "Active From", "Active Until"}

// RenderCSV encodes slips as CSV bytes.
func RenderCSV(slips []LoginSlip) ([]byte, error) {
	buf := &bytes.Buffer{}
	writer := csv.NewWriter(buf)
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("write csv headers: %w", err)
	}
	for _, s := range slips {
		if err := writer.Write([]string{s.UserLabel, s.URL, s.ActiveFrom, s.ActiveUntil}); err != nil {
			return nil, fmt.Errorf("write csv row: %w", err)
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderPDF produces a printable hand-out, one block per slip. URLs can
// exceed the table width a plain grid would allow, so each slip gets a
// label row and a multi-cell URL row instead of fixed columns.
func RenderPDF(title string, slips []LoginSlip) ([]byte, error) {
	if len(slips) == 0 {
		return nil, fmt.Errorf("pdf requires at least one slip")
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(10, 15, 10)
	pdf.AddPage()

	if title != "" {
		pdf.SetFont("Arial", "B", 14)
		pdf.CellFormat(0, 10, title, "", 1, "C", false, 0, "")
		pdf.Ln(3)
	}

	for _, s := range slips {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(0, 7, s.UserLabel, "", 1, "", false, 0, "")

		pdf.SetFont("Courier", "", 9)
		pdf.MultiCell(0, 5, s.URL, "1", "", false)

		pdf.SetFont("Arial", "", 9)
		pdf.CellFormat(0, 6, fmt.Sprintf("Valid %s through %s", s.ActiveFrom, s.ActiveUntil), "", 1, "", false, 0, "")
		pdf.Ln(3)
	}

	buf := &bytes.Buffer{}
	if err := pdf.Output(buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
