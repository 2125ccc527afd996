package printer

import (
	"bytes"
	"fmt"
	"net/url"

	"github.com/24hmood24/checkserialnum/internal/core"
	"github.com/jung-kurt/gofpdf"
	"github.com/skip2/go-qrcode"
)

const qrImageName = "verify_qr"

// RenderCertificatePDF renders cert as a single A4 page with a QR code that
// points at verifyURL.
func RenderCertificatePDF(cert *core.PurchaseCertificate, verifyURL string) ([]byte, error) {
	if cert == nil {
		return nil, fmt.Errorf("certificate is required")
	}

	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(20, 20, 20)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetTitle("Purchase certificate "+cert.CertificateNumber, true)
	pdf.AddPage()

	// Core fonts are cp1252; characters outside it are dropped.
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pdf.SetFont("Arial", "B", 20)
	pdf.CellFormat(0, 12, "Purchase Certificate", "", 1, "C", false, 0, "")
	pdf.SetFont("Arial", "", 12)
	pdf.CellFormat(0, 8, "No. "+cert.CertificateNumber, "", 1, "C", false, 0, "")
	pdf.Ln(8)

	rows := [][2]string{
		{"Serial number", cert.SerialNumber},
		{"Device type", string(cert.DeviceType)},
		{"Owner", cert.BuyerNameAtSale},
		{"Owner ID", cert.BuyerID},
		{"Issue date", cert.IssueDate},
		{"Status", string(cert.Status)},
	}
	if cert.SellerNationalID != "" {
		rows = append(rows, [2]string{"Seller ID", cert.SellerNationalID})
	}
	if cert.PurchasePrice.IsPositive() {
		rows = append(rows, [2]string{"Purchase price", cert.PurchasePrice.StringFixed(2)})
	}

	for _, row := range rows {
		pdf.SetFont("Arial", "B", 11)
		pdf.CellFormat(50, 8, row[0], "B", 0, "L", false, 0, "")
		pdf.SetFont("Arial", "", 11)
		pdf.CellFormat(0, 8, tr(row[1]), "B", 1, "L", false, 0, "")
	}

	if verifyURL != "" {
		png, err := qrcode.Encode(verifyURL, qrcode.Medium, 256)
		if err != nil {
			return nil, fmt.Errorf("failed to encode QR code: %w", err)
		}

		opts := gofpdf.ImageOptions{ImageType: "PNG", ReadDpi: true}
		pdf.RegisterImageOptionsReader(qrImageName, opts, bytes.NewReader(png))

		const size = 45.0
		x := (210 - size) / 2
		y := pdf.GetY() + 15
		pdf.ImageOptions(qrImageName, x, y, size, size, false, opts, 0, "")

		pdf.SetXY(20, y+size+2)
		pdf.SetFont("Arial", "", 9)
		pdf.CellFormat(0, 5, "Scan to verify this device", "", 1, "C", false, 0, "")
		pdf.CellFormat(0, 5, verifyURL, "", 1, "C", false, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render certificate: %w", err)
	}
	return buf.Bytes(), nil
}

// VerifyURL builds the public check link for serial.
func VerifyURL(publicURL, serial string) string {
	return fmt.Sprintf("%s/api/v1/check?serial=%s", publicURL, url.QueryEscape(serial))
}
