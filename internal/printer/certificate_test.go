package printer

import (
	"bytes"
	"testing"

	"github.com/24hmood24/checkserialnum/internal/core"
	"github.com/shopspring/decimal"
)

func TestRenderCertificatePDF(t *testing.T) {
	cert := &core.PurchaseCertificate{
		CertificateNumber: "0000000042",
		SerialNumber:      "sn-123",
		DeviceType:        core.DeviceTypePhone,
		BuyerID:           "1000000001",
		BuyerNameAtSale:   "Alice",
		SellerNationalID:  "1000000002",
		PurchasePrice:     decimal.RequireFromString("1500.50"),
		IssueDate:         "2024-05-01",
		Status:            core.CertificateActive,
	}

	out, err := RenderCertificatePDF(cert, VerifyURL("http://localhost:8080", "sn-123"))
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if !bytes.HasPrefix(out, []byte("%PDF-")) {
		t.Fatalf("output is not a PDF: %q", out[:8])
	}

	if _, err := RenderCertificatePDF(nil, ""); err == nil {
		t.Fatal("expected an error for a nil certificate")
	}
}

func TestVerifyURL(t *testing.T) {
	got := VerifyURL("https://check.example", "a b&c")
	if got != "https://check.example/api/v1/check?serial=a+b%26c" {
		t.Fatalf("unexpected url %s", got)
	}
}
