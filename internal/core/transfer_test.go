package core

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
)

func TestSellValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addUser(t, aliceID, alicePhone)
	env.addUser(t, bobID, bobPhone)
	cert := env.register(t, "sn-100", DeviceTypePhone, aliceID)

	price := decimal.NewFromInt(1500)
	base := SaleRequest{
		CertificateID: cert.ID,
		SellerID:      aliceID,
		BuyerID:       bobID,
		BuyerName:     "Bob",
		DeviceType:    DeviceTypePhone,
		PurchasePrice: price,
	}

	tests := []struct {
		name   string
		mutate func(r *SaleRequest)
		want   error
	}{
		{"missing buyer", func(r *SaleRequest) { r.BuyerID = "" }, ErrMissingFields},
		{"malformed buyer", func(r *SaleRequest) { r.BuyerID = "3000000000" }, ErrInvalidID},
		{"sell to self", func(r *SaleRequest) { r.BuyerID = aliceID }, ErrCannotSellToSelf},
		{"type mismatch", func(r *SaleRequest) { r.DeviceType = DeviceTypeLaptop }, ErrDeviceTypeMismatch},
		{"unknown buyer", func(r *SaleRequest) { r.BuyerID = carolID }, ErrBuyerNotFound},
		{"zero price", func(r *SaleRequest) { r.PurchasePrice = decimal.Zero }, ErrInvalidPrice},
		{"negative price", func(r *SaleRequest) { r.PurchasePrice = decimal.NewFromInt(-5) }, ErrInvalidPrice},
		{"unknown certificate", func(r *SaleRequest) { r.CertificateID = "missing" }, ErrCertificateNotFound},
		{"seller does not own", func(r *SaleRequest) { r.SellerID = carolID }, ErrSellerNotOwner},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)
			_, err := env.services.Transfers.Sell(ctx, req)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	certs := env.certificatesFor(t, "sn-100")
	if len(certs) != 1 || certs[0].Status != CertificateActive {
		t.Fatalf("failed sales must not mutate the store, got %+v", certs)
	}
}

func TestSellToSelfLeavesStoreUntouched(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addUser(t, aliceID, alicePhone)

	_, err := env.services.Transfers.Sell(ctx, SaleRequest{
		SerialNumber:  "fresh-1",
		SellerID:      aliceID,
		SellerPhone:   alicePhone,
		BuyerID:       aliceID,
		DeviceType:    DeviceTypePhone,
		PurchasePrice: decimal.NewFromInt(10),
	})
	if !errors.Is(err, ErrCannotSellToSelf) || KindOf(err) != KindConflict {
		t.Fatalf("expected cannot_sell_to_self conflict, got %v", err)
	}
	if got := env.certificatesFor(t, "fresh-1"); len(got) != 0 {
		t.Fatalf("expected no certificates, got %d", len(got))
	}
	if topics := env.publisher.Topics(); len(topics) != 0 {
		t.Fatalf("expected no events, got %v", topics)
	}
}

func TestSellChainKeepsOneActiveCertificate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addUser(t, aliceID, alicePhone)
	env.addUser(t, bobID, bobPhone)
	env.addUser(t, carolID, carolPhone)

	first := env.register(t, "chain-1", DeviceTypeTablet, aliceID)

	// Dashboard sale: Alice sells the certificate she holds.
	second, err := env.services.Transfers.Sell(ctx, SaleRequest{
		CertificateID: first.ID,
		SellerID:      aliceID,
		BuyerID:       bobID,
		BuyerName:     "Bobby",
		DeviceType:    DeviceTypeTablet,
		PurchasePrice: decimal.RequireFromString("900.50"),
	})
	if err != nil {
		t.Fatalf("A->B sale: %v", err)
	}

	// Storefront sale: Carol registers a purchase from Bob.
	third, err := env.services.Transfers.Sell(ctx, SaleRequest{
		SerialNumber:  "CHAIN-1",
		SellerID:      bobID,
		SellerPhone:   "٠٥٠٠٠٠٠٠٠٢",
		BuyerID:       carolID,
		DeviceType:    DeviceTypeTablet,
		PurchasePrice: decimal.NewFromInt(700),
	})
	if err != nil {
		t.Fatalf("B->C sale: %v", err)
	}

	certs := env.certificatesFor(t, "chain-1")
	if len(certs) != 3 {
		t.Fatalf("expected 3 certificates, got %d", len(certs))
	}
	if n := countStatus(certs, certStatus, string(CertificateActive)); n != 1 {
		t.Fatalf("expected exactly one active certificate, got %d", n)
	}
	if n := countStatus(certs, certStatus, string(CertificateTransferred)); n != 2 {
		t.Fatalf("expected two transferred certificates, got %d", n)
	}

	byID := map[string]PurchaseCertificate{}
	for _, c := range certs {
		byID[c.ID] = c
	}
	active := byID[third.ID]
	if active.Status != CertificateActive || active.BuyerID != carolID {
		t.Fatalf("expected Carol to hold the active certificate, got %+v", active)
	}
	if active.OriginalCertificateID == nil || *active.OriginalCertificateID != second.ID {
		t.Fatalf("third certificate must chain to the second")
	}
	if mid := byID[second.ID]; mid.OriginalCertificateID == nil || *mid.OriginalCertificateID != first.ID {
		t.Fatalf("second certificate must chain to the first")
	}
	if byID[first.ID].OriginalCertificateID != nil {
		t.Fatalf("first certificate has no predecessor")
	}

	if second.BuyerName != "User "+bobID || second.BuyerNameAtSale != "Bobby" {
		t.Fatalf("unexpected buyer names %q / %q", second.BuyerName, second.BuyerNameAtSale)
	}
	if third.BuyerNameAtSale != third.BuyerName {
		t.Fatalf("untyped buyer name should fall back to the account name")
	}
	if third.SellerNationalID != bobID || third.SellerPhone != bobPhone {
		t.Fatalf("unexpected seller fields %s / %s", third.SellerNationalID, third.SellerPhone)
	}
	if !second.PurchasePrice.Equal(decimal.RequireFromString("900.5")) {
		t.Fatalf("unexpected price %s", second.PurchasePrice)
	}
	if first.CertificateNumber != "0000000001" || second.CertificateNumber != "0000000002" || third.CertificateNumber != "0000000003" {
		t.Fatalf("unexpected numbering %s %s %s", first.CertificateNumber, second.CertificateNumber, third.CertificateNumber)
	}
}

func TestStorefrontSaleChecksSeller(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addUser(t, aliceID, alicePhone)
	env.addUser(t, bobID, bobPhone)

	req := SaleRequest{
		SerialNumber:  "shop-1",
		SellerID:      aliceID,
		SellerPhone:   alicePhone,
		BuyerID:       bobID,
		DeviceType:    DeviceTypeCamera,
		PurchasePrice: decimal.NewFromInt(300),
	}

	wrongPhone := req
	wrongPhone.SellerPhone = "0599999999"
	if _, err := env.services.Transfers.Sell(ctx, wrongPhone); !errors.Is(err, ErrSellerPhoneMismatch) {
		t.Fatalf("expected seller phone mismatch, got %v", err)
	}

	unknownSeller := req
	unknownSeller.SellerID = carolID
	if _, err := env.services.Transfers.Sell(ctx, unknownSeller); !errors.Is(err, ErrSellerNotFound) {
		t.Fatalf("expected seller not found, got %v", err)
	}

	missingPhone := req
	missingPhone.SellerPhone = ""
	if _, err := env.services.Transfers.Sell(ctx, missingPhone); !errors.Is(err, ErrMissingFields) {
		t.Fatalf("expected missing fields, got %v", err)
	}

	// An unregistered device can be bought from a known seller.
	cert, err := env.services.Transfers.Sell(ctx, req)
	if err != nil {
		t.Fatalf("sale: %v", err)
	}
	if cert.OriginalCertificateID != nil {
		t.Fatalf("first certificate has no predecessor")
	}
}

func TestSellRefusesStolenDevice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addUser(t, aliceID, alicePhone)
	env.addUser(t, bobID, bobPhone)
	cert := env.register(t, "hot-1", DeviceTypePhone, aliceID)

	if _, err := env.services.Theft.FileReport(ctx, ReportRequest{
		ReporterID:    aliceID,
		ReporterPhone: alicePhone,
		DeviceType:    DeviceTypePhone,
		SerialNumber:  "hot-1",
		TheftDate:     "2024-03-01",
		Location:      "Riyadh - Riyadh - Al-Malaz",
	}); err != nil {
		t.Fatalf("file report: %v", err)
	}

	_, err := env.services.Transfers.Sell(ctx, SaleRequest{
		CertificateID: cert.ID,
		SellerID:      aliceID,
		BuyerID:       bobID,
		DeviceType:    DeviceTypePhone,
		PurchasePrice: decimal.NewFromInt(100),
	})
	if !errors.Is(err, ErrDeviceStolen) {
		t.Fatalf("expected device stolen, got %v", err)
	}
}

func TestRegisterDeviceConflicts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addUser(t, aliceID, alicePhone)
	env.addUser(t, bobID, bobPhone)

	env.register(t, "dup-1", DeviceTypeWatch, aliceID)

	_, err := env.services.Transfers.RegisterDevice(ctx, RegisterDeviceRequest{
		SerialNumber: "DUP-1", DeviceType: DeviceTypeWatch, OwnerID: bobID,
	})
	if !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected already registered, got %v", err)
	}

	_, err = env.services.Transfers.RegisterDevice(ctx, RegisterDeviceRequest{
		SerialNumber: "new-1", DeviceType: DeviceTypeWatch, OwnerID: carolID,
	})
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected unknown owner, got %v", err)
	}

	_, err = env.services.Transfers.RegisterDevice(ctx, RegisterDeviceRequest{
		SerialNumber: "new-1", DeviceType: "toaster", OwnerID: aliceID,
	})
	if !errors.Is(err, ErrInvalidDeviceType) {
		t.Fatalf("expected invalid device type, got %v", err)
	}
}

func TestRegisterDeviceRefusesReportedSerial(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.addUser(t, aliceID, alicePhone)

	if _, err := env.services.Theft.FileReport(ctx, ReportRequest{
		ReporterID:    aliceID,
		ReporterPhone: alicePhone,
		DeviceType:    DeviceTypeLaptop,
		SerialNumber:  "lost-1",
		TheftDate:     "2024-03-01",
		Location:      "Makkah - Jeddah - Al-Rawdah",
	}); err != nil {
		t.Fatalf("file report: %v", err)
	}

	_, err := env.services.Transfers.RegisterDevice(ctx, RegisterDeviceRequest{
		SerialNumber: "lost-1", DeviceType: DeviceTypeLaptop, OwnerID: aliceID,
	})
	if !errors.Is(err, ErrDeviceStolen) {
		t.Fatalf("expected device stolen, got %v", err)
	}
}

func TestConcurrentRegistrationIssuesOneCertificate(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, aliceID, alicePhone)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.services.Transfers.RegisterDevice(context.Background(), RegisterDeviceRequest{
				SerialNumber: "race-1", DeviceType: DeviceTypePhone, OwnerID: aliceID,
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrAlreadyRegistered):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || conflicts != workers-1 {
		t.Fatalf("expected 1 success and %d conflicts, got %d / %d", workers-1, successes, conflicts)
	}
}

func TestCreatePurchaseCertificateValidates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	price := decimal.NewFromInt(250)

	_, err := env.services.Transfers.CreatePurchaseCertificate(ctx, CertificateDraft{DeviceType: DeviceTypePhone, BuyerID: aliceID, PurchasePrice: price}, "admin")
	if !errors.Is(err, ErrMissingFields) {
		t.Fatalf("expected missing fields, got %v", err)
	}

	for _, p := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-1)} {
		draft := CertificateDraft{SerialNumber: "adm-0", DeviceType: DeviceTypePhone, BuyerID: aliceID, PurchasePrice: p}
		if _, err := env.services.Transfers.CreatePurchaseCertificate(ctx, draft, "admin"); !errors.Is(err, ErrInvalidPrice) {
			t.Fatalf("price %s: expected invalid price, got %v", p, err)
		}
	}
	if got := env.certificatesFor(t, "adm-0"); len(got) != 0 {
		t.Fatalf("expected no certificates, got %d", len(got))
	}

	draft := CertificateDraft{SerialNumber: "adm-1", DeviceType: DeviceTypePhone, BuyerID: aliceID, PurchasePrice: price}
	if _, err := env.services.Transfers.CreatePurchaseCertificate(ctx, draft, "admin"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := env.services.Transfers.CreatePurchaseCertificate(ctx, draft, "admin"); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("expected already registered, got %v", err)
	}
}

func TestCreatePurchaseCertificateRefusesReportedSerial(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.services.Theft.FileReport(ctx, validReport("st-1")); err != nil {
		t.Fatalf("file report: %v", err)
	}

	_, err := env.services.Transfers.CreatePurchaseCertificate(ctx, CertificateDraft{
		SerialNumber:  "ST-1",
		DeviceType:    DeviceTypePhone,
		BuyerID:       bobID,
		PurchasePrice: decimal.NewFromInt(400),
	}, "admin")
	if !errors.Is(err, ErrDeviceStolen) {
		t.Fatalf("expected device stolen, got %v", err)
	}
	if got := env.certificatesFor(t, "st-1"); len(got) != 0 {
		t.Fatalf("expected no certificates, got %d", len(got))
	}

	check, err := env.services.Resolver.CheckDevice(ctx, "st-1")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if check.Status != DeviceStolen || check.Certificate != nil {
		t.Fatalf("expected a stolen device without a certificate, got %+v", check)
	}
}

func TestConcurrentSalesIssueOneCertificate(t *testing.T) {
	env := newTestEnv(t)
	env.addUser(t, aliceID, alicePhone)
	env.addUser(t, bobID, bobPhone)
	env.addUser(t, carolID, carolPhone)
	env.register(t, "race-2", DeviceTypePhone, aliceID)

	const workers = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	for i := 0; i < workers; i++ {
		buyer := bobID
		if i%2 == 1 {
			buyer = carolID
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.services.Transfers.Sell(context.Background(), SaleRequest{
				SerialNumber:  "race-2",
				SellerID:      aliceID,
				SellerPhone:   alicePhone,
				BuyerID:       buyer,
				DeviceType:    DeviceTypePhone,
				PurchasePrice: decimal.NewFromInt(500),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrSellerNotOwner):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 || conflicts != workers-1 {
		t.Fatalf("expected 1 success and %d conflicts, got %d / %d", workers-1, successes, conflicts)
	}
	certs := env.certificatesFor(t, "race-2")
	if len(certs) != 2 {
		t.Fatalf("expected 2 certificates, got %d", len(certs))
	}
	if n := countStatus(certs, certStatus, string(CertificateActive)); n != 1 {
		t.Fatalf("expected exactly one active certificate, got %d", n)
	}
}
