package core

import (
	"context"
	"errors"
	"testing"
)

func TestCollectionCRUD(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user := &AppUser{NationalID: aliceID, FullName: "Alice", PhoneNumber: alicePhone, PasswordHash: "x", UserType: UserRegular}
	if err := store.Users().Create(ctx, user); err != nil {
		t.Fatalf("create: %v", err)
	}
	if user.ID == "" {
		t.Fatal("expected an assigned ID")
	}

	got, err := store.Users().Get(ctx, user.ID)
	if err != nil || got == nil || got.FullName != "Alice" {
		t.Fatalf("get: %+v, %v", got, err)
	}

	if err := store.Users().Update(ctx, user.ID, map[string]interface{}{"fullName": "Alice B"}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ = store.Users().Get(ctx, user.ID)
	if got.FullName != "Alice B" {
		t.Fatalf("expected updated name, got %s", got.FullName)
	}

	missing, err := store.Users().Get(ctx, "nope")
	if err != nil || missing != nil {
		t.Fatalf("missing records are nil without error, got %+v, %v", missing, err)
	}
	if err := store.Users().Update(ctx, "nope", map[string]interface{}{"fullName": "x"}); err == nil {
		t.Fatal("expected update of a missing record to fail")
	}
}

func TestCollectionRejectsUnknownFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if _, err := store.Users().List(ctx, "-passwordHash", 1); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("hidden fields cannot be sorted on, got %v", err)
	}
	if _, err := store.Certificates().Filter(ctx, Query{Equals: map[string]interface{}{"drop table": 1}}, ""); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("expected invalid query, got %v", err)
	}
	if err := store.Reports().Update(ctx, "id", map[string]interface{}{"bogus": 1}); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("expected invalid query, got %v", err)
	}
}

func TestCollectionUpdatesHiddenFields(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user := &AppUser{NationalID: aliceID, FullName: "Alice", PhoneNumber: alicePhone, PasswordHash: "old", UserType: UserRegular}
	if err := store.Users().Create(ctx, user); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := store.Users().Update(ctx, user.ID, map[string]interface{}{"passwordHash": "new"}); err != nil {
		t.Fatalf("update hidden field: %v", err)
	}
	got, err := store.Users().Get(ctx, user.ID)
	if err != nil || got.PasswordHash != "new" {
		t.Fatalf("expected updated hash, got %+v, %v", got, err)
	}
	if _, err := store.Users().Filter(ctx, Query{Equals: map[string]interface{}{"passwordHash": "new"}}, ""); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("hidden fields cannot be filtered on, got %v", err)
	}
}

func TestCollectionFilterAndSort(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	insertCertificate(t, store, "0000000003", "abc-1")
	insertCertificate(t, store, "0000000001", "ABC-2")
	insertCertificate(t, store, "0000000002", "xyz-3")

	rows, err := store.Certificates().Filter(ctx, Query{Contains: map[string]string{"serialNumber": "abc"}}, "certificateNumber")
	if err != nil {
		t.Fatalf("filter: %v", err)
	}
	if len(rows) != 2 || rows[0].CertificateNumber != "0000000001" {
		t.Fatalf("unexpected rows %+v", rows)
	}

	rows, err = store.Certificates().List(ctx, "-certificateNumber", 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 2 || rows[0].CertificateNumber != "0000000003" || rows[1].CertificateNumber != "0000000002" {
		t.Fatalf("unexpected order %+v", rows)
	}

	counts, err := store.Certificates().CountBy(ctx, "status")
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts["transferred"] != 3 {
		t.Fatalf("unexpected counts %v", counts)
	}
}

func TestActiveSerialIsUnique(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	active := func(number string) *PurchaseCertificate {
		return &PurchaseCertificate{
			CertificateNumber: number,
			SerialNumber:      "uniq-1",
			DeviceType:        DeviceTypePhone,
			BuyerID:           aliceID,
			IssueDate:         "2024-01-01",
			Status:            CertificateActive,
		}
	}
	if err := store.Certificates().Create(ctx, active("0000000001")); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := store.Certificates().Create(ctx, active("0000000002")); err == nil {
		t.Fatal("a second active certificate for the serial must be rejected")
	}
}

func TestWithTransactionRollsBack(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithTransaction(ctx, func(ctx context.Context, tx DataStore) error {
		insertCertificate(t, tx, "0000000001", "tx-1")
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	rows, err := store.Certificates().List(ctx, "", 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("expected rollback, found %d rows", len(rows))
	}
}
