package repository

import (
	"context"
	"testing"
	"time"

	"phone-otp-mfa/internal/audit/domain"
)

func TestMemoryRepository_ListByUser(t *testing.T) {
	r := NewMemoryRepository()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, e := range []domain.AuditLog{
		{ID: "1", Realm: "acme", UserID: "u1", Action: "sms_otp_challenge_sent"},
		{ID: "2", Realm: "acme", UserID: "u2", Action: "sms_otp_challenge_sent"},
		{ID: "3", Realm: "other", UserID: "u1", Action: "sms_otp_trusted"},
		{ID: "4", Realm: "acme", UserID: "u1", Action: "sms_otp_verified"},
	} {
		e.CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := r.Create(ctx, &e); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	got, err := r.ListByUser(ctx, "acme", "u1", 0)
	if err != nil {
		t.Fatalf("ListByUser: %v", err)
	}
	if len(got) != 2 || got[0].ID != "4" || got[1].ID != "1" {
		t.Fatalf("ListByUser = %+v, want ids 4,1", got)
	}

	got, _ = r.ListByUser(ctx, "acme", "u1", 1)
	if len(got) != 1 || got[0].ID != "4" {
		t.Errorf("limited ListByUser = %+v", got)
	}
}
