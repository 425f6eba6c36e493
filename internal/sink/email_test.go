package sink

import (
	"context"
	"net/smtp"
	"strings"
	"testing"
	"time"

	"github.com/eekr1/emlak-ymh/internal/brand"
	"github.com/eekr1/emlak-ymh/internal/handoff"
	"github.com/eekr1/emlak-ymh/internal/model"
	"github.com/eekr1/emlak-ymh/internal/testutil"
)

func testDelivery() handoff.Delivery {
	return handoff.Delivery{
		Timestamp: time.Date(2025, 3, 10, 14, 30, 0, 0, time.UTC),
		BrandKey:  "yilmaz",
		Brand: brand.Config{
			BrandName:     "Yılmaz Emlak",
			SubjectPrefix: "[Yılmaz Emlak]",
			HandoffTo:     []string{"ofis@yilmaz.example"},
		},
		ThreadID:  "thread_abc",
		VisitorID: "v-9",
		Handoff: model.Handoff{
			Kind: model.HandoffKindCustomerRequest,
			Payload: model.HandoffPayload{
				Contact: model.HandoffContact{Name: "Ayşe Yılmaz", Phone: "05551234567"},
				Request: model.HandoffRequest{Summary: "Satılık talebi", Details: "Kadıköy'de 3+1"},
				Matter:  model.HandoffMatter{Category: "satılık", Urgency: "normal"},
				PreferredMeeting: model.HandoffMeeting{
					Mode: "telefon", Date: "2025-03-11", Time: "10:00",
				},
				Property: &model.HandoffProperty{
					TransactionType: "satılık", PropertyType: "daire",
					Location: "Kadıköy", Budget: "5M TL",
				},
			},
		},
	}
}

func TestEmailSinkSendsToBrandRecipients(t *testing.T) {
	var gotTo []string
	var gotMsg string

	s := NewEmailSink(EmailConfig{
		Host: "smtp.example.com",
		Port: 587,
		From: "noreply@example.com",
	}, testutil.TestLogger())
	s.send = func(addr string, _ smtp.Auth, from string, to []string, msg []byte) error {
		if addr != "smtp.example.com:587" {
			t.Fatalf("unexpected addr %q", addr)
		}
		if from != "noreply@example.com" {
			t.Fatalf("unexpected from %q", from)
		}
		gotTo = to
		gotMsg = string(msg)
		return nil
	}

	if err := s.Deliver(context.Background(), testDelivery()); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}

	if len(gotTo) != 1 || gotTo[0] != "ofis@yilmaz.example" {
		t.Fatalf("expected brand recipients, got %v", gotTo)
	}
	for _, want := range []string{
		"Subject: [Yılmaz Emlak] Yeni Müşteri Talebi - Ayşe Yılmaz",
		"Ad Soyad: Ayşe Yılmaz",
		"Telefon: 05551234567",
		"Kategori: satılık",
		"Konum: Kadıköy",
		"Saat: 10:00",
	} {
		if !strings.Contains(gotMsg, want) {
			t.Fatalf("message missing %q:\n%s", want, gotMsg)
		}
	}
}

func TestEmailSinkFallsBackToDefaultRecipients(t *testing.T) {
	var gotTo []string

	s := NewEmailSink(EmailConfig{
		Host:      "smtp.example.com",
		Port:      25,
		From:      "noreply@example.com",
		DefaultTo: []string{"lead@office.example"},
	}, testutil.TestLogger())
	s.send = func(_ string, _ smtp.Auth, _ string, to []string, _ []byte) error {
		gotTo = to
		return nil
	}

	d := testDelivery()
	d.Brand.HandoffTo = nil
	if err := s.Deliver(context.Background(), d); err != nil {
		t.Fatalf("Deliver failed: %v", err)
	}
	if len(gotTo) != 1 || gotTo[0] != "lead@office.example" {
		t.Fatalf("expected default recipients, got %v", gotTo)
	}
}

func TestEmailSinkNoRecipients(t *testing.T) {
	s := NewEmailSink(EmailConfig{Host: "smtp.example.com"}, testutil.TestLogger())
	d := testDelivery()
	d.Brand.HandoffTo = nil
	if err := s.Deliver(context.Background(), d); err == nil {
		t.Fatal("expected error with no recipients")
	}
}

func TestEmailSinkDevMode(t *testing.T) {
	s := NewEmailSink(EmailConfig{}, testutil.TestLogger())
	s.send = func(_ string, _ smtp.Auth, _ string, _ []string, _ []byte) error {
		t.Fatal("send must not be called in dev mode")
		return nil
	}
	if err := s.Deliver(context.Background(), testDelivery()); err != nil {
		t.Fatalf("dev mode delivery should succeed: %v", err)
	}
}
