package notification

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestTemplateEngine_RenderBuiltIn(t *testing.T) {
	e := NewTemplateEngine()
	subject, body, err := e.Render("appointment-booked", map[string]string{
		"owner_name":     "Priya",
		"pet_name":       "Bruno",
		"date":           "2026-09-02",
		"time":           "09:30",
		"doctor":         "Dr. Rao",
		"appointment_no": "OPD-20260902-0007",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(subject, "OPD-20260902-0007") {
		t.Errorf("subject missing appointment number: %s", subject)
	}
	if !strings.Contains(body, "Bruno") || !strings.Contains(body, "Dr. Rao") {
		t.Errorf("body missing substitutions: %s", body)
	}
}

func TestTemplateEngine_RenderUnknownTemplate(t *testing.T) {
	e := NewTemplateEngine()
	_, _, err := e.Render("no-such-template", nil)
	if err == nil {
		t.Fatal("expected error for unknown template")
	}
}

func TestTemplateEngine_MissingKeysLeftAsIs(t *testing.T) {
	e := NewTemplateEngine()
	_, body, err := e.Render(OTPTemplateID, map[string]string{"code": "123456"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(body, "123456") {
		t.Errorf("expected code in body: %s", body)
	}
	if !strings.Contains(body, "{{ttl}}") {
		t.Errorf("expected unresolved placeholder to remain: %s", body)
	}
}

func TestSend_Email(t *testing.T) {
	email := &MockEmailSender{}
	sms := &MockSMSSender{}
	mgr := NewNotificationManager(email, sms, NewTemplateEngine())

	n := &Notification{
		Type:      TypeEmail,
		Recipient: "owner@example.com",
		Subject:   "hello",
		Body:      "world",
	}
	if err := mgr.Send(context.Background(), n); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n.Status != "sent" {
		t.Errorf("expected status sent, got %s", n.Status)
	}
	if n.ID == "" {
		t.Error("expected ID to be assigned")
	}
	if len(email.Calls()) != 1 {
		t.Fatalf("expected 1 email call, got %d", len(email.Calls()))
	}
}

func TestSend_FailureRecorded(t *testing.T) {
	email := &MockEmailSender{ShouldFail: true, FailError: "smtp down"}
	mgr := NewNotificationManager(email, &MockSMSSender{}, NewTemplateEngine())

	n := &Notification{Type: TypeEmail, Recipient: "owner@example.com", Body: "x"}
	err := mgr.Send(context.Background(), n)
	if err == nil {
		t.Fatal("expected error")
	}
	if n.Status != "failed" {
		t.Errorf("expected status failed, got %s", n.Status)
	}
	if n.Error != "smtp down" {
		t.Errorf("expected error recorded, got %q", n.Error)
	}
}

func TestSendOTP_DeliversCode(t *testing.T) {
	sms := &MockSMSSender{}
	mgr := NewNotificationManager(&MockEmailSender{}, sms, NewTemplateEngine())

	err := mgr.SendOTP(context.Background(), "+919800000000", "Bruno", "482913", 5*time.Minute)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	calls := sms.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 SMS call, got %d", len(calls))
	}
	if !strings.Contains(calls[0].Body, "482913") {
		t.Errorf("SMS body missing code: %s", calls[0].Body)
	}
	if !strings.Contains(calls[0].Body, "5m0s") {
		t.Errorf("SMS body missing TTL: %s", calls[0].Body)
	}
}

func TestSendOTP_DeliveryFailureReturnsError(t *testing.T) {
	sms := &MockSMSSender{ShouldFail: true, FailError: "gateway unreachable"}
	mgr := NewNotificationManager(&MockEmailSender{}, sms, NewTemplateEngine())

	err := mgr.SendOTP(context.Background(), "+919800000000", "Bruno", "482913", 5*time.Minute)
	if err == nil {
		t.Fatal("expected error when SMS gateway fails")
	}
}

func TestRetry_OnlyFailed(t *testing.T) {
	email := &MockEmailSender{ShouldFail: true, FailError: "smtp down"}
	mgr := NewNotificationManager(email, &MockSMSSender{}, NewTemplateEngine())

	n := &Notification{Type: TypeEmail, Recipient: "owner@example.com", Body: "x"}
	_ = mgr.Send(context.Background(), n)

	// Sender recovers; retry should succeed.
	email.ShouldFail = false
	if err := mgr.Retry(context.Background(), n.ID); err != nil {
		t.Fatalf("unexpected retry error: %v", err)
	}

	got, err := mgr.GetNotification(context.Background(), n.ID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Status != "sent" {
		t.Errorf("expected sent after retry, got %s", got.Status)
	}

	// A second retry must be rejected: not in failed status anymore.
	if err := mgr.Retry(context.Background(), n.ID); err == nil {
		t.Error("expected error retrying a sent notification")
	}
}

func TestListByRecipient(t *testing.T) {
	mgr := NewNotificationManager(&MockEmailSender{}, &MockSMSSender{}, NewTemplateEngine())

	for i := 0; i < 3; i++ {
		_ = mgr.Send(context.Background(), &Notification{
			Type: TypeEmail, Recipient: "owner@example.com", Body: "x",
		})
	}
	_ = mgr.Send(context.Background(), &Notification{
		Type: TypeEmail, Recipient: "other@example.com", Body: "x",
	})

	list, err := mgr.ListByRecipient(context.Background(), "owner@example.com", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 3 {
		t.Errorf("expected 3 notifications, got %d", len(list))
	}
}

func TestNotificationStats(t *testing.T) {
	email := &MockEmailSender{}
	mgr := NewNotificationManager(email, &MockSMSSender{}, NewTemplateEngine())

	_ = mgr.Send(context.Background(), &Notification{Type: TypeEmail, Recipient: "a", Body: "x"})
	email.ShouldFail = true
	email.FailError = "smtp down"
	_ = mgr.Send(context.Background(), &Notification{Type: TypeEmail, Recipient: "b", Body: "x"})

	stats := mgr.NotificationStats(context.Background())
	if stats["sent"] != 1 {
		t.Errorf("expected 1 sent, got %d", stats["sent"])
	}
	if stats["failed"] != 1 {
		t.Errorf("expected 1 failed, got %d", stats["failed"])
	}
}
