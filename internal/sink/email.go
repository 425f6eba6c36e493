// Package sink implements handoff delivery targets. Every sink is
// best-effort: the pipeline records the lead before delivery, so a sink
// failure loses a notification, never the lead itself.
package sink

import (
	"context"
	"fmt"
	"log/slog"
	"net/smtp"
	"strings"

	"github.com/eekr1/emlak-ymh/internal/handoff"
)

// EmailConfig holds SMTP settings for the email sink.
type EmailConfig struct {
	Host      string
	Port      int
	User      string
	Pass      string
	From      string
	DefaultTo []string // used when the brand has no handoff_to list
}

// EmailSink delivers handoffs as plain-text notification emails to the
// brand's office.
type EmailSink struct {
	cfg    EmailConfig
	logger *slog.Logger

	// send is swappable for tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailSink creates an email sink. With no SMTP host configured it runs
// in dev mode: deliveries are logged instead of sent.
func NewEmailSink(cfg EmailConfig, logger *slog.Logger) *EmailSink {
	return &EmailSink{cfg: cfg, logger: logger, send: smtp.SendMail}
}

// Name implements handoff.Deliverer.
func (s *EmailSink) Name() string { return "email" }

// Deliver implements handoff.Deliverer.
func (s *EmailSink) Deliver(_ context.Context, d handoff.Delivery) error {
	to := d.Brand.HandoffTo
	if len(to) == 0 {
		to = s.cfg.DefaultTo
	}
	if len(to) == 0 {
		return fmt.Errorf("sink: no recipients for brand %q", d.BrandKey)
	}

	subject := buildSubject(d)
	body := buildBody(d)

	if s.cfg.Host == "" {
		s.logger.Info("sink: handoff email (dev mode, SMTP not configured)",
			"to", strings.Join(to, ","),
			"subject", subject,
		)
		return nil
	}

	msg := fmt.Sprintf(
		"From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s",
		s.cfg.From, strings.Join(to, ", "), subject, body,
	)

	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	var auth smtp.Auth
	if s.cfg.User != "" {
		auth = smtp.PlainAuth("", s.cfg.User, s.cfg.Pass, s.cfg.Host)
	}

	if err := s.send(addr, auth, s.cfg.From, to, []byte(msg)); err != nil {
		return fmt.Errorf("sink: send handoff email: %w", err)
	}
	return nil
}

func buildSubject(d handoff.Delivery) string {
	prefix := d.Brand.SubjectPrefix
	if prefix == "" {
		prefix = "[" + d.Brand.DisplayName(d.BrandKey) + "]"
	}
	name := d.Handoff.Payload.Contact.Name
	if name == "" {
		name = "İsimsiz"
	}
	return fmt.Sprintf("%s Yeni Müşteri Talebi - %s", prefix, name)
}

func buildBody(d handoff.Delivery) string {
	p := d.Handoff.Payload

	var b strings.Builder
	fmt.Fprintf(&b, "Yeni müşteri talebi alındı.\r\n\r\n")
	fmt.Fprintf(&b, "Marka: %s\r\n", d.Brand.DisplayName(d.BrandKey))
	fmt.Fprintf(&b, "Tarih: %s\r\n", d.Timestamp.Format("02.01.2006 15:04"))
	fmt.Fprintf(&b, "Konuşma: %s\r\n\r\n", d.ThreadID)

	fmt.Fprintf(&b, "İLETİŞİM\r\n")
	fmt.Fprintf(&b, "  Ad Soyad: %s\r\n", p.Contact.Name)
	fmt.Fprintf(&b, "  Telefon: %s\r\n\r\n", p.Contact.Phone)

	fmt.Fprintf(&b, "TALEP\r\n")
	fmt.Fprintf(&b, "  Özet: %s\r\n", p.Request.Summary)
	if p.Request.Details != "" {
		fmt.Fprintf(&b, "  Detay: %s\r\n", p.Request.Details)
	}
	fmt.Fprintf(&b, "  Kategori: %s\r\n", p.Matter.Category)
	fmt.Fprintf(&b, "  Aciliyet: %s\r\n\r\n", p.Matter.Urgency)

	if m := p.PreferredMeeting; m.Mode != "" || m.Date != "" || m.Time != "" {
		fmt.Fprintf(&b, "GÖRÜŞME TERCİHİ\r\n")
		writeField(&b, "Şekil", m.Mode)
		writeField(&b, "Tarih", m.Date)
		writeField(&b, "Saat", m.Time)
		b.WriteString("\r\n")
	}

	if prop := p.Property; prop != nil {
		fmt.Fprintf(&b, "GAYRİMENKUL\r\n")
		writeField(&b, "İşlem", prop.TransactionType)
		writeField(&b, "Tip", prop.PropertyType)
		writeField(&b, "Konum", prop.Location)
		writeField(&b, "Bütçe", prop.Budget)
		b.WriteString("\r\n")
	}

	if d.VisitorID != "" || d.SessionID != "" || d.Source != "" {
		fmt.Fprintf(&b, "KAYNAK\r\n")
		writeField(&b, "Ziyaretçi", d.VisitorID)
		writeField(&b, "Oturum", d.SessionID)
		writeField(&b, "Kanal", d.Source)
	}

	return b.String()
}

func writeField(b *strings.Builder, label, value string) {
	if value != "" {
		fmt.Fprintf(b, "  %s: %s\r\n", label, value)
	}
}

var _ handoff.Deliverer = (*EmailSink)(nil)
