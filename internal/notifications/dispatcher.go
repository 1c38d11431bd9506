package notifications

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/mailer"
)

// Dispatcher delivers receipts to buyers.
type Dispatcher interface {
	Dispatch(ctx context.Context, receipt Receipt) error
}

// LogDispatcher writes receipts to the log. Used when no mail provider is configured.
type LogDispatcher struct {
	logg *logger.Logger
}

func NewLogDispatcher(logg *logger.Logger) *LogDispatcher {
	return &LogDispatcher{logg: logg}
}

func (d *LogDispatcher) Dispatch(ctx context.Context, receipt Receipt) error {
	if d.logg == nil {
		return nil
	}
	ctx = d.logg.WithOrderID(ctx, receipt.OrderID.String())
	ctx = d.logg.WithFields(ctx, map[string]any{
		"recipient": receipt.Recipient,
		"total":     receipt.Total.StringFixed(2),
		"currency":  receipt.Currency,
		"items":     len(receipt.Items),
	})
	d.logg.Info(ctx, "order receipt dispatched")
	return nil
}

//go:embed templates/receipt.html
var templateFS embed.FS

var receiptTemplate = template.Must(template.ParseFS(templateFS, "templates/receipt.html"))

type mailSender interface {
	Send(ctx context.Context, msg mailer.Message) error
}

// MailDispatcher renders the HTML receipt and sends it through the mailer.
type MailDispatcher struct {
	sender mailSender
}

func NewMailDispatcher(sender mailSender) (*MailDispatcher, error) {
	if sender == nil {
		return nil, errors.New("mail sender required")
	}
	return &MailDispatcher{sender: sender}, nil
}

func (d *MailDispatcher) Dispatch(ctx context.Context, receipt Receipt) error {
	html, err := renderReceipt(receipt)
	if err != nil {
		return err
	}
	return d.sender.Send(ctx, mailer.Message{
		ToEmail: receipt.Recipient,
		ToName:  receipt.RecipientName,
		Subject: fmt.Sprintf("Your order %s", shortID(receipt)),
		HTML:    html,
	})
}

func renderReceipt(receipt Receipt) (string, error) {
	var buf bytes.Buffer
	if err := receiptTemplate.Execute(&buf, receipt); err != nil {
		return "", fmt.Errorf("render receipt: %w", err)
	}
	return buf.String(), nil
}

func shortID(receipt Receipt) string {
	id := receipt.OrderID.String()
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// NewDispatcher returns a SendGrid-backed dispatcher, or a LogDispatcher when
// no API key is configured.
func NewDispatcher(cfg config.SendgridConfig, logg *logger.Logger) (Dispatcher, error) {
	client, err := mailer.NewClient(cfg)
	if errors.Is(err, mailer.ErrNotConfigured) {
		return NewLogDispatcher(logg), nil
	}
	if err != nil {
		return nil, err
	}
	return NewMailDispatcher(client)
}
