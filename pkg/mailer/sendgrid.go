// Package mailer sends transactional email through the SendGrid v3 API.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/angelmondragon/storefront-backend/pkg/config"
)

const sendPath = "/v3/mail/send"

var ErrNotConfigured = errors.New("sendgrid api key not configured")

// Message is a single HTML email.
type Message struct {
	ToEmail string
	ToName  string
	Subject string
	HTML    string
	Text    string
}

type address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type personalization struct {
	To []address `json:"to"`
}

type content struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type sendRequest struct {
	Personalizations []personalization `json:"personalizations"`
	From             address           `json:"from"`
	Subject          string            `json:"subject"`
	Content          []content         `json:"content"`
}

type errorResponse struct {
	Errors []struct {
		Message string `json:"message"`
		Field   string `json:"field"`
	} `json:"errors"`
}

// Client posts mail/send requests. Retries are left to the caller.
type Client struct {
	http *resty.Client
	from address
}

// NewClient builds a SendGrid client from config.
func NewClient(cfg config.SendgridConfig) (*Client, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(cfg.DefaultFrom) == "" {
		return nil, errors.New("sendgrid from email required")
	}
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(cfg.Timeout).
		SetRetryCount(0)
	return &Client{
		http: httpClient,
		from: address{Email: cfg.DefaultFrom, Name: cfg.FromName},
	}, nil
}

// Send delivers msg. SendGrid answers 202 on acceptance.
func (c *Client) Send(ctx context.Context, msg Message) error {
	if strings.TrimSpace(msg.ToEmail) == "" {
		return errors.New("recipient email required")
	}
	body := sendRequest{
		Personalizations: []personalization{{To: []address{{Email: msg.ToEmail, Name: msg.ToName}}}},
		From:             c.from,
		Subject:          msg.Subject,
	}
	if msg.Text != "" {
		body.Content = append(body.Content, content{Type: "text/plain", Value: msg.Text})
	}
	body.Content = append(body.Content, content{Type: "text/html", Value: msg.HTML})

	var failure errorResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetError(&failure).
		Post(sendPath)
	if err != nil {
		return fmt.Errorf("sendgrid request: %w", err)
	}
	if resp.IsError() {
		if len(failure.Errors) > 0 {
			return fmt.Errorf("sendgrid status %d: %s", resp.StatusCode(), failure.Errors[0].Message)
		}
		return fmt.Errorf("sendgrid status %d", resp.StatusCode())
	}
	return nil
}
