// Package stripe configures the Stripe SDK and verifies webhook signatures.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
)

const (
	testEnv = "test"
	liveEnv = "live"

	// Stripe's own default; replays older than this are rejected.
	signatureTolerance = 5 * time.Minute
)

var (
	errAPIKeyRequired   = errors.New("stripe api key is required")
	errSecretRequired   = errors.New("stripe webhook secret is required")
	errInvalidStripeEnv = fmt.Errorf("stripe environment must be %q or %q", testEnv, liveEnv)
)

// keyPrefixes lists the secret and restricted key prefixes each environment
// accepts, so a live key never runs against a test deployment or vice versa.
var keyPrefixes = map[string][]string{
	testEnv: {"sk_test_", "rk_test_"},
	liveEnv: {"sk_live_", "rk_live_"},
}

// Client carries the Stripe environment and the webhook signing secret. The
// API key itself is installed on the SDK's package-level configuration.
type Client struct {
	environment   string
	signingSecret string
}

// NewClient validates the credentials and installs the API key. Call it once
// per process.
func NewClient(ctx context.Context, cfg config.StripeConfig, logg *logger.Logger) (*Client, error) {
	env := cfg.Environment()
	prefixes, ok := keyPrefixes[env]
	if !ok {
		return nil, errInvalidStripeEnv
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errAPIKeyRequired
	}
	if !slices.ContainsFunc(prefixes, func(p string) bool { return strings.HasPrefix(apiKey, p) }) {
		return nil, fmt.Errorf("stripe %s environment requires a key starting with %s", env, strings.Join(prefixes, " or "))
	}

	client, err := NewVerifier(cfg.Secret)
	if err != nil {
		return nil, err
	}
	client.environment = env
	stripe.Key = apiKey

	logg.Info(logg.WithField(ctx, "stripe_env", env), "stripe client initialized")
	return client, nil
}

// NewVerifier builds a client that can only verify webhook signatures.
func NewVerifier(secret string) (*Client, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, errSecretRequired
	}
	return &Client{environment: testEnv, signingSecret: secret}, nil
}

func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.environment
}

func (c *Client) SigningSecret() string {
	if c == nil {
		return ""
	}
	return c.signingSecret
}

// ConstructEvent verifies the Stripe-Signature header over the raw payload
// and decodes the event. Events pinned to another API version are accepted;
// handlers only read session fields that are stable across versions.
func (c *Client) ConstructEvent(payload []byte, header string) (stripe.Event, error) {
	if c == nil || c.signingSecret == "" {
		return stripe.Event{}, errSecretRequired
	}
	return webhook.ConstructEventWithOptions(payload, header, c.signingSecret, webhook.ConstructEventOptions{
		Tolerance:                signatureTolerance,
		IgnoreAPIVersionMismatch: true,
	})
}
