package channels

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"propertyops_backend/internal/notifications/dispatch"
	"propertyops_backend/internal/notifications/domain"
	"propertyops_backend/platform/apperr"
	"propertyops_backend/platform/phone"
)

// smsMaxLen keeps messages inside a single segment budget for most gateways.
const smsMaxLen = 320

// SMSGateway submits one message to the upstream SMS provider.
type SMSGateway interface {
	Submit(ctx context.Context, e164, body string) error
}

// SMS normalizes the recipient number and hands the message to the gateway.
type SMS struct {
	gateway SMSGateway
	region  string
}

func NewSMS(gateway SMSGateway, defaultRegion string) *SMS {
	return &SMS{gateway: gateway, region: defaultRegion}
}

func (a *SMS) Send(ctx context.Context, to domain.Preferences, msg dispatch.Message) error {
	if to.Phone == "" {
		return apperr.Validation("recipient has no phone number")
	}
	if !phone.IsValid(to.Phone, a.region) {
		return apperr.Validation("recipient phone number is invalid")
	}
	e164 := phone.NormalizeE164(to.Phone, a.region)
	return a.gateway.Submit(ctx, e164, truncate(msg.Title+": "+msg.Body, smsMaxLen))
}

// truncate shortens the body to max bytes with a trailing ellipsis, backing
// the cut off to a rune boundary so a multibyte character is never split.
func truncate(body string, max int) string {
	if len(body) <= max {
		return body
	}
	cut := max - 3
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return body[:cut] + "..."
}

// HTTPGateway posts messages to a form-encoded SMS provider endpoint.
type HTTPGateway struct {
	endpoint string
	apiKey   string
	sender   string
	client   *http.Client
}

func NewHTTPGateway(endpoint, apiKey, sender string) *HTTPGateway {
	return &HTTPGateway{
		endpoint: endpoint,
		apiKey:   apiKey,
		sender:   sender,
		client:   &http.Client{},
	}
}

func (g *HTTPGateway) Submit(ctx context.Context, e164, body string) error {
	form := url.Values{}
	form.Set("to", e164)
	form.Set("from", g.sender)
	form.Set("body", body)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build sms request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("submit sms: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("sms gateway returned %d: %s", resp.StatusCode, string(snippet))
	}
	return nil
}
