package payments

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/promptbazaar/backend/internal/models"
)

// OrynthSignatureHeader carries hex(HMAC-SHA256(webhook secret, raw body)).
const OrynthSignatureHeader = "X-Orynth-Signature"

// OrynthProcessor is the stablecoin rail. Orynth hosts the payment page and
// reports on-chain confirmation through webhooks.
type OrynthProcessor struct {
	baseURL       string
	apiKey        string
	webhookSecret string
	client        *http.Client
}

func NewOrynthProcessor(baseURL, apiKey, webhookSecret string, client *http.Client) *OrynthProcessor {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &OrynthProcessor{
		baseURL:       strings.TrimRight(baseURL, "/"),
		apiKey:        apiKey,
		webhookSecret: webhookSecret,
		client:        client,
	}
}

func (p *OrynthProcessor) Provider() models.PaymentProvider { return models.ProviderOrynth }

func (p *OrynthProcessor) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	body := `{}`
	var err error
	set := func(path string, v any) {
		if err == nil {
			body, err = sjson.Set(body, path, v)
		}
	}
	set("amount", req.Metadata.Price)
	set("currency", strings.ToUpper(orDefault(req.Currency, "jpy")))
	set("description", req.Title)
	set("reference", req.Metadata.PurchaseID.String())
	set("success_url", req.SuccessURL)
	set("cancel_url", req.CancelURL)
	set("expires_at", req.ExpiresAt.Unix())
	set("metadata", req.Metadata.Map())
	if err != nil {
		return nil, fmt.Errorf("orynth build request: %w", err)
	}

	resp, err := p.do(ctx, http.MethodPost, "/v1/payments", []byte(body), req.Metadata.PurchaseID.String())
	if err != nil {
		return nil, err
	}
	id := gjson.GetBytes(resp, "id").String()
	checkoutURL := gjson.GetBytes(resp, "checkout_url").String()
	if id == "" || checkoutURL == "" {
		return nil, fmt.Errorf("orynth create payment: incomplete response")
	}
	return &Checkout{CorrelationID: id, RedirectURL: checkoutURL}, nil
}

func (p *OrynthProcessor) CheckoutStatus(ctx context.Context, correlationID string) (CheckoutState, error) {
	resp, err := p.do(ctx, http.MethodGet, "/v1/payments/"+url.PathEscape(correlationID), nil, "")
	if err != nil {
		return "", err
	}
	switch gjson.GetBytes(resp, "status").String() {
	case "confirmed":
		return CheckoutPaid, nil
	case "failed":
		return CheckoutFailed, nil
	case "expired":
		return CheckoutExpired, nil
	default:
		return CheckoutOpen, nil
	}
}

func (p *OrynthProcessor) ParseWebhook(payload []byte, header http.Header) (*Event, error) {
	got, err := hex.DecodeString(strings.TrimSpace(header.Get(OrynthSignatureHeader)))
	if err != nil || !hmac.Equal(got, SignOrynth(p.webhookSecret, payload)) {
		return nil, ErrInvalidSignature
	}
	if !gjson.ValidBytes(payload) {
		return nil, fmt.Errorf("orynth webhook: malformed payload")
	}
	ev := gjson.ParseBytes(payload)
	out := &Event{
		ID:            ev.Get("id").String(),
		RawType:       ev.Get("type").String(),
		Type:          EventIgnored,
		CorrelationID: ev.Get("data.id").String(),
	}
	switch out.RawType {
	case "payment.confirmed":
		out.Type = EventConfirmed
	case "payment.failed", "payment.expired":
		out.Type = EventFailed
	}
	md := map[string]string{}
	ev.Get("data.metadata").ForEach(func(k, v gjson.Result) bool {
		md[k.String()] = v.String()
		return true
	})
	if _, ok := md["purchase_id"]; !ok {
		md["purchase_id"] = ev.Get("data.reference").String()
	}
	out.Metadata = MetadataFromMap(md)
	return out, nil
}

// SignOrynth computes the webhook signature for payload.
func SignOrynth(secret string, payload []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return mac.Sum(nil)
}

func (p *OrynthProcessor) do(ctx context.Context, method, path string, body []byte, idempotencyKey string) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, rd)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("orynth %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("orynth %s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := gjson.GetBytes(data, "error.message").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("orynth %s %s: status %d: %s", method, path, resp.StatusCode, msg)
	}
	return data, nil
}

func orDefault(s, def string) string {
	if strings.TrimSpace(s) == "" {
		return def
	}
	return s
}
