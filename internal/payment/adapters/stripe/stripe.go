package stripe

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/smallbiznis/reserva/internal/payment/domain"
)

// defaultSignatureTolerance matches the window Stripe's own SDKs
// enforce before rejecting a signed timestamp as stale.
const defaultSignatureTolerance = 5 * time.Minute

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "stripe"
}

func (f *Factory) NewAdapter(cfg paymentdomain.AdapterConfig) (paymentdomain.Adapter, error) {
	secret := strings.TrimSpace(cfg.WebhookSecret)
	if secret == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.APIBase), "/")
	if base == "" {
		base = "https://api.stripe.com"
	}

	tolerance := cfg.SignatureTolerance
	if tolerance <= 0 {
		tolerance = defaultSignatureTolerance
	}

	return &Adapter{
		webhookSecret: secret,
		secretKey:     strings.TrimSpace(cfg.SecretKey),
		apiBase:       base,
		tolerance:     tolerance,
		client:        &http.Client{Timeout: 15 * time.Second},
		now:           time.Now,
	}, nil
}

type Adapter struct {
	webhookSecret string
	secretKey     string
	apiBase       string
	tolerance     time.Duration
	client        *http.Client
	now           func() time.Time
}

func (a *Adapter) Verify(ctx context.Context, payload []byte, headers http.Header) error {
	sigHeader := strings.TrimSpace(headers.Get("Stripe-Signature"))
	if sigHeader == "" {
		return paymentdomain.ErrInvalidSignature
	}

	timestamp, signatures, err := parseSignatureHeader(sigHeader)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}

	// A valid signature over a stale timestamp is a replayed capture,
	// not a delivery.
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return paymentdomain.ErrInvalidSignature
	}
	if skew := a.now().Sub(time.Unix(ts, 0)); skew > a.tolerance || skew < -a.tolerance {
		return paymentdomain.ErrInvalidSignature
	}

	signedPayload := fmt.Sprintf("%s.%s", timestamp, string(payload))
	mac := hmac.New(sha256.New, []byte(a.webhookSecret))
	_, _ = mac.Write([]byte(signedPayload))
	expected := hex.EncodeToString(mac.Sum(nil))

	for _, signature := range signatures {
		if hmac.Equal([]byte(signature), []byte(expected)) {
			return nil
		}
	}

	return paymentdomain.ErrInvalidSignature
}

func (a *Adapter) Parse(ctx context.Context, payload []byte) (*paymentdomain.Event, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}
	if strings.TrimSpace(event.ID) == "" {
		return nil, paymentdomain.ErrInvalidEvent
	}

	switch strings.TrimSpace(event.Type) {
	case "payment_intent.succeeded":
		return a.parseIntent(event, payload, paymentdomain.EventTypePaymentSucceeded)
	case "payment_intent.payment_failed":
		return a.parseIntent(event, payload, paymentdomain.EventTypePaymentFailed)
	case "charge.refunded":
		return a.parseCharge(event, payload)
	default:
		return nil, paymentdomain.ErrEventIgnored
	}
}

func (a *Adapter) CreateCheckoutSession(ctx context.Context, req paymentdomain.SessionRequest) (*paymentdomain.Session, error) {
	if a.secretKey == "" {
		return nil, paymentdomain.ErrInvalidConfig
	}

	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("line_items[0][quantity]", "1")
	form.Set("line_items[0][price_data][currency]", strings.ToLower(req.Currency))
	form.Set("line_items[0][price_data][unit_amount]", fmt.Sprintf("%d", req.Amount))
	form.Set("line_items[0][price_data][product_data][name]", fmt.Sprintf("Booking %s", req.SlotDate))
	form.Set("payment_intent_data[transfer_data][destination]", req.AccountID)
	form.Set("payment_intent_data[metadata][tenant_id]", req.TenantID.String())
	form.Set("payment_intent_data[metadata][booking_id]", req.BookingID.String())
	form.Set("metadata[tenant_id]", req.TenantID.String())
	form.Set("metadata[booking_id]", req.BookingID.String())

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.apiBase+"/v1/checkout/sessions", strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+a.secretKey)
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", paymentdomain.ErrSessionFailed, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", paymentdomain.ErrSessionFailed, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: status %d", paymentdomain.ErrSessionFailed, resp.StatusCode)
	}

	var session struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("%w: %v", paymentdomain.ErrSessionFailed, err)
	}
	if strings.TrimSpace(session.ID) == "" {
		return nil, paymentdomain.ErrSessionFailed
	}

	return &paymentdomain.Session{ID: session.ID, URL: session.URL}, nil
}

type stripeEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Account string          `json:"account"`
	Created int64           `json:"created"`
	Data    stripeEventData `json:"data"`
}

type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

type stripeIntent struct {
	ID       string            `json:"id"`
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Created  int64             `json:"created"`
	Metadata map[string]string `json:"metadata"`
}

type stripeCharge struct {
	ID             string            `json:"id"`
	PaymentIntent  string            `json:"payment_intent"`
	Amount         int64             `json:"amount"`
	AmountRefunded int64             `json:"amount_refunded"`
	Currency       string            `json:"currency"`
	Created        int64             `json:"created"`
	Metadata       map[string]string `json:"metadata"`
}

func (a *Adapter) parseIntent(event stripeEvent, payload []byte, eventType string) (*paymentdomain.Event, error) {
	var intent stripeIntent
	if err := json.Unmarshal(event.Data.Object, &intent); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	tenantID, bookingID, err := parseMetadataIDs(intent.Metadata)
	if err != nil {
		return nil, err
	}

	return &paymentdomain.Event{
		Provider:        "stripe",
		ProviderEventID: event.ID,
		Type:            eventType,
		TenantID:        tenantID,
		BookingID:       bookingID,
		AccountID:       strings.TrimSpace(event.Account),
		PaymentRef:      intent.ID,
		Amount:          intent.Amount,
		Currency:        strings.ToUpper(strings.TrimSpace(intent.Currency)),
		OccurredAt:      timestamp(intent.Created, event.Created),
		RawPayload:      payload,
	}, nil
}

func (a *Adapter) parseCharge(event stripeEvent, payload []byte) (*paymentdomain.Event, error) {
	var charge stripeCharge
	if err := json.Unmarshal(event.Data.Object, &charge); err != nil {
		return nil, paymentdomain.ErrInvalidPayload
	}

	tenantID, bookingID, err := parseMetadataIDs(charge.Metadata)
	if err != nil {
		return nil, err
	}

	amount := charge.Amount
	if charge.AmountRefunded > 0 {
		amount = charge.AmountRefunded
	}
	ref := charge.PaymentIntent
	if strings.TrimSpace(ref) == "" {
		ref = charge.ID
	}

	return &paymentdomain.Event{
		Provider:        "stripe",
		ProviderEventID: event.ID,
		Type:            paymentdomain.EventTypeRefundIssued,
		TenantID:        tenantID,
		BookingID:       bookingID,
		AccountID:       strings.TrimSpace(event.Account),
		PaymentRef:      ref,
		Amount:          amount,
		Currency:        strings.ToUpper(strings.TrimSpace(charge.Currency)),
		OccurredAt:      timestamp(charge.Created, event.Created),
		RawPayload:      payload,
	}, nil
}

func parseSignatureHeader(header string) (string, []string, error) {
	parts := strings.Split(header, ",")
	var timestamp string
	signatures := []string{}
	for _, part := range parts {
		piece := strings.TrimSpace(part)
		if piece == "" {
			continue
		}
		keyValue := strings.SplitN(piece, "=", 2)
		if len(keyValue) != 2 {
			continue
		}
		key := strings.TrimSpace(keyValue[0])
		value := strings.TrimSpace(keyValue[1])
		if key == "t" {
			timestamp = value
		}
		if key == "v1" {
			signatures = append(signatures, value)
		}
	}
	if timestamp == "" || len(signatures) == 0 {
		return "", nil, errors.New("invalid_signature")
	}
	return timestamp, signatures, nil
}

func timestamp(primary int64, fallback int64) time.Time {
	value := primary
	if value == 0 {
		value = fallback
	}
	if value == 0 {
		return time.Now().UTC()
	}
	return time.Unix(value, 0).UTC()
}

func parseMetadataIDs(metadata map[string]string) (snowflake.ID, snowflake.ID, error) {
	tenantRaw := strings.TrimSpace(metadata["tenant_id"])
	bookingRaw := strings.TrimSpace(metadata["booking_id"])
	if tenantRaw == "" || bookingRaw == "" {
		return 0, 0, paymentdomain.ErrInvalidMetadata
	}
	tenantID, err := snowflake.ParseString(tenantRaw)
	if err != nil {
		return 0, 0, paymentdomain.ErrInvalidMetadata
	}
	bookingID, err := snowflake.ParseString(bookingRaw)
	if err != nil {
		return 0, 0, paymentdomain.ErrInvalidMetadata
	}
	return tenantID, bookingID, nil
}
