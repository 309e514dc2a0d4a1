package stripe_test

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/reserva/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/reserva/internal/payment/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "whsec_test"

func newAdapter(t *testing.T, apiBase string) paymentdomain.Adapter {
	t.Helper()
	adapter, err := stripe.NewFactory().NewAdapter(paymentdomain.AdapterConfig{
		Provider:      "stripe",
		WebhookSecret: testSecret,
		SecretKey:     "sk_test",
		APIBase:       apiBase,
	})
	require.NoError(t, err)
	return adapter
}

func sign(secret string, payload []byte, timestamp int64) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(fmt.Sprintf("%d.%s", timestamp, string(payload))))
	return fmt.Sprintf("t=%d,v1=%s", timestamp, hex.EncodeToString(mac.Sum(nil)))
}

func TestNewAdapterRequiresWebhookSecret(t *testing.T) {
	_, err := stripe.NewFactory().NewAdapter(paymentdomain.AdapterConfig{Provider: "stripe"})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidConfig)
}

func TestVerify(t *testing.T) {
	ctx := context.Background()
	adapter := newAdapter(t, "")
	payload := []byte(`{"id":"evt_1"}`)
	now := time.Now().Unix()

	good := http.Header{}
	good.Set("Stripe-Signature", sign(testSecret, payload, now))
	assert.NoError(t, adapter.Verify(ctx, payload, good))

	bad := http.Header{}
	bad.Set("Stripe-Signature", sign("whsec_other", payload, now))
	assert.ErrorIs(t, adapter.Verify(ctx, payload, bad), paymentdomain.ErrInvalidSignature)

	// A signature over different bytes does not transfer.
	reused := http.Header{}
	reused.Set("Stripe-Signature", sign(testSecret, []byte(`{"id":"evt_2"}`), now))
	assert.ErrorIs(t, adapter.Verify(ctx, payload, reused), paymentdomain.ErrInvalidSignature)

	assert.ErrorIs(t, adapter.Verify(ctx, payload, http.Header{}), paymentdomain.ErrInvalidSignature)

	garbled := http.Header{}
	garbled.Set("Stripe-Signature", "not-a-signature")
	assert.ErrorIs(t, adapter.Verify(ctx, payload, garbled), paymentdomain.ErrInvalidSignature)
}

func TestVerifyRejectsStaleTimestamp(t *testing.T) {
	ctx := context.Background()
	adapter := newAdapter(t, "")
	payload := []byte(`{"id":"evt_1"}`)

	// A correctly signed payload captured earlier must not verify past
	// the tolerance window.
	stale := http.Header{}
	stale.Set("Stripe-Signature", sign(testSecret, payload, time.Now().Add(-10*time.Minute).Unix()))
	assert.ErrorIs(t, adapter.Verify(ctx, payload, stale), paymentdomain.ErrInvalidSignature)

	future := http.Header{}
	future.Set("Stripe-Signature", sign(testSecret, payload, time.Now().Add(10*time.Minute).Unix()))
	assert.ErrorIs(t, adapter.Verify(ctx, payload, future), paymentdomain.ErrInvalidSignature)

	badTS := http.Header{}
	badTS.Set("Stripe-Signature", fmt.Sprintf("t=yesterday,v1=%s", sign(testSecret, payload, 0)[len("t=0,v1="):]))
	assert.ErrorIs(t, adapter.Verify(ctx, payload, badTS), paymentdomain.ErrInvalidSignature)

	wide, err := stripe.NewFactory().NewAdapter(paymentdomain.AdapterConfig{
		Provider:           "stripe",
		WebhookSecret:      testSecret,
		SignatureTolerance: 30 * time.Minute,
	})
	require.NoError(t, err)
	old := http.Header{}
	old.Set("Stripe-Signature", sign(testSecret, payload, time.Now().Add(-10*time.Minute).Unix()))
	assert.NoError(t, wide.Verify(ctx, payload, old))
}

func TestParsePaymentIntentSucceeded(t *testing.T) {
	ctx := context.Background()
	adapter := newAdapter(t, "")

	payload := []byte(`{
		"id": "evt_1",
		"type": "payment_intent.succeeded",
		"account": "acct_9",
		"created": 1767225600,
		"data": {"object": {
			"id": "pi_1",
			"amount": 20000,
			"currency": "usd",
			"metadata": {"tenant_id": "1879054038101", "booking_id": "1879054038102"}
		}}
	}`)

	event, err := adapter.Parse(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.EventTypePaymentSucceeded, event.Type)
	assert.Equal(t, "evt_1", event.ProviderEventID)
	assert.Equal(t, "acct_9", event.AccountID)
	assert.Equal(t, "pi_1", event.PaymentRef)
	assert.Equal(t, int64(20000), event.Amount)
	assert.Equal(t, "USD", event.Currency)
	assert.Equal(t, snowflake.ID(1879054038101), event.TenantID)
	assert.Equal(t, snowflake.ID(1879054038102), event.BookingID)
}

func TestParseChargeRefunded(t *testing.T) {
	ctx := context.Background()
	adapter := newAdapter(t, "")

	payload := []byte(`{
		"id": "evt_2",
		"type": "charge.refunded",
		"created": 1767225600,
		"data": {"object": {
			"id": "ch_1",
			"payment_intent": "pi_1",
			"amount": 20000,
			"amount_refunded": 20000,
			"currency": "usd",
			"metadata": {"tenant_id": "1", "booking_id": "2"}
		}}
	}`)

	event, err := adapter.Parse(ctx, payload)
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.EventTypeRefundIssued, event.Type)
	// The refund references the original payment intent, not the charge.
	assert.Equal(t, "pi_1", event.PaymentRef)
	assert.Equal(t, int64(20000), event.Amount)
}

func TestParseRejectsAndIgnores(t *testing.T) {
	ctx := context.Background()
	adapter := newAdapter(t, "")

	_, err := adapter.Parse(ctx, []byte(`not json`))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidPayload)

	_, err = adapter.Parse(ctx, []byte(`{"type":"payment_intent.succeeded"}`))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidEvent)

	_, err = adapter.Parse(ctx, []byte(`{"id":"evt_3","type":"customer.created","data":{"object":{}}}`))
	assert.ErrorIs(t, err, paymentdomain.ErrEventIgnored)

	// Events without the round-tripped metadata cannot be attributed.
	_, err = adapter.Parse(ctx, []byte(`{
		"id": "evt_4",
		"type": "payment_intent.succeeded",
		"data": {"object": {"id": "pi_1", "amount": 100, "currency": "usd", "metadata": {}}}
	}`))
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidMetadata)
}

func TestCreateCheckoutSession(t *testing.T) {
	ctx := context.Background()

	var form map[string][]string
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		auth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"cs_1","url":"https://pay.example/cs_1"}`)
	}))
	defer server.Close()

	adapter := newAdapter(t, server.URL)
	session, err := adapter.CreateCheckoutSession(ctx, paymentdomain.SessionRequest{
		TenantID:  snowflake.ID(11),
		BookingID: snowflake.ID(22),
		AccountID: "acct_dest",
		Amount:    20000,
		Currency:  "USD",
		SlotDate:  "2026-12-01",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_1", session.ID)
	assert.Equal(t, "https://pay.example/cs_1", session.URL)

	assert.Equal(t, "Bearer sk_test", auth)
	assert.Equal(t, []string{"usd"}, form["line_items[0][price_data][currency]"])
	assert.Equal(t, []string{"20000"}, form["line_items[0][price_data][unit_amount]"])
	assert.Equal(t, []string{"acct_dest"}, form["payment_intent_data[transfer_data][destination]"])
	assert.Equal(t, []string{"11"}, form["payment_intent_data[metadata][tenant_id]"])
	assert.Equal(t, []string{"22"}, form["payment_intent_data[metadata][booking_id]"])
}

func TestCreateCheckoutSessionFailures(t *testing.T) {
	ctx := context.Background()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	adapter := newAdapter(t, server.URL)
	_, err := adapter.CreateCheckoutSession(ctx, paymentdomain.SessionRequest{
		TenantID: 1, BookingID: 2, AccountID: "acct_1", Amount: 100, Currency: "USD", SlotDate: "2026-12-01",
	})
	assert.ErrorIs(t, err, paymentdomain.ErrSessionFailed)

	noKey, err := stripe.NewFactory().NewAdapter(paymentdomain.AdapterConfig{
		Provider:      "stripe",
		WebhookSecret: testSecret,
	})
	require.NoError(t, err)
	_, err = noKey.CreateCheckoutSession(ctx, paymentdomain.SessionRequest{
		TenantID: 1, BookingID: 2, Amount: 100, Currency: "USD",
	})
	assert.ErrorIs(t, err, paymentdomain.ErrInvalidConfig)
}
