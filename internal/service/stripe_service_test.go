package service

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/ourhall/backend/internal/model"
	pkgstripe "github.com/ourhall/backend/pkg/stripe"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ---------------------------------------------------------------------------
// Mock StripeClient
// ---------------------------------------------------------------------------

type mockStripeClient struct {
	createCheckoutSessionFunc  func(ctx context.Context, params pkgstripe.CheckoutParams) (pkgstripe.CheckoutSession, error)
	retrievePaymentIntentFunc  func(ctx context.Context, id string) (pkgstripe.PaymentIntent, error)
	verifyWebhookSignatureFunc func(payload []byte, sigHeader string) error
}

func (m *mockStripeClient) CreateCheckoutSession(ctx context.Context, params pkgstripe.CheckoutParams) (pkgstripe.CheckoutSession, error) {
	if m.createCheckoutSessionFunc != nil {
		return m.createCheckoutSessionFunc(ctx, params)
	}
	return pkgstripe.CheckoutSession{ID: "cs_test", URL: "https://checkout.stripe.com/cs_test"}, nil
}
func (m *mockStripeClient) RetrievePaymentIntent(ctx context.Context, id string) (pkgstripe.PaymentIntent, error) {
	if m.retrievePaymentIntentFunc != nil {
		return m.retrievePaymentIntentFunc(ctx, id)
	}
	return pkgstripe.PaymentIntent{}, errors.New("not implemented")
}
func (m *mockStripeClient) VerifyWebhookSignature(payload []byte, sigHeader string) error {
	if m.verifyWebhookSignatureFunc != nil {
		return m.verifyWebhookSignatureFunc(payload, sigHeader)
	}
	return nil
}
func (m *mockStripeClient) ParseWebhookEvent(payload []byte) (pkgstripe.WebhookEvent, error) {
	return pkgstripe.NewClient("", "").ParseWebhookEvent(payload)
}

func newStripeFixture(t *testing.T, client *mockStripeClient) (*StripeServiceImpl, *memLedger) {
	t.Helper()
	l := newMemLedger(newTestCampaign("C1"))
	svc := NewStripeService(client, l, l, newTestAggregator(l), "https://example.org")
	svc.now = func() time.Time { return fixedNow }
	return svc, l
}

// ---------------------------------------------------------------------------
// CreateCheckout
// ---------------------------------------------------------------------------

func TestStripeService_CreateCheckout(t *testing.T) {
	var got pkgstripe.CheckoutParams
	client := &mockStripeClient{
		createCheckoutSessionFunc: func(_ context.Context, params pkgstripe.CheckoutParams) (pkgstripe.CheckoutSession, error) {
			got = params
			return pkgstripe.CheckoutSession{ID: "cs_1", URL: "https://checkout.stripe.com/cs_1"}, nil
		},
	}
	svc, _ := newStripeFixture(t, client)

	res, err := svc.CreateCheckout(context.Background(), CheckoutRequest{
		CampaignID: "C1",
		Amount:     decimal.RequireFromString("12.50"),
		Donor:      model.Donor{FirstName: "Ada", Anonymous: true},
	})
	require.NoError(t, err)

	assert.Equal(t, &CheckoutResult{Provider: model.ProviderStripe, ID: "cs_1", URL: "https://checkout.stripe.com/cs_1"}, res)
	assert.Equal(t, "C1", got.CampaignID)
	assert.Equal(t, int64(1250), got.UnitAmount)
	assert.Equal(t, "GBP", got.Currency)
	assert.Equal(t, "true", got.Metadata[pkgstripe.MetaAnonymous])
	assert.Equal(t, "Ada", got.Metadata[pkgstripe.MetaDonorFirstName])
	assert.Contains(t, got.SuccessURL, "https://example.org/campaigns/C1")
}

func TestStripeService_CreateCheckout_Rejections(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(l *memLedger)
		req     CheckoutRequest
		wantErr error
	}{
		{"zero amount", nil, CheckoutRequest{CampaignID: "C1"}, ErrInvalidInput},
		{"too precise", nil, CheckoutRequest{CampaignID: "C1", Amount: decimal.RequireFromString("0.001")}, ErrInvalidInput},
		{"unknown campaign", nil, CheckoutRequest{CampaignID: "nope", Amount: decimal.NewFromInt(5)}, ErrCampaignNotFound},
		{"paused campaign", func(l *memLedger) { l.campaigns["C1"].Status = model.CampaignPaused },
			CheckoutRequest{CampaignID: "C1", Amount: decimal.NewFromInt(5)}, ErrCampaignNotOpen},
		{"ended campaign", func(l *memLedger) {
			end := fixedNow.Add(-time.Hour)
			l.campaigns["C1"].EndAt = &end
		}, CheckoutRequest{CampaignID: "C1", Amount: decimal.NewFromInt(5)}, ErrCampaignNotOpen},
		{"fractional yen", func(l *memLedger) { l.campaigns["C1"].Currency = "JPY" },
			CheckoutRequest{CampaignID: "C1", Amount: decimal.RequireFromString("100.50")}, ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			svc, l := newStripeFixture(t, &mockStripeClient{
				createCheckoutSessionFunc: func(context.Context, pkgstripe.CheckoutParams) (pkgstripe.CheckoutSession, error) {
					called = true
					return pkgstripe.CheckoutSession{}, nil
				},
			})
			if tt.prepare != nil {
				tt.prepare(l)
			}
			_, err := svc.CreateCheckout(context.Background(), tt.req)
			require.ErrorIs(t, err, tt.wantErr)
			assert.False(t, called, "stripe must not be called")
		})
	}
}

func TestStripeService_CreateCheckout_ZeroDecimalCurrency(t *testing.T) {
	var got pkgstripe.CheckoutParams
	svc, l := newStripeFixture(t, &mockStripeClient{
		createCheckoutSessionFunc: func(_ context.Context, params pkgstripe.CheckoutParams) (pkgstripe.CheckoutSession, error) {
			got = params
			return pkgstripe.CheckoutSession{ID: "cs_jpy", URL: "https://checkout.stripe.com/cs_jpy"}, nil
		},
	})
	l.campaigns["C1"].Currency = "JPY"

	_, err := svc.CreateCheckout(context.Background(), CheckoutRequest{CampaignID: "C1", Amount: decimal.RequireFromString("100.00")})
	require.NoError(t, err)
	assert.Equal(t, int64(100), got.UnitAmount)
	assert.Equal(t, "JPY", got.Currency)
}

func TestStripeService_CreateCheckout_ProviderError(t *testing.T) {
	svc, _ := newStripeFixture(t, &mockStripeClient{
		createCheckoutSessionFunc: func(context.Context, pkgstripe.CheckoutParams) (pkgstripe.CheckoutSession, error) {
			return pkgstripe.CheckoutSession{}, errors.New("card_declined")
		},
	})
	_, err := svc.CreateCheckout(context.Background(), CheckoutRequest{CampaignID: "C1", Amount: decimal.NewFromInt(5)})
	require.ErrorIs(t, err, ErrPaymentProvider)
}

// ---------------------------------------------------------------------------
// ProcessWebhook
// ---------------------------------------------------------------------------

const piSucceededPayload = `{"id":"evt_1","type":"payment_intent.succeeded","data":{"object":{
	"id":"pi_1","object":"payment_intent","amount":2500,"currency":"gbp","status":"succeeded",
	"metadata":{"campaign_id":"C1","donor_first_name":"A"}}}}`

func TestStripeService_ProcessWebhook_SucceededIsIdempotent(t *testing.T) {
	svc, l := newStripeFixture(t, &mockStripeClient{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.ProcessWebhook(ctx, []byte(piSucceededPayload), "sig"))
	}

	c := l.campaign("C1")
	assert.True(t, c.TotalDonated.Equal(decimal.NewFromInt(25)))
	assert.Equal(t, 1, c.DonorsCount)
	assert.Equal(t, "A", c.LastDonors[0].Name)
}

func TestStripeService_ProcessWebhook_InvalidSignature(t *testing.T) {
	svc, l := newStripeFixture(t, &mockStripeClient{
		verifyWebhookSignatureFunc: func([]byte, string) error { return pkgstripe.ErrInvalidSignature },
	})
	err := svc.ProcessWebhook(context.Background(), []byte(piSucceededPayload), "bad")
	require.ErrorIs(t, err, ErrWebhookSignature)
	assert.Equal(t, 0, l.txCount)
}

func TestStripeService_ProcessWebhook_FailedNeverCounts(t *testing.T) {
	svc, l := newStripeFixture(t, &mockStripeClient{})
	payload := `{"id":"evt_2","type":"payment_intent.payment_failed","data":{"object":{
		"id":"pi_3","amount":5000,"currency":"gbp","metadata":{"campaign_id":"C1"}}}}`

	require.NoError(t, svc.ProcessWebhook(context.Background(), []byte(payload), "sig"))
	assert.True(t, l.campaign("C1").TotalDonated.IsZero())
	p := l.payment("pi_3")
	require.NotNil(t, p)
	assert.Equal(t, model.PaymentFailed, p.Status)
	assert.False(t, p.Counted)
}

func TestStripeService_ProcessWebhook_LatePaymentFailedKeepsSuccess(t *testing.T) {
	svc, l := newStripeFixture(t, &mockStripeClient{})
	ctx := context.Background()
	require.NoError(t, svc.ProcessWebhook(ctx, []byte(piSucceededPayload), "sig"))

	late := `{"id":"evt_0","type":"payment_intent.payment_failed","data":{"object":{
		"id":"pi_1","amount":2500,"currency":"gbp","status":"requires_payment_method",
		"metadata":{"campaign_id":"C1","donor_first_name":"A"}}}}`
	require.NoError(t, svc.ProcessWebhook(ctx, []byte(late), "sig"))

	c := l.campaign("C1")
	assert.True(t, c.TotalDonated.Equal(decimal.NewFromInt(25)))
	assert.Equal(t, 1, c.DonorsCount)
	p := l.payment("pi_1")
	assert.Equal(t, model.PaymentSucceeded, p.Status)
	assert.True(t, p.Counted)
}

func TestStripeService_ProcessWebhook_FullRefundReverses(t *testing.T) {
	svc, l := newStripeFixture(t, &mockStripeClient{})
	ctx := context.Background()
	require.NoError(t, svc.ProcessWebhook(ctx, []byte(piSucceededPayload), "sig"))

	partial := `{"id":"evt_3","type":"charge.refunded","data":{"object":{
		"id":"ch_1","payment_intent":"pi_1","amount":2500,"amount_refunded":500,"refunded":false,"currency":"gbp"}}}`
	require.NoError(t, svc.ProcessWebhook(ctx, []byte(partial), "sig"))
	assert.True(t, l.campaign("C1").TotalDonated.Equal(decimal.NewFromInt(25)))

	full := `{"id":"evt_4","type":"charge.refunded","data":{"object":{
		"id":"ch_1","payment_intent":"pi_1","amount":2500,"amount_refunded":2500,"refunded":true,"currency":"gbp"}}}`
	require.NoError(t, svc.ProcessWebhook(ctx, []byte(full), "sig"))

	c := l.campaign("C1")
	assert.True(t, c.TotalDonated.IsZero())
	assert.Equal(t, 0, c.DonorsCount)
	assert.Empty(t, c.LastDonors)
	assert.Equal(t, model.PaymentRefunded, l.payment("pi_1").Status)
}

func TestStripeService_ProcessWebhook_RefundForUnknownPaymentAcked(t *testing.T) {
	svc, l := newStripeFixture(t, &mockStripeClient{})
	payload := `{"id":"evt_5","type":"charge.refunded","data":{"object":{
		"id":"ch_9","payment_intent":"pi_unknown","refunded":true}}}`

	require.NoError(t, svc.ProcessWebhook(context.Background(), []byte(payload), "sig"))
	assert.Equal(t, 0, l.txCount)
}

func TestStripeService_ProcessWebhook_InvoicePaid(t *testing.T) {
	svc, l := newStripeFixture(t, &mockStripeClient{})
	ctx := context.Background()
	invoice := `{"id":"evt_6","type":"invoice.paid","data":{"object":{
		"id":"in_1","object":"invoice","amount_paid":500,"currency":"gbp",
		"payment_intent":"pi_sub_1","subscription":"sub_1",
		"subscription_details":{"metadata":{"campaign_id":"C1","donor_first_name":"M"}}}}}`
	require.NoError(t, svc.ProcessWebhook(ctx, []byte(invoice), "sig"))

	// the matching payment_intent.succeeded carries no metadata and must not double count
	pi := `{"id":"evt_7","type":"payment_intent.succeeded","data":{"object":{
		"id":"pi_sub_1","amount":500,"currency":"gbp","metadata":{}}}}`
	require.NoError(t, svc.ProcessWebhook(ctx, []byte(pi), "sig"))

	c := l.campaign("C1")
	assert.True(t, c.TotalDonated.Equal(decimal.NewFromInt(5)))
	assert.Equal(t, 1, c.DonorsCount)
	assert.Equal(t, "sub_1", l.payment("pi_sub_1").DonationRef)
}

func TestStripeService_ProcessWebhook_UnknownCampaign(t *testing.T) {
	svc, _ := newStripeFixture(t, &mockStripeClient{})
	payload := `{"id":"evt_8","type":"payment_intent.succeeded","data":{"object":{
		"id":"pi_8","amount":100,"currency":"gbp","metadata":{"campaign_id":"gone"}}}}`

	err := svc.ProcessWebhook(context.Background(), []byte(payload), "sig")
	require.ErrorIs(t, err, ErrCampaignNotFound)
}

func TestStripeService_ProcessWebhook_UnhandledTypeIgnored(t *testing.T) {
	svc, l := newStripeFixture(t, &mockStripeClient{})
	payload := `{"id":"evt_9","type":"customer.created","data":{"object":{"id":"cus_1"}}}`

	require.NoError(t, svc.ProcessWebhook(context.Background(), []byte(payload), "sig"))
	assert.Equal(t, 0, l.txCount)
}

// ---------------------------------------------------------------------------
// ConfirmPayment
// ---------------------------------------------------------------------------

func TestStripeService_ConfirmPayment_UsesServerSideAmount(t *testing.T) {
	svc, l := newStripeFixture(t, &mockStripeClient{
		retrievePaymentIntentFunc: func(_ context.Context, id string) (pkgstripe.PaymentIntent, error) {
			assert.Equal(t, "pi_1", id)
			return pkgstripe.PaymentIntent{
				ID: "pi_1", Amount: 2500, Currency: "gbp", Status: "succeeded",
				Metadata: map[string]string{pkgstripe.MetaCampaignID: "C1"},
			}, nil
		},
	})
	ctx := context.Background()

	res, err := svc.ConfirmPayment(ctx, "pi_1")
	require.NoError(t, err)
	assert.Equal(t, OutcomeCounted, res.Outcome)

	// webhook for the same intent arrives afterwards
	require.NoError(t, svc.ProcessWebhook(ctx, []byte(piSucceededPayload), "sig"))
	c := l.campaign("C1")
	assert.True(t, c.TotalDonated.Equal(decimal.NewFromInt(25)))
	assert.Equal(t, 1, c.DonorsCount)
}

func TestStripeService_ConfirmPayment_Processing(t *testing.T) {
	svc, l := newStripeFixture(t, &mockStripeClient{
		retrievePaymentIntentFunc: func(context.Context, string) (pkgstripe.PaymentIntent, error) {
			return pkgstripe.PaymentIntent{
				ID: "pi_2", Amount: 1000, Currency: "gbp", Status: "processing",
				Metadata: map[string]string{pkgstripe.MetaCampaignID: "C1"},
			}, nil
		},
	})
	res, err := svc.ConfirmPayment(context.Background(), "pi_2")
	require.NoError(t, err)
	assert.Equal(t, OutcomeRecorded, res.Outcome)
	assert.True(t, l.campaign("C1").TotalDonated.IsZero())
}

func TestStripeService_ConfirmPayment_Errors(t *testing.T) {
	tests := []struct {
		name    string
		pi      pkgstripe.PaymentIntent
		err     error
		wantErr error
	}{
		{"not found", pkgstripe.PaymentIntent{}, &pkgstripe.APIError{StatusCode: http.StatusNotFound}, ErrPaymentNotFound},
		{"provider down", pkgstripe.PaymentIntent{}, errors.New("timeout"), ErrPaymentProvider},
		{"no campaign", pkgstripe.PaymentIntent{ID: "pi_x", Amount: 100, Currency: "gbp", Status: "succeeded"}, nil, ErrInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newStripeFixture(t, &mockStripeClient{
				retrievePaymentIntentFunc: func(context.Context, string) (pkgstripe.PaymentIntent, error) {
					return tt.pi, tt.err
				},
			})
			_, err := svc.ConfirmPayment(context.Background(), "pi_x")
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	svc, _ := newStripeFixture(t, &mockStripeClient{})
	_, err := svc.ConfirmPayment(context.Background(), "")
	require.ErrorIs(t, err, ErrInvalidInput)
}
