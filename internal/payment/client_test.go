package payment_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-marketplace-orders/internal/payment"
	"github.com/ariefcatur/go-marketplace-orders/internal/redisx"
)

type fakeProvider struct {
	tokens     atomic.Int32
	collects   atomic.Int32
	rejectOnce atomic.Bool

	mu       sync.Mutex
	lastBody map[string]string
	lastAuth string
}

func (f *fakeProvider) last() (map[string]string, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastBody, f.lastAuth
}

func (f *fakeProvider) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/token/", func(w http.ResponseWriter, r *http.Request) {
		var in map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		if in["username"] != "merchant" || in["password"] != "pw" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		n := f.tokens.Add(1)
		_ = json.NewEncoder(w).Encode(map[string]any{"token": "tok-" + string(rune('0'+n)), "expires_in": 3600})
	})
	mux.HandleFunc("/collect/", func(w http.ResponseWriter, r *http.Request) {
		f.collects.Add(1)
		f.mu.Lock()
		defer f.mu.Unlock()
		f.lastAuth = r.Header.Get("Authorization")
		if f.rejectOnce.CompareAndSwap(true, false) {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"detail":"token expired"}`))
			return
		}
		f.lastBody = map[string]string{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&f.lastBody))
		if f.lastBody["from"] == "000" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"message":"invalid number"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"reference": "txn-1", "status": "PENDING"})
	})
	return mux
}

func newClient(t *testing.T) (*payment.Client, *fakeProvider, *miniredis.Miniredis) {
	t.Helper()
	f := &fakeProvider{}
	srv := httptest.NewServer(f.handler(t))
	t.Cleanup(srv.Close)

	mr := miniredis.RunT(t)
	rdb := redisx.New(mr.Addr())
	t.Cleanup(func() { _ = rdb.Close() })

	return payment.NewClient(srv.URL, "merchant", "pw", "XAF", redisx.NewCache(rdb)), f, mr
}

func TestCreatePaymentCachesToken(t *testing.T) {
	c, f, mr := newClient(t)
	ctx := context.Background()
	req := payment.PaymentRequest{Amount: decimal.RequireFromString("15000"), Phone: "237670000000", Reference: "o-1", CallbackURL: "http://cb"}

	res, err := c.CreatePayment(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "txn-1", res.Reference)
	body, auth := f.last()
	assert.Equal(t, "15000", body["amount"])
	assert.Equal(t, "XAF", body["currency"])
	assert.Equal(t, "o-1", body["external_reference"])
	assert.Equal(t, "Token tok-1", auth)

	_, err = c.CreatePayment(ctx, req)
	require.NoError(t, err)
	assert.EqualValues(t, 1, f.tokens.Load(), "second call should reuse the cached token")

	tok, err := mr.Get(redisx.KeyPaymentToken)
	require.NoError(t, err)
	assert.Equal(t, "tok-1", tok)
}

func TestCreatePaymentReauthenticatesOnce(t *testing.T) {
	c, f, _ := newClient(t)
	f.rejectOnce.Store(true)

	res, err := c.CreatePayment(context.Background(), payment.PaymentRequest{Amount: decimal.NewFromInt(10), Phone: "237670000000", Reference: "o-2"})
	require.NoError(t, err)
	assert.Equal(t, "txn-1", res.Reference)
	assert.EqualValues(t, 2, f.tokens.Load())
	assert.EqualValues(t, 2, f.collects.Load())
	_, auth := f.last()
	assert.Equal(t, "Token tok-2", auth)
}

func TestCreatePaymentSurfacesProviderError(t *testing.T) {
	c, _, _ := newClient(t)
	_, err := c.CreatePayment(context.Background(), payment.PaymentRequest{Amount: decimal.NewFromInt(10), Phone: "000", Reference: "o-3"})
	var se *payment.StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusBadRequest, se.Code)
}

func TestAuthenticateBadCredentials(t *testing.T) {
	c, _, _ := newClient(t)
	c.Password = "wrong"
	_, err := c.Authenticate(context.Background())
	assert.ErrorIs(t, err, payment.ErrUnauthorized)
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"reference":"txn-1","status":"SUCCESSFUL"}`)
	sig := payment.Sign("s3cret", body)

	assert.True(t, payment.VerifySignature("s3cret", body, sig))
	assert.True(t, payment.VerifySignature("s3cret", body, "sha256="+sig))
	assert.False(t, payment.VerifySignature("other", body, sig))
	assert.False(t, payment.VerifySignature("s3cret", append(body, ' '), sig))
	assert.False(t, payment.VerifySignature("s3cret", body, "zz"))
	assert.False(t, payment.VerifySignature("", body, sig))
}

func TestParseOutcome(t *testing.T) {
	assert.Equal(t, payment.OutcomePaid, payment.ParseOutcome("successful"))
	assert.Equal(t, payment.OutcomePaid, payment.ParseOutcome("PAID"))
	assert.Equal(t, payment.OutcomeFailed, payment.ParseOutcome("FAILED"))
	assert.Equal(t, payment.OutcomeUnknown, payment.ParseOutcome("PENDING"))
}
