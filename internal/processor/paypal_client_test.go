package processor

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jnst/payment-reconciler/internal/cache"
	"github.com/jnst/payment-reconciler/internal/model"
)

func newTestPayPalClient(t *testing.T, handler http.Handler) (*PayPalClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg := PayPalConfig{
		APIBaseURL:        srv.URL,
		IPNURL:            srv.URL + "/cgi-bin/webscr",
		ClientID:          "partner-client",
		ClientSecret:      "secret",
		PartnerMerchantID: "PARTNER",
		BNCode:            "BN_CODE",
		HTTPTimeout:       5 * time.Second,
		IPNTimeout:        5 * time.Second,
	}

	return NewPayPalClient(cfg, cache.NewMemoryStore(nil), discardLogger()), srv
}

func tokenHandler(calls *int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(calls, 1)
		user, pass, ok := r.BasicAuth()
		if !ok || user != "partner-client" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "A21AA", "expires_in": 32400})
	}
}

func TestVerifyIPN(t *testing.T) {
	tests := []struct {
		name    string
		reply   string
		status  int
		wantErr bool
	}{
		{"verified", "VERIFIED", http.StatusOK, false},
		{"invalid", "INVALID", http.StatusOK, true},
		{"verified with trailing newline", "VERIFIED\n", http.StatusOK, true},
		{"server error", "VERIFIED", http.StatusInternalServerError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotBody string
			mux := http.NewServeMux()
			mux.HandleFunc("/cgi-bin/webscr", func(w http.ResponseWriter, r *http.Request) {
				b, _ := io.ReadAll(r.Body)
				gotBody = string(b)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.reply))
			})
			client, _ := newTestPayPalClient(t, mux)

			err := client.VerifyIPN(context.Background(), []byte("txn_type=masspay&status_1=Completed"))

			assert.Equal(t, "cmd=_notify-validate&txn_type=masspay&status_1=Completed", gotBody)
			if tt.wantErr {
				assert.Equal(t, model.ErrorKindVerificationFailed, model.ErrorKindOf(err))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestVerifyIPNTransportFailures(t *testing.T) {
	t.Run("stalled endpoint times out", func(t *testing.T) {
		release := make(chan struct{})
		mux := http.NewServeMux()
		mux.HandleFunc("/cgi-bin/webscr", func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		})
		client, _ := newTestPayPalClient(t, mux)
		defer close(release)
		client.ipnClient.Timeout = 50 * time.Millisecond

		start := time.Now()
		err := client.VerifyIPN(context.Background(), []byte("txn_id=T1"))

		require.Error(t, err)
		assert.Equal(t, model.ErrorKindVerificationFailed, model.ErrorKindOf(err))
		assert.Less(t, time.Since(start), 5*time.Second)
	})

	t.Run("closed server", func(t *testing.T) {
		client, srv := newTestPayPalClient(t, http.NewServeMux())
		srv.Close()

		err := client.VerifyIPN(context.Background(), []byte("txn_id=T1"))

		require.Error(t, err)
		assert.Equal(t, model.ErrorKindVerificationFailed, model.ErrorKindOf(err))
	})
}

func TestFetchMerchantStatus(t *testing.T) {
	var tokenCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", tokenHandler(&tokenCalls))
	mux.HandleFunc("/v1/customer/partners/PARTNER/merchant-integrations/MERCH1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer A21AA", r.Header.Get("Authorization"))
		assert.Equal(t, "BN_CODE", r.Header.Get("PayPal-Partner-Attribution-Id"))
		_, _ = w.Write([]byte(`{
			"merchant_id": "MERCH1",
			"tracking_id": "42",
			"payments_receivable": true,
			"primary_email_confirmed": true,
			"country": "us",
			"primary_currency": "USD",
			"oauth_integrations": [{"integration_type": "OAUTH_THIRD_PARTY", "oauth_third_party": [{"partner_client_id": "partner-client", "scopes": ["https://uri.paypal.com/services/payments/realtimepayment"]}]}]
		}`))
	})
	client, _ := newTestPayPalClient(t, mux)

	status, err := client.FetchMerchantStatus(context.Background(), "MERCH1")
	require.NoError(t, err)
	assert.Equal(t, "US", status.Country)
	assert.Equal(t, "42", status.TrackingID)
	assert.True(t, status.PermissionsGranted)
	assert.Equal(t, model.MerchantAccountStateVerified, status.OnboardingState())

	_, err = client.FetchMerchantStatus(context.Background(), "MERCH1")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&tokenCalls))
}

func TestFetchMerchantStatusOtherPartnerGrant(t *testing.T) {
	var tokenCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", tokenHandler(&tokenCalls))
	mux.HandleFunc("/v1/customer/partners/PARTNER/merchant-integrations/MERCH2", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"merchant_id": "MERCH2", "payments_receivable": true, "primary_email_confirmed": true,
			"oauth_integrations": [{"integration_type": "OAUTH_THIRD_PARTY", "oauth_third_party": [{"partner_client_id": "someone-else", "scopes": ["x"]}]}]}`))
	})
	client, _ := newTestPayPalClient(t, mux)

	status, err := client.FetchMerchantStatus(context.Background(), "MERCH2")
	require.NoError(t, err)
	assert.Equal(t, model.MerchantAccountStateIncompletePermissions, status.OnboardingState())
}

func TestFetchMerchantStatusAccessRevoked(t *testing.T) {
	var tokenCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", tokenHandler(&tokenCalls))
	mux.HandleFunc("/v1/customer/partners/PARTNER/merchant-integrations/MERCH3", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"name": "PERMISSION_DENIED", "message": "You do not have permission to access or perform operations on this resource."}`))
	})
	client, _ := newTestPayPalClient(t, mux)

	_, err := client.FetchMerchantStatus(context.Background(), "MERCH3")
	assert.Equal(t, model.ErrorKindAccessRevoked, model.ErrorKindOf(err))
}

func TestCreatePartnerReferral(t *testing.T) {
	var tokenCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", tokenHandler(&tokenCalls))
	mux.HandleFunc("/v2/customer/partner-referrals", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "42", body["tracking_id"])
		assert.Equal(t, map[string]any{"return_url": "https://example.com/settings"}, body["partner_config_override"])

		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"links": [{"href": "https://api.paypal.com/v1/customer/partner-referrals/ZjQ", "rel": "self"}, {"href": "https://www.paypal.com/merchantsignup/partner/onboardingentry?token=ZjQ", "rel": "action_url"}]}`))
	})
	client, _ := newTestPayPalClient(t, mux)

	actionURL, err := client.CreatePartnerReferral(context.Background(), "42", "https://example.com/settings")
	require.NoError(t, err)
	assert.Equal(t, "https://www.paypal.com/merchantsignup/partner/onboardingentry?token=ZjQ", actionURL)
}

func TestUnauthorizedInvalidatesToken(t *testing.T) {
	var tokenCalls, apiCalls int32
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", tokenHandler(&tokenCalls))
	mux.HandleFunc("/v1/customer/partners/PARTNER/merchant-integrations/MERCH4", func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&apiCalls, 1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`{"error": "invalid_token", "error_description": "Token signature verification failed"}`))
			return
		}
		_, _ = w.Write([]byte(`{"merchant_id": "MERCH4"}`))
	})
	client, _ := newTestPayPalClient(t, mux)

	_, err := client.FetchMerchantStatus(context.Background(), "MERCH4")
	require.Error(t, err)

	_, err = client.FetchMerchantStatus(context.Background(), "MERCH4")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&tokenCalls))
}
