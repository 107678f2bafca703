package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jnst/payment-reconciler/internal/cache"
	"github.com/jnst/payment-reconciler/internal/model"
)

const (
	ipnVerifyCommand  = "cmd=_notify-validate"
	ipnVerifiedReply  = "VERIFIED"
	maxResponseBytes  = 1 << 20
	oauthThirdParty   = "OAUTH_THIRD_PARTY"
	actionURLRelation = "action_url"
)

// PayPalConfig holds the PayPal partner credentials and endpoints.
type PayPalConfig struct {
	APIBaseURL        string
	IPNURL            string
	ClientID          string
	ClientSecret      string
	PartnerMerchantID string
	BNCode            string
	HTTPTimeout       time.Duration
	IPNTimeout        time.Duration
	RetryInterval     time.Duration
}

// PayPalClient talks to the PayPal REST API and the IPN verification endpoint.
type PayPalClient struct {
	cfg        PayPalConfig
	httpClient *http.Client
	ipnClient  *http.Client
	tokens     *TokenProvider
	logger     *slog.Logger
}

// NewPayPalClient creates a PayPalClient caching its partner token in store.
func NewPayPalClient(cfg PayPalConfig, store cache.Store, logger *slog.Logger) *PayPalClient {
	c := &PayPalClient{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		ipnClient:  &http.Client{Timeout: cfg.IPNTimeout},
		logger:     logger,
	}
	c.tokens = NewTokenProvider(store, "paypal:partner_token:"+cfg.ClientID, c.fetchToken, cfg.RetryInterval, logger)

	return c
}

// VerifyIPN echoes body back to PayPal and requires the exact reply "VERIFIED".
func (c *PayPalClient) VerifyIPN(ctx context.Context, body []byte) error {
	payload := ipnVerifyCommand
	if len(body) > 0 {
		payload += "&" + string(body)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.IPNURL, strings.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build IPN verification request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.ipnClient.Do(req)
	if err != nil {
		return &model.ProcessorError{Kind: model.ErrorKindVerificationFailed, Processor: model.ProcessorPayPal, Message: "IPN verification transport failure", Err: err}
	}
	defer resp.Body.Close()

	reply, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &model.ProcessorError{Kind: model.ErrorKindVerificationFailed, Processor: model.ProcessorPayPal, Message: "IPN verification read failure", Err: err}
	}

	if resp.StatusCode != http.StatusOK || string(reply) != ipnVerifiedReply {
		return &model.ProcessorError{
			Kind:      model.ErrorKindVerificationFailed,
			Processor: model.ProcessorPayPal,
			Code:      strings.TrimSpace(string(reply)),
			Message:   fmt.Sprintf("IPN verification returned status %d", resp.StatusCode),
		}
	}

	return nil
}

type merchantIntegrationResponse struct {
	MerchantID            string `json:"merchant_id"`
	TrackingID            string `json:"tracking_id"`
	PaymentsReceivable    bool   `json:"payments_receivable"`
	PrimaryEmailConfirmed bool   `json:"primary_email_confirmed"`
	Country               string `json:"country"`
	PrimaryCurrency       string `json:"primary_currency"`
	OAuthIntegrations     []struct {
		IntegrationType string `json:"integration_type"`
		OAuthThirdParty []struct {
			PartnerClientID string   `json:"partner_client_id"`
			Scopes          []string `json:"scopes"`
		} `json:"oauth_third_party"`
	} `json:"oauth_integrations"`
}

// FetchMerchantStatus loads the merchant integration of merchantID.
func (c *PayPalClient) FetchMerchantStatus(ctx context.Context, merchantID string) (*model.MerchantStatus, error) {
	path := fmt.Sprintf("/v1/customer/partners/%s/merchant-integrations/%s",
		url.PathEscape(c.cfg.PartnerMerchantID), url.PathEscape(merchantID))

	var resp merchantIntegrationResponse
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}

	status := &model.MerchantStatus{
		MerchantID:         resp.MerchantID,
		TrackingID:         resp.TrackingID,
		Country:            strings.ToUpper(resp.Country),
		Currency:           strings.ToLower(resp.PrimaryCurrency),
		EmailConfirmed:     resp.PrimaryEmailConfirmed,
		PaymentsReceivable: resp.PaymentsReceivable,
	}
	if status.MerchantID == "" {
		status.MerchantID = merchantID
	}

	for _, integration := range resp.OAuthIntegrations {
		if integration.IntegrationType != oauthThirdParty {
			continue
		}
		for _, grant := range integration.OAuthThirdParty {
			if grant.PartnerClientID == c.cfg.ClientID && len(grant.Scopes) > 0 {
				status.PermissionsGranted = true
			}
		}
	}

	return status, nil
}

type partnerReferralRequest struct {
	TrackingID            string            `json:"tracking_id"`
	Operations            []map[string]any  `json:"operations"`
	Products              []string          `json:"products"`
	LegalConsents         []map[string]any  `json:"legal_consents"`
	PartnerConfigOverride map[string]string `json:"partner_config_override,omitempty"`
}

type partnerReferralResponse struct {
	Links []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
}

// CreatePartnerReferral starts PayPal onboarding and returns the action URL.
func (c *PayPalClient) CreatePartnerReferral(ctx context.Context, trackingID, returnURL string) (string, error) {
	body := partnerReferralRequest{
		TrackingID: trackingID,
		Operations: []map[string]any{{
			"operation": "API_INTEGRATION",
			"api_integration_preference": map[string]any{
				"rest_api_integration": map[string]any{
					"integration_method": "PAYPAL",
					"integration_type":   "THIRD_PARTY",
					"third_party_details": map[string]any{
						"features": []string{"PAYMENT", "REFUND", "PARTNER_FEE", "DELAY_FUNDS_DISBURSEMENT"},
					},
				},
			},
		}},
		Products:      []string{"EXPRESS_CHECKOUT"},
		LegalConsents: []map[string]any{{"type": "SHARE_DATA_CONSENT", "granted": true}},
	}
	if returnURL != "" {
		body.PartnerConfigOverride = map[string]string{"return_url": returnURL}
	}

	var resp partnerReferralResponse
	if err := c.doJSON(ctx, http.MethodPost, "/v2/customer/partner-referrals", body, &resp); err != nil {
		return "", err
	}

	for _, link := range resp.Links {
		if link.Rel == actionURLRelation {
			return link.Href, nil
		}
	}

	return "", &model.ProcessorError{Kind: model.ErrorKindUnknown, Processor: model.ProcessorPayPal, Message: "partner referral response has no action_url"}
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
}

func (c *PayPalClient) fetchToken(ctx context.Context) (string, time.Duration, error) {
	form := url.Values{"grant_type": {"client_credentials"}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.APIBaseURL+"/v1/oauth2/token", strings.NewReader(form.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("failed to build token request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ClientID, c.cfg.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	var resp tokenResponse
	if err := c.send(req, &resp); err != nil {
		return "", 0, err
	}

	return resp.AccessToken, time.Duration(resp.ExpiresIn) * time.Second, nil
}

// doJSON sends an authenticated JSON request and decodes the response into out.
func (c *PayPalClient) doJSON(ctx context.Context, method, path string, in, out any) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}

	var reqBody io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.APIBaseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.cfg.BNCode != "" {
		req.Header.Set("PayPal-Partner-Attribution-Id", c.cfg.BNCode)
	}

	err = c.send(req, out)
	if hasStatus(err, http.StatusUnauthorized) {
		if invalidateErr := c.tokens.Invalidate(ctx); invalidateErr != nil {
			c.logger.Warn("Failed to invalidate token", slog.String("error", invalidateErr.Error()))
		}
	}

	return err
}

func (c *PayPalClient) send(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &model.ProcessorError{Kind: model.ErrorKindUnavailable, Processor: model.ProcessorPayPal, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return &model.ProcessorError{Kind: model.ErrorKindUnavailable, Processor: model.ProcessorPayPal, Message: err.Error(), Err: err}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		var errBody payPalErrorBody
		_ = json.Unmarshal(body, &errBody)
		perr := classifyPayPalResponse(resp.StatusCode, errBody)
		perr.Err = &httpStatusError{status: resp.StatusCode}

		return perr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return &model.ProcessorError{Kind: model.ErrorKindUnknown, Processor: model.ProcessorPayPal, Message: "invalid response body", Err: err}
	}

	return nil
}

type httpStatusError struct {
	status int
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("http status %d", e.status)
}

func hasStatus(err error, status int) bool {
	var statusErr *httpStatusError

	return errors.As(err, &statusErr) && statusErr.status == status
}
