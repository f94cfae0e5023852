package stripe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/smallbiznis/clinicbill/internal/gateway"
)

const defaultBaseURL = "https://api.stripe.com"

type Factory struct{}

func NewFactory() *Factory {
	return &Factory{}
}

func (f *Factory) Provider() string {
	return "stripe"
}

func (f *Factory) NewAdapter(creds gateway.Credentials) (gateway.Adapter, error) {
	if strings.TrimSpace(creds.SecretKey) == "" {
		return nil, gateway.ErrInvalidConfig
	}
	return New(creds.SecretKey, creds.AccountID, defaultBaseURL), nil
}

// Adapter talks to the Stripe REST API with form-encoded requests.
type Adapter struct {
	apiKey    string
	accountID string
	baseURL   string
	client    *http.Client
}

func New(apiKey, accountID, baseURL string) *Adapter {
	return &Adapter{
		apiKey:    strings.TrimSpace(apiKey),
		accountID: strings.TrimSpace(accountID),
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: 12 * time.Second},
	}
}

func (a *Adapter) Provider() string { return "stripe" }

type paymentIntent struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type refund struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	} `json:"error"`
}

func (a *Adapter) CreateCharge(ctx context.Context, req gateway.ChargeRequest) (gateway.Result, error) {
	values := url.Values{}
	values.Set("amount", strconv.FormatInt(req.AmountMinor, 10))
	values.Set("currency", strings.ToLower(req.Currency))
	values.Set("confirm", "true")
	values.Set("payment_method_types[]", "card")
	if req.PaymentMethodToken != "" {
		values.Set("payment_method", req.PaymentMethodToken)
	}
	for key, value := range req.Metadata {
		values.Set("metadata["+key+"]", value)
	}

	var intent paymentIntent
	if err := a.do(ctx, "/v1/payment_intents", values, req.IdempotencyKey, &intent); err != nil {
		return gateway.Result{}, err
	}
	if intent.ID == "" {
		return gateway.Result{}, errors.New("stripe_response_invalid")
	}
	return gateway.Result{ReferenceID: intent.ID, Status: chargeStatus(intent.Status)}, nil
}

func (a *Adapter) CreateRefund(ctx context.Context, req gateway.RefundRequest) (gateway.Result, error) {
	values := url.Values{}
	values.Set("payment_intent", req.ChargeReferenceID)
	values.Set("amount", strconv.FormatInt(req.AmountMinor, 10))
	if req.Reason != "" {
		values.Set("metadata[reason]", req.Reason)
	}

	var out refund
	if err := a.do(ctx, "/v1/refunds", values, req.IdempotencyKey, &out); err != nil {
		return gateway.Result{}, err
	}
	if out.ID == "" {
		return gateway.Result{}, errors.New("stripe_response_invalid")
	}
	return gateway.Result{ReferenceID: out.ID, Status: refundStatus(out.Status)}, nil
}

func (a *Adapter) do(ctx context.Context, path string, values url.Values, idempotencyKey string, out any) error {
	if a.apiKey == "" {
		return gateway.ErrInvalidConfig
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, strings.NewReader(values.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	if a.accountID != "" {
		req.Header.Set("Stripe-Account", a.accountID)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		var stripeErr errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&stripeErr); err != nil {
			return fmt.Errorf("stripe_request_failed: status %d", resp.StatusCode)
		}
		message := strings.TrimSpace(stripeErr.Error.Message)
		if message == "" {
			message = "stripe_request_failed"
		}
		if resp.StatusCode == http.StatusPaymentRequired {
			return fmt.Errorf("%w: %s", gateway.ErrDeclined, message)
		}
		return errors.New(message)
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func chargeStatus(status string) gateway.Status {
	switch status {
	case "succeeded":
		return gateway.StatusSucceeded
	case "processing":
		return gateway.StatusProcessing
	case "canceled":
		return gateway.StatusFailed
	default:
		return gateway.StatusRequiresAction
	}
}

func refundStatus(status string) gateway.Status {
	switch status {
	case "succeeded":
		return gateway.StatusSucceeded
	case "pending":
		return gateway.StatusProcessing
	case "requires_action":
		return gateway.StatusRequiresAction
	default:
		return gateway.StatusFailed
	}
}
