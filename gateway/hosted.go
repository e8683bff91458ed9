/*
Package gateway implements booking.Gateway for a hosted checkout page.

FLOW:
  1. Initiate builds an ordered form (merchant, URLs, customer, amount) and
     signs it. The caller posts the form to ProcessURL in the user's browser.
  2. The gateway redirects the user to the return or cancel URL.
  3. The gateway posts a notify callback; Verify checks its signature before
     the booking service sees it.

SIGNATURE:
  md5 over "k1=v1&k2=v2..." for every non-empty field in form order, values
  URL-encoded with spaces as "+", followed by "&passphrase=..." when a
  passphrase is configured.
*/
package gateway

import (
	"context"
	"crypto/md5"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/warp/booking-engine/booking"
	"github.com/warp/booking-engine/generic"
)

const (
	SandboxHost = "https://sandbox.payfast.co.za"
	LiveHost    = "https://www.payfast.co.za"
	processPath = "/eng/process"

	statusComplete = "COMPLETE"
)

var (
	ErrNotConfigured    = errors.New("gateway merchant credentials are not configured")
	ErrInvalidSignature = generic.NewError(generic.ErrInvalidInput, "invalid gateway signature")
	ErrMalformedNotify  = generic.NewError(generic.ErrInvalidInput, "malformed gateway notification")
)

type Config struct {
	MerchantID  string
	MerchantKey string
	Passphrase  string
	Sandbox     bool
	ReturnURL   string
	CancelURL   string
	NotifyURL   string
}

// HostedCheckout signs checkout forms and verifies notify callbacks.
type HostedCheckout struct {
	cfg Config
}

func New(cfg Config) *HostedCheckout {
	return &HostedCheckout{cfg: cfg}
}

var _ booking.Gateway = (*HostedCheckout)(nil)

// ProcessURL is where the signed form is posted.
func (h *HostedCheckout) ProcessURL() string {
	if h.cfg.Sandbox {
		return SandboxHost + processPath
	}
	return LiveHost + processPath
}

// field is one form entry; order matters for the signature.
type field struct {
	key, value string
}

// Initiate returns the signed form for the requested charge.
func (h *HostedCheckout) Initiate(_ context.Context, req booking.CheckoutRequest) (*booking.Checkout, error) {
	if h.cfg.MerchantID == "" || h.cfg.MerchantKey == "" {
		return nil, ErrNotConfigured
	}
	if !req.Amount.IsPositive() {
		return nil, generic.ErrNonPositiveAmount
	}

	callback := url.Values{}
	callback.Set("appointmentId", req.AppointmentID)
	callback.Set("correlationId", req.CorrelationID)

	fields := []field{
		{"merchant_id", h.cfg.MerchantID},
		{"merchant_key", h.cfg.MerchantKey},
		{"return_url", withQuery(h.cfg.ReturnURL, callback, "true")},
		{"cancel_url", withQuery(h.cfg.CancelURL, callback, "false")},
		{"notify_url", h.cfg.NotifyURL},
		{"name_first", req.CustomerName},
		{"email_address", req.CustomerEmail},
		{"m_payment_id", req.CorrelationID},
		{"amount", req.Amount.Fixed()},
		{"item_name", req.ItemName},
		{"custom_str1", req.AppointmentID},
	}

	form := make(map[string]string, len(fields)+1)
	for _, f := range fields {
		if strings.TrimSpace(f.value) != "" {
			form[f.key] = strings.TrimSpace(f.value)
		}
	}
	form["signature"] = sign(fields, h.cfg.Passphrase)

	return &booking.Checkout{
		RedirectURL: h.ProcessURL(),
		Fields:      form,
		Amount:      req.Amount,
	}, nil
}

func withQuery(base string, v url.Values, success string) string {
	if base == "" {
		return ""
	}
	q := url.Values{}
	for k, vals := range v {
		q[k] = vals
	}
	q.Set("success", success)
	sep := "?"
	if strings.Contains(base, "?") {
		sep = "&"
	}
	return base + sep + q.Encode()
}

// sign computes the form signature.
func sign(fields []field, passphrase string) string {
	var parts []string
	for _, f := range fields {
		v := strings.TrimSpace(f.value)
		if v == "" {
			continue
		}
		parts = append(parts, f.key+"="+encode(v))
	}
	s := strings.Join(parts, "&")
	if p := strings.TrimSpace(passphrase); p != "" {
		s += "&passphrase=" + encode(p)
	}
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// encode matches the gateway's encoder: QueryEscape, except that
// ! ' ( ) * stay literal.
func encode(s string) string {
	return unreserved.Replace(url.QueryEscape(s))
}

var unreserved = strings.NewReplacer("%21", "!", "%27", "'", "%28", "(", "%29", ")", "%2A", "*")

// =============================================================================
// NOTIFY CALLBACK
// =============================================================================

// Notification is a verified notify callback.
type Notification struct {
	AppointmentID string
	CorrelationID string
	Success       bool
	Status        string
	Amount        *generic.Money
}

// Verify checks the signature of a raw x-www-form-urlencoded notify body.
// The raw body is required because the signature depends on field order.
func (h *HostedCheckout) Verify(body string) (*Notification, error) {
	var fields []field
	var signature string
	values := map[string]string{}

	for _, pair := range strings.Split(body, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			return nil, ErrMalformedNotify
		}
		value, err := url.QueryUnescape(v)
		if err != nil {
			return nil, ErrMalformedNotify
		}
		if key == "signature" {
			signature = value
			continue
		}
		fields = append(fields, field{key, value})
		values[key] = value
	}

	expected := sign(fields, h.cfg.Passphrase)
	if signature == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) != 1 {
		return nil, ErrInvalidSignature
	}

	n := &Notification{
		AppointmentID: values["custom_str1"],
		CorrelationID: values["m_payment_id"],
		Status:        values["payment_status"],
	}
	if n.AppointmentID == "" || n.CorrelationID == "" {
		return nil, ErrMalformedNotify
	}
	n.Success = strings.EqualFold(n.Status, statusComplete)
	if gross := values["amount_gross"]; gross != "" {
		m, err := generic.ParseMoney(gross)
		if err != nil {
			return nil, fmt.Errorf("%w: amount_gross", ErrMalformedNotify)
		}
		n.Amount = &m
	}
	return n, nil
}

// Confirmation converts a verified notification for the booking service.
func (n Notification) Confirmation() booking.GatewayConfirmation {
	return booking.GatewayConfirmation{
		AppointmentID: n.AppointmentID,
		CorrelationID: n.CorrelationID,
		Success:       n.Success,
		GatewayAmount: n.Amount,
	}
}
