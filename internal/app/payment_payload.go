package app

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ParamigosApps/appbar-sub000/internal/domain"
)

// Notification is a parsed payment provider callback.
type Notification struct {
	PaymentID string
	Status    string
	Items     []domain.LineItem
	UserID    string
	Kind      domain.UnitKind
	HoldID    string
}

type notificationPayload struct {
	PaymentID providerID `json:"paymentId"`
	Status    string     `json:"status"`
	Items     []struct {
		PoolID   string `json:"poolId"`
		Quantity int    `json:"quantity"`
	} `json:"items"`
	UserID string `json:"userId"`
	Kind   string `json:"kind"`
	HoldID string `json:"holdId"`
}

// providerID accepts ids sent either as JSON strings or numbers.
type providerID string

func (p *providerID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*p = providerID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*p = providerID(n.String())
	return nil
}

// ParseNotification validates a raw callback body. Any malformed input is
// ErrInvalidPaymentPayload and must not touch stored state.
func ParseNotification(body []byte) (Notification, error) {
	var payload notificationPayload
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return Notification{}, fmt.Errorf("%w: %v", domain.ErrInvalidPaymentPayload, err)
	}

	n := Notification{
		PaymentID: strings.TrimSpace(string(payload.PaymentID)),
		Status:    strings.ToLower(strings.TrimSpace(payload.Status)),
		UserID:    strings.TrimSpace(payload.UserID),
		Kind:      domain.UnitKind(strings.ToLower(strings.TrimSpace(payload.Kind))),
		HoldID:    strings.TrimSpace(payload.HoldID),
	}
	if n.PaymentID == "" {
		return Notification{}, fmt.Errorf("%w: paymentId required", domain.ErrInvalidPaymentPayload)
	}
	if n.Status == "" {
		return Notification{}, fmt.Errorf("%w: status required", domain.ErrInvalidPaymentPayload)
	}
	if n.Kind != "" && !n.Kind.Valid() {
		return Notification{}, fmt.Errorf("%w: unknown kind %q", domain.ErrInvalidPaymentPayload, payload.Kind)
	}
	for i, it := range payload.Items {
		poolID := strings.TrimSpace(it.PoolID)
		if poolID == "" || it.Quantity <= 0 {
			return Notification{}, fmt.Errorf("%w: item %d needs poolId and a positive quantity", domain.ErrInvalidPaymentPayload, i)
		}
		n.Items = append(n.Items, domain.LineItem{PoolID: poolID, Quantity: it.Quantity})
	}
	return n, nil
}
