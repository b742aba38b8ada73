package domain

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrQuoteFinalized = errors.New("quote already finalized")

type QuoteStatus string

const (
	QuoteStatusPending   QuoteStatus = "pending"
	QuoteStatusResponded QuoteStatus = "responded"
	QuoteStatusAccepted  QuoteStatus = "accepted"
	QuoteStatusDeclined  QuoteStatus = "declined"
)

// ParseQuoteStatus treats an empty value as pending: a supplier that has not
// answered has no stored status.
func ParseQuoteStatus(s string) (QuoteStatus, error) {
	switch QuoteStatus(s) {
	case "", QuoteStatusPending:
		return QuoteStatusPending, nil
	case QuoteStatusResponded, QuoteStatusAccepted, QuoteStatusDeclined:
		return QuoteStatus(s), nil
	}
	return "", fmt.Errorf("quote status %q: %w", s, ErrUnknownStatus)
}

func (s QuoteStatus) Terminal() bool {
	switch s {
	case QuoteStatusAccepted, QuoteStatusDeclined:
		return true
	case QuoteStatusPending, QuoteStatusResponded:
		return false
	}
	return false
}

func (s QuoteStatus) CanTransitionTo(to QuoteStatus) bool {
	switch s {
	case QuoteStatusPending:
		return to == QuoteStatusResponded
	case QuoteStatusResponded:
		return to == QuoteStatusAccepted || to == QuoteStatusDeclined
	case QuoteStatusAccepted, QuoteStatusDeclined:
		return false
	}
	return false
}

// CheckTransition returns ErrQuoteFinalized for terminal quotes and
// ErrInvalidTransition for any other disallowed move.
func (s QuoteStatus) CheckTransition(to QuoteStatus) error {
	if s.Terminal() {
		return fmt.Errorf("%s -> %s: %w", s, to, ErrQuoteFinalized)
	}
	if !s.CanTransitionTo(to) {
		return fmt.Errorf("%s -> %s: %w", s, to, ErrInvalidTransition)
	}
	return nil
}

func (s *QuoteStatus) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*s = QuoteStatusPending
		return nil
	}
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseQuoteStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

type QuoteAction string

const (
	QuoteActionAccept  QuoteAction = "accept"
	QuoteActionDecline QuoteAction = "decline"
)

type SupplierProfile struct {
	ID                  string   `json:"id"`
	UserID              string   `json:"user_id"`
	CompanyName         string   `json:"company_name"`
	Location            string   `json:"location"`
	CompanyLogo         string   `json:"company_logo"`
	MaterialSpecialists []string `json:"material_specialist"`
	MOQ                 int      `json:"moq"`
	LeadTimeMin         int      `json:"lead_time_min"`
	LeadTimeMax         int      `json:"lead_time_max"`
}

type SupplierQuote struct {
	RFQID       string          `json:"rfq_id"`
	SupplierID  string          `json:"supplier_id"`
	Status      QuoteStatus     `json:"status"`
	SamplePrice float64         `json:"sample_price"`
	LeadTime    string          `json:"lead_time"`
	MOQ         int             `json:"moq"`
	Message     string          `json:"message"`
	Supplier    SupplierProfile `json:"supplier"`
}

// Actions lists what the creator can still do with this quote. Only a
// responded quote can be accepted or declined.
func (q SupplierQuote) Actions() []QuoteAction {
	switch q.Status {
	case QuoteStatusResponded:
		return []QuoteAction{QuoteActionAccept, QuoteActionDecline}
	case QuoteStatusPending, QuoteStatusAccepted, QuoteStatusDeclined:
		return []QuoteAction{}
	}
	return []QuoteAction{}
}

func (q SupplierQuote) Clone() SupplierQuote {
	out := q
	if q.Supplier.MaterialSpecialists != nil {
		out.Supplier.MaterialSpecialists = append([]string(nil), q.Supplier.MaterialSpecialists...)
	}
	return out
}

type supplierQuoteJSON SupplierQuote

func (q SupplierQuote) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		supplierQuoteJSON
		Actions []QuoteAction `json:"actions"`
	}{supplierQuoteJSON(q), q.Actions()})
}
