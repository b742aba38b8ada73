package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"
)

var (
	ErrUnknownStatus     = errors.New("unknown status")
	ErrInvalidTransition = errors.New("invalid status transition")
)

type RFQStatus string

const (
	RFQStatusDraft          RFQStatus = "draft"
	RFQStatusOpen           RFQStatus = "open"
	RFQStatusQuotesReceived RFQStatus = "quotes_recieved" // stored spelling
)

func ParseRFQStatus(s string) (RFQStatus, error) {
	switch RFQStatus(s) {
	case RFQStatusDraft, RFQStatusOpen, RFQStatusQuotesReceived:
		return RFQStatus(s), nil
	}
	return "", fmt.Errorf("rfq status %q: %w", s, ErrUnknownStatus)
}

// Next returns the only forward transition from s. ok is false for the
// final state.
func (s RFQStatus) Next() (next RFQStatus, ok bool) {
	switch s {
	case RFQStatusDraft:
		return RFQStatusOpen, true
	case RFQStatusOpen:
		return RFQStatusQuotesReceived, true
	case RFQStatusQuotesReceived:
		return "", false
	}
	return "", false
}

func (s RFQStatus) CanTransitionTo(to RFQStatus) bool {
	next, ok := s.Next()
	return ok && next == to
}

func (s *RFQStatus) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseRFQStatus(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

type RFQ struct {
	ID          string          `json:"id"`
	Title       string          `json:"title"`
	Status      RFQStatus       `json:"status"`
	CreatorID   string          `json:"creator_id"`
	ProductIdea string          `json:"product_idea"`
	Timeline    string          `json:"timeline"`
	Quantity    int             `json:"quantity"`
	TargetPrice float64         `json:"target_price"`
	CreatedAt   time.Time       `json:"created_at"`
	Suppliers   []SupplierQuote `json:"suppliers"`
}

// NextStatus is the status a creator may move this RFQ to, if any.
func (r RFQ) NextStatus() (RFQStatus, bool) {
	return r.Status.Next()
}

func (r RFQ) Supplier(supplierID string) (int, bool) {
	for i, q := range r.Suppliers {
		if q.SupplierID == supplierID {
			return i, true
		}
	}
	return -1, false
}

// Clone returns a deep copy so optimistic patches never alias a snapshot.
func (r RFQ) Clone() RFQ {
	out := r
	if r.Suppliers != nil {
		out.Suppliers = make([]SupplierQuote, len(r.Suppliers))
		for i, q := range r.Suppliers {
			out.Suppliers[i] = q.Clone()
		}
	}
	return out
}

func CloneRFQs(list []RFQ) []RFQ {
	if list == nil {
		return nil
	}
	out := make([]RFQ, len(list))
	for i, r := range list {
		out[i] = r.Clone()
	}
	return out
}

func FindRFQ(list []RFQ, rfqID string) (int, bool) {
	for i, r := range list {
		if r.ID == rfqID {
			return i, true
		}
	}
	return -1, false
}

// SortRFQs orders by created_at desc, id asc, and suppliers by id, so that
// equal data always encodes to equal bytes.
func SortRFQs(list []RFQ) {
	sort.SliceStable(list, func(i, j int) bool {
		if !list[i].CreatedAt.Equal(list[j].CreatedAt) {
			return list[i].CreatedAt.After(list[j].CreatedAt)
		}
		return list[i].ID < list[j].ID
	})
	for i := range list {
		qs := list[i].Suppliers
		sort.SliceStable(qs, func(a, b int) bool {
			return qs[a].SupplierID < qs[b].SupplierID
		})
	}
}

// EncodeRFQs is the canonical cache encoding of a creator's RFQ list.
func EncodeRFQs(list []RFQ) ([]byte, error) {
	sorted := CloneRFQs(list)
	if sorted == nil {
		sorted = []RFQ{}
	}
	SortRFQs(sorted)
	for i := range sorted {
		sorted[i].CreatedAt = sorted[i].CreatedAt.UTC()
	}
	return json.Marshal(sorted)
}

func DecodeRFQs(data []byte) ([]RFQ, error) {
	var list []RFQ
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	return list, nil
}
