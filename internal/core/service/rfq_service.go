package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/genpire/rfq-service/internal/core/domain"
	"github.com/genpire/rfq-service/internal/logging"
	"github.com/genpire/rfq-service/internal/port"
)

var (
	ErrDuplicateRequest   = errors.New("duplicate request")
	ErrRFQNotFound        = errors.New("rfq not found")
	ErrQuoteNotFound      = errors.New("quote not found")
	ErrForbidden          = errors.New("forbidden")
	ErrNoRowsUpdated      = errors.New("no rows updated")
	ErrNoReceiver         = errors.New("no notification receiver")
	ErrCreatorRequired    = errors.New("creator id required")
	ErrCacheUnavailable   = errors.New("rfq cache unavailable")
	ErrGatewayUnavailable = errors.New("rfq gateway unavailable")
)

const loadTimeout = 10 * time.Second

// NotNotifiedWarning is returned when a status change persisted but the
// counterparty notification could not be recorded.
const NotNotifiedWarning = "status updated but the recipient could not be notified"

type AcceptOrDeclineInput struct {
	RequestID        string
	RFQID            string
	SupplierID       string
	Status           domain.QuoteStatus
	ActorID          string
	NotifyReceiverID string
}

type SendDraftInput struct {
	RequestID  string
	RFQID      string
	Status     domain.RFQStatus
	SenderID   string
	ReceiverID string
	Title      string
}

type MutationResult struct {
	RFQID      string `json:"rfq_id"`
	SupplierID string `json:"supplier_id,omitempty"`
	Status     string `json:"status"`
	Notified   bool   `json:"notified"`
	Warning    string `json:"warning,omitempty"`
}

// RFQService is the creator's RFQ status store: a read-through cache over the
// gateway with optimistic status mutations.
type RFQService struct {
	db       port.DatabaseRepository
	cache    port.CacheRepository
	notifier port.Notifier
	fetches  singleflight.Group
	now      func() time.Time
}

func NewRFQService(db port.DatabaseRepository, cache port.CacheRepository, notifier port.Notifier) *RFQService {
	return &RFQService{
		db:       db,
		cache:    cache,
		notifier: notifier,
		now:      time.Now,
	}
}

// Fetch returns the cached list, loading it once on a miss.
func (s *RFQService) Fetch(ctx context.Context, creatorID string) ([]domain.RFQ, error) {
	list, _, err := s.current(ctx, creatorID)
	return list, err
}

// Refresh unconditionally reloads the creator's RFQs and replaces the cache.
func (s *RFQService) Refresh(ctx context.Context, creatorID string) ([]domain.RFQ, error) {
	if strings.TrimSpace(creatorID) == "" {
		return nil, ErrCreatorRequired
	}
	list, _, err := s.load(ctx, creatorID)
	return list, err
}

func (s *RFQService) Invalidate(ctx context.Context, creatorID string) error {
	return s.cache.DeleteRFQs(ctx, creatorID)
}

func (s *RFQService) AcceptOrDecline(ctx context.Context, in AcceptOrDeclineInput) (MutationResult, error) {
	if in.Status != domain.QuoteStatusAccepted && in.Status != domain.QuoteStatusDeclined {
		return MutationResult{}, fmt.Errorf("quote status %q: %w", in.Status, domain.ErrInvalidTransition)
	}

	list, snapshot, err := s.current(ctx, in.ActorID)
	if err != nil {
		return MutationResult{}, err
	}
	ri, ok := domain.FindRFQ(list, in.RFQID)
	if !ok {
		return MutationResult{}, ErrRFQNotFound
	}
	if list[ri].CreatorID != in.ActorID {
		return MutationResult{}, ErrForbidden
	}
	qi, ok := list[ri].Supplier(in.SupplierID)
	if !ok {
		return MutationResult{}, ErrQuoteNotFound
	}
	quote := list[ri].Suppliers[qi]
	if err := quote.Status.CheckTransition(in.Status); err != nil {
		return MutationResult{}, err
	}

	patched := domain.CloneRFQs(list)
	patched[ri].Suppliers[qi].Status = in.Status
	optimistic, err := domain.EncodeRFQs(patched)
	if err != nil {
		return MutationResult{}, fmt.Errorf("encode optimistic rfqs: %w", err)
	}

	receiver := strings.TrimSpace(in.NotifyReceiverID)
	if receiver == "" {
		receiver = quote.Supplier.UserID
	}
	title, message := quoteNotification(list[ri].Title, in.Status)

	if err := s.claim(ctx, in.RequestID); err != nil {
		return MutationResult{}, err
	}
	outcome, err := RunMutation(ctx, Mutation{
		Name: "quote_status",
		Apply: func(ctx context.Context) error {
			return s.cache.SetRFQs(ctx, in.ActorID, optimistic)
		},
		Commit: func(ctx context.Context) error {
			ok, err := s.db.UpdateQuoteStatus(ctx, in.RFQID, in.SupplierID, in.Status)
			if err != nil {
				return err
			}
			if !ok {
				return ErrNoRowsUpdated
			}
			return nil
		},
		SideEffect: func(ctx context.Context) error {
			return s.notify(ctx, in.ActorID, receiver, title, message, domain.NotificationTypeQuote)
		},
		Rollback: func(ctx context.Context) error {
			return s.restore(ctx, in.ActorID, optimistic, snapshot)
		},
		Reconcile: func(ctx context.Context) error {
			_, err := s.Refresh(ctx, in.ActorID)
			return err
		},
		Policy: RFQMutationPolicy,
	})
	if err != nil {
		s.releaseOnFailure(ctx, in.RequestID, err)
		return MutationResult{}, err
	}

	return resultOf(in.RFQID, in.SupplierID, string(in.Status), outcome), nil
}

// SendDraft publishes a draft RFQ. draft -> open is the only transition it accepts;
// quotes_recieved is reached through supplier responses.
func (s *RFQService) SendDraft(ctx context.Context, in SendDraftInput) (MutationResult, error) {
	list, snapshot, err := s.current(ctx, in.SenderID)
	if err != nil {
		return MutationResult{}, err
	}
	ri, ok := domain.FindRFQ(list, in.RFQID)
	if !ok {
		return MutationResult{}, ErrRFQNotFound
	}
	rfq := list[ri]
	if rfq.CreatorID != in.SenderID {
		return MutationResult{}, ErrForbidden
	}
	if rfq.Status != domain.RFQStatusDraft || in.Status != domain.RFQStatusOpen {
		return MutationResult{}, fmt.Errorf("rfq %s -> %s: %w", rfq.Status, in.Status, domain.ErrInvalidTransition)
	}

	patched := domain.CloneRFQs(list)
	patched[ri].Status = in.Status
	optimistic, err := domain.EncodeRFQs(patched)
	if err != nil {
		return MutationResult{}, fmt.Errorf("encode optimistic rfqs: %w", err)
	}

	receivers := rfqReceivers(rfq, in.ReceiverID)
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = rfq.Title
	}

	if err := s.claim(ctx, in.RequestID); err != nil {
		return MutationResult{}, err
	}
	outcome, err := RunMutation(ctx, Mutation{
		Name: "rfq_status",
		Apply: func(ctx context.Context) error {
			return s.cache.SetRFQs(ctx, in.SenderID, optimistic)
		},
		Commit: func(ctx context.Context) error {
			ok, err := s.db.UpdateRFQStatus(ctx, in.RFQID, in.Status)
			if err != nil {
				return err
			}
			if !ok {
				return ErrNoRowsUpdated
			}
			return nil
		},
		SideEffect: func(ctx context.Context) error {
			if len(receivers) == 0 {
				return ErrNoReceiver
			}
			var errs []error
			for _, receiver := range receivers {
				err := s.notify(ctx, in.SenderID, receiver, "New RFQ received",
					fmt.Sprintf("You have received a new request for quote: %s", title), domain.NotificationTypeRFQ)
				if err != nil {
					errs = append(errs, err)
				}
			}
			return errors.Join(errs...)
		},
		Rollback: func(ctx context.Context) error {
			return s.restore(ctx, in.SenderID, optimistic, snapshot)
		},
		Reconcile: func(ctx context.Context) error {
			_, err := s.Refresh(ctx, in.SenderID)
			return err
		},
		Policy: RFQMutationPolicy,
	})
	if err != nil {
		s.releaseOnFailure(ctx, in.RequestID, err)
		return MutationResult{}, err
	}

	return resultOf(in.RFQID, "", string(in.Status), outcome), nil
}

// current returns the cached list and its raw bytes, loading on a miss.
// Concurrent misses for one creator share a single gateway read.
func (s *RFQService) current(ctx context.Context, creatorID string) ([]domain.RFQ, []byte, error) {
	if strings.TrimSpace(creatorID) == "" {
		return nil, nil, ErrCreatorRequired
	}

	data, err := s.cache.GetRFQs(ctx, creatorID)
	if err == nil {
		list, err := domain.DecodeRFQs(data)
		if err == nil {
			return list, data, nil
		}
		logging.FromContext(ctx).Warn("discarding undecodable rfq cache entry", "creator_id", creatorID, "error", err)
	} else if !errors.Is(err, port.ErrCacheMiss) {
		return nil, nil, fmt.Errorf("%w: read: %w", ErrCacheUnavailable, err)
	}

	type loaded struct {
		list []domain.RFQ
		data []byte
	}
	// The shared load must not die with whichever caller started it.
	v, err, _ := s.fetches.Do(creatorID, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), loadTimeout)
		defer cancel()
		list, data, err := s.load(lctx, creatorID)
		return loaded{list, data}, err
	})
	if err != nil {
		return nil, nil, err
	}
	l := v.(loaded)
	return domain.CloneRFQs(l.list), l.data, nil
}

func (s *RFQService) load(ctx context.Context, creatorID string) ([]domain.RFQ, []byte, error) {
	list, err := s.db.ListRFQs(ctx, creatorID)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrGatewayUnavailable, err)
	}
	data, err := domain.EncodeRFQs(list)
	if err != nil {
		return nil, nil, fmt.Errorf("encode rfqs: %w", err)
	}
	if err := s.cache.SetRFQs(ctx, creatorID, data); err != nil {
		return nil, nil, fmt.Errorf("%w: write: %w", ErrCacheUnavailable, err)
	}
	sorted, err := domain.DecodeRFQs(data)
	if err != nil {
		return nil, nil, fmt.Errorf("decode rfqs: %w", err)
	}
	return sorted, data, nil
}

func (s *RFQService) restore(ctx context.Context, creatorID string, optimistic, snapshot []byte) error {
	ok, err := s.cache.RestoreRFQs(ctx, creatorID, optimistic, snapshot)
	if err != nil {
		return err
	}
	if !ok {
		// Someone replaced the optimistic value already; reconcile settles it.
		logging.FromContext(ctx).Warn("rfq cache changed before rollback", "creator_id", creatorID)
	}
	return nil
}

func (s *RFQService) claim(ctx context.Context, requestID string) error {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return nil
	}
	ok, err := s.cache.SetIdempotency(ctx, "idempotency:"+requestID)
	if err != nil {
		return fmt.Errorf("idempotency check failed: %w", err)
	}
	if !ok {
		return ErrDuplicateRequest
	}
	return nil
}

// releaseOnFailure frees a claimed request id when the status change did not
// persist, so the user can retry with the same id.
func (s *RFQService) releaseOnFailure(ctx context.Context, requestID string, err error) {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" || !errors.Is(err, ErrUpdateFailed) {
		return
	}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := s.cache.ReleaseIdempotency(rctx, "idempotency:"+requestID); err != nil {
		logging.FromContext(ctx).Warn("failed to release request id", "request_id", requestID, "error", err)
	}
}

func (s *RFQService) notify(ctx context.Context, senderID, receiverID, title, message string, typ domain.NotificationType) error {
	if strings.TrimSpace(receiverID) == "" {
		return ErrNoReceiver
	}
	return s.notifier.SendNotification(ctx, domain.Notification{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Title:      title,
		Message:    message,
		Type:       typ,
		CreatedAt:  s.now().UTC(),
	})
}

func quoteNotification(rfqTitle string, status domain.QuoteStatus) (string, string) {
	switch status {
	case domain.QuoteStatusAccepted:
		return "Quote accepted", fmt.Sprintf("Your quote for %q has been accepted.", rfqTitle)
	case domain.QuoteStatusDeclined:
		return "Quote declined", fmt.Sprintf("Your quote for %q has been declined.", rfqTitle)
	case domain.QuoteStatusPending, domain.QuoteStatusResponded:
		return "Quote updated", fmt.Sprintf("Your quote for %q is now %s.", rfqTitle, status)
	}
	return "Quote updated", fmt.Sprintf("Your quote for %q changed.", rfqTitle)
}

// rfqReceivers is the explicit receiver, or every supplier on the RFQ.
func rfqReceivers(rfq domain.RFQ, explicit string) []string {
	if explicit = strings.TrimSpace(explicit); explicit != "" {
		return []string{explicit}
	}
	seen := make(map[string]bool)
	var out []string
	for _, q := range rfq.Suppliers {
		id := q.Supplier.UserID
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func resultOf(rfqID, supplierID, status string, outcome MutationOutcome) MutationResult {
	res := MutationResult{
		RFQID:      rfqID,
		SupplierID: supplierID,
		Status:     status,
		Notified:   outcome.SideEffectErr == nil,
	}
	if !res.Notified {
		res.Warning = NotNotifiedWarning
	}
	return res
}
