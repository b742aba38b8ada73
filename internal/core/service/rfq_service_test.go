package service

import (
	"bytes"
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/genpire/rfq-service/internal/core/domain"
)

func newTestService(rfqs ...domain.RFQ) (*RFQService, *mockDatabaseRepo, *mockCacheRepo, *mockNotifier) {
	db := newMockDatabaseRepo(rfqs...)
	cache := newMockCacheRepo()
	notifier := &mockNotifier{}
	return NewRFQService(db, cache, notifier), db, cache, notifier
}

func quoteStatusIn(t *testing.T, data []byte, rfqID, supplierID string) domain.QuoteStatus {
	t.Helper()
	list, err := domain.DecodeRFQs(data)
	if err != nil {
		t.Fatalf("decode cache: %v", err)
	}
	ri, ok := domain.FindRFQ(list, rfqID)
	if !ok {
		t.Fatalf("rfq %s not in cache", rfqID)
	}
	qi, ok := list[ri].Supplier(supplierID)
	if !ok {
		t.Fatalf("supplier %s not in cache", supplierID)
	}
	return list[ri].Suppliers[qi].Status
}

func TestFetch_ReadsOnceThenCaches(t *testing.T) {
	svc, db, _, _ := newTestService(sampleRFQ())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		list, err := svc.Fetch(ctx, "creator-1")
		if err != nil {
			t.Fatalf("fetch: %v", err)
		}
		if len(list) != 1 || list[0].ID != "rfq-1" {
			t.Fatalf("unexpected list: %+v", list)
		}
	}

	if db.listCalls != 1 {
		t.Errorf("expected 1 gateway read, got %d", db.listCalls)
	}
}

func TestFetch_ConcurrentMissesShareOneRead(t *testing.T) {
	svc, db, _, _ := newTestService(sampleRFQ())
	db.listGate = make(chan struct{})

	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Fetch(context.Background(), "creator-1"); err != nil {
				failures.Add(1)
			}
		}()
	}

	// Let every goroutine miss the cache and join the in-flight load.
	time.Sleep(50 * time.Millisecond)
	close(db.listGate)
	wg.Wait()

	if failures.Load() != 0 {
		t.Fatalf("expected no failures, got %d", failures.Load())
	}
	if db.listCalls != 1 {
		t.Errorf("expected 1 coalesced gateway read, got %d", db.listCalls)
	}
}

func TestFetch_SharedLoadOutlivesFirstCaller(t *testing.T) {
	svc, db, _, _ := newTestService(sampleRFQ())
	db.listGate = make(chan struct{})

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		svc.Fetch(firstCtx, "creator-1")
	}()
	time.Sleep(20 * time.Millisecond)

	var secondErr error
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, secondErr = svc.Fetch(context.Background(), "creator-1")
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	close(db.listGate)
	wg.Wait()

	if secondErr != nil {
		t.Errorf("expected waiter to get the list after the first caller left, got: %v", secondErr)
	}
	if db.listCalls != 1 {
		t.Errorf("expected 1 gateway read, got %d", db.listCalls)
	}
}

func TestRefresh_AlwaysReloads(t *testing.T) {
	svc, db, _, _ := newTestService(sampleRFQ())
	ctx := context.Background()

	svc.Fetch(ctx, "creator-1")
	svc.Refresh(ctx, "creator-1")
	svc.Refresh(ctx, "creator-1")

	if db.listCalls != 3 {
		t.Errorf("expected 3 gateway reads, got %d", db.listCalls)
	}
}

func TestRefresh_IdempotentCacheBytes(t *testing.T) {
	svc, _, cache, _ := newTestService(sampleRFQ())
	ctx := context.Background()

	if _, err := svc.Refresh(ctx, "creator-1"); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	first := cache.raw("creator-1")

	if _, err := svc.Refresh(ctx, "creator-1"); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	second := cache.raw("creator-1")

	if !bytes.Equal(first, second) {
		t.Errorf("cache drifted between refreshes\n%s\n%s", first, second)
	}
}

func TestAcceptOrDecline_OptimisticThenPersisted(t *testing.T) {
	svc, db, cache, notifier := newTestService(sampleRFQ())
	ctx := context.Background()

	var seenDuringCommit domain.QuoteStatus
	db.onUpdate = func() {
		seenDuringCommit = quoteStatusIn(t, cache.raw("creator-1"), "rfq-1", "sup-1")
	}

	res, err := svc.AcceptOrDecline(ctx, AcceptOrDeclineInput{
		RFQID:      "rfq-1",
		SupplierID: "sup-1",
		Status:     domain.QuoteStatusAccepted,
		ActorID:    "creator-1",
	})
	if err != nil {
		t.Fatalf("accept: %v", err)
	}

	if seenDuringCommit != domain.QuoteStatusAccepted {
		t.Errorf("expected cache to show accepted before persistence returned, got %s", seenDuringCommit)
	}
	want := []quoteUpdate{{"rfq-1", "sup-1", domain.QuoteStatusAccepted}}
	if !reflect.DeepEqual(db.quoteUpdates, want) {
		t.Errorf("expected gateway update %+v, got %+v", want, db.quoteUpdates)
	}
	if !res.Notified || res.Warning != "" {
		t.Errorf("expected clean success, got %+v", res)
	}
	if len(notifier.sent) != 1 || notifier.sent[0].ReceiverID != "user-sup-1" {
		t.Errorf("expected notification to supplier user, got %+v", notifier.sent)
	}
	if got := quoteStatusIn(t, cache.raw("creator-1"), "rfq-1", "sup-1"); got != domain.QuoteStatusAccepted {
		t.Errorf("expected reconciled status accepted, got %s", got)
	}
}

func TestAcceptOrDecline_GatewayFailureRestoresSnapshot(t *testing.T) {
	svc, db, cache, notifier := newTestService(sampleRFQ())
	ctx := context.Background()

	if _, err := svc.Fetch(ctx, "creator-1"); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	snapshot := cache.raw("creator-1")
	db.updateErr = errGatewayDown

	_, err := svc.AcceptOrDecline(ctx, AcceptOrDeclineInput{
		RFQID:      "rfq-1",
		SupplierID: "sup-1",
		Status:     domain.QuoteStatusDeclined,
		ActorID:    "creator-1",
	})
	if !errors.Is(err, ErrUpdateFailed) {
		t.Fatalf("expected ErrUpdateFailed, got: %v", err)
	}
	if !errors.Is(err, errGatewayDown) {
		t.Errorf("expected cause to be wrapped, got: %v", err)
	}

	if got := cache.raw("creator-1"); !bytes.Equal(got, snapshot) {
		t.Errorf("expected cache restored to snapshot\nwant %s\ngot  %s", snapshot, got)
	}
	if len(notifier.sent) != 0 {
		t.Errorf("expected no notification after failed update, got %d", len(notifier.sent))
	}
}

func TestAcceptOrDecline_NoRowsIsFailure(t *testing.T) {
	svc, db, cache, _ := newTestService(sampleRFQ())
	ctx := context.Background()
	svc.Fetch(ctx, "creator-1")
	snapshot := cache.raw("creator-1")
	db.noRows = true

	_, err := svc.AcceptOrDecline(ctx, AcceptOrDeclineInput{
		RFQID: "rfq-1", SupplierID: "sup-1", Status: domain.QuoteStatusAccepted, ActorID: "creator-1",
	})
	if !errors.Is(err, ErrNoRowsUpdated) {
		t.Fatalf("expected ErrNoRowsUpdated, got: %v", err)
	}
	if !bytes.Equal(cache.raw("creator-1"), snapshot) {
		t.Error("expected rollback when no rows were updated")
	}
}

func TestAcceptOrDecline_NotificationFailureKeepsStatus(t *testing.T) {
	svc, _, cache, notifier := newTestService(sampleRFQ())
	notifier.err = errors.New("notifications table locked")

	res, err := svc.AcceptOrDecline(context.Background(), AcceptOrDeclineInput{
		RFQID:      "rfq-1",
		SupplierID: "sup-1",
		Status:     domain.QuoteStatusAccepted,
		ActorID:    "creator-1",
	})
	if err != nil {
		t.Fatalf("expected success despite notification failure, got: %v", err)
	}
	if res.Notified {
		t.Error("expected Notified=false")
	}
	if res.Warning != NotNotifiedWarning {
		t.Errorf("expected warning %q, got %q", NotNotifiedWarning, res.Warning)
	}
	if res.Warning == ErrUpdateFailed.Error() {
		t.Error("warning must differ from the generic error message")
	}
	if got := quoteStatusIn(t, cache.raw("creator-1"), "rfq-1", "sup-1"); got != domain.QuoteStatusAccepted {
		t.Errorf("expected status to stay accepted, got %s", got)
	}
}

func TestAcceptOrDecline_ExplicitReceiver(t *testing.T) {
	svc, _, _, notifier := newTestService(sampleRFQ())

	_, err := svc.AcceptOrDecline(context.Background(), AcceptOrDeclineInput{
		RFQID:            "rfq-1",
		SupplierID:       "sup-1",
		Status:           domain.QuoteStatusDeclined,
		ActorID:          "creator-1",
		NotifyReceiverID: "someone-else",
	})
	if err != nil {
		t.Fatalf("decline: %v", err)
	}
	if notifier.sent[0].ReceiverID != "someone-else" {
		t.Errorf("expected explicit receiver, got %s", notifier.sent[0].ReceiverID)
	}
	if notifier.sent[0].Type != domain.NotificationTypeQuote {
		t.Errorf("expected quote notification, got %s", notifier.sent[0].Type)
	}
}

func TestAcceptOrDecline_RejectedTransitions(t *testing.T) {
	finalized := sampleRFQ()
	finalized.Suppliers[0].Status = domain.QuoteStatusAccepted

	tests := []struct {
		name    string
		rfq     domain.RFQ
		in      AcceptOrDeclineInput
		wantErr error
	}{
		{
			name:    "terminal quote",
			rfq:     finalized,
			in:      AcceptOrDeclineInput{RFQID: "rfq-1", SupplierID: "sup-1", Status: domain.QuoteStatusDeclined, ActorID: "creator-1"},
			wantErr: domain.ErrQuoteFinalized,
		},
		{
			name:    "pending quote",
			rfq:     sampleRFQ(),
			in:      AcceptOrDeclineInput{RFQID: "rfq-1", SupplierID: "sup-2", Status: domain.QuoteStatusAccepted, ActorID: "creator-1"},
			wantErr: domain.ErrInvalidTransition,
		},
		{
			name:    "non terminal target",
			rfq:     sampleRFQ(),
			in:      AcceptOrDeclineInput{RFQID: "rfq-1", SupplierID: "sup-1", Status: domain.QuoteStatusResponded, ActorID: "creator-1"},
			wantErr: domain.ErrInvalidTransition,
		},
		{
			name:    "unknown rfq",
			rfq:     sampleRFQ(),
			in:      AcceptOrDeclineInput{RFQID: "rfq-404", SupplierID: "sup-1", Status: domain.QuoteStatusAccepted, ActorID: "creator-1"},
			wantErr: ErrRFQNotFound,
		},
		{
			name:    "unknown supplier",
			rfq:     sampleRFQ(),
			in:      AcceptOrDeclineInput{RFQID: "rfq-1", SupplierID: "sup-404", Status: domain.QuoteStatusAccepted, ActorID: "creator-1"},
			wantErr: ErrQuoteNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, db, _, _ := newTestService(tt.rfq)
			_, err := svc.AcceptOrDecline(context.Background(), tt.in)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got: %v", tt.wantErr, err)
			}
			if len(db.quoteUpdates) != 0 {
				t.Errorf("expected no gateway update, got %+v", db.quoteUpdates)
			}
		})
	}
}

func TestAcceptOrDecline_DuplicateRequest(t *testing.T) {
	svc, db, _, _ := newTestService(sampleRFQ())
	ctx := context.Background()
	in := AcceptOrDeclineInput{
		RequestID:  "req-1",
		RFQID:      "rfq-1",
		SupplierID: "sup-1",
		Status:     domain.QuoteStatusAccepted,
		ActorID:    "creator-1",
	}

	if _, err := svc.AcceptOrDecline(ctx, in); err != nil {
		t.Fatalf("first call failed: %v", err)
	}
	_, err := svc.AcceptOrDecline(ctx, in)
	if !errors.Is(err, ErrDuplicateRequest) {
		t.Errorf("expected ErrDuplicateRequest, got: %v", err)
	}
	if len(db.quoteUpdates) != 1 {
		t.Errorf("expected 1 gateway update, got %d", len(db.quoteUpdates))
	}
}

func TestAcceptOrDecline_RetryAfterFailedCommit(t *testing.T) {
	svc, db, cache, _ := newTestService(sampleRFQ())
	ctx := context.Background()
	in := AcceptOrDeclineInput{
		RequestID:  "req-1",
		RFQID:      "rfq-1",
		SupplierID: "sup-1",
		Status:     domain.QuoteStatusAccepted,
		ActorID:    "creator-1",
	}

	db.updateErr = errGatewayDown
	if _, err := svc.AcceptOrDecline(ctx, in); !errors.Is(err, ErrUpdateFailed) {
		t.Fatalf("expected ErrUpdateFailed, got: %v", err)
	}

	db.updateErr = nil
	if _, err := svc.AcceptOrDecline(ctx, in); err != nil {
		t.Fatalf("expected manual retry to succeed, got: %v", err)
	}
	if got := quoteStatusIn(t, cache.raw("creator-1"), "rfq-1", "sup-1"); got != domain.QuoteStatusAccepted {
		t.Errorf("expected accepted after retry, got %s", got)
	}

	if _, err := svc.AcceptOrDecline(ctx, in); !errors.Is(err, ErrDuplicateRequest) {
		t.Errorf("expected the applied request id to stay claimed, got: %v", err)
	}
}

func TestAcceptOrDecline_RejectedRequestKeepsIDFree(t *testing.T) {
	svc, _, cache, _ := newTestService(sampleRFQ())
	ctx := context.Background()

	_, err := svc.AcceptOrDecline(ctx, AcceptOrDeclineInput{
		RequestID: "req-2", RFQID: "rfq-404", SupplierID: "sup-1",
		Status: domain.QuoteStatusAccepted, ActorID: "creator-1",
	})
	if !errors.Is(err, ErrRFQNotFound) {
		t.Fatalf("expected ErrRFQNotFound, got: %v", err)
	}
	if cache.idempotencySet["idempotency:req-2"] {
		t.Fatal("expected rejected request not to claim its id")
	}

	_, err = svc.AcceptOrDecline(ctx, AcceptOrDeclineInput{
		RequestID: "req-2", RFQID: "rfq-1", SupplierID: "sup-1",
		Status: domain.QuoteStatusAccepted, ActorID: "creator-1",
	})
	if err != nil {
		t.Errorf("expected corrected request to succeed, got: %v", err)
	}
}

func TestSendDraft_OpensAndNotifiesSuppliers(t *testing.T) {
	draft := sampleRFQ()
	draft.Status = domain.RFQStatusDraft
	svc, db, cache, notifier := newTestService(draft)

	var seen domain.RFQStatus
	db.onUpdate = func() {
		list, _ := domain.DecodeRFQs(cache.raw("creator-1"))
		seen = list[0].Status
	}

	res, err := svc.SendDraft(context.Background(), SendDraftInput{
		RFQID:    "rfq-1",
		Status:   domain.RFQStatusOpen,
		SenderID: "creator-1",
	})
	if err != nil {
		t.Fatalf("send draft: %v", err)
	}
	if seen != domain.RFQStatusOpen {
		t.Errorf("expected optimistic open during commit, got %s", seen)
	}
	if res.Status != string(domain.RFQStatusOpen) || !res.Notified {
		t.Errorf("unexpected result: %+v", res)
	}
	if len(notifier.sent) != 2 {
		t.Errorf("expected one notification per supplier, got %d", len(notifier.sent))
	}
	if len(db.rfqUpdates) != 1 || db.rfqUpdates[0] != domain.RFQStatusOpen {
		t.Errorf("unexpected rfq updates: %+v", db.rfqUpdates)
	}
}

func TestSendDraft_RejectsBackwardTransition(t *testing.T) {
	received := sampleRFQ()
	received.Status = domain.RFQStatusQuotesReceived
	svc, db, _, _ := newTestService(received)

	_, err := svc.SendDraft(context.Background(), SendDraftInput{
		RFQID:    "rfq-1",
		Status:   domain.RFQStatusDraft,
		SenderID: "creator-1",
	})
	if !errors.Is(err, domain.ErrInvalidTransition) {
		t.Errorf("expected ErrInvalidTransition, got: %v", err)
	}
	if len(db.rfqUpdates) != 0 {
		t.Error("expected no gateway update")
	}
}

func TestSendDraft_OnlyOpensDrafts(t *testing.T) {
	tests := []struct {
		name string
		from domain.RFQStatus
		to   domain.RFQStatus
	}{
		{"open to quotes received", domain.RFQStatusOpen, domain.RFQStatusQuotesReceived},
		{"draft to quotes received", domain.RFQStatusDraft, domain.RFQStatusQuotesReceived},
		{"open to open", domain.RFQStatusOpen, domain.RFQStatusOpen},
		{"draft to draft", domain.RFQStatusDraft, domain.RFQStatusDraft},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rfq := sampleRFQ()
			rfq.Status = tt.from
			svc, db, _, notifier := newTestService(rfq)

			_, err := svc.SendDraft(context.Background(), SendDraftInput{
				RequestID: "req-send",
				RFQID:     "rfq-1",
				Status:    tt.to,
				SenderID:  "creator-1",
			})
			if !errors.Is(err, domain.ErrInvalidTransition) {
				t.Errorf("expected ErrInvalidTransition, got: %v", err)
			}
			if len(db.rfqUpdates) != 0 {
				t.Errorf("expected no gateway update, got %+v", db.rfqUpdates)
			}
			if len(notifier.sent) != 0 {
				t.Errorf("expected no notification, got %d", len(notifier.sent))
			}
		})
	}
}

func TestSendDraft_FailureRollsBack(t *testing.T) {
	draft := sampleRFQ()
	draft.Status = domain.RFQStatusDraft
	svc, db, cache, _ := newTestService(draft)
	ctx := context.Background()
	svc.Fetch(ctx, "creator-1")
	snapshot := cache.raw("creator-1")
	db.updateErr = errGatewayDown

	_, err := svc.SendDraft(ctx, SendDraftInput{
		RFQID: "rfq-1", Status: domain.RFQStatusOpen, SenderID: "creator-1", ReceiverID: "user-sup-1",
	})
	if !errors.Is(err, ErrUpdateFailed) {
		t.Fatalf("expected ErrUpdateFailed, got: %v", err)
	}
	if !bytes.Equal(cache.raw("creator-1"), snapshot) {
		t.Error("expected cache restored to snapshot")
	}
}

func TestSendDraft_RetryAfterFailedCommit(t *testing.T) {
	draft := sampleRFQ()
	draft.Status = domain.RFQStatusDraft
	svc, db, _, _ := newTestService(draft)
	ctx := context.Background()
	in := SendDraftInput{RequestID: "req-open", RFQID: "rfq-1", Status: domain.RFQStatusOpen, SenderID: "creator-1"}

	db.updateErr = errGatewayDown
	if _, err := svc.SendDraft(ctx, in); !errors.Is(err, ErrUpdateFailed) {
		t.Fatalf("expected ErrUpdateFailed, got: %v", err)
	}

	db.updateErr = nil
	if _, err := svc.SendDraft(ctx, in); err != nil {
		t.Fatalf("expected retry to succeed, got: %v", err)
	}
	if last := db.rfqUpdates[len(db.rfqUpdates)-1]; last != domain.RFQStatusOpen {
		t.Errorf("expected open persisted, got %s", last)
	}
}

func TestInvalidate_DropsCache(t *testing.T) {
	svc, db, _, _ := newTestService(sampleRFQ())
	ctx := context.Background()

	svc.Fetch(ctx, "creator-1")
	if err := svc.Invalidate(ctx, "creator-1"); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	svc.Fetch(ctx, "creator-1")

	if db.listCalls != 2 {
		t.Errorf("expected reload after invalidate, got %d reads", db.listCalls)
	}
}
