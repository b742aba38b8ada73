package storage

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/genpire/rfq-service/internal/core/domain"
)

// MySQLAdapter expects a DSN with clientFoundRows=true so that an UPDATE
// writing an unchanged value still reports a matched row.
type MySQLAdapter struct {
	db *sql.DB

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

func NewMySQLAdapter(db *sql.DB) *MySQLAdapter {
	return &MySQLAdapter{
		db:      db,
		entropy: ulid.Monotonic(rand.Reader, 0),
	}
}

func (m *MySQLAdapter) ListRFQs(ctx context.Context, creatorID string) ([]domain.RFQ, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT id, title, status, creator_id, product_idea, timeline, quantity, target_price, created_at
		FROM rfqs WHERE creator_id = ?
		ORDER BY created_at DESC, id ASC`, creatorID,
	)
	if err != nil {
		return nil, fmt.Errorf("query rfqs: %w", err)
	}
	defer rows.Close()

	var list []domain.RFQ
	index := make(map[string]int)
	for rows.Next() {
		var r domain.RFQ
		var status string
		var productIdea, timeline sql.NullString
		var targetPrice sql.NullFloat64
		if err := rows.Scan(&r.ID, &r.Title, &status, &r.CreatorID, &productIdea, &timeline,
			&r.Quantity, &targetPrice, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan rfq: %w", err)
		}
		if r.Status, err = domain.ParseRFQStatus(status); err != nil {
			return nil, fmt.Errorf("rfq %s: %w", r.ID, err)
		}
		r.ProductIdea = productIdea.String
		r.Timeline = timeline.String
		r.TargetPrice = targetPrice.Float64
		r.Suppliers = []domain.SupplierQuote{}
		index[r.ID] = len(list)
		list = append(list, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rfqs: %w", err)
	}
	if len(list) == 0 {
		return list, nil
	}

	quotes, err := m.listQuotes(ctx, creatorID)
	if err != nil {
		return nil, err
	}
	for _, q := range quotes {
		if i, ok := index[q.RFQID]; ok {
			list[i].Suppliers = append(list[i].Suppliers, q)
		}
	}
	return list, nil
}

func (m *MySQLAdapter) listQuotes(ctx context.Context, creatorID string) ([]domain.SupplierQuote, error) {
	rows, err := m.db.QueryContext(ctx, `
		SELECT sr.rfq_id, sr.supplier_id, sr.status, sr.sample_price, sr.lead_time, sr.moq, sr.message,
			s.user_id, s.company_name, s.location, s.company_logo, s.material_specialist,
			s.moq, s.lead_time_min, s.lead_time_max
		FROM supplier_rfqs sr
		JOIN suppliers s ON s.id = sr.supplier_id
		WHERE sr.rfq_id IN (SELECT id FROM rfqs WHERE creator_id = ?)
		ORDER BY sr.rfq_id, sr.supplier_id`, creatorID,
	)
	if err != nil {
		return nil, fmt.Errorf("query supplier quotes: %w", err)
	}
	defer rows.Close()

	var quotes []domain.SupplierQuote
	for rows.Next() {
		var q domain.SupplierQuote
		var status, leadTime, message, location, logo, specialists sql.NullString
		var samplePrice sql.NullFloat64
		var moq, supplierMOQ, leadMin, leadMax sql.NullInt64
		if err := rows.Scan(&q.RFQID, &q.SupplierID, &status, &samplePrice, &leadTime, &moq, &message,
			&q.Supplier.UserID, &q.Supplier.CompanyName, &location, &logo, &specialists,
			&supplierMOQ, &leadMin, &leadMax); err != nil {
			return nil, fmt.Errorf("scan supplier quote: %w", err)
		}
		if q.Status, err = domain.ParseQuoteStatus(status.String); err != nil {
			return nil, fmt.Errorf("quote %s/%s: %w", q.RFQID, q.SupplierID, err)
		}
		q.SamplePrice = samplePrice.Float64
		q.LeadTime = leadTime.String
		q.MOQ = int(moq.Int64)
		q.Message = message.String
		q.Supplier.ID = q.SupplierID
		q.Supplier.Location = location.String
		q.Supplier.CompanyLogo = logo.String
		q.Supplier.MOQ = int(supplierMOQ.Int64)
		q.Supplier.LeadTimeMin = int(leadMin.Int64)
		q.Supplier.LeadTimeMax = int(leadMax.Int64)
		if specialists.Valid && specialists.String != "" {
			if err := json.Unmarshal([]byte(specialists.String), &q.Supplier.MaterialSpecialists); err != nil {
				return nil, fmt.Errorf("decode material_specialist for %s: %w", q.SupplierID, err)
			}
		}
		quotes = append(quotes, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate supplier quotes: %w", err)
	}
	return quotes, nil
}

func (m *MySQLAdapter) UpdateQuoteStatus(ctx context.Context, rfqID, supplierID string, status domain.QuoteStatus) (bool, error) {
	result, err := m.db.ExecContext(ctx, `
		UPDATE supplier_rfqs SET status = ?
		WHERE rfq_id = ? AND supplier_id = ?`,
		string(status), rfqID, supplierID,
	)
	if err != nil {
		return false, fmt.Errorf("update supplier quote: %w", err)
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (m *MySQLAdapter) UpdateRFQStatus(ctx context.Context, rfqID string, status domain.RFQStatus) (bool, error) {
	result, err := m.db.ExecContext(ctx, `
		UPDATE rfqs SET status = ? WHERE id = ?`,
		string(status), rfqID,
	)
	if err != nil {
		return false, fmt.Errorf("update rfq: %w", err)
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (m *MySQLAdapter) SendNotification(ctx context.Context, n domain.Notification) error {
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if n.ID == "" {
		n.ID = m.newID(n.CreatedAt)
	}

	_, err := m.db.ExecContext(ctx, `
		INSERT INTO notifications (id, sender_id, receiver_id, title, message, type, is_read, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.SenderID, n.ReceiverID, n.Title, n.Message, string(n.Type), n.IsRead, n.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) GetBilling(ctx context.Context, userID string) (*domain.BillingRecord, error) {
	var b domain.BillingRecord
	var subscriptionID, planID sql.NullString
	var createdAt, expiresAt sql.NullTime
	err := m.db.QueryRowContext(ctx, `
		SELECT user_id, subscription_id, plan_id, subscription_status_canceled,
			subscription_created_at, subscription_expires_at, updated_at
		FROM billing WHERE user_id = ?`, userID,
	).Scan(&b.UserID, &subscriptionID, &planID, &b.SubscriptionStatusCanceled,
		&createdAt, &expiresAt, &b.UpdatedAt)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query billing: %w", err)
	}

	b.SubscriptionID = subscriptionID.String
	b.PlanID = planID.String
	b.SubscriptionCreatedAt = createdAt.Time
	if expiresAt.Valid {
		t := expiresAt.Time
		b.SubscriptionExpiresAt = &t
	}
	return &b, nil
}

func (m *MySQLAdapter) SaveSubscription(ctx context.Context, record domain.BillingRecord) error {
	_, err := m.db.ExecContext(ctx, `
		INSERT INTO billing (user_id, subscription_id, plan_id, subscription_status_canceled,
			subscription_created_at, subscription_expires_at, updated_at)
		VALUES (?, ?, ?, FALSE, ?, NULL, ?)
		ON DUPLICATE KEY UPDATE
			subscription_id = VALUES(subscription_id),
			plan_id = VALUES(plan_id),
			subscription_status_canceled = FALSE,
			subscription_created_at = VALUES(subscription_created_at),
			subscription_expires_at = NULL,
			updated_at = VALUES(updated_at)`,
		record.UserID, record.SubscriptionID, record.PlanID, record.SubscriptionCreatedAt, record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert billing: %w", err)
	}
	return nil
}

func (m *MySQLAdapter) CancelSubscription(ctx context.Context, userID, subscriptionID string, expiresAt time.Time) (bool, error) {
	result, err := m.db.ExecContext(ctx, `
		UPDATE billing
		SET subscription_status_canceled = TRUE, subscription_expires_at = ?, updated_at = NOW()
		WHERE user_id = ? AND subscription_id = ?`,
		expiresAt, userID, subscriptionID,
	)
	if err != nil {
		return false, fmt.Errorf("cancel billing: %w", err)
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

func (m *MySQLAdapter) newID(t time.Time) string {
	m.entropyMu.Lock()
	defer m.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), m.entropy).String()
}
