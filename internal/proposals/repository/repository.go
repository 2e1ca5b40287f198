package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"fieldops_backend/internal/billing"
	"fieldops_backend/platform/apperr"
)

const proposalNotFoundMsg = "proposal not found"

const proposalColumns = `id, title, deposit_amount_cents, progress_payment_amount_cents, final_payment_amount_cents,
	approved_at, deposit_paid_at, progress_paid_at, final_paid_at, created_at, updated_at`

// paidColumn maps a matched milestone onto the timestamp it stamps.
var paidColumn = map[billing.PaymentStage]string{
	billing.PaymentStageDeposit: "deposit_paid_at",
	billing.PaymentStageRoughIn: "progress_paid_at",
	billing.PaymentStageFinal:   "final_paid_at",
}

// Repo implements Repository with PostgreSQL.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a new proposals repository.
func New(pool *pgxpool.Pool) *Repo {
	return &Repo{pool: pool}
}

var _ Repository = (*Repo)(nil)

// Create inserts a proposal.
func (r *Repo) Create(ctx context.Context, p *Proposal) error {
	query := `
		INSERT INTO proposals (title, deposit_amount_cents, progress_payment_amount_cents, final_payment_amount_cents)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`

	err := r.pool.QueryRow(ctx, query, p.Title, p.DepositAmountCents, p.ProgressAmountCents, p.FinalAmountCents).
		Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create proposal: %w", err)
	}
	return nil
}

// GetByID retrieves a proposal by its id.
func (r *Repo) GetByID(ctx context.Context, id uuid.UUID) (Proposal, error) {
	return getProposal(ctx, r.pool, id, false)
}

// MarkApproved sets approved_at once.
func (r *Repo) MarkApproved(ctx context.Context, id uuid.UUID, at time.Time) (Proposal, bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE proposals SET approved_at = $2, updated_at = now() WHERE id = $1 AND approved_at IS NULL`, id, at)
	if err != nil {
		return Proposal{}, false, fmt.Errorf("failed to approve proposal: %w", err)
	}

	p, err := r.GetByID(ctx, id)
	if err != nil {
		return Proposal{}, false, err
	}
	return p, tag.RowsAffected() == 1, nil
}

// RecordPayment inserts a payment and stamps the paid timestamp of its milestone.
func (r *Repo) RecordPayment(ctx context.Context, payment *Payment) (Proposal, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return Proposal{}, fmt.Errorf("failed to begin payment transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Row lock so concurrent payments against one proposal stamp in order.
	if _, err := getProposal(ctx, tx, payment.ProposalID, true); err != nil {
		return Proposal{}, err
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO proposal_payments (proposal_id, amount_cents, payment_stage, needs_review)
		VALUES ($1, $2, $3, $4)
		RETURNING id, received_at`,
		payment.ProposalID, payment.AmountCents, string(payment.PaymentStage), payment.NeedsReview,
	).Scan(&payment.ID, &payment.ReceivedAt)
	if err != nil {
		return Proposal{}, fmt.Errorf("failed to insert payment: %w", err)
	}

	if column, ok := paidColumn[payment.PaymentStage]; ok {
		query := fmt.Sprintf(`UPDATE proposals SET %[1]s = $2, updated_at = now() WHERE id = $1 AND %[1]s IS NULL`, column)
		if _, err := tx.Exec(ctx, query, payment.ProposalID, payment.ReceivedAt); err != nil {
			return Proposal{}, fmt.Errorf("failed to stamp %s: %w", column, err)
		}
	}

	p, err := getProposal(ctx, tx, payment.ProposalID, false)
	if err != nil {
		return Proposal{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Proposal{}, fmt.Errorf("failed to commit payment: %w", err)
	}
	return p, nil
}

// ListPayments returns every payment of a proposal in the order received.
func (r *Repo) ListPayments(ctx context.Context, proposalID uuid.UUID) ([]Payment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, proposal_id, amount_cents, payment_stage, needs_review, received_at
		FROM proposal_payments
		WHERE proposal_id = $1
		ORDER BY received_at ASC`, proposalID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	payments := make([]Payment, 0)
	for rows.Next() {
		var p Payment
		var stage string
		if err := rows.Scan(&p.ID, &p.ProposalID, &p.AmountCents, &stage, &p.NeedsReview, &p.ReceivedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		p.PaymentStage = billing.PaymentStage(stage)
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getProposal(ctx context.Context, q querier, id uuid.UUID, forUpdate bool) (Proposal, error) {
	query := `SELECT ` + proposalColumns + ` FROM proposals WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var p Proposal
	err := q.QueryRow(ctx, query, id).Scan(
		&p.ID, &p.Title, &p.DepositAmountCents, &p.ProgressAmountCents, &p.FinalAmountCents,
		&p.ApprovedAt, &p.DepositPaidAt, &p.ProgressPaidAt, &p.FinalPaidAt, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Proposal{}, apperr.NotFound(proposalNotFoundMsg)
		}
		return Proposal{}, fmt.Errorf("failed to get proposal: %w", err)
	}
	return p, nil
}
