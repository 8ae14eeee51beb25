package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/SICKMADE/hobbydork-site-sub001/internal/domain"
)

type MySQLBidRepository struct {
	db *sql.DB
}

func NewMySQLBidRepository(db *sql.DB) *MySQLBidRepository {
	return &MySQLBidRepository{db: db}
}

const bidColumns = `id, auction_id, bidder_id, amount, authorization_id, status, created_at`

// InsertIfOpen appends the bid as a single conditional write: the INSERT..SELECT
// only produces a row while the auction is OPEN, so a bid can never land in an
// auction that a concurrent close already committed.
func (r *MySQLBidRepository) InsertIfOpen(ctx context.Context, bid *domain.Bid) (bool, error) {
	query := `
        INSERT INTO bids (` + bidColumns + `)
        SELECT ?, a.id, ?, ?, ?, ?, ?
        FROM auctions a WHERE a.id = ? AND a.status = ?
    `
	res, err := r.db.ExecContext(ctx, query,
		bid.ID, bid.BidderID, bid.Amount, bid.AuthorizationID, string(bid.Status), bid.CreatedAt,
		bid.AuctionID, int(domain.AuctionOpen))
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *MySQLBidRepository) Get(ctx context.Context, bidID string) (*domain.Bid, error) {
	query := `SELECT ` + bidColumns + ` FROM bids WHERE id = ?`

	bid, err := scanBid(r.db.QueryRowContext(ctx, query, bidID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.Errorf(domain.KindNotFound, "bid %s not found", bidID)
		}
		return nil, err
	}
	return bid, nil
}

func (r *MySQLBidRepository) GetByAuthorization(ctx context.Context, authorizationID string) (*domain.Bid, error) {
	query := `SELECT ` + bidColumns + ` FROM bids WHERE authorization_id = ?`

	bid, err := scanBid(r.db.QueryRowContext(ctx, query, authorizationID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.Errorf(domain.KindNotFound, "no bid holds authorization %s", authorizationID)
		}
		return nil, err
	}
	return bid, nil
}

func (r *MySQLBidRepository) Highest(ctx context.Context, auctionID string, cutoff time.Time) (*domain.Bid, error) {
	query := `
        SELECT ` + bidColumns + `
        FROM bids
        WHERE auction_id = ? AND created_at <= ?
        ORDER BY amount DESC, created_at ASC
        LIMIT 1
    `

	bid, err := scanBid(r.db.QueryRowContext(ctx, query, auctionID, cutoff))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return bid, nil
}

func (r *MySQLBidRepository) ListByStatus(ctx context.Context, auctionID string, status domain.BidStatus) ([]*domain.Bid, error) {
	query := `
        SELECT ` + bidColumns + `
        FROM bids WHERE auction_id = ? AND status = ?
        ORDER BY created_at ASC
    `

	rows, err := r.db.QueryContext(ctx, query, auctionID, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bids []*domain.Bid
	for rows.Next() {
		bid, err := scanBid(rows)
		if err != nil {
			return nil, err
		}
		bids = append(bids, bid)
	}

	return bids, rows.Err()
}

func (r *MySQLBidRepository) UpdateStatus(ctx context.Context, bidID string, from, to domain.BidStatus) (bool, error) {
	query := `UPDATE bids SET status = ? WHERE id = ? AND status = ?`
	res, err := r.db.ExecContext(ctx, query, string(to), bidID, string(from))
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *MySQLBidRepository) DeleteForAuction(ctx context.Context, auctionID string) error {
	query := `DELETE FROM bids WHERE auction_id = ?`
	_, err := r.db.ExecContext(ctx, query, auctionID)
	return err
}

// FindPendingSettlements returns holds still AUTHORIZED on CLOSED auctions:
// winners whose capture failed and losers whose cancel failed. Fed to the
// scheduler retry pass.
func (r *MySQLBidRepository) FindPendingSettlements(ctx context.Context, limit int) ([]domain.PendingSettlement, error) {
	query := `
        SELECT b.id, b.auction_id, b.bidder_id, b.amount, b.authorization_id, b.status, b.created_at,
               (b.id = a.winning_bid_id) AS is_winner
        FROM bids b
        JOIN auctions a ON a.id = b.auction_id
        WHERE a.status = ? AND b.status = ?
        ORDER BY b.created_at ASC
        LIMIT ?
    `

	rows, err := r.db.QueryContext(ctx, query, int(domain.AuctionClosed), string(domain.BidAuthorized), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var settlements []domain.PendingSettlement
	for rows.Next() {
		var bid domain.Bid
		var authID sql.NullString
		var status string
		var isWinner sql.NullBool

		err := rows.Scan(&bid.ID, &bid.AuctionID, &bid.BidderID, &bid.Amount,
			&authID, &status, &bid.CreatedAt, &isWinner)
		if err != nil {
			return nil, err
		}

		bid.AuthorizationID = authID.String
		bid.Status = domain.BidStatus(status)
		settlements = append(settlements, domain.PendingSettlement{
			Bid:    &bid,
			Winner: isWinner.Valid && isWinner.Bool,
		})
	}

	return settlements, rows.Err()
}

func scanBid(row rowScanner) (*domain.Bid, error) {
	var bid domain.Bid
	var authID sql.NullString
	var status string

	err := row.Scan(&bid.ID, &bid.AuctionID, &bid.BidderID, &bid.Amount,
		&authID, &status, &bid.CreatedAt)
	if err != nil {
		return nil, err
	}

	bid.AuthorizationID = authID.String
	bid.Status = domain.BidStatus(status)
	return &bid, nil
}
