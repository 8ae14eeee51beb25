package mysql

import (
	"context"
	"database/sql"
	"errors"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"github.com/SICKMADE/hobbydork-site-sub001/internal/domain"
)

type MySQLAuctionRepository struct {
	db *sql.DB
}

func NewMySQLAuctionRepository(db *sql.DB) *MySQLAuctionRepository {
	return &MySQLAuctionRepository{db: db}
}

const auctionColumns = `id, seller_id, title, description, image_url, kind, status,
        starting_price, upfront_fee, after_sale_fee, flat_fee_paid, listing_fee_authorization_id,
        winner_id, winning_bid_id, winning_bid_amount, epoch, created_at, ends_at, closed_at, updated_at`

func (r *MySQLAuctionRepository) Create(ctx context.Context, auction *domain.Auction) error {
	query := `
        INSERT INTO auctions (` + auctionColumns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, NULL, NULL, NULL, ?, ?, ?, NULL, ?)
    `
	_, err := r.db.ExecContext(ctx, query,
		auction.ID, auction.SellerID, auction.Title, auction.Description, auction.ImageURL,
		string(auction.Kind), int(auction.Status),
		auction.StartingPrice, auction.UpfrontFee, auction.AfterSaleFee,
		auction.FlatFeePaid, auction.ListingFeeAuthorizationID,
		auction.Epoch, auction.CreatedAt, auction.EndsAt, auction.UpdatedAt)
	return err
}

func (r *MySQLAuctionRepository) Get(ctx context.Context, auctionID string) (*domain.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE id = ?`

	auction, err := scanAuction(r.db.QueryRowContext(ctx, query, auctionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.Errorf(domain.KindNotFound, "auction %s not found", auctionID)
		}
		return nil, err
	}
	return auction, nil
}

func (r *MySQLAuctionRepository) FindDue(ctx context.Context, now time.Time) ([]*domain.Auction, error) {
	query := `
        SELECT ` + auctionColumns + `
        FROM auctions WHERE status = ? AND ends_at <= ?
        ORDER BY ends_at ASC
    `

	rows, err := r.db.QueryContext(ctx, query, int(domain.AuctionOpen), now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var auctions []*domain.Auction
	for rows.Next() {
		auction, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		auctions = append(auctions, auction)
	}

	return auctions, rows.Err()
}

// CloseIfOpen is the compare-and-swap that guarantees at most one close per
// epoch: the UPDATE commits only when status is still OPEN at the epoch the
// closer read. RowsAffected == 0 means the race was lost.
func (r *MySQLAuctionRepository) CloseIfOpen(ctx context.Context, commit domain.CloseCommit) (bool, error) {
	query := `
        UPDATE auctions
        SET status = ?, winner_id = ?, winning_bid_id = ?, winning_bid_amount = ?,
            closed_at = ?, updated_at = ?
        WHERE id = ? AND status = ? AND epoch = ?
    `

	var winnerID, winningBidID sql.NullString
	var winningAmount decimal.NullDecimal
	if commit.WinnerID != "" {
		winnerID = sql.NullString{String: commit.WinnerID, Valid: true}
		winningBidID = sql.NullString{String: commit.WinningBidID, Valid: true}
		winningAmount = decimal.NullDecimal{Decimal: commit.WinningBidAmount, Valid: true}
	}

	res, err := r.db.ExecContext(ctx, query,
		int(domain.AuctionClosed), winnerID, winningBidID, winningAmount,
		commit.ClosedAt, commit.ClosedAt,
		commit.AuctionID, int(domain.AuctionOpen), commit.Epoch)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *MySQLAuctionRepository) SetWinner(ctx context.Context, auctionID, winnerID, winningBidID string, amount decimal.Decimal) (bool, error) {
	query := `
        UPDATE auctions
        SET winner_id = ?, winning_bid_id = ?, winning_bid_amount = ?, updated_at = ?
        WHERE id = ? AND status = ?
    `
	res, err := r.db.ExecContext(ctx, query,
		winnerID, winningBidID, amount, time.Now(), auctionID, int(domain.AuctionClosed))
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (r *MySQLAuctionRepository) Reopen(ctx context.Context, auctionID string, newEndsAt time.Time, preserveFeePaid bool) error {
	query := `
        UPDATE auctions
        SET status = ?, winner_id = NULL, winning_bid_id = NULL, winning_bid_amount = NULL,
            closed_at = NULL, ends_at = ?, epoch = epoch + 1,
            flat_fee_paid = IF(?, flat_fee_paid, FALSE), updated_at = ?
        WHERE id = ?
    `
	res, err := r.db.ExecContext(ctx, query,
		int(domain.AuctionOpen), newEndsAt, preserveFeePaid, time.Now(), auctionID)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return domain.Errorf(domain.KindNotFound, "auction %s not found", auctionID)
	}
	return nil
}

func (r *MySQLAuctionRepository) MarkListingFeePaid(ctx context.Context, authorizationID string) (bool, error) {
	query := `
        UPDATE auctions SET flat_fee_paid = TRUE, updated_at = ?
        WHERE listing_fee_authorization_id = ?
    `
	res, err := r.db.ExecContext(ctx, query, time.Now(), authorizationID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAuction(row rowScanner) (*domain.Auction, error) {
	var auction domain.Auction
	var kind string
	var status int
	var winnerID, winningBidID, listingFeeAuth sql.NullString
	var winningAmount decimal.NullDecimal
	var closedAt sql.NullTime

	err := row.Scan(
		&auction.ID, &auction.SellerID, &auction.Title, &auction.Description, &auction.ImageURL,
		&kind, &status,
		&auction.StartingPrice, &auction.UpfrontFee, &auction.AfterSaleFee,
		&auction.FlatFeePaid, &listingFeeAuth,
		&winnerID, &winningBidID, &winningAmount,
		&auction.Epoch, &auction.CreatedAt, &auction.EndsAt, &closedAt, &auction.UpdatedAt)
	if err != nil {
		return nil, err
	}

	auction.Kind = domain.AuctionKind(kind)
	auction.Status = domain.AuctionStatus(status)
	auction.ListingFeeAuthorizationID = listingFeeAuth.String
	auction.WinnerID = winnerID.String
	auction.WinningBidID = winningBidID.String
	if winningAmount.Valid {
		auction.WinningBidAmount = winningAmount.Decimal
	}
	if closedAt.Valid {
		t := closedAt.Time
		auction.ClosedAt = &t
	}
	return &auction, nil
}
