package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/shopspring/decimal"

	"auction-engine/internal/biddingerrors"
	model "auction-engine/internal/models"
)

const mysqlDuplicateEntry = 1062

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS auctions (
		id           VARCHAR(64)   NOT NULL PRIMARY KEY,
		name         VARCHAR(255)  NOT NULL,
		description  TEXT          NOT NULL,
		category_id  INT           NOT NULL DEFAULT 0,
		seller_id    VARCHAR(64)   NOT NULL DEFAULT '',
		start_price  DECIMAL(18,2) NOT NULL,
		start_time   DATETIME(6)   NOT NULL,
		end_time     DATETIME(6)   NOT NULL,
		start_slot   BIGINT        NOT NULL,
		winner_id    VARCHAR(64)   NULL,
		final_price  DECIMAL(18,2) NULL,
		finalized_at DATETIME(6)   NULL,
		UNIQUE KEY uq_auctions_start_slot (start_slot),
		KEY idx_auctions_end_time (end_time)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS bids (
		bid_id     VARCHAR(64)   NOT NULL PRIMARY KEY,
		auction_id VARCHAR(64)   NOT NULL,
		bidder_id  VARCHAR(64)   NOT NULL,
		amount     DECIMAL(18,2) NOT NULL,
		seq        BIGINT        NOT NULL,
		created_at DATETIME(6)   NOT NULL,
		UNIQUE KEY uq_bids_auction_seq (auction_id, seq),
		KEY idx_bids_bidder (bidder_id),
		CONSTRAINT fk_bids_auction FOREIGN KEY (auction_id) REFERENCES auctions (id)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

const auctionColumns = `id, name, description, category_id, seller_id, start_price,
	start_time, end_time, winner_id, final_price, finalized_at`

// MySQLRepo is an AuctionDB backed by MySQL. Bid admission and finalization
// lock the auction row with SELECT ... FOR UPDATE for the whole transaction.
type MySQLRepo struct {
	db *sql.DB
}

// OpenMySQL connects to MySQL and verifies the connection. The DSN must carry
// parseTime=true so DATETIME columns scan into time.Time.
func OpenMySQL(dsn string) (*sql.DB, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// NewMySQLRepo wraps db and creates the tables if they do not exist
func NewMySQLRepo(ctx context.Context, db *sql.DB) (*MySQLRepo, error) {
	for _, stmt := range mysqlSchema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("migrate mysql schema: %w", err)
		}
	}
	return &MySQLRepo{db: db}, nil
}

// Close closes the underlying pool
func (r *MySQLRepo) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAuction(row rowScanner) (model.Auction, error) {
	var (
		a           model.Auction
		winner      sql.NullString
		finalPrice  decimal.NullDecimal
		finalizedAt sql.NullTime
	)
	err := row.Scan(&a.ID, &a.Name, &a.Description, &a.CategoryID, &a.SellerID, &a.StartPrice,
		&a.StartTime, &a.EndTime, &winner, &finalPrice, &finalizedAt)
	if err != nil {
		return model.Auction{}, err
	}
	a.StartTime = a.StartTime.UTC()
	a.EndTime = a.EndTime.UTC()
	if winner.Valid {
		a.WinnerID = &winner.String
	}
	if finalPrice.Valid {
		a.FinalPrice = &finalPrice.Decimal
	}
	if finalizedAt.Valid {
		at := finalizedAt.Time.UTC()
		a.FinalizedAt = &at
	}
	return a, nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func selectAuction(ctx context.Context, q queryer, auctionID string, forUpdate bool) (model.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions WHERE id = ?`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	a, err := scanAuction(q.QueryRowContext(ctx, query, auctionID))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Auction{}, biddingerrors.ErrAuctionNotFound
	}
	return a, err
}

func selectHighest(ctx context.Context, q queryer, a model.Auction) (model.HighestBid, error) {
	h := model.HighestOf(a, nil)
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM bids WHERE auction_id = ?`, a.ID).Scan(&h.TotalBids); err != nil {
		return model.HighestBid{}, err
	}
	if h.TotalBids == 0 {
		return h, nil
	}
	err := q.QueryRowContext(ctx,
		`SELECT bid_id, bidder_id, amount FROM bids WHERE auction_id = ? ORDER BY amount DESC, seq ASC LIMIT 1`,
		a.ID,
	).Scan(&h.BidID, &h.BidderID, &h.Amount)
	if err != nil {
		return model.HighestBid{}, err
	}
	return h, nil
}

func nullable(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullableDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NullDecimal{Decimal: *d, Valid: true}
}

// withTx runs fn in a transaction, committing on success
func (r *MySQLRepo) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// CreateAuction stores a new auction, rejecting a taken start slot
func (r *MySQLRepo) CreateAuction(ctx context.Context, auction model.Auction) error {
	if auction.ID == "" {
		return fmt.Errorf("create auction: %w - empty id", biddingerrors.ErrInvalidAuction)
	}

	return r.withTx(ctx, func(tx *sql.Tx) error {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM auctions WHERE id = ?`, auction.ID).Scan(&exists)
		if err != nil {
			return err
		}
		if exists > 0 {
			return fmt.Errorf("create auction %s: %w - duplicate id", auction.ID, biddingerrors.ErrInvalidAuction)
		}

		_, err = tx.ExecContext(ctx,
			`INSERT INTO auctions (id, name, description, category_id, seller_id, start_price, start_time, end_time, start_slot)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			auction.ID, auction.Name, auction.Description, auction.CategoryID, auction.SellerID, auction.StartPrice,
			auction.StartTime.UTC(), auction.EndTime.UTC(), SlotKey(auction.StartTime),
		)
		var me *mysql.MySQLError
		if errors.As(err, &me) && me.Number == mysqlDuplicateEntry {
			return fmt.Errorf("create auction %s: %w", auction.ID, biddingerrors.ErrSlotTaken)
		}
		return err
	})
}

// GetAuction returns a single auction
func (r *MySQLRepo) GetAuction(ctx context.Context, auctionID string) (model.Auction, error) {
	a, err := selectAuction(ctx, r.db, auctionID, false)
	if err != nil {
		return model.Auction{}, fmt.Errorf("get auction %s: %w", auctionID, err)
	}
	return a, nil
}

// ListAuctions returns the auctions matching filter. The category narrows the
// query; the remaining predicates run in memory so every store shares one
// definition of the filter.
func (r *MySQLRepo) ListAuctions(ctx context.Context, filter model.AuctionFilter) ([]model.Auction, error) {
	query := `SELECT ` + auctionColumns + ` FROM auctions`
	var args []any
	if filter.CategoryID != 0 {
		query += ` WHERE category_id = ?`
		args = append(args, filter.CategoryID)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list auctions: %w", err)
	}
	defer rows.Close()

	var auctions []model.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, fmt.Errorf("list auctions: %w", err)
		}
		auctions = append(auctions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list auctions: %w", err)
	}
	return filter.Apply(auctions), nil
}

// SlotTaken reports whether an auction already starts at start
func (r *MySQLRepo) SlotTaken(ctx context.Context, start time.Time) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM auctions WHERE start_slot = ?`, SlotKey(start)).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check slot: %w", err)
	}
	return n > 0, nil
}

// RecordBid locks the auction row, runs admit and inserts its bid
func (r *MySQLRepo) RecordBid(ctx context.Context, auctionID string, admit AdmitFunc) (model.Bid, model.HighestBid, error) {
	var (
		bid     model.Bid
		highest model.HighestBid
	)

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		a, err := selectAuction(ctx, tx, auctionID, true)
		if err != nil {
			return fmt.Errorf("record bid for auction %s: %w", auctionID, err)
		}
		highest, err = selectHighest(ctx, tx, a)
		if err != nil {
			return err
		}

		bid, err = admit(a, highest)
		if err != nil {
			return err
		}
		bid.AuctionID = auctionID
		bid.Seq = uint64(highest.TotalBids) + 1

		_, err = tx.ExecContext(ctx,
			`INSERT INTO bids (bid_id, auction_id, bidder_id, amount, seq, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			bid.BidID, bid.AuctionID, bid.BidderID, bid.Amount, bid.Seq, bid.CreatedAt.UTC(),
		)
		if err != nil {
			return err
		}

		highest.TotalBids++
		if highest.TotalBids == 1 || bid.Amount.GreaterThan(highest.Amount) {
			highest.Amount = bid.Amount
			highest.BidderID = bid.BidderID
			highest.BidID = bid.BidID
		}
		return nil
	})
	if err != nil {
		return model.Bid{}, model.HighestBid{}, err
	}
	return bid, highest, nil
}

// GetBidsByAuction returns all bids for an auction in ledger order
func (r *MySQLRepo) GetBidsByAuction(ctx context.Context, auctionID string) ([]model.Bid, error) {
	if _, err := selectAuction(ctx, r.db, auctionID, false); err != nil {
		return nil, fmt.Errorf("get bids for auction %s: %w", auctionID, err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT bid_id, auction_id, bidder_id, amount, seq, created_at FROM bids WHERE auction_id = ? ORDER BY seq`,
		auctionID,
	)
	if err != nil {
		return nil, fmt.Errorf("get bids for auction %s: %w", auctionID, err)
	}
	defer rows.Close()

	bids := []model.Bid{}
	for rows.Next() {
		var b model.Bid
		if err := rows.Scan(&b.BidID, &b.AuctionID, &b.BidderID, &b.Amount, &b.Seq, &b.CreatedAt); err != nil {
			return nil, err
		}
		b.CreatedAt = b.CreatedAt.UTC()
		bids = append(bids, b)
	}
	return bids, rows.Err()
}

// GetHighestBid returns the current highest bid, or the start price
func (r *MySQLRepo) GetHighestBid(ctx context.Context, auctionID string) (model.HighestBid, error) {
	a, err := selectAuction(ctx, r.db, auctionID, false)
	if err != nil {
		return model.HighestBid{}, fmt.Errorf("get highest bid for auction %s: %w", auctionID, err)
	}
	return selectHighest(ctx, r.db, a)
}

// GetAuctionsByUser returns all auctions a user has bid on
func (r *MySQLRepo) GetAuctionsByUser(ctx context.Context, userID string) ([]model.Auction, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+auctionColumns+` FROM auctions
		 WHERE id IN (SELECT DISTINCT auction_id FROM bids WHERE bidder_id = ?)
		 ORDER BY start_time`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("get auctions for user %s: %w", userID, err)
	}
	defer rows.Close()

	var auctions []model.Auction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		auctions = append(auctions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(auctions) == 0 {
		return nil, fmt.Errorf("get auctions for user %s: %w", userID, biddingerrors.ErrUserNoBids)
	}
	return auctions, nil
}

// FinalizeAuction locks the auction row and writes the winner once. The
// finalized_at IS NULL guard makes the update a claim: a caller that lost
// the race reads back the stored result.
func (r *MySQLRepo) FinalizeAuction(ctx context.Context, auctionID string, decide FinalizeFunc) (model.FinalizationResult, bool, error) {
	var (
		res     model.FinalizationResult
		claimed bool
	)

	err := r.withTx(ctx, func(tx *sql.Tx) error {
		a, err := selectAuction(ctx, tx, auctionID, true)
		if err != nil {
			return fmt.Errorf("finalize auction %s: %w", auctionID, err)
		}
		if a.Finalized() {
			res = a.Result()
			return nil
		}

		highest, err := selectHighest(ctx, tx, a)
		if err != nil {
			return err
		}
		res, err = decide(a, highest)
		if err != nil {
			return err
		}
		res.AuctionID = auctionID

		out, err := tx.ExecContext(ctx,
			`UPDATE auctions SET winner_id = ?, final_price = ?, finalized_at = ? WHERE id = ? AND finalized_at IS NULL`,
			nullable(res.WinnerID), nullableDecimal(res.FinalPrice), res.FinalizedAt.UTC(), auctionID,
		)
		if err != nil {
			return err
		}
		n, err := out.RowsAffected()
		if err != nil {
			return err
		}
		claimed = n == 1
		return nil
	})
	if err != nil {
		return model.FinalizationResult{}, false, err
	}
	return res, claimed, nil
}
