package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/onderwereld/economy-engine/internal/ledger"
	"github.com/onderwereld/economy-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
// Ledger transfers run in a single transaction with row locks taken in a
// deterministic order; status transitions use conditional UPDATEs.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// --- Ledger ---

func (s *PostgresStore) GetWallet(ctx context.Context, playerID string) (*model.Wallet, error) {
	var balS string
	err := s.pool.QueryRow(ctx,
		`SELECT balance::TEXT FROM wallets WHERE player_id = $1`, playerID).Scan(&balS)
	if errors.Is(err, pgx.ErrNoRows) {
		return &model.Wallet{PlayerID: playerID, Balance: decimal.Zero}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get wallet %s: %w", playerID, err)
	}

	bal, _ := decimal.NewFromString(balS)
	return &model.Wallet{PlayerID: playerID, Balance: bal}, nil
}

func (s *PostgresStore) GetInventory(ctx context.Context, playerID string) ([]model.InventoryLine, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT player_id, good_id, quantity, avg_cost::TEXT
		 FROM inventory WHERE player_id = $1 ORDER BY good_id`, playerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var lines []model.InventoryLine
	for rows.Next() {
		var l model.InventoryLine
		var avgS string
		if err := rows.Scan(&l.PlayerID, &l.GoodID, &l.Quantity, &avgS); err != nil {
			return nil, err
		}
		l.AvgCost, _ = decimal.NewFromString(avgS)
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

func (s *PostgresStore) GetInventoryLine(ctx context.Context, playerID, goodID string) (*model.InventoryLine, error) {
	var l model.InventoryLine
	var avgS string
	err := s.pool.QueryRow(ctx,
		`SELECT player_id, good_id, quantity, avg_cost::TEXT
		 FROM inventory WHERE player_id = $1 AND good_id = $2`, playerID, goodID).
		Scan(&l.PlayerID, &l.GoodID, &l.Quantity, &avgS)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get inventory line %s/%s: %w", playerID, goodID, err)
	}
	l.AvgCost, _ = decimal.NewFromString(avgS)
	return &l, nil
}

// Transfer locks every involved wallet and inventory row FOR UPDATE in
// sorted key order, validates all debits, then applies the batch and
// commits. Any underflow rolls the whole transaction back.
func (s *PostgresStore) Transfer(ctx context.Context, t *ledger.Transfer) error {
	if err := t.Validate(); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	all := append(append([]ledger.Entry{}, t.Debits...), t.Credits...)

	// Collect and sort involved keys for a deterministic lock order.
	playerSet := make(map[string]struct{})
	lineSet := make(map[[2]string]struct{})
	for _, e := range all {
		if e.Kind == ledger.KindCash {
			playerSet[e.PlayerID] = struct{}{}
		} else {
			lineSet[[2]string{e.PlayerID, e.GoodID}] = struct{}{}
		}
	}
	players := make([]string, 0, len(playerSet))
	for p := range playerSet {
		players = append(players, p)
	}
	sort.Strings(players)
	lines := make([][2]string, 0, len(lineSet))
	for k := range lineSet {
		lines = append(lines, k)
	}
	sort.Slice(lines, func(i, j int) bool {
		if lines[i][0] != lines[j][0] {
			return lines[i][0] < lines[j][0]
		}
		return lines[i][1] < lines[j][1]
	})

	// Lock wallets, creating missing rows at zero.
	balances := make(map[string]decimal.Decimal)
	for _, p := range players {
		if _, err := tx.Exec(ctx,
			`INSERT INTO wallets (player_id, balance) VALUES ($1, 0)
			 ON CONFLICT (player_id) DO NOTHING`, p); err != nil {
			return err
		}
		var balS string
		if err := tx.QueryRow(ctx,
			`SELECT balance::TEXT FROM wallets WHERE player_id = $1 FOR UPDATE`, p).Scan(&balS); err != nil {
			return err
		}
		balances[p], _ = decimal.NewFromString(balS)
	}

	// Lock inventory lines; absent lines count as zero holdings.
	holdings := make(map[[2]string]model.InventoryLine)
	for _, key := range lines {
		var l model.InventoryLine
		var avgS string
		err := tx.QueryRow(ctx,
			`SELECT player_id, good_id, quantity, avg_cost::TEXT
			 FROM inventory WHERE player_id = $1 AND good_id = $2 FOR UPDATE`,
			key[0], key[1]).Scan(&l.PlayerID, &l.GoodID, &l.Quantity, &avgS)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return err
		}
		l.AvgCost, _ = decimal.NewFromString(avgS)
		holdings[key] = l
	}

	// Validate all debits against the locked state.
	cashNeeded := make(map[string]decimal.Decimal)
	goodsNeeded := make(map[[2]string]int64)
	for _, d := range t.Debits {
		if d.Kind == ledger.KindCash {
			cashNeeded[d.PlayerID] = cashNeeded[d.PlayerID].Add(d.Amount)
		} else {
			goodsNeeded[[2]string{d.PlayerID, d.GoodID}] += d.Quantity
		}
	}
	for p, needed := range cashNeeded {
		if balances[p].LessThan(needed) {
			return model.ErrInsufficientFunds
		}
	}
	for key, qty := range goodsNeeded {
		if holdings[key].Quantity < qty {
			return model.ErrInsufficientInventory
		}
	}

	// Apply in Go, then write back.
	for _, d := range t.Debits {
		if d.Kind == ledger.KindCash {
			balances[d.PlayerID] = balances[d.PlayerID].Sub(d.Amount)
			continue
		}
		key := [2]string{d.PlayerID, d.GoodID}
		l := holdings[key]
		l.Quantity -= d.Quantity
		holdings[key] = l
	}
	for _, c := range t.Credits {
		if c.Kind == ledger.KindCash {
			balances[c.PlayerID] = balances[c.PlayerID].Add(c.Amount)
			continue
		}
		key := [2]string{c.PlayerID, c.GoodID}
		var existing *model.InventoryLine
		if l, ok := holdings[key]; ok && l.Quantity > 0 {
			existing = &l
		}
		holdings[key] = ledger.ApplyCredit(existing, c.PlayerID, c.GoodID, c.Quantity, c.UnitPrice)
	}

	for _, p := range players {
		if _, err := tx.Exec(ctx,
			`UPDATE wallets SET balance = $2::NUMERIC WHERE player_id = $1`,
			p, balances[p].String()); err != nil {
			return err
		}
	}
	for _, key := range lines {
		l, ok := holdings[key]
		if !ok || l.Quantity == 0 {
			// Zero lines are deleted, not retained.
			if _, err := tx.Exec(ctx,
				`DELETE FROM inventory WHERE player_id = $1 AND good_id = $2`,
				key[0], key[1]); err != nil {
				return err
			}
			continue
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO inventory (player_id, good_id, quantity, avg_cost)
			 VALUES ($1, $2, $3, $4::NUMERIC)
			 ON CONFLICT (player_id, good_id)
			 DO UPDATE SET quantity = EXCLUDED.quantity, avg_cost = EXCLUDED.avg_cost`,
			key[0], key[1], l.Quantity, l.AvgCost.String()); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

// --- Listings ---

func (s *PostgresStore) CreateListing(ctx context.Context, l *model.Listing) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO listings (id, seller_id, good_id, quantity, price_per_unit, district_id, status, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7, $8, $9)`,
		l.ID, l.SellerID, l.GoodID, l.Quantity, l.PricePerUnit.String(),
		l.DistrictID, string(l.Status), l.CreatedAt, l.ExpiresAt,
	)
	return err
}

const listingColumns = `id, seller_id, good_id, quantity, price_per_unit::TEXT, district_id, status, created_at, expires_at`

func scanListing(row pgx.Row) (*model.Listing, error) {
	var l model.Listing
	var priceS, statusS string
	if err := row.Scan(&l.ID, &l.SellerID, &l.GoodID, &l.Quantity, &priceS,
		&l.DistrictID, &statusS, &l.CreatedAt, &l.ExpiresAt); err != nil {
		return nil, err
	}
	l.PricePerUnit, _ = decimal.NewFromString(priceS)
	l.Status = model.ListingStatus(statusS)
	return &l, nil
}

func (s *PostgresStore) GetListing(ctx context.Context, id string) (*model.Listing, error) {
	l, err := scanListing(s.pool.QueryRow(ctx,
		`SELECT `+listingColumns+` FROM listings WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get listing %s: %w", id, err)
	}
	return l, nil
}

func (s *PostgresStore) ListActiveListings(ctx context.Context, districtID, goodID string) ([]model.Listing, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+listingColumns+`
		 FROM listings
		 WHERE status = 'active'
		   AND ($1 = '' OR district_id = $1)
		   AND ($2 = '' OR good_id = $2)
		 ORDER BY price_per_unit ASC`, districtID, goodID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []model.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, *l)
	}
	return listings, rows.Err()
}

func (s *PostgresStore) ListListingsBySeller(ctx context.Context, sellerID string) ([]model.Listing, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+listingColumns+`
		 FROM listings WHERE seller_id = $1 ORDER BY created_at DESC`, sellerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var listings []model.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return nil, err
		}
		listings = append(listings, *l)
	}
	return listings, rows.Err()
}

func (s *PostgresStore) TransitionListing(ctx context.Context, id string, from, to model.ListingStatus) error {
	if !from.CanTransitionTo(to) {
		return model.ErrInvalidTransition
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE listings SET status = $3 WHERE id = $1 AND status = $2`,
		id, string(from), string(to))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.classifyMiss(ctx, `SELECT 1 FROM listings WHERE id = $1`, id)
	}
	return nil
}

// classifyMiss distinguishes "row gone" from "row in another state" after a
// conditional UPDATE matched nothing.
func (s *PostgresStore) classifyMiss(ctx context.Context, existsQuery, id string) error {
	var one int
	err := s.pool.QueryRow(ctx, existsQuery, id).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ErrNotFound
	}
	if err != nil {
		return err
	}
	return model.ErrNotActive
}

// --- Trade offers ---

func (s *PostgresStore) CreateOffer(ctx context.Context, o *model.TradeOffer) error {
	offerGoods, err := json.Marshal(o.OfferGoods)
	if err != nil {
		return err
	}
	requestGoods, err := json.Marshal(o.RequestGoods)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO trade_offers (id, sender_id, receiver_id, offer_goods, offer_cash, request_goods, request_cash, district_id, status, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6, $7::NUMERIC, $8, $9, $10, $11)`,
		o.ID, o.SenderID, o.ReceiverID, offerGoods, o.OfferCash.String(),
		requestGoods, o.RequestCash.String(), o.DistrictID, string(o.Status),
		o.CreatedAt, o.ExpiresAt,
	)
	return err
}

const offerColumns = `id, sender_id, receiver_id, offer_goods, offer_cash::TEXT, request_goods, request_cash::TEXT, district_id, status, created_at, expires_at`

func scanOffer(row pgx.Row) (*model.TradeOffer, error) {
	var o model.TradeOffer
	var offerGoods, requestGoods []byte
	var offerCashS, requestCashS, statusS string
	if err := row.Scan(&o.ID, &o.SenderID, &o.ReceiverID, &offerGoods, &offerCashS,
		&requestGoods, &requestCashS, &o.DistrictID, &statusS, &o.CreatedAt, &o.ExpiresAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(offerGoods, &o.OfferGoods); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(requestGoods, &o.RequestGoods); err != nil {
		return nil, err
	}
	o.OfferCash, _ = decimal.NewFromString(offerCashS)
	o.RequestCash, _ = decimal.NewFromString(requestCashS)
	o.Status = model.OfferStatus(statusS)
	return &o, nil
}

func (s *PostgresStore) GetOffer(ctx context.Context, id string) (*model.TradeOffer, error) {
	o, err := scanOffer(s.pool.QueryRow(ctx,
		`SELECT `+offerColumns+` FROM trade_offers WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get offer %s: %w", id, err)
	}
	return o, nil
}

func (s *PostgresStore) ListPendingOffers(ctx context.Context, playerID string) ([]model.TradeOffer, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+offerColumns+`
		 FROM trade_offers
		 WHERE status = 'pending' AND (sender_id = $1 OR receiver_id = $1)
		 ORDER BY created_at DESC`, playerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var offers []model.TradeOffer
	for rows.Next() {
		o, err := scanOffer(rows)
		if err != nil {
			return nil, err
		}
		offers = append(offers, *o)
	}
	return offers, rows.Err()
}

func (s *PostgresStore) TransitionOffer(ctx context.Context, id string, from, to model.OfferStatus) error {
	if !from.CanTransitionTo(to) {
		return model.ErrInvalidTransition
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE trade_offers SET status = $3 WHERE id = $1 AND status = $2`,
		id, string(from), string(to))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.classifyMiss(ctx, `SELECT 1 FROM trade_offers WHERE id = $1`, id)
	}
	return nil
}

// --- Auctions ---

func (s *PostgresStore) CreateAuction(ctx context.Context, a *model.LiveAuction) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO auctions (id, seller_id, item_type, item_id, quantity, starting_price, current_bid, current_bidder_id, bid_count, min_increment, ends_at, original_ends_at, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC, $8, $9, $10::NUMERIC, $11, $12, $13, $14)`,
		a.ID, a.SellerID, a.ItemType, a.ItemID, a.Quantity,
		a.StartingPrice.String(), a.CurrentBid.String(), a.CurrentBidderID,
		a.BidCount, a.MinIncrement.String(), a.EndsAt, a.OriginalEndsAt,
		string(a.Status), a.CreatedAt,
	)
	return err
}

const auctionColumns = `id, seller_id, item_type, item_id, quantity, starting_price::TEXT, current_bid::TEXT, current_bidder_id, bid_count, min_increment::TEXT, ends_at, original_ends_at, status, created_at`

func scanAuction(row pgx.Row) (*model.LiveAuction, error) {
	var a model.LiveAuction
	var startS, bidS, incS, statusS string
	if err := row.Scan(&a.ID, &a.SellerID, &a.ItemType, &a.ItemID, &a.Quantity,
		&startS, &bidS, &a.CurrentBidderID, &a.BidCount, &incS,
		&a.EndsAt, &a.OriginalEndsAt, &statusS, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.StartingPrice, _ = decimal.NewFromString(startS)
	a.CurrentBid, _ = decimal.NewFromString(bidS)
	a.MinIncrement, _ = decimal.NewFromString(incS)
	a.Status = model.AuctionStatus(statusS)
	return &a, nil
}

func (s *PostgresStore) GetAuction(ctx context.Context, id string) (*model.LiveAuction, error) {
	a, err := scanAuction(s.pool.QueryRow(ctx,
		`SELECT `+auctionColumns+` FROM auctions WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get auction %s: %w", id, err)
	}
	return a, nil
}

func (s *PostgresStore) ListActiveAuctions(ctx context.Context) ([]model.LiveAuction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+auctionColumns+`
		 FROM auctions WHERE status = 'active' ORDER BY ends_at ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var auctions []model.LiveAuction
	for rows.Next() {
		a, err := scanAuction(rows)
		if err != nil {
			return nil, err
		}
		auctions = append(auctions, *a)
	}
	return auctions, rows.Err()
}

func (s *PostgresStore) PlaceAuctionBid(ctx context.Context, id string, expectBidCount int, bid decimal.Decimal, bidderID string, endsAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE auctions
		 SET current_bid = $3::NUMERIC, current_bidder_id = $4,
		     bid_count = bid_count + 1, ends_at = GREATEST(ends_at, $5)
		 WHERE id = $1 AND status = 'active' AND bid_count = $2`,
		id, expectBidCount, bid.String(), bidderID, endsAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var statusS string
		err := s.pool.QueryRow(ctx, `SELECT status FROM auctions WHERE id = $1`, id).Scan(&statusS)
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ErrNotFound
		}
		if err != nil {
			return err
		}
		if model.AuctionStatus(statusS) != model.AuctionActive {
			return model.ErrNotActive
		}
		return model.ErrOutbid
	}
	return nil
}

func (s *PostgresStore) TransitionAuction(ctx context.Context, id string, from, to model.AuctionStatus) error {
	if !from.CanTransitionTo(to) {
		return model.ErrInvalidTransition
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE auctions SET status = $3 WHERE id = $1 AND status = $2`,
		id, string(from), string(to))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return s.classifyMiss(ctx, `SELECT 1 FROM auctions WHERE id = $1`, id)
	}
	return nil
}

// --- Market prices ---

const priceColumns = `district_id, good_id, current_price::TEXT, trend, buy_volume, sell_volume, last_updated`

func scanPrice(row pgx.Row) (*model.MarketPriceEntry, error) {
	var e model.MarketPriceEntry
	var priceS, trendS string
	if err := row.Scan(&e.DistrictID, &e.GoodID, &priceS, &trendS,
		&e.BuyVolume, &e.SellVolume, &e.LastUpdated); err != nil {
		return nil, err
	}
	e.CurrentPrice, _ = decimal.NewFromString(priceS)
	e.Trend = model.Trend(trendS)
	return &e, nil
}

func (s *PostgresStore) GetMarketPrice(ctx context.Context, districtID, goodID string) (*model.MarketPriceEntry, error) {
	e, err := scanPrice(s.pool.QueryRow(ctx,
		`SELECT `+priceColumns+`
		 FROM market_prices WHERE district_id = $1 AND good_id = $2`, districtID, goodID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get market price %s/%s: %w", districtID, goodID, err)
	}
	return e, nil
}

func (s *PostgresStore) ListMarketPrices(ctx context.Context, districtID string) ([]model.MarketPriceEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+priceColumns+`
		 FROM market_prices
		 WHERE ($1 = '' OR district_id = $1)
		 ORDER BY district_id, good_id`, districtID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.MarketPriceEntry
	for rows.Next() {
		e, err := scanPrice(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) UpsertMarketPrice(ctx context.Context, e *model.MarketPriceEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO market_prices (district_id, good_id, current_price, trend, buy_volume, sell_volume, last_updated)
		 VALUES ($1, $2, $3::NUMERIC, $4, $5, $6, $7)
		 ON CONFLICT (district_id, good_id)
		 DO UPDATE SET current_price = EXCLUDED.current_price, trend = EXCLUDED.trend,
		               buy_volume = EXCLUDED.buy_volume, sell_volume = EXCLUDED.sell_volume,
		               last_updated = EXCLUDED.last_updated`,
		e.DistrictID, e.GoodID, e.CurrentPrice.String(), string(e.Trend),
		e.BuyVolume, e.SellVolume, e.LastUpdated,
	)
	return err
}

// UpdateMarketPrice reads the row FOR UPDATE, applies fn, and writes it back
// in one transaction, so the read-modify-write composes with the external
// price-drift process.
func (s *PostgresStore) UpdateMarketPrice(ctx context.Context, districtID, goodID string, fn func(*model.MarketPriceEntry) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	e, err := scanPrice(tx.QueryRow(ctx,
		`SELECT `+priceColumns+`
		 FROM market_prices WHERE district_id = $1 AND good_id = $2 FOR UPDATE`,
		districtID, goodID))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ErrNotFound
	}
	if err != nil {
		return err
	}

	if err := fn(e); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE market_prices
		 SET current_price = $3::NUMERIC, trend = $4, buy_volume = $5, sell_volume = $6, last_updated = $7
		 WHERE district_id = $1 AND good_id = $2`,
		districtID, goodID, e.CurrentPrice.String(), string(e.Trend),
		e.BuyVolume, e.SellVolume, e.LastUpdated); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// --- Trade log ---

func (s *PostgresStore) InsertTradeRecord(ctx context.Context, r *model.PlayerTradeRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO trade_records (id, buyer_id, seller_id, good_id, quantity, price_per_unit, district_id, trade_type, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7, $8, $9)`,
		r.ID, r.BuyerID, r.SellerID, r.GoodID, r.Quantity,
		r.PricePerUnit.String(), r.DistrictID, r.TradeType, r.CreatedAt,
	)
	return err
}

func (s *PostgresStore) ListTradeRecordsByPlayer(ctx context.Context, playerID string) ([]model.PlayerTradeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, buyer_id, seller_id, good_id, quantity, price_per_unit::TEXT, district_id, trade_type, created_at
		 FROM trade_records
		 WHERE buyer_id = $1 OR seller_id = $1
		 ORDER BY created_at`, playerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []model.PlayerTradeRecord
	for rows.Next() {
		var r model.PlayerTradeRecord
		var priceS string
		if err := rows.Scan(&r.ID, &r.BuyerID, &r.SellerID, &r.GoodID, &r.Quantity,
			&priceS, &r.DistrictID, &r.TradeType, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.PricePerUnit, _ = decimal.NewFromString(priceS)
		records = append(records, r)
	}
	return records, rows.Err()
}

// --- Vehicles ---

func (s *PostgresStore) CreateVehicle(ctx context.Context, v *model.Vehicle) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO vehicles (id, owner_id, model, in_escrow) VALUES ($1, $2, $3, $4)`,
		v.ID, v.OwnerID, v.Model, v.InEscrow)
	return err
}

func (s *PostgresStore) GetVehicle(ctx context.Context, id string) (*model.Vehicle, error) {
	var v model.Vehicle
	err := s.pool.QueryRow(ctx,
		`SELECT id, owner_id, model, in_escrow FROM vehicles WHERE id = $1`, id).
		Scan(&v.ID, &v.OwnerID, &v.Model, &v.InEscrow)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get vehicle %s: %w", id, err)
	}
	return &v, nil
}

func (s *PostgresStore) SetVehicleEscrow(ctx context.Context, id, ownerID string, escrow bool) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE vehicles SET in_escrow = $3 WHERE id = $1 AND owner_id = $2 AND in_escrow = NOT $3`,
		id, ownerID, escrow)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var ownerS string
		err := s.pool.QueryRow(ctx, `SELECT owner_id FROM vehicles WHERE id = $1`, id).Scan(&ownerS)
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ErrNotFound
		}
		if err != nil {
			return err
		}
		if ownerS != ownerID {
			return model.ErrUnauthorized
		}
		return model.ErrNotActive
	}
	return nil
}

func (s *PostgresStore) TransferVehicle(ctx context.Context, id, fromOwnerID, toOwnerID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE vehicles SET owner_id = $3, in_escrow = FALSE WHERE id = $1 AND owner_id = $2`,
		id, fromOwnerID, toOwnerID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var one int
		err := s.pool.QueryRow(ctx, `SELECT 1 FROM vehicles WHERE id = $1`, id).Scan(&one)
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ErrNotFound
		}
		if err != nil {
			return err
		}
		return model.ErrUnauthorized
	}
	return nil
}
