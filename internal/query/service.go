package query

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/dangkhuong14/dEx-application/internal/observability"
)

// Service answers read queries from the projection tables and the
// record log. Every response carries as_of_sequence so callers can
// reason about freshness.
type Service struct {
	db      *sql.DB
	metrics *observability.Metrics
}

func NewService(db *sql.DB, metrics *observability.Metrics) *Service {
	return &Service{db: db, metrics: metrics}
}

// GetBalance returns the projected balance for (asset, account). An
// account that never traded the asset reports zero.
func (s *Service) GetBalance(ctx context.Context, asset, account string) (*BalanceResponse, error) {
	defer s.observe("balance", time.Now())

	asOfSeq, err := s.watermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	var raw string
	err = s.db.QueryRowContext(ctx, `
		SELECT balance FROM projections.balances
		WHERE asset = $1 AND account = $2
	`, asset, account).Scan(&raw)

	balance := uint64(0)
	if err == nil {
		balance, err = strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("balance %s/%s out of range: %w", asset, account, err)
		}
	} else if err != sql.ErrNoRows {
		return nil, err
	}

	return &BalanceResponse{
		Asset:        asset,
		Account:      account,
		Balance:      balance,
		AsOfSequence: asOfSeq,
	}, nil
}

// ListBalances returns all projected balances for an account.
func (s *Service) ListBalances(ctx context.Context, account string) ([]BalanceResponse, error) {
	defer s.observe("balances", time.Now())

	asOfSeq, err := s.watermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT asset, balance FROM projections.balances
		WHERE account = $1
		ORDER BY asset
	`, account)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var balances []BalanceResponse
	for rows.Next() {
		var asset, raw string
		if err := rows.Scan(&asset, &raw); err != nil {
			return nil, err
		}
		value, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("balance %s/%s out of range: %w", asset, account, err)
		}
		balances = append(balances, BalanceResponse{
			Asset:        asset,
			Account:      account,
			Balance:      value,
			AsOfSequence: asOfSeq,
		})
	}
	return balances, rows.Err()
}

// GetOpenOrders returns projected open orders, oldest first. Creator
// is an optional filter.
func (s *Service) GetOpenOrders(ctx context.Context, creator string, limit int) ([]OpenOrderResponse, error) {
	defer s.observe("open_orders", time.Now())

	asOfSeq, err := s.watermark(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT order_id, creator, token_get, amount_get, token_give, amount_give, timestamp
		FROM projections.open_orders
	`
	args := []interface{}{}
	if creator != "" {
		query += " WHERE creator = $1"
		args = append(args, creator)
	}
	query += fmt.Sprintf(" ORDER BY order_id ASC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []OpenOrderResponse
	for rows.Next() {
		var o OpenOrderResponse
		var amountGet, amountGive string
		if err := rows.Scan(
			&o.OrderID, &o.Creator, &o.TokenGet, &amountGet,
			&o.TokenGive, &amountGive, &o.Timestamp,
		); err != nil {
			return nil, err
		}
		if o.AmountGet, err = strconv.ParseUint(amountGet, 10, 64); err != nil {
			return nil, fmt.Errorf("order %d amount_get: %w", o.OrderID, err)
		}
		if o.AmountGive, err = strconv.ParseUint(amountGive, 10, 64); err != nil {
			return nil, fmt.Errorf("order %d amount_give: %w", o.OrderID, err)
		}
		o.AsOfSequence = asOfSeq
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// GetTrades returns trade history newest first, with cursor
// pagination: pass the sequence of the last row seen as beforeSequence
// to page further back. Account is an optional filter matching either
// side of the trade.
func (s *Service) GetTrades(ctx context.Context, account string, limit int, beforeSequence *int64) ([]TradeResponse, error) {
	defer s.observe("trades", time.Now())

	query := `
		SELECT sequence, payload
		FROM event_log.records
		WHERE kind = 'trade'
	`
	args := []interface{}{}
	argIdx := 1

	if account != "" {
		query += fmt.Sprintf(" AND (payload->>'creator' = $%d OR payload->>'filler' = $%d)", argIdx, argIdx)
		args = append(args, account)
		argIdx++
	}
	if beforeSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += fmt.Sprintf(" ORDER BY sequence DESC LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []TradeResponse
	for rows.Next() {
		var seq int64
		var payload []byte
		if err := rows.Scan(&seq, &payload); err != nil {
			return nil, err
		}

		var t TradeResponse
		if err := json.Unmarshal(payload, &t); err != nil {
			return nil, fmt.Errorf("trade at sequence %d: %w", seq, err)
		}
		t.Sequence = seq
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// GetRecords returns raw audit records newest first with cursor
// pagination. Kind is an optional filter using the lower-case form.
func (s *Service) GetRecords(ctx context.Context, kind string, limit int, beforeSequence *int64) ([]RecordResponse, error) {
	defer s.observe("records", time.Now())

	query := `
		SELECT sequence, kind, record_id, payload, state_hash, prev_hash, timestamp
		FROM event_log.records
	`
	args := []interface{}{}
	argIdx := 1
	where := ""

	if kind != "" {
		where = fmt.Sprintf(" WHERE kind = $%d", argIdx)
		args = append(args, kind)
		argIdx++
	}
	if beforeSequence != nil {
		if where == "" {
			where = fmt.Sprintf(" WHERE sequence < $%d", argIdx)
		} else {
			where += fmt.Sprintf(" AND sequence < $%d", argIdx)
		}
		args = append(args, *beforeSequence)
		argIdx++
	}

	query += where + fmt.Sprintf(" ORDER BY sequence DESC LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []RecordResponse
	for rows.Next() {
		var r RecordResponse
		var payload, stateHash, prevHash []byte
		if err := rows.Scan(
			&r.Sequence, &r.Kind, &r.RecordID, &payload,
			&stateHash, &prevHash, &r.Timestamp,
		); err != nil {
			return nil, err
		}
		r.Payload = json.RawMessage(payload)
		r.StateHash = hex.EncodeToString(stateHash)
		r.PrevHash = hex.EncodeToString(prevHash)
		records = append(records, r)
	}
	return records, rows.Err()
}

// VerifyIntegrity checks hash chain continuity in the record log and
// non-negativity of projected balances.
func (s *Service) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	defer s.observe("integrity", time.Now())

	report := &IntegrityReport{}

	rows, err := s.db.QueryContext(ctx, `
		SELECT r1.sequence
		FROM event_log.records r1
		JOIN event_log.records r2 ON r2.sequence = r1.sequence - 1
		WHERE r1.prev_hash != r2.state_hash
		ORDER BY r1.sequence
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	balanceRows, err := s.db.QueryContext(ctx, `
		SELECT asset, account, balance
		FROM projections.balances
		WHERE balance < 0
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var nb NegativeBalance
		if err := balanceRows.Scan(&nb.Asset, &nb.Account, &nb.Balance); err != nil {
			return nil, err
		}
		report.NegativeBalances = append(report.NegativeBalances, nb)
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.NegativeBalances) == 0
	return report, nil
}

func (s *Service) watermark(ctx context.Context) (int64, error) {
	var seq int64
	err := s.db.QueryRowContext(ctx, `
		SELECT sequence FROM projections.watermarks WHERE projection = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return -1, nil
	}
	return seq, err
}

func (s *Service) observe(endpoint string, start time.Time) {
	if s.metrics != nil {
		s.metrics.QueryRequests.WithLabelValues(endpoint).Inc()
		s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
}
