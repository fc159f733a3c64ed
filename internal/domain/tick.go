package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// QuoteTick is a top-of-book quote update.
type QuoteTick struct {
	Security  Security
	Bid       Price
	Ask       Price
	BidSize   Quantity
	AskSize   Quantity
	Timestamp time.Time
}

// Serialize renders the stable wire form appended after the security
// id: "<bid>,<ask>,<bid_size>,<ask_size>,<unix_ms>".
func (q QuoteTick) Serialize() string {
	return fmt.Sprintf("%s,%s,%s,%s,%d",
		q.Bid, q.Ask, q.BidSize, q.AskSize, q.Timestamp.UnixMilli())
}

// ParseQuoteTick parses the wire form for the given security. Parsing
// is strict: exactly five comma-separated fields.
func ParseQuoteTick(security Security, s string) (QuoteTick, error) {
	fields := strings.Split(s, ",")
	if len(fields) != 5 {
		return QuoteTick{}, fmt.Errorf("%w: quote tick needs 5 fields, got %d", ErrInvalidArgument, len(fields))
	}
	bid, err := PriceFromString(fields[0])
	if err != nil {
		return QuoteTick{}, err
	}
	ask, err := PriceFromString(fields[1])
	if err != nil {
		return QuoteTick{}, err
	}
	bidSize, err := QuantityFromString(fields[2])
	if err != nil {
		return QuoteTick{}, err
	}
	askSize, err := QuantityFromString(fields[3])
	if err != nil {
		return QuoteTick{}, err
	}
	ms, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return QuoteTick{}, fmt.Errorf("%w: quote tick timestamp %q", ErrInvalidArgument, fields[4])
	}
	return QuoteTick{
		Security:  security,
		Bid:       bid,
		Ask:       ask,
		BidSize:   bidSize,
		AskSize:   askSize,
		Timestamp: time.UnixMilli(ms).UTC(),
	}, nil
}

// TradeTick is a single public trade print.
type TradeTick struct {
	Security  Security
	Price     Price
	Size      Quantity
	Side      OrderSide
	MatchID   TradeMatchID
	Timestamp time.Time
}

// Serialize renders the stable wire form appended after the security
// id: "<price>,<size>,<side>,<match_id>,<unix_ms>".
func (t TradeTick) Serialize() string {
	return fmt.Sprintf("%s,%s,%s,%s,%d",
		t.Price, t.Size, t.Side, t.MatchID, t.Timestamp.UnixMilli())
}

// ParseTradeTick parses the wire form for the given security. Parsing
// is strict: exactly five comma-separated fields, side BUY or SELL.
func ParseTradeTick(security Security, s string) (TradeTick, error) {
	fields := strings.Split(s, ",")
	if len(fields) != 5 {
		return TradeTick{}, fmt.Errorf("%w: trade tick needs 5 fields, got %d", ErrInvalidArgument, len(fields))
	}
	price, err := PriceFromString(fields[0])
	if err != nil {
		return TradeTick{}, err
	}
	size, err := QuantityFromString(fields[1])
	if err != nil {
		return TradeTick{}, err
	}
	side := OrderSide(fields[2])
	if side != SideBuy && side != SideSell {
		return TradeTick{}, fmt.Errorf("%w: trade tick side %q", ErrInvalidArgument, fields[2])
	}
	ms, err := strconv.ParseInt(fields[4], 10, 64)
	if err != nil {
		return TradeTick{}, fmt.Errorf("%w: trade tick timestamp %q", ErrInvalidArgument, fields[4])
	}
	return TradeTick{
		Security:  security,
		Price:     price,
		Size:      size,
		Side:      side,
		MatchID:   TradeMatchID(fields[3]),
		Timestamp: time.UnixMilli(ms).UTC(),
	}, nil
}
