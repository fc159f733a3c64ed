package domain

import (
	"fmt"

	"github.com/google/uuid"
)

// AssetClass categorizes the underlying of a tradable instrument.
type AssetClass string

const (
	AssetClassCrypto AssetClass = "CRYPTO"
	AssetClassFX     AssetClass = "FX"
	AssetClassEquity AssetClass = "EQUITY"
	AssetClassBond   AssetClass = "BOND"
)

// AssetType categorizes the contract form of a tradable instrument.
type AssetType string

const (
	AssetTypeSpot   AssetType = "SPOT"
	AssetTypeSwap   AssetType = "SWAP"
	AssetTypeFuture AssetType = "FUTURE"
	AssetTypeOption AssetType = "OPTION"
)

// Venue identifies a trading counterparty or exchange. It is the
// namespace for venue-assigned order identifiers.
type Venue string

// Security is the globally unique identity of a tradable instrument.
// Equality and hashing cover all four components, so Security is safe
// to use as a map key.
type Security struct {
	Symbol     string
	Venue      Venue
	AssetClass AssetClass
	AssetType  AssetType
}

// NewSecurity creates a Security identifier.
func NewSecurity(symbol string, venue Venue, class AssetClass, typ AssetType) Security {
	return Security{Symbol: symbol, Venue: venue, AssetClass: class, AssetType: typ}
}

// String renders the canonical "<symbol>.<venue>" form.
func (s Security) String() string {
	return fmt.Sprintf("%s.%s", s.Symbol, s.Venue)
}

// IsZero reports whether the security is the zero value.
func (s Security) IsZero() bool {
	return s.Symbol == "" && s.Venue == ""
}

// ClientOrderID is the strategy-assigned order identifier, unique
// within a process lifetime.
type ClientOrderID string

// OrderID is the venue-assigned order identifier, bound on acceptance.
type OrderID string

// ExecutionID identifies a single fill event from a venue.
type ExecutionID string

// TradeMatchID identifies a trade match from the venue's public feed.
type TradeMatchID string

// AccountID identifies an account at a venue, "<venue>-<number>".
type AccountID struct {
	Venue  Venue
	Number string
}

func (a AccountID) String() string {
	return fmt.Sprintf("%s-%s", a.Venue, a.Number)
}

// StrategyID identifies the strategy which owns an order or position.
type StrategyID string

// EventID is a UUIDv4 correlation identifier for a single event.
type EventID string

// NewEventID generates a fresh UUIDv4 event identifier.
func NewEventID() EventID {
	return EventID(uuid.NewString())
}

// PositionKey keys positions by owning strategy and security.
type PositionKey struct {
	Strategy StrategyID
	Security Security
}
