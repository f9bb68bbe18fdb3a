package domain

import (
	"time"
)

type ConnStatus int

const (
	Disconnected ConnStatus = iota
	Connecting
	Connected
)

func (s ConnStatus) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "unknown"
	}
}

// BidSnapshot is the best known bidding state for one car, reconciled
// from REST fetches and pushed events. Amount fields are pointers so a
// payload that omits them leaves the cached value untouched.
type BidSnapshot struct {
	CarID           string   `json:"carId"`
	BidAmount       *float64 `json:"bidAmount,omitempty"`
	CurrentBid      *float64 `json:"currentBid,omitempty"`
	StartingBid     float64  `json:"startingBid"`
	BidMargin       float64  `json:"bidMargin"`
	AuctionOpen     bool     `json:"auctionStatus"`
	PreviousBidders []string `json:"previousBidders,omitempty"` // bid order, most recent last
}

// EffectiveAmount resolves the displayed bid: bidAmount, else currentBid,
// else the car's starting bid.
func (s *BidSnapshot) EffectiveAmount() float64 {
	if s.BidAmount != nil {
		return *s.BidAmount
	}
	if s.CurrentBid != nil {
		return *s.CurrentBid
	}
	return s.StartingBid
}

type PriceColor string

const (
	ColorGreen PriceColor = "green"
	ColorRed   PriceColor = "red"
)

// PriceColorSnapshot is the server-pushed price indicator for a car,
// independent of the bid amount itself.
type PriceColorSnapshot struct {
	CarID string     `json:"carId"`
	Color PriceColor `json:"color"`
}

// PendingBid exists only between emitting a bid and the server's
// bidPlaced round-trip. Never persisted.
type PendingBid struct {
	CarID       string
	Amount      float64
	SubmittedAt time.Time
}

// UserData is the slice of the persisted user object the core reads for
// event targeting.
type UserData struct {
	ID   string `json:"_id"`
	Name string `json:"name,omitempty"`
}

// Car is the subset of the REST car document the bidding core needs.
type Car struct {
	ID          string  `json:"_id"`
	Name        string  `json:"name,omitempty"`
	StartingBid float64 `json:"startingBid"`
	BidMargin   float64 `json:"bidMargin"`
	FixedPrice  float64 `json:"fixedPrice,omitempty"`
}

// CurrentBidRecord is the embedded current-bid object of GET /car/:id.
type CurrentBidRecord struct {
	BidAmount       float64  `json:"bidAmount"`
	PreviousBidders []string `json:"previousBidders,omitempty"`
}

// CarDetails mirrors the GET /car/:id response body.
type CarDetails struct {
	Car        Car               `json:"car"`
	CurrentBid *CurrentBidRecord `json:"currentBid,omitempty"`
}
