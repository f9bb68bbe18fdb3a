package domain

import "encoding/json"

// Server-pushed event names.
const (
	EventAuctionOpened        = "auctionOpened"
	EventBidPlaced            = "bidPlaced"
	EventAuctionStatusChanged = "auctionStatusChanged"
	EventNotifyBidders        = "notifybidders"
	EventColorChanged         = "colorChanged"
)

// Outgoing emit names.
const (
	EmitPlaceBid = "placeBid"
)

// Envelope frames every message on the socket in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NextCarRef is the pointer to the next live car embedded in an
// auctionStatusChanged payload.
type NextCarRef struct {
	ID string `json:"_id"`
}

// EventPayload is the union of the push event payload shapes. Pointer
// fields distinguish "absent from the payload" from zero values during
// reconciliation.
type EventPayload struct {
	IsOk            bool        `json:"isOk"`
	Message         string      `json:"message,omitempty"`
	ID              string      `json:"id,omitempty"`     // bidder user id on bidPlaced
	User            string      `json:"user,omitempty"`   // target user on colorChanged errors
	UserID          string      `json:"userId,omitempty"` // winner on auctionStatusChanged
	CarID           string      `json:"carId,omitempty"`
	BidAmount       *float64    `json:"bidAmount,omitempty"`
	CurrentBid      *float64    `json:"currentBid,omitempty"`
	AuctionStatus   *bool       `json:"auctionStatus,omitempty"`
	PreviousBidders []string    `json:"previousBidders,omitempty"`
	OutBidMessage   string      `json:"outBidMessage,omitempty"`
	WinnerMessage   string      `json:"winnerMessage,omitempty"`
	NextCar         *NextCarRef `json:"nextCar,omitempty"`
	Color           PriceColor  `json:"color,omitempty"`
}

// TargetUser returns the user id an error event is aimed at. The backend
// is not consistent about the field name across event types.
func (p *EventPayload) TargetUser() string {
	if p.User != "" {
		return p.User
	}
	if p.UserID != "" {
		return p.UserID
	}
	return p.ID
}

// PlaceBidRequest is the payload of the outgoing placeBid emit.
type PlaceBidRequest struct {
	CarID     string  `json:"carId"`
	Token     string  `json:"token"`
	BidAmount float64 `json:"bidAmount"`
}
