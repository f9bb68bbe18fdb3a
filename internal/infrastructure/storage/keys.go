// Package storage implements the string-keyed snapshot store the bidding
// core persists through. Key names are defined once here; persistence and
// event reconciliation both import them, so the names cannot drift.
package storage

const (
	// KeyBidData holds the serialized BidSnapshot of the currently
	// viewed car.
	KeyBidData = "currentBidData"

	// KeyCarColor holds the serialized PriceColorSnapshot.
	KeyCarColor = "currentCarColor"

	// KeyToken holds the auth token. The leading @ matches the key the
	// rest of the app writes.
	KeyToken = "@token"

	// KeyUserData holds the current user id, used for event targeting.
	KeyUserData = "userdata"
)
