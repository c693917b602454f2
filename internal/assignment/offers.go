package assignment

import (
	"context"
	"encoding/json"
	"time"
)

// offerStore is the Redis surface offers live on. Offer records are advisory;
// the committer's state guard is what makes acceptance safe.
type offerStore interface {
	PlaceOffer(ctx context.Context, orderID, agentID, payload string, ttl time.Duration) (bool, error)
	GetOffer(ctx context.Context, orderID, agentID string) (string, error)
	ClearOffers(ctx context.Context, orderID string, agentIDs ...string) error
}

func encodeOfferPayload(p offerPayload) (string, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeOfferPayload(raw string) (offerPayload, error) {
	var p offerPayload
	err := json.Unmarshal([]byte(raw), &p)
	return p, err
}
