package dispatch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"
)

// ConversionsDestination reports the purchase to the ad network's server-side
// conversions API. The event id must be the same one the client-side pixel
// fires with, so the network deduplicates the browser and server reports into
// a single conversion. PII is SHA-256 hashed per the API contract.
type ConversionsDestination struct {
	url     string
	token   string
	pixelID string
	client  *http.Client
}

func NewConversionsDestination(url, token, pixelID string, client *http.Client) *ConversionsDestination {
	if client == nil {
		client = &http.Client{}
	}
	return &ConversionsDestination{url: url, token: token, pixelID: pixelID, client: client}
}

func (d *ConversionsDestination) Name() string {
	return "conversions"
}

type conversionUserData struct {
	EmailHashes []string `json:"em,omitempty"`
	PhoneHashes []string `json:"ph,omitempty"`
}

type conversionCustomData struct {
	Currency    string   `json:"currency"`
	Value       int64    `json:"value"` // major units
	ContentIDs  []string `json:"content_ids"`
	ContentType string   `json:"content_type"`
}

type conversionEvent struct {
	EventName    string               `json:"event_name"`
	EventTime    int64                `json:"event_time"`
	EventID      string               `json:"event_id"`
	ActionSource string               `json:"action_source"`
	UserData     conversionUserData   `json:"user_data"`
	CustomData   conversionCustomData `json:"custom_data"`
}

type conversionRequest struct {
	Data        []conversionEvent `json:"data"`
	PixelID     string            `json:"pixel_id"`
	AccessToken string            `json:"access_token"`
}

func (d *ConversionsDestination) Deliver(ctx context.Context, msg *PurchaseMessage) error {
	userData := conversionUserData{}
	if hash := HashEmail(msg.Event.Email); hash != "" {
		userData.EmailHashes = []string{hash}
	}
	if hash := HashPhone(msg.Event.Phone); hash != "" {
		userData.PhoneHashes = []string{hash}
	}

	payload := conversionRequest{
		Data: []conversionEvent{{
			EventName:    "Purchase",
			EventTime:    msg.Event.CreatedAt.Unix(),
			EventID:      msg.EventID,
			ActionSource: "website",
			UserData:     userData,
			CustomData: conversionCustomData{
				Currency:    msg.Event.Currency,
				Value:       msg.Event.AmountMajor(),
				ContentIDs:  msg.Classification.SKUs,
				ContentType: "product",
			},
		}},
		PixelID:     d.pixelID,
		AccessToken: d.token,
	}

	return postJSON(ctx, d.client, d.url, nil, payload)
}

// HashEmail normalizes (trim, lowercase) and SHA-256 hashes an email address.
// Empty input yields empty output.
func HashEmail(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(email))
	return hex.EncodeToString(sum[:])
}

// HashPhone strips everything but digits before hashing, so "+91 98765-43210"
// and "919876543210" match on the network's side.
func HashPhone(phone string) string {
	var digits strings.Builder
	for _, c := range phone {
		if c >= '0' && c <= '9' {
			digits.WriteRune(c)
		}
	}
	if digits.Len() == 0 {
		return ""
	}
	sum := sha256.Sum256([]byte(digits.String()))
	return hex.EncodeToString(sum[:])
}
