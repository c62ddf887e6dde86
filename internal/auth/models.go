package auth

import "time"

// Device is a phone that has paired with this install. One row per
// successful pairing; tokens are minted against the device ID.
type Device struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	PairedAt time.Time `json:"paired_at"`
}

type PairRequest struct {
	Name        string `json:"name"`
	PairingCode string `json:"pairing_code"`
}

type TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}
