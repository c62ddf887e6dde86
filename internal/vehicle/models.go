package vehicle

import "time"

// DefaultLitersPer100Km is applied when a vehicle is created without a
// configured fuel efficiency.
const DefaultLitersPer100Km = 9.4

// Vehicle is identified in the physical world by a single proximity ID:
// either an iBeacon UUID or the URI written to its NFC tag, depending on
// the deployment's start policy. One ID per vehicle, shared by all
// drivers: the ID encodes the vehicle, not the driver.
type Vehicle struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	ProximityID    string    `json:"proximity_id"`
	LitersPer100Km float64   `json:"liters_per_100km"`
	CreatedAt      time.Time `json:"created_at"`
}
