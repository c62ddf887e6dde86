package profile

import "time"

// Profile is the single driver profile for this installation. Driver
// identity always comes from the device, never from the vehicle tag.
type Profile struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
