package fuel

import "time"

// Entry records one refueling. It has no stored relationship to sessions;
// allocation associates the two at query time only.
type Entry struct {
	ID        string    `json:"id"`
	Date      time.Time `json:"date"`
	Liters    float64   `json:"liters"`
	TotalCost float64   `json:"total_cost"`
	Odometer  float64   `json:"odometer,omitempty"`
}

func (e Entry) CostPerLiter() float64 {
	if e.Liters <= 0 {
		return 0
	}
	return e.TotalCost / e.Liters
}
