package fuel

import "github.com/evangomez/FairFuel/internal/session"

const (
	DefaultLitersPer100Km    = 9.4
	IdleFuelLitersPerHour    = 0.8
	AggressivePenaltyPerEvnt = 0.02
)

// Estimate converts a session's telemetry into estimated liters burned:
// distance at the vehicle's rated efficiency, plus idle burn, plus a flat
// penalty per aggressive acceleration. All terms are non-negative for
// valid input, so the estimate never goes below zero.
func Estimate(sess session.Session, litersPer100Km float64) float64 {
	baseFuel := (sess.DistanceKm / 100.0) * litersPer100Km
	idleFuel := (sess.IdleSeconds / 3600.0) * IdleFuelLitersPerHour
	aggressiveFuel := float64(sess.AggressiveAccelEvents) * AggressivePenaltyPerEvnt
	return baseFuel + idleFuel + aggressiveFuel
}

// AllocateCost splits a refuel's total cost across sessions in proportion
// to their estimated consumption, keyed by driver. Sessions without a
// driver are left out of both numerator and denominator. A zero total
// yields an empty map; fallback policy belongs to the caller.
func AllocateCost(entry Entry, sessions []session.Session) map[string]float64 {
	var total float64
	for _, sess := range sessions {
		if sess.DriverID == "" {
			continue
		}
		total += sess.EstimatedFuelLiters
	}
	if total <= 0 {
		return map[string]float64{}
	}

	allocation := make(map[string]float64)
	for _, sess := range sessions {
		if sess.DriverID == "" {
			continue
		}
		share := sess.EstimatedFuelLiters / total
		allocation[sess.DriverID] += share * entry.TotalCost
	}
	return allocation
}
