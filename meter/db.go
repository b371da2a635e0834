package meter

import (
	"math"

	"github.com/opd-ai/vmix/limits"
)

// FloorDB is the lowest level a meter reports. Anything quieter reads as the floor.
const FloorDB = limits.MeterFloorDB

// DBToLinear converts decibels to a linear amplitude factor.
// Levels at or below FloorDB map to exactly 0.
func DBToLinear(db float64) float64 {
	if db <= FloorDB || math.IsNaN(db) {
		return 0
	}
	return math.Pow(10, db/20)
}

// LinearToDB converts a linear amplitude to decibels, clamped to FloorDB.
func LinearToDB(x float64) float64 {
	if x <= 0 || math.IsNaN(x) {
		return FloorDB
	}
	db := 20 * math.Log10(x)
	if db < FloorDB {
		return FloorDB
	}
	return db
}
