package fermentation

import (
	"math"

	"herbit/internal/model"
)

// Recipe is the 1:3:10 sugar, waste and water mix for a batch.
type Recipe struct {
	WasteKg float64 `json:"wasteKg"`
	SugarKg float64 `json:"sugarKg"`
	WaterL  float64 `json:"waterL"`
}

// RecipeFor scales the mix to the given amount of organic waste.
func RecipeFor(wasteKg float64) Recipe {
	if wasteKg <= 0 {
		return Recipe{}
	}
	sugar := wasteKg / 3
	return Recipe{
		WasteKg: round2(wasteKg),
		SugarKg: round2(sugar),
		WaterL:  round2(sugar * 10),
	}
}

// WastePrePoints converts a logged waste weight into pre-points (10 per kg).
func WastePrePoints(kg float64) float64 {
	return math.Round(kg * 10)
}

// TotalPrePoints sums the pre-points of every upload.
func TotalPrePoints(uploads []model.Upload) float64 {
	var total float64
	for _, u := range uploads {
		total += u.PrePointsEarned
	}
	return total
}

// TotalWeightKg sums the waste-weight entries. Check-ins and milestone photos carry
// fixed points and are not weight entries. Falls back to the project's recorded
// weight when no entry exists.
func TotalWeightKg(p model.Project, uploads []model.Upload) float64 {
	var kg float64
	for _, u := range uploads {
		if !u.IsCheckin() || u.PrePointsEarned <= CheckinPoints {
			continue
		}
		kg += u.PrePointsEarned / 10
	}
	if kg == 0 {
		kg = p.OrganicWasteWeight
	}
	return round2(kg)
}

// MilestonePoints is the share of the 150 milestone points already earned.
func MilestonePoints(uploads []model.Upload) int {
	return len(MilestonesUploaded(uploads)) * MilestonePhotoPoints
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
