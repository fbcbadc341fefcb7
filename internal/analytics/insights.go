package analytics

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/dukerupert/freshkeep/internal/model"
)

const (
	highConsumptionRate = 5.0
	lowConsumptionRate  = 1.0
	highWastePercentage = 20.0
)

func wasteInsights(t model.Totals, cats []model.CategoryBreakdown) []string {
	out := []string{}
	if t.WastedCount == 0 {
		return append(out, "Nothing went to waste in this period.")
	}
	if t.WastePercentage > highWastePercentage {
		out = append(out, fmt.Sprintf("High waste: %.1f%% of items bought expired unused. Consider buying smaller quantities.", t.WastePercentage))
	}
	if top, ok := topCategory(cats); ok {
		out = append(out, fmt.Sprintf("%s accounts for most of the waste (%s wasted).", top.Category, humanize.CommafWithDigits(top.Total, 2)))
	}
	return out
}

func consumptionInsights(t model.Totals, windowDays int, cats []model.CategoryBreakdown) []string {
	out := []string{}
	switch {
	case t.ConsumedCount == 0:
		out = append(out, fmt.Sprintf("No items were consumed in the last %d days.", windowDays))
	case t.ConsumptionRate > highConsumptionRate:
		out = append(out, fmt.Sprintf("High consumption: about %.1f items per day.", t.ConsumptionRate))
	case t.ConsumptionRate < lowConsumptionRate:
		out = append(out, fmt.Sprintf("Low consumption: only %s items consumed in %d days.", humanize.Comma(int64(t.ConsumedCount)), windowDays))
	}
	if t.WastePercentage > highWastePercentage {
		out = append(out, fmt.Sprintf("High waste: %.1f%% of items bought expired unused.", t.WastePercentage))
	}
	if top, ok := topCategory(cats); ok {
		out = append(out, fmt.Sprintf("Most consumed category: %s.", top.Category))
	}
	return out
}
