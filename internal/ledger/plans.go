package ledger

import (
	"cmp"
	"slices"
)

// HostingPlans maps a hosting intent to its credit cost.
var HostingPlans = map[string]int64{
	"hosting_1_month":   5,
	"hosting_3_months":  10,
	"hosting_12_months": 30,
}

func PlanCost(intent string) (int64, bool) {
	cost, ok := HostingPlans[intent]
	return cost, ok
}

// PlanIntents returns the known intents, cheapest first.
func PlanIntents() []string {
	intents := make([]string, 0, len(HostingPlans))
	for intent := range HostingPlans {
		intents = append(intents, intent)
	}
	slices.SortFunc(intents, func(a, b string) int {
		return cmp.Or(cmp.Compare(HostingPlans[a], HostingPlans[b]), cmp.Compare(a, b))
	})
	return intents
}
