package rating

import (
	"math"
	"strings"
)

// Field is one profile attribute counted towards completion.
type Field struct {
	Name   string `json:"name"`
	Weight int    `json:"weight"`
	Filled bool   `json:"filled"`
}

// DefaultProfileFields lists the supplier profile attributes and their weights.
// Weights sum to 100.
var DefaultProfileFields = []Field{
	{Name: "company_name", Weight: 15},
	{Name: "description", Weight: 15},
	{Name: "logo", Weight: 10},
	{Name: "location", Weight: 10},
	{Name: "contact_email", Weight: 10},
	{Name: "phone", Weight: 5},
	{Name: "website", Weight: 5},
	{Name: "categories", Weight: 15},
	{Name: "portfolio", Weight: 15},
}

// ProfileCompletion returns the filled share of the total weight as a
// percentage in [0, 100]. Fields with non-positive weight are ignored.
func ProfileCompletion(fields []Field) int {
	var total, filled int
	for _, f := range fields {
		if f.Weight <= 0 {
			continue
		}
		total += f.Weight
		if f.Filled {
			filled += f.Weight
		}
	}
	if total == 0 {
		return 0
	}
	pct := int(math.Round(float64(filled) * 100 / float64(total)))
	return max(0, min(100, pct))
}

// MarkFilled returns DefaultProfileFields with the named fields marked filled.
// Unknown names are ignored, matching is case-insensitive.
func MarkFilled(names []string) []Field {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[strings.ToLower(strings.TrimSpace(n))] = struct{}{}
	}
	out := make([]Field, len(DefaultProfileFields))
	for i, f := range DefaultProfileFields {
		_, f.Filled = set[f.Name]
		out[i] = f
	}
	return out
}
