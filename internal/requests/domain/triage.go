package domain

import "strings"

// hazardKeywords are description fragments that mark an issue as an
// immediate hazard regardless of the tenant-chosen priority.
var hazardKeywords = []string{
	"gas",
	"carbon monoxide",
	"flood",
	"burst pipe",
	"sparks",
	"fire",
	"smoke",
	"no heat",
	"sewage",
	"electrical shock",
}

// hazardCategories are categories treated as hazardous when paired with a
// high tenant-chosen priority.
var hazardCategories = map[Category]bool{
	CategoryElectrical: true,
	CategoryStructural: true,
}

// TriageEmergency reports whether a new request should be flagged as an
// emergency. Keyword hits always flag; hazardous categories flag only when
// the tenant already marked the issue high or urgent.
func TriageEmergency(category Category, description string, priority Priority) bool {
	lower := strings.ToLower(description)
	for _, kw := range hazardKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	if hazardCategories[category] {
		return priority == PriorityHigh || priority == PriorityUrgent
	}
	return false
}

// EffectivePriority returns the priority the notification rule engine should
// evaluate against: emergencies are always treated as urgent.
func EffectivePriority(p Priority, isEmergency bool) Priority {
	if isEmergency {
		return PriorityUrgent
	}
	return p
}
