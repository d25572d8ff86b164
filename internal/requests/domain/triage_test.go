package domain

import "testing"

func TestTriageEmergency_KeywordAlwaysFlags(t *testing.T) {
	if !TriageEmergency(CategoryPlumbing, "Burst pipe flooding the kitchen", PriorityLow) {
		t.Fatalf("expected keyword hit to flag emergency regardless of priority")
	}
	if !TriageEmergency(CategoryOther, "I smell GAS near the boiler", PriorityLow) {
		t.Fatalf("expected case-insensitive keyword match")
	}
}

func TestTriageEmergency_HazardCategoryNeedsHighPriority(t *testing.T) {
	if TriageEmergency(CategoryElectrical, "outlet stopped working", PriorityMedium) {
		t.Fatalf("electrical at medium priority should not be an emergency")
	}
	if !TriageEmergency(CategoryElectrical, "outlet stopped working", PriorityHigh) {
		t.Fatalf("electrical at high priority should be an emergency")
	}
	if !TriageEmergency(CategoryStructural, "crack in load wall", PriorityUrgent) {
		t.Fatalf("structural at urgent priority should be an emergency")
	}
}

func TestTriageEmergency_BenignRequest(t *testing.T) {
	if TriageEmergency(CategoryAppliance, "dishwasher door squeaks", PriorityUrgent) {
		t.Fatalf("non-hazard category without keywords should not be an emergency")
	}
}

func TestEffectivePriority(t *testing.T) {
	if got := EffectivePriority(PriorityLow, true); got != PriorityUrgent {
		t.Fatalf("expected urgent for emergency, got %s", got)
	}
	if got := EffectivePriority(PriorityMedium, false); got != PriorityMedium {
		t.Fatalf("expected medium unchanged, got %s", got)
	}
}

func TestBucketForStatus(t *testing.T) {
	cases := []struct {
		status Status
		bucket Bucket
		ok     bool
	}{
		{StatusAssigned, BucketPending, true},
		{StatusInProgress, BucketOngoing, true},
		{StatusCompleted, BucketFinished, true},
		{StatusArchived, BucketFinished, true},
		{StatusSubmitted, "", false},
		{StatusPending, "", false},
	}
	for _, c := range cases {
		bucket, ok := BucketForStatus(c.status)
		if bucket != c.bucket || ok != c.ok {
			t.Fatalf("BucketForStatus(%s) = %s,%v; want %s,%v", c.status, bucket, ok, c.bucket, c.ok)
		}
	}
}

func TestIsValidStatus(t *testing.T) {
	if !IsValidStatus(StatusInProgress) {
		t.Fatalf("in-progress should be a defined status")
	}
	if IsValidStatus(Status("cancelled")) {
		t.Fatalf("cancelled is not part of the lifecycle")
	}
}
