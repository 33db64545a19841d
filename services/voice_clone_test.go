package services

import (
	"testing"

	"github.com/learningmaiyo/ancestral-echo/models"
)

func recordingsWithDurations(durations ...int) []models.Recording {
	recordings := make([]models.Recording, 0, len(durations))
	for i, d := range durations {
		recordings = append(recordings, models.Recording{
			ID:              string(rune('a' + i)),
			DurationSeconds: d,
		})
	}
	return recordings
}

func TestSamplePolicySelect_FiltersAndOrders(t *testing.T) {
	recordings := recordingsWithDurations(10, 45, 90, 310, 700)

	tests := []struct {
		name   string
		policy SamplePolicy
		want   []int
	}{
		{
			name:   "auto clone keeps 30s-10m, longest first, top 3",
			policy: AutoClonePolicy,
			want:   []int{310, 90, 45},
		},
		{
			name:   "manual best-pick caps at 5 minutes",
			policy: BestPickPolicy,
			want:   []int{90, 45},
		},
		{
			name:   "limit trims the tail",
			policy: SamplePolicy{MinSeconds: 0, MaxSeconds: 1000, Limit: 2},
			want:   []int{700, 310},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			selected := tt.policy.Select(recordings)
			if len(selected) != len(tt.want) {
				t.Fatalf("expected %d recordings, got %d", len(tt.want), len(selected))
			}
			for i, want := range tt.want {
				if selected[i].DurationSeconds != want {
					t.Errorf("position %d: expected duration %d, got %d", i, want, selected[i].DurationSeconds)
				}
			}
		})
	}
}

func TestSamplePolicySelect_NothingEligible(t *testing.T) {
	recordings := recordingsWithDurations(5, 12, 700)

	if selected := BestPickPolicy.Select(recordings); len(selected) != 0 {
		t.Errorf("expected no eligible recordings, got %d", len(selected))
	}
}

func TestSamplePolicySelect_StableOnEqualDurations(t *testing.T) {
	recordings := recordingsWithDurations(60, 60, 60)

	selected := AutoClonePolicy.Select(recordings)
	if len(selected) != 3 {
		t.Fatalf("expected 3 recordings, got %d", len(selected))
	}
	// Equal durations keep their original order.
	for i, id := range []string{"a", "b", "c"} {
		if selected[i].ID != id {
			t.Errorf("position %d: expected id %q, got %q", i, id, selected[i].ID)
		}
	}
}
