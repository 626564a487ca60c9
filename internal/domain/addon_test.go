package domain

import "testing"

func TestPrecedencePolicyMatches(t *testing.T) {
	tests := []struct {
		name    string
		policy  PrecedencePolicy
		region  string
		cluster string
		want    bool
	}{
		{
			name:   "region in",
			policy: PrecedencePolicy{CondType: CondRegionIn, CondData: []string{"default", "ieod"}},
			region: "default",
			want:   true,
		},
		{
			name:   "region not in",
			policy: PrecedencePolicy{CondType: CondRegionIn, CondData: []string{"ieod"}},
			region: "default",
			want:   false,
		},
		{
			name:    "cluster in",
			policy:  PrecedencePolicy{CondType: CondClusterIn, CondData: []string{"main-1"}},
			cluster: "main-1",
			want:    true,
		},
		{
			name:   "always match",
			policy: PrecedencePolicy{CondType: CondAlwaysMatch},
			want:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.Matches(tt.region, tt.cluster); got != tt.want {
				t.Errorf("Matches(%q, %q) = %v, want %v", tt.region, tt.cluster, got, tt.want)
			}
		})
	}
}
