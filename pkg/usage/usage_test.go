package usage

import "testing"

func TestQuotaAllows(t *testing.T) {
	tests := []struct {
		name        string
		current     int64
		est         int64
		quota       int64
		wantAllowed bool
	}{
		{"well under quota", 0, 100, 1000, true},
		{"exactly at quota", 90, 10, 100, true},
		{"ten tokens over", 90, 20, 100, false},
		{"already over quota", 150, 0, 100, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := quotaAllows(tt.current, tt.est, tt.quota)
			if got != tt.wantAllowed {
				t.Errorf("quotaAllows(%d, %d, %d) = %v, want %v", tt.current, tt.est, tt.quota, got, tt.wantAllowed)
			}
		})
	}
}

func TestNullIfEmpty(t *testing.T) {
	if nullIfEmpty("") != nil {
		t.Error("expected nil for empty string")
	}
	if got := nullIfEmpty("boom"); got == nil || *got != "boom" {
		t.Errorf("expected pointer to \"boom\", got %v", got)
	}
}
