package model

import "testing"

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to RequestStatus
		want     bool
	}{
		{RequestStatusPending, RequestStatusProcessing, true},
		{RequestStatusPending, RequestStatusStreamingReady, true},
		{RequestStatusPending, RequestStatusCompleted, true},
		{RequestStatusPending, RequestStatusFailed, true},
		{RequestStatusProcessing, RequestStatusStreamingReady, true},
		{RequestStatusProcessing, RequestStatusCompleted, true},
		{RequestStatusProcessing, RequestStatusFailed, true},
		{RequestStatusStreamingReady, RequestStatusCompleted, true},
		{RequestStatusStreamingReady, RequestStatusFailed, true},

		// No backwards movement
		{RequestStatusProcessing, RequestStatusPending, false},
		{RequestStatusStreamingReady, RequestStatusProcessing, false},

		// Terminal states admit nothing
		{RequestStatusCompleted, RequestStatusFailed, false},
		{RequestStatusCompleted, RequestStatusProcessing, false},
		{RequestStatusFailed, RequestStatusCompleted, false},
		{RequestStatusFailed, RequestStatusProcessing, false},

		// Self-transitions are no-ops
		{RequestStatusProcessing, RequestStatusProcessing, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestVersionLabel(t *testing.T) {
	tests := []struct {
		index int
		want  string
	}{
		{0, "A"},
		{1, "B"},
		{4, "E"},
		{5, "V6"},
		{6, "V7"},
		{9, "V10"},
	}
	for _, tt := range tests {
		if got := VersionLabel(tt.index); got != tt.want {
			t.Errorf("VersionLabel(%d) = %s, want %s", tt.index, got, tt.want)
		}
	}
}

func TestResolveModel(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "V4_5"},
		{"V5", "V5"},
		{"V4_5PLUS", "V4_5PLUS"},
		{"V4_5ALL", "V4_5"},
		{"V4ALL", "V4"},
		{"V99", "V4_5"},
		{"garbage", "V4_5"},
	}
	for _, tt := range tests {
		if got := ResolveModel(tt.in); got != tt.want {
			t.Errorf("ResolveModel(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func TestNextFallback(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"V5", "V4_5PLUS"},
		{"V4_5PLUS", "V4_5"},
		{"V4_5", ""},
		{"V4", "V3_5"},
		{"V3_5", ""},
	}
	for _, tt := range tests {
		if got := NextFallback(tt.in); got != tt.want {
			t.Errorf("NextFallback(%s) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
