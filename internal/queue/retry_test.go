package queue

import "testing"

func TestNewRetryPolicy(t *testing.T) {
	p := NewRetryPolicy(3)
	if p.MaxRetries != 3 {
		t.Errorf("NewRetryPolicy(3) MaxRetries = %d, want 3", p.MaxRetries)
	}
}

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name       string
		maxRetries int
		retryCount int
		want       bool
	}{
		{
			name:       "fresh message",
			maxRetries: 3,
			retryCount: 0,
			want:       true,
		},
		{
			name:       "mid-budget",
			maxRetries: 3,
			retryCount: 2,
			want:       true,
		},
		{
			name:       "retry count equals max retries",
			maxRetries: 3,
			retryCount: 3,
			want:       false,
		},
		{
			name:       "retry count exceeds max retries",
			maxRetries: 3,
			retryCount: 7,
			want:       false,
		},
		{
			name:       "zero max retries never retries",
			maxRetries: 0,
			retryCount: 0,
			want:       false,
		},
		{
			name:       "single retry allowed - not yet used",
			maxRetries: 1,
			retryCount: 0,
			want:       true,
		},
		{
			name:       "single retry allowed - already used",
			maxRetries: 1,
			retryCount: 1,
			want:       false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewRetryPolicy(tt.maxRetries)
			got := p.ShouldRetry(tt.retryCount)
			if got != tt.want {
				t.Errorf("ShouldRetry(%d) with maxRetries=%d: got %v, want %v",
					tt.retryCount, tt.maxRetries, got, tt.want)
			}
		})
	}
}
