package queue

import "testing"

func TestPayload_RetryCount(t *testing.T) {
	tests := []struct {
		name    string
		payload Payload
		want    int
	}{
		{
			name:    "absent counts as zero",
			payload: Payload{"task": "export"},
			want:    0,
		},
		{
			name:    "float64 from JSON decoding",
			payload: Payload{KeyRetryCount: float64(2)},
			want:    2,
		},
		{
			name:    "int from in-process construction",
			payload: Payload{KeyRetryCount: 3},
			want:    3,
		},
		{
			name:    "int64",
			payload: Payload{KeyRetryCount: int64(1)},
			want:    1,
		},
		{
			name:    "non-numeric counts as zero",
			payload: Payload{KeyRetryCount: "three"},
			want:    0,
		},
		{
			name:    "nil payload",
			payload: nil,
			want:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.payload.RetryCount(); got != tt.want {
				t.Errorf("RetryCount() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestPayload_CloneDoesNotAliasCaller(t *testing.T) {
	orig := Payload{"task": "export", KeyRetryCount: 1}
	copied := orig.clone()

	copied[KeyRetryCount] = 5
	copied["extra"] = true

	if orig.RetryCount() != 1 {
		t.Errorf("original retry_count = %d after mutating clone, want 1", orig.RetryCount())
	}
	if _, ok := orig["extra"]; ok {
		t.Error("mutating clone added a key to the original payload")
	}
}

func TestDLQName(t *testing.T) {
	tests := []struct {
		queue string
		want  string
	}{
		{"user_tasks", "user_tasks_dlq"},
		{"unison_reports", "unison_reports_dlq"},
		{"user_tasks_dlq", "user_tasks_dlq_dlq"},
	}

	for _, tt := range tests {
		if got := DLQName(tt.queue); got != tt.want {
			t.Errorf("DLQName(%q) = %q, want %q", tt.queue, got, tt.want)
		}
	}
}

func TestQualifiedName(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		queue  string
		want   string
	}{
		{"with prefix", "unison", "user_tasks", "unison_user_tasks"},
		{"empty prefix passes through", "", "user_tasks", "user_tasks"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := QualifiedName(tt.prefix, tt.queue); got != tt.want {
				t.Errorf("QualifiedName(%q, %q) = %q, want %q", tt.prefix, tt.queue, got, tt.want)
			}
		})
	}
}
