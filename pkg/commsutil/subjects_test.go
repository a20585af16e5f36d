package commsutil

import "testing"

func TestBuildTopicSubject(t *testing.T) {
	tests := []struct {
		name  string
		topic string
		want  string
	}{
		{"uuid", "6a8f3c1e-55d0-4f6e-9a8e-2f1b2c3d4e5f", "wc.bridge.6a8f3c1e-55d0-4f6e-9a8e-2f1b2c3d4e5f"},
		{"dotted", "a.b", "wc.bridge.a_b"},
		{"wildcards", "x*y>z", "wc.bridge.x_y_z"},
		{"space", "a b", "wc.bridge.a_b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildTopicSubject(tt.topic)
			if got != tt.want {
				t.Errorf("BuildTopicSubject(%q) = %q, want %q", tt.topic, got, tt.want)
			}
		})
	}
}
