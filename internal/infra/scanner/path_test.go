package scanner

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWorkerPath(t *testing.T) {
	tests := []struct {
		name         string
		hostPath     string
		workspaceDir string
		expected     string
	}{
		{
			name:         "unix path under workspace",
			hostPath:     "/var/lib/deplai/repos/acme/website",
			workspaceDir: "/var/lib/deplai/repos",
			expected:     "/app/tmp/acme/website",
		},
		{
			name:         "workspace root itself",
			hostPath:     "/var/lib/deplai/repos",
			workspaceDir: "/var/lib/deplai/repos",
			expected:     "/app/tmp",
		},
		{
			name:         "trailing slash on workspace",
			hostPath:     "/var/lib/deplai/repos/acme/website",
			workspaceDir: "/var/lib/deplai/repos/",
			expected:     "/app/tmp/acme/website",
		},
		{
			name:         "windows style host path",
			hostPath:     `C:\deplai\repos\acme\website`,
			workspaceDir: `C:\deplai\repos`,
			expected:     "/app/tmp/acme/website",
		},
		{
			name:         "path outside workspace keeps last element",
			hostPath:     "/srv/uploads/project-42",
			workspaceDir: "/var/lib/deplai/repos",
			expected:     "/app/tmp/project-42",
		},
		{
			name:         "nested path",
			hostPath:     "/var/lib/deplai/repos/acme/website/src",
			workspaceDir: "/var/lib/deplai/repos",
			expected:     "/app/tmp/acme/website/src",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WorkerPath(tt.hostPath, tt.workspaceDir, "/app/tmp")
			assert.Equal(t, tt.expected, got)
		})
	}
}
