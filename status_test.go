package recommerce

import "testing"

func TestIsSuccessStatus(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{"running", true},
		{"paused", true},
		{"created", true},
		{"restarting", true},
		{"exited", true},
		{"exited (0)", true},
		{"exited (137)", true},
		{"removed (7)", true},
		{"success", true},
		{"Container not found", false},
		{"Image build failed", false},
		{"Command not allowed: fasel", false},
		{"exited (", false},
		{"removed (1)\nboom", false},
		{"APIError encountered while pausing container.\nexited (1)", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsSuccessStatus(tt.status); got != tt.want {
			t.Errorf("IsSuccessStatus(%q): got %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestStatusStrings(t *testing.T) {
	if got := ExitedStatus(7); got != "exited (7)" {
		t.Errorf("ExitedStatus: got %q", got)
	}
	if got := RemovedStatus(137); got != "removed (137)" {
		t.Errorf("RemovedStatus: got %q", got)
	}
}

func TestRoleAllowed(t *testing.T) {
	if !RoleWebserver.Allowed() || !RoleDeveloper.Allowed() {
		t.Error("known roles should be allowed")
	}
	if RoleDenied.Allowed() || Role("admin").Allowed() {
		t.Error("unknown roles must be denied")
	}
}
