package types //nolint:revive // types is a valid package name

import "testing"

func TestOperationStatus_IsTerminal(t *testing.T) {
	tests := []struct {
		status OperationStatus
		want   bool
	}{
		{StatusSuccess, true},
		{StatusSuccessWithWarning, true},
		{StatusFailure, true},
		{StatusFromCache, false},
		{StatusRemoteExecuting, false},
		{OperationStatus("BOGUS"), false},
	}

	for _, tt := range tests {
		if got := tt.status.IsTerminal(); got != tt.want {
			t.Errorf("%s.IsTerminal() = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestOperationStatus_Succeeded(t *testing.T) {
	if !StatusSuccessWithWarning.Succeeded() {
		t.Error("SUCCESS_WITH_WARNING should count as success")
	}
	if !StatusFromCache.Succeeded() {
		t.Error("FROM_CACHE should count as success")
	}
	if StatusFailure.Succeeded() {
		t.Error("FAILURE should not count as success")
	}
	if StatusRemoteExecuting.Succeeded() {
		t.Error("REMOTE_EXECUTING should not count as success")
	}
}
