package rotation

import (
	"errors"
	"strings"
	"testing"
)

func TestEnforceStartup(t *testing.T) {
	tests := []struct {
		state    State
		wantPass bool
	}{
		{StateIdle, true},
		{StateCompleted, true},
		{StateReEncrypting, false},
		{StateFailed, false},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			err := EnforceStartup(StateRecord{State: tt.state, RotationID: "rot-1", FailureReason: "it broke"})
			if tt.wantPass {
				if err != nil {
					t.Errorf("EnforceStartup(%v) error = %v, want nil", tt.state, err)
				}
				return
			}

			var fatal *FatalStateError
			if !errors.As(err, &fatal) {
				t.Fatalf("EnforceStartup(%v) error = %T, want FatalStateError", tt.state, err)
			}
			if fatal.State != tt.state {
				t.Errorf("FatalStateError.State = %v, want %v", fatal.State, tt.state)
			}
			// The message must point the operator at the remediation command
			if !strings.Contains(fatal.Error(), "docstore-admin") {
				t.Errorf("error %q does not name the admin tool", fatal.Error())
			}
		})
	}
}
