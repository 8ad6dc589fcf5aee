package rotation

// EnforceStartup inspects the persisted rotation state before the server
// begins normal serving. Idle and completed pass (a durable completed
// record only needs finalization, which is idempotent). Re-encrypting and
// failed are refused with a FatalStateError: an unattended restart must
// never silently resume a sensitive cryptographic operation. Recovery is a
// separate, explicit, operator-invoked entry point.
func EnforceStartup(rec StateRecord) error {
	switch rec.State {
	case StateIdle, StateCompleted:
		return nil
	default:
		return &FatalStateError{
			State:      rec.State,
			RotationID: rec.RotationID,
			Reason:     rec.FailureReason,
		}
	}
}
