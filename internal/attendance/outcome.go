package attendance

// Outcome is the single terminal token returned for every scan.
type Outcome string

const (
	Accepted           Outcome = "SCAN_ACCEPTED"
	UnknownCard        Outcome = "UNKNOWN_CARD"
	NoActiveSlot       Outcome = "NO_ACTIVE_SLOT"
	StudentNotEligible Outcome = "STUDENT_NOT_ELIGIBLE"
	StaffNotScheduled  Outcome = "STAFF_NOT_SCHEDULED"
	DuplicateScan      Outcome = "DUPLICATE_SCAN"
	NoCard             Outcome = "NO_CARD"
	StorageError       Outcome = "ERROR"
	// Ignored marks keep-alive traffic: not processed, and not a rejection.
	Ignored Outcome = "IGNORED"
)

// legacyAccepted is what first-generation reader firmware expects on success.
const legacyAccepted = "OK"

// Token renders the outcome for line-oriented readers.
func (o Outcome) Token(legacyOK bool) string {
	if o == Accepted && legacyOK {
		return legacyAccepted
	}
	return string(o)
}

// Rejected reports whether the scan was refused by a pipeline stage.
func (o Outcome) Rejected() bool {
	switch o {
	case Accepted, Ignored:
		return false
	default:
		return true
	}
}
