package radar

import "fmt"

// Event is a message decoded from the radar byte stream.
type Event interface {
	isEvent()
}

// FrameEvent carries a validated frame. Its PersonCount feeds the occupancy
// history.
type FrameEvent struct {
	Frame *Frame
}

// ATResponseEvent carries a complete "AT+..." text response, including the
// trailing newline.
type ATResponseEvent struct {
	Text string
}

// StudyResultEvent carries a 6 byte calibration result.
type StudyResultEvent struct {
	Outcome StudyOutcome
	Code    [6]byte
}

// SaveFailedEvent is emitted for the literal "Save Para Failed\n".
type SaveFailedEvent struct{}

func (FrameEvent) isEvent()       {}
func (ATResponseEvent) isEvent()  {}
func (StudyResultEvent) isEvent() {}
func (SaveFailedEvent) isEvent()  {}

// StudyOutcome classifies a calibration result code.
type StudyOutcome int

const (
	StudyUnknown StudyOutcome = iota
	// StudyStartNew: environment differs from the saved one, a new study starts.
	StudyStartNew
	// StudyAbort: environment differs from the one a few minutes ago.
	StudyAbort
	// StudySaveSameAsSaved: environment matches the saved one and is saved.
	StudySaveSameAsSaved
	// StudyContinue: environment matches the recent one, study continues.
	StudyContinue
	// StudySaveStable: environment was stable over several passes and is saved.
	StudySaveStable
)

var studyCodes = map[[6]byte]StudyOutcome{
	{0x55, 0xAA, 0x06, 0x00, 0xB1, 0xB7}: StudyStartNew,
	{0x55, 0xAA, 0x06, 0x00, 0xB2, 0xB4}: StudyAbort,
	{0x55, 0xAA, 0x06, 0x00, 0xA1, 0xA7}: StudySaveSameAsSaved,
	{0x55, 0xAA, 0x06, 0x00, 0xA2, 0xA4}: StudyContinue,
	{0x55, 0xAA, 0x06, 0x00, 0xA3, 0xA5}: StudySaveStable,
}

// ClassifyStudyCode maps a calibration result code to its outcome.
func ClassifyStudyCode(code [6]byte) StudyOutcome {
	return studyCodes[code]
}

// StudyCode returns the wire code for an outcome, or false for StudyUnknown.
func StudyCode(o StudyOutcome) ([6]byte, bool) {
	for code, outcome := range studyCodes {
		if outcome == o {
			return code, true
		}
	}
	return [6]byte{}, false
}

// Finishes reports whether the outcome ends a study and starts the reset
// cooldown.
func (o StudyOutcome) Finishes() bool {
	switch o {
	case StudyAbort, StudySaveSameAsSaved, StudySaveStable:
		return true
	}
	return false
}

func (o StudyOutcome) String() string {
	switch o {
	case StudyStartNew:
		return "different from saved, starting new study"
	case StudyAbort:
		return "different from recent, aborting"
	case StudySaveSameAsSaved:
		return "same as saved, saving"
	case StudyContinue:
		return "same as recent, continuing"
	case StudySaveStable:
		return "same over several passes, saving"
	case StudyUnknown:
		return "unknown"
	}
	return fmt.Sprintf("StudyOutcome(%d)", int(o))
}
