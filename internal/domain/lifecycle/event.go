package lifecycle

// Event represents a lifecycle event that can cause a status transition
type Event string

const (
	EventSubmit                   Event = "SUBMIT"
	EventDriverConfirmsResolution Event = "DRIVER_CONFIRMS_RESOLUTION"
	EventTimeout                  Event = "TIMEOUT"
	EventAdminCompletes           Event = "ADMIN_COMPLETES"
	EventArchive                  Event = "ARCHIVE"
)

// String returns the string representation of the event
func (e Event) String() string {
	return string(e)
}
