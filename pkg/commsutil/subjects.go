package commsutil

import "fmt"

// Default COMMS subjects.
const (
	SubjectDispatch        = "engine.dispatch.v1"
	SubjectCatalog         = "engine.catalog.v1"
	SubjectDispatchedEvent = "engine.dispatched"
)

// BuildEventSubject builds a granular dispatch event subject.
func BuildEventSubject(app, service string) string {
	return fmt.Sprintf("engine.dispatched.%s.%s", app, service)
}
