package engine

import "fmt"

// ArgumentError reports that the request payload could not be converted to
// the service's argument type.
type ArgumentError struct {
	Type string
	Err  error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("failed to deserialize argument of type %s: %v", e.Type, e.Err)
}

func (e *ArgumentError) Unwrap() error { return e.Err }

// Explain returns the detailed explanation surfaced in failure envelopes.
func (e *ArgumentError) Explain() string {
	return fmt.Sprintf("the request data did not match the %s argument contract: %v", e.Type, e.Err)
}

// InstantiationError reports that the locator could not produce a service
// instance for a resolved binding.
type InstantiationError struct {
	Service string
	Err     error
}

func (e *InstantiationError) Error() string {
	return fmt.Sprintf("failed to create an instance of service %s: %v", e.Service, e.Err)
}

func (e *InstantiationError) Unwrap() error { return e.Err }

// Explain returns the detailed explanation surfaced in failure envelopes.
func (e *InstantiationError) Explain() string {
	return fmt.Sprintf("service %s is registered but could not be constructed: %v", e.Service, e.Err)
}

// ExecutionError reports a non-security failure raised by the service itself.
// Argument holds a best-effort re-serialization of the argument that was
// used; when that serialization itself failed, Argument notes the secondary
// failure instead of masking the primary one.
type ExecutionError struct {
	Service  string
	Argument string
	Err      error
}

func (e *ExecutionError) Error() string { return e.Err.Error() }

func (e *ExecutionError) Unwrap() error { return e.Err }

// Explain returns the detailed explanation surfaced in failure envelopes.
func (e *ExecutionError) Explain() string {
	return fmt.Sprintf("service %s failed with argument: %s", e.Service, e.Argument)
}

// SecurityError marks a security-classified failure. It is never converted
// into a result envelope; Dispatch returns it unchanged so a stricter trust
// boundary handles it.
type SecurityError struct {
	Reason string
}

func (e *SecurityError) Error() string { return e.Reason }

// explainer is implemented by classified errors that carry a detailed
// explanation alongside the message.
type explainer interface {
	Explain() string
}

func explain(err error) string {
	if ex, ok := err.(explainer); ok {
		return ex.Explain()
	}
	return err.Error()
}
