package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"reflect"
)

// Service is the two-type-parameter capability a registration must carry to
// be invocable through the engine: it consumes an argument of type A and
// produces a result of type R.
type Service[A any, R any] interface {
	Execute(ctx context.Context, arg A) (R, error)
}

// ServiceFunc adapts a plain function to the Service capability.
type ServiceFunc[A any, R any] func(ctx context.Context, arg A) (R, error)

// Execute calls f.
func (f ServiceFunc[A, R]) Execute(ctx context.Context, arg A) (R, error) {
	return f(ctx, arg)
}

// Locator yields collaborator instances during service construction. It is
// supplied per dispatch by the hosting container.
type Locator interface {
	Resolve(ctx context.Context, name string) (interface{}, error)
}

// LocatorFunc adapts a function to the Locator interface.
type LocatorFunc func(ctx context.Context, name string) (interface{}, error)

// Resolve calls f.
func (f LocatorFunc) Resolve(ctx context.Context, name string) (interface{}, error) {
	return f(ctx, name)
}

// Factory produces a service instance, pulling collaborators from the
// locator as needed. A factory error is classified as an instantiation
// failure unless it is security-classified.
type Factory[A any, R any] func(ctx context.Context, loc Locator) (Service[A, R], error)

// Signature is the (argument, result) type pair a binding operates over.
type Signature struct {
	Argument string
	Result   string
}

func (s Signature) String() string {
	return fmt.Sprintf("(%s, %s)", s.Argument, s.Result)
}

// Binding associates a stable service identifier with its capability
// signature and a typed invoker constructor. Bindings are immutable after
// construction; the argument and result types are closed over at bind time,
// so no type introspection happens during dispatch.
type Binding struct {
	identifier string
	signature  Signature
	build      func() *Invoker
}

// Identifier returns the stable service identifier used for cache keys and
// authorization checks.
func (b *Binding) Identifier() string { return b.identifier }

// Signature returns the binding's capability signature.
func (b *Binding) Signature() Signature { return b.signature }

// NewInvoker constructs the binding's invocation wrapper. Construction is a
// pure function of the binding, which is what makes racy cache publishes
// safe.
func (b *Binding) NewInvoker() *Invoker { return b.build() }

// Invokable is the capability surface the detector looks for on resolved
// registrations. Only typed bindings implement it.
type Invokable interface {
	Identifier() string
	Signature() Signature
	NewInvoker() *Invoker
}

// Detect reports whether a resolved registration carries the service
// capability, returning its typed binding surface if so.
func Detect(v interface{}) (Invokable, bool) {
	b, ok := v.(Invokable)
	return b, ok
}

// Invoker performs deserialize, instantiate, invoke, serialize for one
// service. It holds no mutable state and is safe to share across concurrent
// callers.
type Invoker struct {
	identifier string
	execute    func(ctx context.Context, in, out Codec, loc Locator, data []byte) ([]byte, error)
}

// Execute runs the wrapped service against raw argument data and returns the
// serialized result. Failures are classified as ArgumentError,
// InstantiationError or ExecutionError; security-classified errors pass
// through unchanged.
func (iv *Invoker) Execute(ctx context.Context, in, out Codec, loc Locator, data []byte) ([]byte, error) {
	return iv.execute(ctx, in, out, loc, data)
}

// Bind creates a typed binding for a service consuming A and producing R.
// The identifier must be the service's stable name (e.g. "checks.info").
func Bind[A any, R any](identifier string, factory Factory[A, R]) *Binding {
	sig := Signature{Argument: typeName[A](), Result: typeName[R]()}

	build := func() *Invoker {
		return &Invoker{
			identifier: identifier,
			execute: func(ctx context.Context, in, out Codec, loc Locator, data []byte) ([]byte, error) {
				// An absent payload means the service is invoked with a
				// default-initialized argument rather than failing.
				var arg A
				if !emptyPayload(data) {
					if err := in.Unmarshal(data, &arg); err != nil {
						return nil, &ArgumentError{Type: sig.Argument, Err: err}
					}
				}

				svc, err := factory(ctx, loc)
				if err != nil {
					if isSecurity(err) {
						return nil, err
					}
					return nil, &InstantiationError{Service: identifier, Err: err}
				}

				result, err := svc.Execute(ctx, arg)
				if err != nil {
					if isSecurity(err) {
						return nil, err
					}
					return nil, &ExecutionError{
						Service:  identifier,
						Argument: echoArgument(out, arg),
						Err:      err,
					}
				}

				payload, err := out.Marshal(result)
				if err != nil {
					return nil, &ExecutionError{
						Service:  identifier,
						Argument: echoArgument(out, arg),
						Err:      fmt.Errorf("failed to serialize result of type %s: %w", sig.Result, err),
					}
				}
				return payload, nil
			},
		}
	}

	return &Binding{identifier: identifier, signature: sig, build: build}
}

func isSecurity(err error) bool {
	var sec *SecurityError
	return errors.As(err, &sec)
}

// echoArgument re-serializes the argument that was used, best effort. A
// secondary serialization failure is noted rather than masking the primary
// error.
func echoArgument(out Codec, arg interface{}) string {
	data, err := out.Marshal(arg)
	if err != nil {
		return fmt.Sprintf("(argument could not be re-serialized: %v)", err)
	}
	return string(data)
}

func emptyPayload(data []byte) bool {
	trimmed := bytes.TrimSpace(data)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

func typeName[T any]() string {
	t := reflect.TypeOf((*T)(nil)).Elem()
	return t.String()
}
