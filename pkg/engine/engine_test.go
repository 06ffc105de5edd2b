package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

const engineTestPrefix = "engine:engine_test"

// mapResolver resolves names against a plain map.
type mapResolver map[string]interface{}

func (m mapResolver) Resolve(name string) (interface{}, bool) {
	v, ok := m[name]
	return v, ok
}

// permFunc adapts a function to PermissionManager.
type permFunc func(identifier string, principal Principal) bool

func (f permFunc) CanAccess(identifier string, principal Principal) bool {
	return f(identifier, principal)
}

func allowAll(string, Principal) bool { return true }
func denyAll(string, Principal) bool  { return false }

type greetArgument struct {
	Who string `json:"who"`
}

type greetResult struct {
	Greeting string `json:"greeting"`
}

// tally counts how often the factory and the service body run.
type tally struct {
	factoryCalls int
	executeCalls int
}

func greeterBinding(p *tally, factoryErr, executeErr error) *Binding {
	return Bind[greetArgument, greetResult]("checks.greet",
		func(_ context.Context, _ Locator) (Service[greetArgument, greetResult], error) {
			p.factoryCalls++
			if factoryErr != nil {
				return nil, factoryErr
			}
			return ServiceFunc[greetArgument, greetResult](
				func(_ context.Context, arg greetArgument) (greetResult, error) {
					p.executeCalls++
					if executeErr != nil {
						return greetResult{}, executeErr
					}
					return greetResult{Greeting: "hello " + arg.Who}, nil
				}), nil
		})
}

func nopLocator() Locator {
	return LocatorFunc(func(context.Context, string) (interface{}, error) { return nil, nil })
}

func TestDispatch_Success(t *testing.T) {
	p := &tally{}
	eng := New(mapResolver{"checks.greet": greeterBinding(p, nil, nil)}, permFunc(allowAll))
	codec := JSONCodec{}

	resp, err := eng.Dispatch(context.Background(), nopLocator(), codec, codec, Principal{Name: "alice"},
		[]byte(`{"name":"checks.greet","data":{"who":"world"}}`))
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", engineTestPrefix, err)
	}

	if resp.Status != StatusCreated {
		t.Fatalf("%s - Status = %q, want Created", engineTestPrefix, resp.Status)
	}
	if resp.Message != "Service executed" {
		t.Errorf("%s - Message = %q, want Service executed", engineTestPrefix, resp.Message)
	}
	var result greetResult
	if err := json.Unmarshal(resp.Payload, &result); err != nil {
		t.Fatalf("%s - decode payload: %v", engineTestPrefix, err)
	}
	if result.Greeting != "hello world" {
		t.Errorf("%s - Greeting = %q, want hello world", engineTestPrefix, result.Greeting)
	}
	if p.factoryCalls != 1 || p.executeCalls != 1 {
		t.Errorf("%s - factory=%d execute=%d, want 1/1", engineTestPrefix, p.factoryCalls, p.executeCalls)
	}
}

func TestDispatch_UnknownService(t *testing.T) {
	eng := New(mapResolver{}, permFunc(allowAll))
	codec := JSONCodec{}

	resp, err := eng.Dispatch(context.Background(), nopLocator(), codec, codec, Principal{},
		[]byte(`{"name":"CheckInfo","data":{}}`))
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", engineTestPrefix, err)
	}

	if resp.Status != StatusFailed {
		t.Fatalf("%s - Status = %q, want Failed", engineTestPrefix, resp.Status)
	}
	if resp.Message != "Couldn't find service: CheckInfo" {
		t.Errorf("%s - Message = %q", engineTestPrefix, resp.Message)
	}

	// The details hint is a deserializable example envelope
	var example ArgumentEnvelope
	if err := json.Unmarshal([]byte(resp.Details), &example); err != nil {
		t.Fatalf("%s - details should be a decodable envelope: %v", engineTestPrefix, err)
	}
	if example.Name != "app.service" {
		t.Errorf("%s - example Name = %q, want app.service", engineTestPrefix, example.Name)
	}
}

func TestDispatch_NotAValidService(t *testing.T) {
	eng := New(mapResolver{"checks.raw": struct{ X int }{X: 1}}, permFunc(allowAll))
	codec := JSONCodec{}

	resp, err := eng.Dispatch(context.Background(), nopLocator(), codec, codec, Principal{},
		[]byte(`{"name":"checks.raw","data":{}}`))
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", engineTestPrefix, err)
	}

	if resp.Status != StatusFailed {
		t.Fatalf("%s - Status = %q, want Failed", engineTestPrefix, resp.Status)
	}
	if resp.Message != "checks.raw is not a valid service" {
		t.Errorf("%s - Message = %q", engineTestPrefix, resp.Message)
	}
}

func TestDispatch_ForbiddenNeverReachesService(t *testing.T) {
	p := &tally{}
	eng := New(mapResolver{"checks.greet": greeterBinding(p, nil, nil)}, permFunc(denyAll))
	codec := JSONCodec{}

	resp, err := eng.Dispatch(context.Background(), nopLocator(), codec, codec, Principal{Name: "mallory"},
		[]byte(`{"name":"checks.greet","data":{"who":"world"}}`))
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", engineTestPrefix, err)
	}

	if resp.Status != StatusForbidden {
		t.Fatalf("%s - Status = %q, want Forbidden", engineTestPrefix, resp.Status)
	}
	// Forbidden responses disclose the service name and nothing else
	if resp.Message != "checks.greet" {
		t.Errorf("%s - Message = %q, want checks.greet", engineTestPrefix, resp.Message)
	}
	if resp.Details != "" || resp.Payload != nil {
		t.Errorf("%s - Forbidden response should carry no details or payload", engineTestPrefix)
	}
	if p.factoryCalls != 0 || p.executeCalls != 0 {
		t.Errorf("%s - denied dispatch must not construct or run the service (factory=%d execute=%d)",
			engineTestPrefix, p.factoryCalls, p.executeCalls)
	}
}

func TestDispatch_UnknownServiceCheckedBeforeAuthorization(t *testing.T) {
	authorized := 0
	perms := permFunc(func(string, Principal) bool {
		authorized++
		return true
	})
	eng := New(mapResolver{}, perms)
	codec := JSONCodec{}

	resp, _ := eng.Dispatch(context.Background(), nopLocator(), codec, codec, Principal{},
		[]byte(`{"name":"checks.missing"}`))
	if resp.Status != StatusFailed {
		t.Fatalf("%s - Status = %q, want Failed", engineTestPrefix, resp.Status)
	}
	if authorized != 0 {
		t.Errorf("%s - authorization ran %d times for an unknown service, want 0", engineTestPrefix, authorized)
	}
}

func TestDispatch_MalformedEnvelope(t *testing.T) {
	eng := New(mapResolver{}, permFunc(allowAll))
	codec := JSONCodec{}

	resp, err := eng.Dispatch(context.Background(), nopLocator(), codec, codec, Principal{},
		[]byte(`{broken`))
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", engineTestPrefix, err)
	}

	if resp.Status != StatusFailed {
		t.Fatalf("%s - Status = %q, want Failed", engineTestPrefix, resp.Status)
	}
	if !strings.Contains(resp.Message, "failed to deserialize request envelope") {
		t.Errorf("%s - Message = %q", engineTestPrefix, resp.Message)
	}
	if !strings.Contains(resp.Details, "app.service") {
		t.Errorf("%s - Details should carry the example envelope, got %q", engineTestPrefix, resp.Details)
	}
}

func TestDispatch_MalformedDataNeverInstantiates(t *testing.T) {
	p := &tally{}
	eng := New(mapResolver{"checks.greet": greeterBinding(p, nil, nil)}, permFunc(allowAll))
	codec := JSONCodec{}

	resp, err := eng.Dispatch(context.Background(), nopLocator(), codec, codec, Principal{},
		[]byte(`{"name":"checks.greet","data":{"who":42}}`))
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", engineTestPrefix, err)
	}

	if resp.Status != StatusFailed {
		t.Fatalf("%s - Status = %q, want Failed", engineTestPrefix, resp.Status)
	}
	if !strings.Contains(resp.Message, "failed to deserialize argument") {
		t.Errorf("%s - Message = %q", engineTestPrefix, resp.Message)
	}
	if p.factoryCalls != 0 || p.executeCalls != 0 {
		t.Errorf("%s - malformed data must fail before instantiation (factory=%d execute=%d)",
			engineTestPrefix, p.factoryCalls, p.executeCalls)
	}
}

func TestDispatch_EmptyDataYieldsZeroArgument(t *testing.T) {
	p := &tally{}
	eng := New(mapResolver{"checks.greet": greeterBinding(p, nil, nil)}, permFunc(allowAll))
	codec := JSONCodec{}

	for _, raw := range []string{
		`{"name":"checks.greet"}`,
		`{"name":"checks.greet","data":null}`,
	} {
		resp, err := eng.Dispatch(context.Background(), nopLocator(), codec, codec, Principal{}, []byte(raw))
		if err != nil {
			t.Fatalf("%s - unexpected error for %s: %v", engineTestPrefix, raw, err)
		}
		if resp.Status != StatusCreated {
			t.Fatalf("%s - Status = %q for %s, want Created", engineTestPrefix, resp.Status, raw)
		}
		var result greetResult
		if err := json.Unmarshal(resp.Payload, &result); err != nil {
			t.Fatalf("%s - decode payload: %v", engineTestPrefix, err)
		}
		if result.Greeting != "hello " {
			t.Errorf("%s - Greeting = %q, want zero-argument greeting", engineTestPrefix, result.Greeting)
		}
	}
}

func TestDispatch_ExecutionFailure(t *testing.T) {
	p := &tally{}
	svcErr := errors.New("downstream unavailable")
	eng := New(mapResolver{"checks.greet": greeterBinding(p, nil, svcErr)}, permFunc(allowAll))
	codec := JSONCodec{}

	resp, err := eng.Dispatch(context.Background(), nopLocator(), codec, codec, Principal{},
		[]byte(`{"name":"checks.greet","data":{"who":"world"}}`))
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", engineTestPrefix, err)
	}

	if resp.Status != StatusFailed {
		t.Fatalf("%s - Status = %q, want Failed", engineTestPrefix, resp.Status)
	}
	if resp.Message != "downstream unavailable" {
		t.Errorf("%s - Message = %q, want the service's own message", engineTestPrefix, resp.Message)
	}
	if !strings.Contains(resp.Details, "failed with argument") {
		t.Errorf("%s - Details should explain the failure, got %q", engineTestPrefix, resp.Details)
	}
	if !strings.Contains(resp.Details, `"who":"world"`) {
		t.Errorf("%s - Details should echo the argument, got %q", engineTestPrefix, resp.Details)
	}

	// The trailing hint line is a decodable example envelope
	lines := strings.Split(resp.Details, "\n")
	var example ArgumentEnvelope
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &example); err != nil {
		t.Fatalf("%s - details hint should be a decodable envelope: %v", engineTestPrefix, err)
	}
	if example.Name != "app.service" {
		t.Errorf("%s - example Name = %q, want app.service", engineTestPrefix, example.Name)
	}
}

func TestDispatch_InstantiationFailure(t *testing.T) {
	p := &tally{}
	eng := New(mapResolver{"checks.greet": greeterBinding(p, errors.New("missing collaborator"), nil)}, permFunc(allowAll))
	codec := JSONCodec{}

	resp, err := eng.Dispatch(context.Background(), nopLocator(), codec, codec, Principal{},
		[]byte(`{"name":"checks.greet","data":{"who":"world"}}`))
	if err != nil {
		t.Fatalf("%s - unexpected error: %v", engineTestPrefix, err)
	}

	if resp.Status != StatusFailed {
		t.Fatalf("%s - Status = %q, want Failed", engineTestPrefix, resp.Status)
	}
	if !strings.Contains(resp.Message, "failed to create an instance of service checks.greet") {
		t.Errorf("%s - Message = %q", engineTestPrefix, resp.Message)
	}
	if p.executeCalls != 0 {
		t.Errorf("%s - service body ran despite instantiation failure", engineTestPrefix)
	}
}

func TestDispatch_SecurityErrorPropagates(t *testing.T) {
	tests := []struct {
		name       string
		factoryErr error
		executeErr error
	}{
		{"from factory", &SecurityError{Reason: "token expired"}, nil},
		{"from execution", nil, &SecurityError{Reason: "token expired"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := &tally{}
			eng := New(mapResolver{"checks.greet": greeterBinding(p, tt.factoryErr, tt.executeErr)}, permFunc(allowAll))
			codec := JSONCodec{}

			resp, err := eng.Dispatch(context.Background(), nopLocator(), codec, codec, Principal{},
				[]byte(`{"name":"checks.greet","data":{"who":"world"}}`))
			if err == nil {
				t.Fatalf("%s - expected a propagated security error", engineTestPrefix)
			}
			if resp != nil {
				t.Errorf("%s - security failures must not produce an envelope", engineTestPrefix)
			}

			var sec *SecurityError
			if !errors.As(err, &sec) {
				t.Fatalf("%s - error %T is not a SecurityError", engineTestPrefix, err)
			}
			if sec.Reason != "token expired" {
				t.Errorf("%s - Reason = %q, want token expired", engineTestPrefix, sec.Reason)
			}
		})
	}
}

func TestDispatch_WrappedSecurityErrorPropagates(t *testing.T) {
	p := &tally{}
	wrapped := errors.Join(errors.New("context"), &SecurityError{Reason: "denied"})
	eng := New(mapResolver{"checks.greet": greeterBinding(p, nil, wrapped)}, permFunc(allowAll))
	codec := JSONCodec{}

	resp, err := eng.Dispatch(context.Background(), nopLocator(), codec, codec, Principal{},
		[]byte(`{"name":"checks.greet","data":{"who":"world"}}`))
	if err == nil || resp != nil {
		t.Fatalf("%s - wrapped security error should propagate (resp=%v err=%v)", engineTestPrefix, resp, err)
	}
}

func TestDispatch_RepeatedCallsReuseCachedWrapper(t *testing.T) {
	p := &tally{}
	b := greeterBinding(p, nil, nil)
	eng := New(mapResolver{"checks.greet": b}, permFunc(allowAll))
	codec := JSONCodec{}

	for i := 0; i < 3; i++ {
		resp, err := eng.Dispatch(context.Background(), nopLocator(), codec, codec, Principal{},
			[]byte(`{"name":"checks.greet","data":{"who":"world"}}`))
		if err != nil || resp.Status != StatusCreated {
			t.Fatalf("%s - dispatch %d failed: status=%v err=%v", engineTestPrefix, i, resp.Status, err)
		}
	}

	if _, ok := eng.cache.lookup(b); !ok {
		t.Errorf("%s - expected a cached wrapper after dispatches", engineTestPrefix)
	}
	if p.executeCalls != 3 {
		t.Errorf("%s - executeCalls = %d, want 3", engineTestPrefix, p.executeCalls)
	}
}

type releaseResult struct {
	Version string `json:"version"`
}

func releaseBinding(version string) *Binding {
	return Bind[greetArgument, releaseResult]("checks.ver",
		func(_ context.Context, _ Locator) (Service[greetArgument, releaseResult], error) {
			return ServiceFunc[greetArgument, releaseResult](
				func(_ context.Context, _ greetArgument) (releaseResult, error) {
					return releaseResult{Version: version}, nil
				}), nil
		})
}

// Two versions of one identifier are distinct registrations: once the first
// version's wrapper is cached, a reference resolving to the other version
// must still run that other version's closure.
func TestDispatch_VersionedReferencesKeepDistinctWrappers(t *testing.T) {
	eng := New(mapResolver{
		"checks.ver@1": releaseBinding("1.0.0"),
		"checks.ver@2": releaseBinding("2.0.0"),
	}, permFunc(allowAll))
	codec := JSONCodec{}

	dispatches := []struct {
		ref  string
		want string
	}{
		{"checks.ver@1", "1.0.0"},
		{"checks.ver@2", "2.0.0"},
		{"checks.ver@1", "1.0.0"},
	}

	for _, d := range dispatches {
		resp, err := eng.Dispatch(context.Background(), nopLocator(), codec, codec, Principal{},
			[]byte(`{"name":"`+d.ref+`","data":{}}`))
		if err != nil {
			t.Fatalf("%s - dispatch %s failed: %v", engineTestPrefix, d.ref, err)
		}
		if resp.Status != StatusCreated {
			t.Fatalf("%s - Status = %q for %s, want Created", engineTestPrefix, resp.Status, d.ref)
		}
		var result releaseResult
		if err := json.Unmarshal(resp.Payload, &result); err != nil {
			t.Fatalf("%s - decode payload: %v", engineTestPrefix, err)
		}
		if result.Version != d.want {
			t.Errorf("%s - %s executed version %q, want %q", engineTestPrefix, d.ref, result.Version, d.want)
		}
	}
}
