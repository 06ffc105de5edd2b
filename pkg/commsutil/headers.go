package commsutil

import (
	comms "github.com/nats-io/nats.go"

	"github.com/morezero/service-engine/pkg/engine"
)

// Message headers carrying the caller identity across the COMMS boundary.
const (
	HeaderPrincipalName  = "X-Principal-Name"
	HeaderPrincipalRoles = "X-Principal-Roles"
)

// EncodePrincipal writes the principal into COMMS message headers. Each role
// is added as a separate header value.
func EncodePrincipal(h comms.Header, p engine.Principal) {
	h.Set(HeaderPrincipalName, p.Name)
	h.Del(HeaderPrincipalRoles)
	for _, role := range p.Roles {
		h.Add(HeaderPrincipalRoles, role)
	}
}

// DecodePrincipal reads the principal from COMMS message headers. A message
// without identity headers yields an anonymous principal with no roles.
func DecodePrincipal(h comms.Header) engine.Principal {
	if h == nil {
		return engine.Principal{}
	}
	return engine.Principal{
		Name:  h.Get(HeaderPrincipalName),
		Roles: h.Values(HeaderPrincipalRoles),
	}
}
