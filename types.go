package happyeyeballs

import "github.com/PayRpc/happyeyeballs/internal/netx"

// Endpoint is a resolved candidate: one address family paired with the TCP
// address to dial. Endpoints are produced by resolution and are immutable
// for the lifetime of one CreateConnection call. It is a type alias of
// internal/netx.Endpoint, the same type the resolver and race engine use,
// so no conversion is needed at package boundaries.
type Endpoint = netx.Endpoint
