package gateway

import "sync/atomic"

var current atomic.Pointer[Service]

// Start publishes svc as the process-wide gateway.
func Start(svc *Service) {
	current.Store(svc)
}

// Default returns the started gateway. Calling it before Start is a wiring
// bug and panics.
func Default() *Service {
	svc := current.Load()
	if svc == nil {
		panic(ErrNotStarted)
	}
	return svc
}
