package pharmacie

import "time"

// Logger defines the logging surface the client relies on.
type Logger interface {
	InfoObj(msg, key string, obj interface{})
	DebugObj(msg, key string, obj interface{})
	WarnObj(msg, key string, obj interface{})
	ErrorObj(msg, key string, obj interface{})
}

// Observer receives one call per completed request. Status is 0 when the
// request never produced a response.
type Observer interface {
	ObserveRequest(operation string, status int, elapsed time.Duration)
}

type noopLogger struct{}

func (noopLogger) InfoObj(string, string, interface{})  {}
func (noopLogger) DebugObj(string, string, interface{}) {}
func (noopLogger) WarnObj(string, string, interface{})  {}
func (noopLogger) ErrorObj(string, string, interface{}) {}

type noopObserver struct{}

func (noopObserver) ObserveRequest(string, int, time.Duration) {}
