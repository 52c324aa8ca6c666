package publishers

// Logger defines the logging surface publishers rely on.
type Logger interface {
	InfoObj(msg, key string, obj interface{})
	DebugObj(msg, key string, obj interface{})
	WarnObj(msg, key string, obj interface{})
	ErrorObj(msg, key string, obj interface{})
}

type noopLogger struct{}

func (noopLogger) InfoObj(string, string, interface{})  {}
func (noopLogger) DebugObj(string, string, interface{}) {}
func (noopLogger) WarnObj(string, string, interface{})  {}
func (noopLogger) ErrorObj(string, string, interface{}) {}

func ensureLogger(log Logger) Logger {
	if log == nil {
		return noopLogger{}
	}
	return log
}

// logDelivery reports the outcome of one send under a per-sink key such as
// "publisher_sqs_delivery" or "publisher_sqs_error".
func logDelivery(log Logger, typ, id string, evt Event, err error) {
	fields := map[string]any{
		"publisher_id": id,
		"event_type":   evt.Type,
		"reference":    evt.Reference,
	}
	if err != nil {
		fields["error"] = err.Error()
		log.ErrorObj(typ+" publisher send failed", "publisher_"+typ+"_error", fields)
		return
	}
	log.DebugObj(typ+" publisher delivered event", "publisher_"+typ+"_delivery", fields)
}
