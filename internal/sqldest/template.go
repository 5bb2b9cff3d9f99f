package sqldest

// Message is an opaque log record handed to the destination by the
// host. Template compilation and evaluation (message-to-string
// substitution) live entirely in the host; sqldest only ever calls
// Template.Render against whatever concrete Message type the host uses.
type Message = any

// TimeZone selects which of the template engine's two configured zones
// a render call should use: value templates render with the "send" zone,
// the table-name template renders with the "local" zone (§4.2).
type TimeZone int

const (
	TimeZoneLocal TimeZone = iota
	TimeZoneSend
)

// Template is the host-supplied template engine contract: compiled
// message-parameterized text that can be rendered against one message,
// a time zone, and the destination's current sequence number (threaded
// in for deterministic ordering/uniqueness hints per §3).
type Template interface {
	Render(msg Message, tz TimeZone, seqNum int64) (string, error)
}

// TemplateFunc adapts a plain function to the Template interface, for
// tests and for hosts whose template engine is a closure rather than a
// stateful compiled object.
type TemplateFunc func(msg Message, tz TimeZone, seqNum int64) (string, error)

func (f TemplateFunc) Render(msg Message, tz TimeZone, seqNum int64) (string, error) {
	return f(msg, tz, seqNum)
}
