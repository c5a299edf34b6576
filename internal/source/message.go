package source

// Message is a message received from a queue. It is one of MapMessage,
// TextMessage or BytesMessage.
type Message interface {
	// MessageID returns the backend identifier of the message, if any.
	MessageID() string

	isMessage()
}

// MapMessage carries a set of named fields.
type MapMessage struct {
	ID     string
	Fields map[string]any
}

// TextMessage carries a text body.
type TextMessage struct {
	ID   string
	Text string
}

// BytesMessage carries an opaque body.
type BytesMessage struct {
	ID          string
	ContentType string
	Body        []byte
}

func (m *MapMessage) MessageID() string   { return m.ID }
func (m *TextMessage) MessageID() string  { return m.ID }
func (m *BytesMessage) MessageID() string { return m.ID }

func (*MapMessage) isMessage()   {}
func (*TextMessage) isMessage()  {}
func (*BytesMessage) isMessage() {}
