package gmail

// Message is a Gmail API message resource (metadata format: headers and
// snippet, no body parts).
type Message struct {
	ID           string  `json:"id"`
	ThreadID     string  `json:"threadId"`
	Snippet      string  `json:"snippet"`
	InternalDate string  `json:"internalDate"`
	Payload      Payload `json:"payload"`
}

// Payload contains the message headers.
type Payload struct {
	MimeType string   `json:"mimeType"`
	Headers  []Header `json:"headers"`
}

// Header is a single RFC5322 header.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Header returns the value of the first header with the given name
// (exact match) and whether it was present.
func (m *Message) Header(name string) (string, bool) {
	for _, h := range m.Payload.Headers {
		if h.Name == name {
			return h.Value, true
		}
	}
	return "", false
}
