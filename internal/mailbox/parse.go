package mailbox

import (
	"bufio"
	"bytes"
	"io"
	"net/textproto"
	"strings"

	"github.com/emersion/go-message/mail"
)

// ParseMessage parses a raw RFC 5322 message into the fields the detection
// pipeline needs. Parsing is best-effort: a message that go-message cannot
// handle still yields its raw text as the body so detection can proceed.
func ParseMessage(raw []byte) Message {
	msg := Message{
		Headers: rawHeaderBlock(raw),
	}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		msg.Body = normalizeBody(string(raw))
		return msg
	}
	defer mr.Close()

	if subject, err := mr.Header.Subject(); err == nil {
		msg.Subject = subject
	}
	if from, err := mr.Header.AddressList("From"); err == nil && len(from) > 0 {
		msg.Sender = from[0].String()
	}
	if date, err := mr.Header.Date(); err == nil && !date.IsZero() {
		d := date
		msg.Date = &d
	}

	var text string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := h.ContentType()
		if !strings.HasPrefix(contentType, "text/plain") {
			continue
		}
		body, readErr := io.ReadAll(part.Body)
		if readErr != nil {
			continue
		}
		text += string(body)
	}

	msg.Body = normalizeBody(text)
	return msg
}

// rawHeaderBlock returns the message text up to the first blank line.
func rawHeaderBlock(raw []byte) string {
	if i := bytes.Index(raw, []byte("\r\n\r\n")); i >= 0 {
		return string(raw[:i])
	}
	if i := bytes.Index(raw, []byte("\n\n")); i >= 0 {
		return string(raw[:i])
	}
	return string(raw)
}

// normalizeBody collapses whitespace runs the way the rest of the pipeline
// expects body text.
func normalizeBody(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ParseHeaderMap turns a raw header block into a key-value map for the
// metadata evaluator. Later occurrences of a repeated field win; the router
// chain is not needed at that granularity.
func ParseHeaderMap(raw string) map[string]string {
	headers := make(map[string]string)
	if strings.TrimSpace(raw) == "" {
		return headers
	}

	reader := textproto.NewReader(bufio.NewReader(strings.NewReader(raw + "\r\n\r\n")))
	mimeHeader, err := reader.ReadMIMEHeader()
	if err != nil && len(mimeHeader) == 0 {
		return headers
	}
	for k, v := range mimeHeader {
		if len(v) > 0 {
			headers[k] = v[len(v)-1]
		}
	}
	return headers
}
