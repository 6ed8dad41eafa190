package mailbox

import "time"

// Message is one fetched mailbox message, parsed just far enough for the
// detection pipeline: plain-text body for the content/url signals, raw
// header text for the metadata signal.
type Message struct {
	UID     uint32
	Subject string
	Sender  string
	Date    *time.Time
	Body    string
	Headers string
}
