package mailbox

import (
	"context"
	"fmt"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"mailsentry/internal/model"
)

// IMAPClient fetches new messages over IMAP using go-imap v2. One instance
// serves all bindings; connection parameters come from the binding itself.
type IMAPClient struct{}

func NewIMAPClient() *IMAPClient {
	return &IMAPClient{}
}

// FetchNew connects to the binding's IMAP server and returns every message
// with a UID strictly greater than lastUID, fully fetched and parsed. An
// empty mailbox window returns (nil, nil).
func (c *IMAPClient) FetchNew(ctx context.Context, binding *model.MailboxBinding, lastUID uint32) ([]Message, error) {
	addr := fmt.Sprintf("%s:%d", binding.IMAPServer, binding.IMAPPort)

	client, err := imapclient.DialTLS(addr, nil)
	if err != nil {
		return nil, fmt.Errorf("connecting to IMAP %s: %w", addr, err)
	}
	defer func() { _ = client.Logout().Wait() }()

	if err := client.Login(binding.EmailAddress, binding.AuthCode).Wait(); err != nil {
		return nil, fmt.Errorf("authentication failed for %s: %w", binding.EmailAddress, err)
	}

	// Some providers refuse SELECT/FETCH until the client identifies
	// itself (RFC 2971). Failure to identify is not fatal.
	if binding.UseIDHandshake {
		_, _ = client.ID(&imap.IDData{
			Name:    "mailsentry",
			Version: "1.0",
		}).Wait()
	}

	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		return nil, fmt.Errorf("selecting INBOX: %w", err)
	}

	// Search (last_uid+1):* — the server may still return the highest
	// existing UID when the window is empty, so results are re-filtered
	// below.
	var window imap.UIDSet
	window.AddRange(imap.UID(lastUID+1), 0)
	criteria := &imap.SearchCriteria{
		UID: []imap.UIDSet{window},
	}

	searchData, err := client.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("searching messages: %w", err)
	}

	var newUIDs []imap.UID
	for _, uid := range searchData.AllUIDs() {
		if uint32(uid) > lastUID {
			newUIDs = append(newUIDs, uid)
		}
	}
	if len(newUIDs) == 0 {
		return nil, nil
	}

	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchOpts := &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	}

	fetchCmd := client.Fetch(imap.UIDSetNum(newUIDs...), fetchOpts)
	defer fetchCmd.Close()

	var messages []Message
	for {
		msgData := fetchCmd.Next()
		if msgData == nil {
			break
		}

		buf, err := msgData.Collect()
		if err != nil {
			continue
		}

		raw := buf.FindBodySection(bodySection)
		if raw == nil {
			continue
		}

		msg := ParseMessage(raw)
		msg.UID = uint32(buf.UID)
		messages = append(messages, msg)
	}

	if err := fetchCmd.Close(); err != nil {
		return messages, fmt.Errorf("fetching messages: %w", err)
	}

	return messages, nil
}
