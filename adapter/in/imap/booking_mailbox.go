// Package imap polls an IMAP mailbox and runs unseen messages through the pipeline.
package imap

import (
	"fmt"
	"io"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
)

// Mailbox is the slice of an IMAP session the poller needs.
type Mailbox interface {
	UnseenUIDs() ([]uint32, error)
	FetchRaw(uid uint32) ([]byte, error)
	MarkSeen(uid uint32) error
	Close() error
}

// Dialer opens a logged-in session with the mailbox selected.
type Dialer func() (Mailbox, error)

// ServerConfig identifies the IMAP account.
type ServerConfig struct {
	Server   string
	Username string
	Password string
	Mailbox  string
}

// NewTLSDialer returns a Dialer connecting over implicit TLS.
func NewTLSDialer(cfg ServerConfig) Dialer {
	return func() (Mailbox, error) {
		c, err := imapclient.DialTLS(cfg.Server, nil)
		if err != nil {
			return nil, fmt.Errorf("connect to %s failed: %w", cfg.Server, err)
		}
		if err := c.Login(cfg.Username, cfg.Password).Wait(); err != nil {
			c.Close()
			return nil, fmt.Errorf("login failed: %w", err)
		}
		if _, err := c.Select(cfg.Mailbox, nil).Wait(); err != nil {
			c.Close()
			return nil, fmt.Errorf("SELECT %s failed: %w", cfg.Mailbox, err)
		}
		return &clientMailbox{c: c}, nil
	}
}

type clientMailbox struct {
	c *imapclient.Client
}

func (m *clientMailbox) UnseenUIDs() ([]uint32, error) {
	criteria := &imap.SearchCriteria{
		NotFlag: []imap.Flag{imap.FlagSeen},
	}
	data, err := m.c.UIDSearch(criteria, nil).Wait()
	if err != nil {
		return nil, fmt.Errorf("SEARCH failed: %w", err)
	}
	uids := data.AllUIDs()
	out := make([]uint32, len(uids))
	for i, uid := range uids {
		out[i] = uint32(uid)
	}
	return out, nil
}

// FetchRaw returns the full message without setting \Seen.
func (m *clientMailbox) FetchRaw(uid uint32) ([]byte, error) {
	var uidSet imap.UIDSet
	uidSet.AddNum(imap.UID(uid))

	fetchCmd := m.c.Fetch(uidSet, &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{{Peek: true}},
	})
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, fmt.Errorf("message UID %d not found", uid)
	}
	for {
		item := msg.Next()
		if item == nil {
			break
		}
		body, ok := item.(imapclient.FetchItemDataBodySection)
		if !ok {
			continue
		}
		raw, err := io.ReadAll(body.Literal)
		if err != nil {
			return nil, fmt.Errorf("read UID %d: %w", uid, err)
		}
		return raw, nil
	}
	return nil, fmt.Errorf("message UID %d has no body", uid)
}

func (m *clientMailbox) MarkSeen(uid uint32) error {
	var uidSet imap.UIDSet
	uidSet.AddNum(imap.UID(uid))
	return m.c.Store(uidSet, &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Silent: true,
		Flags:  []imap.Flag{imap.FlagSeen},
	}, nil).Close()
}

func (m *clientMailbox) Close() error {
	if err := m.c.Logout().Wait(); err != nil {
		m.c.Close()
		return err
	}
	return m.c.Close()
}
