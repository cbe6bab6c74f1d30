package identity

import (
	"context"
	"strings"

	"golang.org/x/oauth2"

	"booking_worker/core/port/out"
)

// StaticDirectory treats a fixed set of addresses as calendar owners sharing one
// credential. Used with a single-account CalDAV backend.
type StaticDirectory struct {
	owners map[string]struct{}
	token  *oauth2.Token
}

// NewStaticDirectory creates a directory over owners. token may be nil when the
// calendar backend authenticates on its own.
func NewStaticDirectory(owners []string, token *oauth2.Token) *StaticDirectory {
	d := &StaticDirectory{owners: make(map[string]struct{}, len(owners)), token: token}
	for _, o := range owners {
		d.owners[strings.ToLower(strings.TrimSpace(o))] = struct{}{}
	}
	if d.token == nil {
		d.token = &oauth2.Token{}
	}
	return d
}

func (d *StaticDirectory) FindUserByEmail(ctx context.Context, email string) (string, bool, error) {
	key := strings.ToLower(strings.TrimSpace(email))
	if _, ok := d.owners[key]; !ok {
		return "", false, nil
	}
	return key, true, nil
}

func (d *StaticDirectory) GetOAuthToken(ctx context.Context, userID string) (*oauth2.Token, bool, error) {
	if _, ok := d.owners[userID]; !ok {
		return nil, false, nil
	}
	tok := *d.token
	return &tok, true, nil
}

var _ out.IdentityDirectory = (*StaticDirectory)(nil)
