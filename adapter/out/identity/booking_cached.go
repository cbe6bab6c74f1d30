package identity

import (
	"context"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"booking_worker/core/port/out"
	"booking_worker/pkg/cache"
	"booking_worker/pkg/logger"
)

// CachedDirectory remembers email lookups of the wrapped directory for ttl.
// OAuth tokens are always fetched fresh.
type CachedDirectory struct {
	next  out.IdentityDirectory
	cache cache.JSONCache
	ttl   time.Duration
	log   *logger.Logger
}

var _ out.IdentityDirectory = (*CachedDirectory)(nil)

type cachedLookup struct {
	UserID string `json:"user_id"`
	Found  bool   `json:"found"`
}

func NewCachedDirectory(next out.IdentityDirectory, c cache.JSONCache, ttl time.Duration, log *logger.Logger) *CachedDirectory {
	return &CachedDirectory{
		next:  next,
		cache: c,
		ttl:   ttl,
		log:   logger.OrDefault(log).WithField("component", "identity_cache"),
	}
}

func (d *CachedDirectory) FindUserByEmail(ctx context.Context, email string) (string, bool, error) {
	key := "user:" + strings.ToLower(strings.TrimSpace(email))

	var hit cachedLookup
	ok, err := d.cache.GetJSON(ctx, key, &hit)
	if err != nil {
		d.log.WithError(err).Warn("identity cache read failed")
	}
	if ok {
		return hit.UserID, hit.Found, nil
	}

	userID, found, err := d.next.FindUserByEmail(ctx, email)
	if err != nil {
		return "", false, err
	}
	if err := d.cache.SetJSON(ctx, key, cachedLookup{UserID: userID, Found: found}, d.ttl); err != nil {
		d.log.WithError(err).Warn("identity cache write failed")
	}
	return userID, found, nil
}

func (d *CachedDirectory) GetOAuthToken(ctx context.Context, userID string) (*oauth2.Token, bool, error) {
	return d.next.GetOAuthToken(ctx, userID)
}
