package identity

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booking_worker/pkg/apperr"
	"booking_worker/pkg/cache"
	"booking_worker/pkg/logger"
)

func newClerk(t *testing.T, handler http.HandlerFunc) *ClerkDirectory {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClerkDirectory(srv.URL+"/v1/", "sk_test", "", srv.Client())
}

func TestClerkFindUserByEmail(t *testing.T) {
	d := newClerk(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		assert.Equal(t, "/v1/users", r.URL.Path)
		switch r.URL.Query().Get("email_address") {
		case "bob@x.com":
			io.WriteString(w, `[{"id":"user_bob"}]`)
		default:
			io.WriteString(w, `[]`)
		}
	})

	id, ok, err := d.FindUserByEmail(context.Background(), "bob@x.com")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "user_bob", id)

	_, ok, err = d.FindUserByEmail(context.Background(), "alice@x.com")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClerkGetOAuthToken(t *testing.T) {
	d := newClerk(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/users/user_bob/oauth_access_tokens/oauth_google":
			assert.Equal(t, "10", r.URL.Query().Get("limit"))
			io.WriteString(w, `[{"token":"ya29.bob","expires_at":1717430400,"scopes":["calendar"]}]`)
		case "/v1/users/user_empty/oauth_access_tokens/oauth_google":
			io.WriteString(w, `[]`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	tok, ok, err := d.GetOAuthToken(context.Background(), "user_bob")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ya29.bob", tok.AccessToken)
	assert.Equal(t, int64(1717430400), tok.Expiry.Unix())

	_, ok, err = d.GetOAuthToken(context.Background(), "user_empty")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = d.GetOAuthToken(context.Background(), "user_gone")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestClerkServerErrorIsProviderError(t *testing.T) {
	d := newClerk(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		io.WriteString(w, `{"errors":[{"message":"invalid key"}]}`)
	})

	_, _, err := d.FindUserByEmail(context.Background(), "bob@x.com")
	assert.True(t, apperr.Is(err, apperr.CodeProviderError))
	assert.Contains(t, err.Error(), "invalid key")
}

func TestStaticDirectory(t *testing.T) {
	d := NewStaticDirectory([]string{" Bob@X.com "}, nil)

	id, ok, err := d.FindUserByEmail(context.Background(), "bob@x.com")
	require.NoError(t, err)
	require.True(t, ok)

	tok, ok, err := d.GetOAuthToken(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.NotNil(t, tok)

	_, ok, _ = d.FindUserByEmail(context.Background(), "carol@x.com")
	assert.False(t, ok)
}

func TestCachedDirectoryRemembersLookups(t *testing.T) {
	var calls atomic.Int32
	clerk := newClerk(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		switch r.URL.Query().Get("email_address") {
		case "bob@x.com":
			io.WriteString(w, `[{"id":"user_bob"}]`)
		case "down@x.com":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			io.WriteString(w, `[]`)
		}
	})
	d := NewCachedDirectory(clerk, cache.NewMemoryCache(), time.Minute, logger.Discard())
	ctx := context.Background()

	for _, email := range []string{"bob@x.com", "Bob@x.com", " BOB@X.COM"} {
		id, ok, err := d.FindUserByEmail(ctx, email)
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, "user_bob", id)
	}
	assert.Equal(t, int32(1), calls.Load())

	_, ok, err := d.FindUserByEmail(ctx, "carol@x.com")
	require.NoError(t, err)
	assert.False(t, ok)
	_, _, _ = d.FindUserByEmail(ctx, "carol@x.com")
	assert.Equal(t, int32(2), calls.Load())

	_, _, err = d.FindUserByEmail(ctx, "down@x.com")
	require.Error(t, err)
	_, _, err = d.FindUserByEmail(ctx, "down@x.com")
	require.Error(t, err)
	assert.Equal(t, int32(4), calls.Load())
}
