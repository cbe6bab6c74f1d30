package blob

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"booking_worker/pkg/apperr"
)

func TestFSStoreRoundTrip(t *testing.T) {
	s := NewFSStore(t.TempDir())
	ctx := context.Background()

	require.NoError(t, s.Write(ctx, "inbox", "m1.eml", []byte("Subject: hi\r\n\r\nbody")))
	raw, err := s.Read(ctx, "inbox", "m1.eml")
	require.NoError(t, err)
	assert.Equal(t, "Subject: hi\r\n\r\nbody", string(raw))

	_, err = s.Read(ctx, "inbox", "missing.eml")
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))

	_, err = s.Read(ctx, "inbox", "../../etc/passwd")
	assert.True(t, apperr.Is(err, apperr.CodeInvalidArgument))
}

const mboxFixture = `From alice@x.com Mon Jun  3 09:00:00 2024
From: alice@x.com
To: assistant@vibe.cal
Subject: first

one
>From the archive

From bob@x.com Mon Jun  3 10:00:00 2024
From: bob@x.com
To: assistant@vibe.cal
Subject: second

two
`

func TestMboxStore(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "inbox.mbox"), []byte(mboxFixture), 0o644))
	s := NewMboxStore(dir)
	ctx := context.Background()

	var subjects []string
	err := s.Each(ctx, "inbox.mbox", func(i int, raw []byte) error {
		for _, line := range strings.Split(string(raw), "\n") {
			if strings.HasPrefix(line, "Subject: ") {
				subjects = append(subjects, strings.TrimPrefix(line, "Subject: "))
			}
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"first", "second"}, subjects)

	raw, err := s.Read(ctx, "inbox.mbox", "1")
	require.NoError(t, err)
	assert.Contains(t, string(raw), "From: bob@x.com")

	first, err := s.Read(ctx, "inbox.mbox", "0")
	require.NoError(t, err)
	assert.Contains(t, string(first), "From the archive")

	_, err = s.Read(ctx, "inbox.mbox", "7")
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))

	_, err = s.Read(ctx, "missing.mbox", "0")
	assert.True(t, apperr.Is(err, apperr.CodeNotFound))
}
