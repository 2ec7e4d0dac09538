package fetch

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rcwatch/rcwatch/internal/watch"
)

func TestClassifyFetchError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{
			name: "deadline exceeded is a timeout",
			err:  context.DeadlineExceeded,
			want: watch.ErrFetchTimeout,
		},
		{
			name: "canceled is a timeout",
			err:  context.Canceled,
			want: watch.ErrFetchTimeout,
		},
		{
			name: "wrapped deadline is a timeout",
			err:  errors.Join(errors.New("chromedp run"), context.DeadlineExceeded),
			want: watch.ErrFetchTimeout,
		},
		{
			name: "network failure is unavailable",
			err:  errors.New("net::ERR_NAME_NOT_RESOLVED"),
			want: watch.ErrFetchUnavailable,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.ErrorIs(t, classifyFetchError(tc.err), tc.want)
		})
	}
}

func TestBlocked(t *testing.T) {
	t.Parallel()

	require.True(t, Blocked(http.StatusForbidden, nil))
	require.True(t, Blocked(http.StatusTooManyRequests, nil))
	require.True(t, Blocked(http.StatusServiceUnavailable, nil))
	require.False(t, Blocked(http.StatusOK, []byte("<html><body>inventory</body></html>")))
	require.False(t, Blocked(http.StatusNotFound, []byte("Access Denied")))

	require.True(t, Blocked(http.StatusOK, []byte("<html>Please verify you are HUMAN</html>")))
	require.True(t, Blocked(http.StatusOK, []byte(`<div class="cf-challenge"></div>`)))
}

func TestResponseMetaFallbacks(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()

	status, headers, url := meta.snapshotWithFallbacks("https://req", "")
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, headers)
	require.Equal(t, "https://req", url)

	_, _, url = meta.snapshotWithFallbacks("https://req", "https://final")
	require.Equal(t, "https://final", url)
}

func TestAcquireHonorsContext(t *testing.T) {
	t.Parallel()

	f := &ChromedpFetcher{sem: make(chan struct{}, 1)}
	f.sem <- struct{}{} // slot taken

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := f.acquire(ctx)
	require.ErrorIs(t, err, watch.ErrFetchTimeout)
}
