package metalog

import (
	"fmt"
	"regexp"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	return l
}

func recordNamed(name string, mtime uint64) Record {
	r := sampleRecord()
	r.Name = name
	r.ModifyTime = mtime
	return r
}

func TestAppendAndScanRoundTrip(t *testing.T) {
	l := newTestLog(t)
	r := sampleRecord()
	require.NoError(t, l.Append("h1", r))

	got, err := l.Scan("h1", Filter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, r, got[0])
}

func TestScanUnknownHostReturnsEmptyNotError(t *testing.T) {
	l := newTestLog(t)
	got, err := l.Scan("never-seen", Filter{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestScanOrdersByNameThenMtime(t *testing.T) {
	l := newTestLog(t)
	require.NoError(t, l.Append("h1", recordNamed("/b", 1)))
	require.NoError(t, l.Append("h1", recordNamed("/a", 2)))
	require.NoError(t, l.Append("h1", recordNamed("/a", 1)))

	got, err := l.Scan("h1", Filter{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"/a", "/a", "/b"}, []string{got[0].Name, got[1].Name, got[2].Name})
	assert.Equal(t, uint64(1), got[0].ModifyTime)
	assert.Equal(t, uint64(2), got[1].ModifyTime)
}

func TestScanRegexFilterIsCaseInsensitive(t *testing.T) {
	l := newTestLog(t)
	require.NoError(t, l.Append("h1", recordNamed("/a/x.log", 1)))
	require.NoError(t, l.Append("h1", recordNamed("/a/y.txt", 1)))

	re := regexp.MustCompile(`(?i)\.LOG$`)
	got, err := l.Scan("h1", Filter{NameRegexp: re})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "/a/x.log", got[0].Name)
}

func TestScanLatestOnlyCollapsesToNewestPerPath(t *testing.T) {
	l := newTestLog(t)
	require.NoError(t, l.Append("h1", recordNamed("/a", 1)))
	require.NoError(t, l.Append("h1", recordNamed("/a", 3)))
	require.NoError(t, l.Append("h1", recordNamed("/a", 2)))

	got, err := l.Scan("h1", Filter{LatestOnly: true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(3), got[0].ModifyTime)
}

func TestScanAfterAndBeforeDateAreInclusive(t *testing.T) {
	l := newTestLog(t)
	require.NoError(t, l.Append("h1", recordNamed("/a", 1)))
	require.NoError(t, l.Append("h1", recordNamed("/a", 2)))
	require.NoError(t, l.Append("h1", recordNamed("/a", 3)))

	got, err := l.Scan("h1", Filter{AfterTime: 2, BeforeTime: 2})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, uint64(2), got[0].ModifyTime)
}

func TestConcurrentAppendsSameHostProduceAllRecords(t *testing.T) {
	l := newTestLog(t)
	const n = 20
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_ = l.Append("shared-host", recordNamed(fmt.Sprintf("/file-%d", i), uint64(i)))
		}(i)
	}
	wg.Wait()

	got, err := l.Scan("shared-host", Filter{})
	require.NoError(t, err)
	assert.Len(t, got, n)
}

func TestConcurrentAppendsDistinctHostsDoNotCrossContaminate(t *testing.T) {
	l := newTestLog(t)
	const n = 10
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			host := fmt.Sprintf("host-%d", i)
			_ = l.Append(host, recordNamed("/only-file", uint64(i)))
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		host := fmt.Sprintf("host-%d", i)
		got, err := l.Scan(host, Filter{})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, uint64(i), got[0].ModifyTime)
	}
}
