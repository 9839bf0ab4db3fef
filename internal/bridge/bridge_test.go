package bridge

import (
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeSegmentRoundTrip(t *testing.T) {
	cases := []string{"abc", "sess-123", "a b", "日本語", "a/b", "a?b=c"}
	for _, s := range cases {
		enc := encodeSegment(s)
		for _, c := range []byte(enc) {
			assert.True(t, isUnreserved(c) || c == '%', "encoded segment must only contain unreserved chars or %%: %q", enc)
		}
		dec, err := url.PathUnescape(enc)
		require.NoError(t, err)
		assert.Equal(t, s, dec)
	}
}

func TestParseEventRequiresType(t *testing.T) {
	_, _, err := ParseEvent([]byte(`{"sessionId":"s1"}`))
	assert.Error(t, err)
}

func TestParseEventKnownVsUnknownType(t *testing.T) {
	ev, known, err := ParseEvent([]byte(`{"type":"text","sessionId":"s1","timestamp":1767225600000,"content":"hi"}`))
	require.NoError(t, err)
	assert.True(t, known)
	assert.Equal(t, "hi", ev.Text)

	ev, known, err = ParseEvent([]byte(`{"type":"future.thing","sessionId":"s1","timestamp":1767225600000}`))
	require.NoError(t, err)
	assert.False(t, known)
	assert.Equal(t, EventType("future.thing"), ev.Type)
}

func TestDecodeStreamSkipsBlankLinesAndSurfacesOneErrorPerBadLine(t *testing.T) {
	r := strings.NewReader(strings.Join([]string{
		`{"type":"session.start","sessionId":"s1","timestamp":1767225600000}`,
		``,
		`not json`,
		`{"type":"session.complete","sessionId":"s1","timestamp":1767225601000,"success":true}`,
	}, "\n"))

	done := make(chan struct{})
	defer close(done)
	items := DecodeStream(r, done)

	var got []StreamItem
	for it := range items {
		got = append(got, it)
	}
	require.Len(t, got, 3)
	assert.Nil(t, got[0].Err)
	assert.Equal(t, EventSessionStart, got[0].Event.Type)
	assert.Error(t, got[1].Err)
	assert.Nil(t, got[2].Err)
	assert.Equal(t, EventSessionComplete, got[2].Event.Type)
	assert.True(t, got[2].Event.Success)
}
