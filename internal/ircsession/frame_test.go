package ircsession

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestS1LineFramingWithSplit implements scenario S1 literally.
func TestS1LineFramingWithSplit(t *testing.T) {
	var f Framer

	lines := f.Feed(":a PRIVMSG #c :hi\r")
	assert.Empty(t, lines, "a lone trailing \\r must not dispatch until we know what follows")

	lines = f.Feed(":b PART #c\r\n")
	assert.Equal(t, []string{":a PRIVMSG #c :hi", ":b PART #c"}, lines)

	lines = f.Feed(":d PRIVMSG #c :ho\r\n")
	assert.Equal(t, []string{":d PRIVMSG #c :ho"}, lines)
}

func TestFeedHandlesBareLF(t *testing.T) {
	var f Framer
	lines := f.Feed("one\ntwo\n")
	assert.Equal(t, []string{"one", "two"}, lines)
}

func TestFeedHoldsPartialLineAcrossCalls(t *testing.T) {
	var f Framer
	lines := f.Feed("partial")
	assert.Empty(t, lines)
	lines = f.Feed(" line\r\n")
	assert.Equal(t, []string{"partial line"}, lines)
}
