package buffer_pool

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func collect(l *frameList, part int) []int {
	var out []int
	l.walk(part, func(idx int) bool {
		out = append(out, idx)
		return true
	})
	return out
}

func TestFrameListTouchAndRemove(t *testing.T) {
	l := newFrameList(5, priorityCount)
	for i := 0; i < 5; i++ {
		l.touch(i, priorityPinned)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, collect(l, priorityPinned))

	l.touch(2, priorityRecent)
	l.touch(0, priorityRecent)
	assert.Equal(t, []int{1, 3, 4}, collect(l, priorityPinned))
	assert.Equal(t, []int{2, 0}, collect(l, priorityRecent))
	assert.Equal(t, 2, l.lenOf(priorityRecent))
	assert.Equal(t, 2, l.oldestOf(priorityRecent))

	l.touch(2, priorityRecent)
	assert.Equal(t, []int{0, 2}, collect(l, priorityRecent))

	l.remove(0)
	assert.Equal(t, []int{2}, collect(l, priorityRecent))
	assert.Equal(t, nilFrame, l.partitionOf(0))
	assert.Equal(t, nilFrame, l.oldestOf(priorityCold))
}
