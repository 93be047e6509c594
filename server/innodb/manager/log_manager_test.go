package manager

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogManagerChainsRecords(t *testing.T) {
	lm := NewLogManager()
	assert.Equal(t, int64(-1), lm.LastLSN())

	b1, err := lm.LogBegin(1)
	require.NoError(t, err)
	b2, err := lm.LogBegin(2)
	require.NoError(t, err)
	u1, err := lm.LogUpdate(1, 7, 3, 42, 4000, []byte("old"), []byte("new"))
	require.NoError(t, err)
	c1, err := lm.LogCommit(1)
	require.NoError(t, err)

	assert.Equal(t, int64(0), b1)
	assert.Equal(t, int64(logBaseSize), b2)
	assert.Equal(t, int64(2*logBaseSize), u1)
	assert.Equal(t, u1+logBaseSize+logUpdateSize+6, c1)

	records := lm.RecordsOf(1)
	require.Len(t, records, 3)
	assert.Equal(t, int64(-1), records[0].PrevLSN)
	assert.Equal(t, b1, records[1].PrevLSN)
	assert.Equal(t, u1, records[2].PrevLSN)
	assert.Equal(t, []byte("old"), records[1].OldImage)

	// 提交之后同一事务号重新开始链
	b1again, err := lm.LogBegin(1)
	require.NoError(t, err)
	assert.Equal(t, int64(-1), lm.RecordsOf(1)[3].PrevLSN)
	assert.Equal(t, b1again, lm.LastLSN())
}

func TestLogManagerTruncate(t *testing.T) {
	lm := NewLogManager()
	for i := int32(1); i <= 4; i++ {
		_, err := lm.LogBegin(i)
		require.NoError(t, err)
	}
	assert.Equal(t, 2, lm.Truncate(2*logBaseSize))
	assert.Equal(t, 2, lm.Len())
	assert.Equal(t, int64(4*logBaseSize), lm.NextLSN())

	_, err := lm.Append(LogRecord{Type: LogType(9)})
	assert.Equal(t, ErrInvalidLogType, err)
	assert.Equal(t, "COMPENSATE", LOG_TYPE_COMPENSATE.String())
}
