package page

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhukovaskychina/xkvdb/util"
)

func randomLeaf(r *rand.Rand) *NodePage {
	n := NewLeafPage(uint64(r.Int63n(1000)))
	n.Sibling = uint64(r.Int63n(1000))
	n.PageLSN = r.Int63()
	key := int64(r.Intn(100)) - 50
	for {
		size := ValueMinSize + r.Intn(ValueMaxSize-ValueMinSize+1)
		if n.FreeSpace < uint64(SlotSize+size) {
			break
		}
		key += int64(1 + r.Intn(10))
		n.Records = append(n.Records, NewRecord(key, util.RandomBytes(size), r.Int31()))
		n.Correct(len(n.Records) - 1)
	}
	return n
}

func randomInternal(r *rand.Rand) *NodePage {
	n := NewInternalPage(uint64(r.Int63n(1000)))
	n.Sibling = uint64(1 + r.Int63n(1000))
	count := r.Intn(EdgeMaxCount + 1)
	key := int64(-1000)
	for i := 0; i < count; i++ {
		key += int64(1 + r.Intn(100))
		n.Edges = append(n.Edges, Edge{Key: key, Child: uint64(1 + r.Int63n(1<<40))})
	}
	n.Correct(0)
	return n
}

func TestNodePageRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	buff := make([]byte, PageSize)

	for i := 0; i < 50; i++ {
		for _, n := range []*NodePage{randomLeaf(r), randomInternal(r)} {
			require.NoError(t, n.Encode(buff))
			decoded, err := DecodeNodePage(buff)
			require.NoError(t, err)
			if n.IsLeaf {
				assert.Equal(t, n.Records, decoded.Records)
				decoded.Edges = n.Edges
			} else {
				assert.Equal(t, len(n.Edges), len(decoded.Edges))
				if len(n.Edges) == 0 {
					decoded.Edges = n.Edges
				}
				decoded.Records = n.Records
			}
			assert.Equal(t, n, decoded)

			again := make([]byte, PageSize)
			require.NoError(t, decoded.Encode(again))
			assert.Equal(t, buff, again)
		}
	}
}

func TestFreeSpaceMatchesSlots(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	n := NewLeafPage(0)
	assert.Equal(t, uint64(BodySize), n.FreeSpace)

	keys := map[int64]bool{}
	for i := 0; i < 500; i++ {
		if r.Intn(3) == 0 && len(n.Records) > 0 {
			idx := r.Intn(len(n.Records))
			delete(keys, n.Records[idx].Key)
			n.Records = append(n.Records[:idx], n.Records[idx+1:]...)
			n.Correct(idx)
		} else {
			size := ValueMinSize + r.Intn(ValueMaxSize-ValueMinSize+1)
			key := r.Int63n(1000)
			if keys[key] || n.FreeSpace < uint64(SlotSize+size) {
				continue
			}
			keys[key] = true
			idx := n.FindKeyIndex(key) + 1
			n.Records = append(n.Records, Record{})
			copy(n.Records[idx+1:], n.Records[idx:])
			n.Records[idx] = NewRecord(key, util.RandomBytes(size), 0)
			n.Correct(idx)
		}

		used := 0
		for _, rec := range n.Records {
			used += int(rec.Size)
		}
		assert.Equal(t, uint64(PageSize-HeaderSize-SlotSize*len(n.Records)-used), n.FreeSpace)
		assert.Equal(t, n.ComputeFreeSpace(), n.FreeSpace)
		if len(n.Records) > 0 {
			last := n.Records[len(n.Records)-1]
			assert.Equal(t, uint64(int(last.Offset)-HeaderSize-SlotSize*len(n.Records)), n.FreeSpace)
		}
	}
}

func TestFindKeyIndex(t *testing.T) {
	n := NewInternalPage(0)
	n.Sibling = 100
	n.Edges = []Edge{{Key: 10, Child: 101}, {Key: 20, Child: 102}, {Key: 30, Child: 103}}

	assert.Equal(t, -1, n.FindKeyIndex(5))
	assert.Equal(t, uint64(100), n.ChildFor(5))
	assert.Equal(t, 0, n.FindKeyIndex(10))
	assert.Equal(t, uint64(101), n.ChildFor(19))
	assert.Equal(t, uint64(103), n.ChildFor(1<<40))
	assert.Equal(t, 1, n.ChildIndex(102))
	assert.Equal(t, -1, n.ChildIndex(100))
	assert.Equal(t, -2, n.ChildIndex(999))
	assert.Equal(t, []uint64{100, 101, 102, 103}, n.Children())
}

func TestDecodeRejectsCorruption(t *testing.T) {
	buff := make([]byte, PageSize)
	n := NewLeafPage(0)
	n.Records = []Record{NewRecord(1, make([]byte, 50), 0)}
	n.Correct(0)
	require.NoError(t, n.Encode(buff))

	// 偏移指向槽位区域
	util.PutUB2(buff, HeaderSize+10, 130)
	_, err := DecodeNodePage(buff)
	assert.ErrorIs(t, err, ErrCorruptedNode)

	_, err = DecodeNodePage(make([]byte, 10))
	assert.ErrorIs(t, err, ErrInvalidBuffer)
}

func TestHeaderPage(t *testing.T) {
	buff := make([]byte, PageSize)
	h := HeaderPage{NextFreePage: 1, NumPages: InitialPageCount, RootPage: 77}
	h.EncodeTo(buff)
	assert.Equal(t, h, DecodeHeaderPage(buff))

	EncodeFreePage(buff, 9)
	assert.Equal(t, uint64(9), NextFreeOf(buff))

	links := map[uint64]uint64{}
	require.NoError(t, ExtendLinks(4, 8, func(pg, next uint64) error {
		links[pg] = next
		return nil
	}))
	assert.Equal(t, map[uint64]uint64{4: 5, 5: 6, 6: 7, 7: 0}, links)
	assert.Equal(t, 2560, InitialPageCount)
	assert.Equal(t, 248, EdgeMaxCount)
	assert.Equal(t, 64, RecordMaxCount)
}
