package btree

import (
	"bytes"
	"math/rand"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zhukovaskychina/xkvdb/server/innodb/buffer_pool"
	"github.com/zhukovaskychina/xkvdb/server/innodb/storage/page"
	"github.com/zhukovaskychina/xkvdb/server/innodb/storage/store"
	"golang.org/x/sync/errgroup"
)

type treeEnv struct {
	path  string
	store *store.PageStore
	pool  *buffer_pool.BufferPool
	tree  *BPlusTree
}

func openTreeEnv(t *testing.T, path string, frames int, initialPages uint64) *treeEnv {
	t.Helper()
	ps := store.NewPageStore(store.Options{InitialPages: initialPages})
	tableID, err := ps.OpenTable(path)
	require.NoError(t, err)
	pool, err := buffer_pool.NewBufferPool(buffer_pool.BufferPoolConfig{NumFrames: frames, PageChecksum: true}, ps)
	require.NoError(t, err)
	pool.FatalHandler = func(format string, args ...interface{}) {
		t.Errorf("unexpected fatal: "+format, args...)
	}
	return &treeEnv{path: path, store: ps, pool: pool, tree: NewBPlusTree(tableID, pool)}
}

func newTreeEnv(t *testing.T, frames int, initialPages uint64) *treeEnv {
	env := openTreeEnv(t, filepath.Join(t.TempDir(), "tree.db"), frames, initialPages)
	t.Cleanup(func() { env.close(t) })
	return env
}

func (e *treeEnv) close(t *testing.T) {
	if e.pool == nil {
		return
	}
	require.NoError(t, e.pool.Close())
	require.NoError(t, e.store.CloseAll())
	e.pool = nil
}

func valueFor(key int64, size int) []byte {
	v := make([]byte, size)
	for i := range v {
		v[i] = byte('a' + (int(key)+i)%26)
	}
	return v
}

// verifyTree 校验整棵树的结构不变式, 返回按叶子链顺序收集的全部键
func verifyTree(t *testing.T, tree *BPlusTree) []int64 {
	t.Helper()
	root, err := tree.Root()
	require.NoError(t, err)
	if root == 0 {
		return nil
	}

	var leaves []uint64
	var leafNodes []*page.NodePage
	leafDepth := -1

	var walk func(pg, parent uint64, lo, hi *int64, depth int)
	walk = func(pg, parent uint64, lo, hi *int64, depth int) {
		node, err := tree.loadNode(pg)
		require.NoError(t, err)
		require.Equal(t, parent, node.ParentPage, "parent of page %d", pg)
		require.Equal(t, node.ComputeFreeSpace(), node.FreeSpace, "free space of page %d", pg)

		inRange := func(k int64) bool {
			return (lo == nil || k >= *lo) && (hi == nil || k < *hi)
		}
		if node.IsLeaf {
			if parent != 0 {
				require.NotEmpty(t, node.Records, "empty non-root leaf %d", pg)
			}
			for i, r := range node.Records {
				require.True(t, inRange(r.Key), "key %d out of range in page %d", r.Key, pg)
				if i > 0 {
					require.Less(t, node.Records[i-1].Key, r.Key)
				}
			}
			if leafDepth == -1 {
				leafDepth = depth
			}
			require.Equal(t, leafDepth, depth, "leaf %d depth", pg)
			leaves = append(leaves, pg)
			leafNodes = append(leafNodes, node)
			return
		}

		require.NotEmpty(t, node.Edges, "internal page %d without keys", pg)
		require.LessOrEqual(t, len(node.Edges), page.EdgeMaxCount)
		for i, e := range node.Edges {
			require.True(t, inRange(e.Key), "separator %d out of range in page %d", e.Key, pg)
			if i > 0 {
				require.Less(t, node.Edges[i-1].Key, e.Key)
			}
		}
		first := node.Edges[0].Key
		walk(node.FirstChild(), pg, lo, &first, depth+1)
		for i, e := range node.Edges {
			k := e.Key
			upper := hi
			if i+1 < len(node.Edges) {
				next := node.Edges[i+1].Key
				upper = &next
			}
			walk(e.Child, pg, &k, upper, depth+1)
		}
	}
	walk(root, 0, nil, nil, 0)

	var keys []int64
	for i, node := range leafNodes {
		if i+1 < len(leaves) {
			require.Equal(t, leaves[i+1], node.RightSibling(), "sibling of leaf %d", leaves[i])
		} else {
			require.Equal(t, uint64(0), node.RightSibling())
		}
		for _, r := range node.Records {
			keys = append(keys, r.Key)
		}
	}
	return keys
}

func TestInsertFindDeleteScenario(t *testing.T) {
	env := newTreeEnv(t, 16, 16)
	value := bytes.Repeat([]byte("A"), 50)

	require.NoError(t, env.tree.Insert(1, value))
	assert.True(t, IsDuplicateKey(env.tree.Insert(1, value)))

	got, err := env.tree.Find(1)
	require.NoError(t, err)
	assert.Equal(t, value, got)

	removed, err := env.tree.Delete(1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed.Key)

	_, err = env.tree.Find(1)
	assert.True(t, IsKeyNotFound(err))
	_, err = env.tree.Delete(1)
	assert.True(t, IsKeyNotFound(err))

	root, err := env.tree.Root()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), root)
}

func TestInsertRejectsInvalidValueSize(t *testing.T) {
	env := newTreeEnv(t, 8, 16)
	assert.ErrorIs(t, env.tree.Insert(1, make([]byte, page.ValueMinSize-1)), ErrInvalidValueSize)
	assert.ErrorIs(t, env.tree.Insert(1, make([]byte, page.ValueMaxSize+1)), ErrInvalidValueSize)

	root, err := env.tree.Root()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), root)
}

func TestLeafSplitBySize(t *testing.T) {
	env := newTreeEnv(t, 16, 16)
	// 每条记录占16+108字节, 一个叶子最多容纳32条
	for k := int64(0); k < 33; k++ {
		require.NoError(t, env.tree.Insert(k, valueFor(k, page.ValueMaxSize)))
	}
	height, err := env.tree.Height()
	require.NoError(t, err)
	assert.Equal(t, 2, height)

	root, err := env.tree.Root()
	require.NoError(t, err)
	rootNode, err := env.tree.loadNode(root)
	require.NoError(t, err)
	require.Len(t, rootNode.Edges, 1)

	left, err := env.tree.loadNode(rootNode.FirstChild())
	require.NoError(t, err)
	right, err := env.tree.loadNode(rootNode.Edges[0].Child)
	require.NoError(t, err)
	// 累计到半个页体(1984字节)的位置为第16条记录
	assert.Len(t, left.Records, 16)
	assert.Len(t, right.Records, 17)
	assert.Equal(t, right.Records[0].Key, rootNode.Edges[0].Key)
	assert.Equal(t, rootNode.Edges[0].Child, left.RightSibling())

	keys := verifyTree(t, env.tree)
	assert.Len(t, keys, 33)
}

func TestRandomInsertKeepsOrderAcrossLevels(t *testing.T) {
	if testing.Short() {
		t.Skip("large tree")
	}
	env := newTreeEnv(t, 64, 64)
	rnd := rand.New(rand.NewSource(7))

	const n = 12000
	keys := rnd.Perm(n)
	for _, k := range keys {
		key := int64(k)*3 - n
		size := page.ValueMinSize + int(key&0x3f)%63
		require.NoError(t, env.tree.Insert(key, valueFor(key, size)), "insert %d", key)
	}

	height, err := env.tree.Height()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, height, 3)

	got := verifyTree(t, env.tree)
	require.Len(t, got, n)
	assert.True(t, sort.SliceIsSorted(got, func(i, j int) bool { return got[i] < got[j] }))

	var scanned []int64
	require.NoError(t, env.tree.Scan(func(rec page.Record) bool {
		scanned = append(scanned, rec.Key)
		return true
	}))
	assert.Equal(t, got, scanned)

	for _, k := range keys[:500] {
		key := int64(k)*3 - n
		v, err := env.tree.Find(key)
		require.NoError(t, err)
		assert.Equal(t, valueFor(key, page.ValueMinSize+int(key&0x3f)%63), v)
		_, err = env.tree.Find(key + 1)
		assert.True(t, IsKeyNotFound(err))
	}

	num, err := env.pool.NumPages(env.tree.TableID())
	require.NoError(t, err)
	assert.Greater(t, num, uint64(64))
}

func TestDeleteAllCollapsesTree(t *testing.T) {
	if testing.Short() {
		t.Skip("large tree")
	}
	env := newTreeEnv(t, 64, 256)
	rnd := rand.New(rand.NewSource(11))

	const n = 9000
	for _, k := range rnd.Perm(n) {
		require.NoError(t, env.tree.Insert(int64(k), valueFor(int64(k), page.ValueMaxSize-int(k%40))))
	}
	verifyTree(t, env.tree)

	order := rnd.Perm(n)
	remaining := make(map[int64]bool, n)
	for k := 0; k < n; k++ {
		remaining[int64(k)] = true
	}
	for i, k := range order {
		removed, err := env.tree.Delete(int64(k))
		require.NoError(t, err, "delete %d", k)
		assert.Equal(t, int64(k), removed.Key)
		delete(remaining, int64(k))

		if i%1500 == 0 || len(remaining) < 40 {
			keys := verifyTree(t, env.tree)
			require.Len(t, keys, len(remaining))
			for _, key := range keys {
				require.True(t, remaining[key])
			}
		}
	}

	root, err := env.tree.Root()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), root)
	count, err := env.tree.Count()
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestDeleteRedistributesAndMerges(t *testing.T) {
	env := newTreeEnv(t, 32, 64)
	for k := int64(0); k < 200; k++ {
		require.NoError(t, env.tree.Insert(k, valueFor(k, page.ValueMaxSize)))
	}
	// 删除前半段的大部分记录, 使左侧叶子反复下溢
	for k := int64(0); k < 150; k += 1 {
		if k%5 == 0 {
			continue
		}
		_, err := env.tree.Delete(k)
		require.NoError(t, err)
		verifyTree(t, env.tree)
	}
	keys := verifyTree(t, env.tree)
	var want []int64
	for k := int64(0); k < 200; k++ {
		if k >= 150 || k%5 == 0 {
			want = append(want, k)
		}
	}
	assert.Equal(t, want, keys)
}

func TestUpdateInPlace(t *testing.T) {
	env := newTreeEnv(t, 16, 16)
	require.NoError(t, env.tree.Insert(10, valueFor(10, 60)))

	newValue := bytes.Repeat([]byte("z"), 60)
	old, pageNum, err := env.tree.Update(10, newValue, 7)
	require.NoError(t, err)
	assert.Equal(t, valueFor(10, 60), old.Value)
	assert.Equal(t, int32(0), old.TrxID)

	rec, recPage, err := env.tree.FindRecord(10)
	require.NoError(t, err)
	assert.Equal(t, pageNum, recPage)
	assert.Equal(t, newValue, rec.Value)
	assert.Equal(t, int32(7), rec.TrxID)

	_, _, err = env.tree.Update(10, make([]byte, 61), 7)
	assert.ErrorIs(t, err, ErrValueSizeMismatch)
	_, _, err = env.tree.Update(11, newValue, 7)
	assert.True(t, IsKeyNotFound(err))
}

func TestDestroyFreesPages(t *testing.T) {
	env := newTreeEnv(t, 32, 64)
	for k := int64(0); k < 300; k++ {
		require.NoError(t, env.tree.Insert(k, valueFor(k, 80)))
	}
	require.NoError(t, env.tree.Destroy())

	root, err := env.tree.Root()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), root)
	_, err = env.tree.Find(5)
	assert.True(t, IsKeyNotFound(err))

	numBefore, err := env.pool.NumPages(env.tree.TableID())
	require.NoError(t, err)
	for k := int64(0); k < 300; k++ {
		require.NoError(t, env.tree.Insert(k, valueFor(k, 80)))
	}
	numAfter, err := env.pool.NumPages(env.tree.TableID())
	require.NoError(t, err)
	assert.Equal(t, numBefore, numAfter)
}

func TestTreeSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "persist.db")
	env := openTreeEnv(t, path, 16, 32)
	for k := int64(0); k < 500; k++ {
		require.NoError(t, env.tree.Insert(k, valueFor(k, 70)))
	}
	env.close(t)

	env = openTreeEnv(t, path, 16, 32)
	defer env.close(t)
	keys := verifyTree(t, env.tree)
	assert.Len(t, keys, 500)
	v, err := env.tree.Find(321)
	require.NoError(t, err)
	assert.Equal(t, valueFor(321, 70), v)
}

func TestConcurrentFindAndUpdate(t *testing.T) {
	env := newTreeEnv(t, 32, 64)
	for k := int64(0); k < 400; k++ {
		require.NoError(t, env.tree.Insert(k, valueFor(k, 64)))
	}

	var g errgroup.Group
	for w := 0; w < 4; w++ {
		w := w
		g.Go(func() error {
			for k := int64(w); k < 400; k += 4 {
				if _, _, err := env.tree.Update(k, bytes.Repeat([]byte{byte(w)}, 64), int32(w+1)); err != nil {
					return err
				}
			}
			return nil
		})
		g.Go(func() error {
			for k := int64(0); k < 400; k++ {
				if _, err := env.tree.Find(k); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	for k := int64(0); k < 400; k++ {
		rec, _, err := env.tree.FindRecord(k)
		require.NoError(t, err)
		assert.Equal(t, int32(k%4+1), rec.TrxID)
	}
}

func TestSplitsKeepConcurrentInPlaceUpdates(t *testing.T) {
	env := newTreeEnv(t, 32, 64)
	for k := int64(0); k < 400; k += 2 {
		require.NoError(t, env.tree.Insert(k, valueFor(k, 64)))
	}

	// 奇数键的插入不断拆分叶子, 同时原地更新偶数键
	var g errgroup.Group
	g.Go(func() error {
		for k := int64(1); k < 400; k += 2 {
			if err := env.tree.Insert(k, valueFor(k, 100)); err != nil {
				return err
			}
		}
		return nil
	})
	for w := 0; w < 2; w++ {
		w := w
		g.Go(func() error {
			for k := int64(2 * w); k < 400; k += 4 {
				if _, _, err := env.tree.Update(k, bytes.Repeat([]byte{'u'}, 64), 7); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())

	count, err := env.tree.Count()
	require.NoError(t, err)
	assert.Equal(t, 400, count)
	for k := int64(0); k < 400; k++ {
		rec, _, err := env.tree.FindRecord(k)
		require.NoError(t, err)
		if k%2 == 0 {
			assert.Equal(t, bytes.Repeat([]byte{'u'}, 64), rec.Value, "key %d", k)
			assert.Equal(t, int32(7), rec.TrxID)
		} else {
			assert.Equal(t, valueFor(k, 100), rec.Value)
		}
	}
}
