package buffer_pool

// 缓冲帧通过下标串成侵入式双向链表, 每个帧在同一个frameList中只属于一个分区.
// 最近访问的帧位于分区尾部(latest), 最久未访问的位于头部(oldest).

const nilFrame = -1

type linkPair struct {
	prev int
	next int
}

type frameList struct {
	links     []linkPair
	partition []int
	oldest    []int
	latest    []int
	count     []int
}

func newFrameList(capacity int, partitions int) *frameList {
	l := &frameList{
		links:     make([]linkPair, capacity),
		partition: make([]int, capacity),
		oldest:    make([]int, partitions),
		latest:    make([]int, partitions),
		count:     make([]int, partitions),
	}
	for i := range l.links {
		l.links[i] = linkPair{nilFrame, nilFrame}
		l.partition[i] = nilFrame
	}
	for p := 0; p < partitions; p++ {
		l.oldest[p] = nilFrame
		l.latest[p] = nilFrame
	}
	return l
}

func (l *frameList) remove(idx int) {
	part := l.partition[idx]
	if part == nilFrame {
		return
	}
	prev, next := l.links[idx].prev, l.links[idx].next
	if prev != nilFrame {
		l.links[prev].next = next
	} else {
		l.oldest[part] = next
	}
	if next != nilFrame {
		l.links[next].prev = prev
	} else {
		l.latest[part] = prev
	}
	l.links[idx] = linkPair{nilFrame, nilFrame}
	l.partition[idx] = nilFrame
	l.count[part]--
}

// touch 把帧移动到part分区的尾部
func (l *frameList) touch(idx int, part int) {
	if l.partition[idx] == part && l.latest[part] == idx {
		return
	}
	l.remove(idx)

	l.links[idx] = linkPair{l.latest[part], nilFrame}
	if l.latest[part] != nilFrame {
		l.links[l.latest[part]].next = idx
	}
	l.latest[part] = idx
	if l.oldest[part] == nilFrame {
		l.oldest[part] = idx
	}
	l.partition[idx] = part
	l.count[part]++
}

func (l *frameList) oldestOf(part int) int {
	return l.oldest[part]
}

func (l *frameList) partitionOf(idx int) int {
	return l.partition[idx]
}

func (l *frameList) lenOf(part int) int {
	return l.count[part]
}

// walk 从旧到新遍历分区
func (l *frameList) walk(part int, fn func(idx int) bool) {
	for idx := l.oldest[part]; idx != nilFrame; idx = l.links[idx].next {
		if !fn(idx) {
			return
		}
	}
}
