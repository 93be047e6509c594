package page

// 页面布局常量
const (
	PageSize   = 4096
	HeaderSize = 128
	BodySize   = PageSize - HeaderSize

	SlotSize = 16
	EdgeSize = 16

	ValueMinSize = 46
	ValueMaxSize = 108

	// RecordThreshold 叶子节点空闲空间不低于该值时需要合并或重分配
	RecordThreshold = 2500
	EdgeMaxCount    = BodySize / EdgeSize
	RecordMaxCount  = BodySize / (SlotSize + ValueMinSize)

	// InitialFileSize 新建表文件的初始大小
	InitialFileSize  = 10 * 1024 * 1024
	InitialPageCount = InitialFileSize / PageSize
)

// 节点页头偏移
const (
	offParentPage = 0
	offIsLeaf     = 8
	offNumKeys    = 12
	offPageLSN    = 24
	offFreeSpace  = 112
	offSibling    = 120

	// ChecksumOffset 页面校验和位于节点页头保留区的末尾8字节,
	// 头页与空闲页在该位置同样没有数据
	ChecksumOffset = 104
	ChecksumSize   = 8
)

// 头页偏移
const (
	offNextFree = 0
	offNumPages = 8
	offRootPage = 16
)
