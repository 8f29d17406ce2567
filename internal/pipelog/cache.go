package pipelog

import (
	"container/list"
	"os"
	"sync"
)

// readHandleCache bounds the number of read-only file descriptors the
// pipe log keeps open for fread on files other than the active one, a
// container/list LRU over plain read-only *os.File handles.
type readHandleCache struct {
	mu       sync.Mutex
	capacity int
	lruList  *list.List
	items    map[uint64]*list.Element
}

type readHandleItem struct {
	fileNum uint64
	file    *os.File
}

func newReadHandleCache(capacity int) *readHandleCache {
	if capacity <= 0 {
		capacity = 16
	}
	return &readHandleCache{
		capacity: capacity,
		lruList:  list.New(),
		items:    make(map[uint64]*list.Element),
	}
}

func (c *readHandleCache) getOrOpen(fileNum uint64, dir string) (*os.File, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[fileNum]; ok {
		c.lruList.MoveToFront(elem)
		return elem.Value.(*readHandleItem).file, nil
	}

	f, err := os.Open(filePath(dir, fileNum))
	if err != nil {
		return nil, err
	}

	if c.lruList.Len() >= c.capacity {
		c.evict()
	}

	item := &readHandleItem{fileNum: fileNum, file: f}
	elem := c.lruList.PushFront(item)
	c.items[fileNum] = elem
	return f, nil
}

func (c *readHandleCache) evict() {
	elem := c.lruList.Back()
	if elem == nil {
		return
	}
	c.lruList.Remove(elem)
	item := elem.Value.(*readHandleItem)
	delete(c.items, item.fileNum)
	_ = item.file.Close()
}

// drop evicts fileNum, if cached, without waiting for LRU pressure.
// Used when purge_to removes a file from disk.
func (c *readHandleCache) drop(fileNum uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	elem, ok := c.items[fileNum]
	if !ok {
		return
	}
	c.lruList.Remove(elem)
	delete(c.items, fileNum)
	_ = elem.Value.(*readHandleItem).file.Close()
}

func (c *readHandleCache) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for e := c.lruList.Front(); e != nil; e = e.Next() {
		_ = e.Value.(*readHandleItem).file.Close()
	}
	c.lruList.Init()
	c.items = make(map[uint64]*list.Element)
}
