package taskqueue

// taskHeap orders pending tasks by priority (lowest number first) and, within
// one priority, by submission sequence so equal-priority tasks run FIFO.
// Entries track their heap index so Cancel can remove them in place.
type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority < h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	entry := x.(*task)
	entry.index = len(*h)
	*h = append(*h, entry)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	entry.index = -1
	*h = old[:n-1]
	return entry
}
