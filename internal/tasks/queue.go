package tasks

import (
	"container/heap"
	"time"

	"github.com/wevoice/wesub-sub003/pkg/models"
)

// PriorityQueue orders open tasks for pickup: higher priority first,
// FIFO within a priority.
type PriorityQueue []*QueueItem

// QueueItem represents a task in the priority queue
type QueueItem struct {
	Task      *models.Task
	Priority  int
	Timestamp time.Time
	Index     int
}

func (pq PriorityQueue) Len() int { return len(pq) }

func (pq PriorityQueue) Less(i, j int) bool {
	// Higher priority first
	if pq[i].Priority != pq[j].Priority {
		return pq[i].Priority > pq[j].Priority
	}
	// If same priority, FIFO (earlier timestamp first)
	return pq[i].Timestamp.Before(pq[j].Timestamp)
}

func (pq PriorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].Index = i
	pq[j].Index = j
}

func (pq *PriorityQueue) Push(x interface{}) {
	n := len(*pq)
	item := x.(*QueueItem)
	item.Index = n
	*pq = append(*pq, item)
}

func (pq *PriorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.Index = -1
	*pq = old[:n-1]
	return item
}

// OrderTasks returns the tasks in pickup order.
func OrderTasks(tasks []*models.Task) []*models.Task {
	pq := &PriorityQueue{}
	heap.Init(pq)
	for _, task := range tasks {
		heap.Push(pq, &QueueItem{
			Task:      task,
			Priority:  task.Priority,
			Timestamp: task.CreatedAt,
		})
	}

	ordered := make([]*models.Task, 0, len(tasks))
	for pq.Len() > 0 {
		ordered = append(ordered, heap.Pop(pq).(*QueueItem).Task)
	}
	return ordered
}
