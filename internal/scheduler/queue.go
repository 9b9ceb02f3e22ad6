package scheduler

import "container/heap"

// taskQueue очередь с приоритетом: сначала больший приоритет,
// при равенстве раньше поставленная задача
type taskQueue []*task

func (q taskQueue) Len() int { return len(q) }

func (q taskQueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].seq < q[j].seq
}

func (q taskQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *taskQueue) Push(x any) {
	t := x.(*task)
	t.index = len(*q)
	*q = append(*q, t)
}

func (q *taskQueue) Pop() any {
	old := *q
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	t.index = -1
	*q = old[:n-1]
	return t
}

func (q *taskQueue) push(t *task) {
	heap.Push(q, t)
}

func (q *taskQueue) pop() *task {
	if q.Len() == 0 {
		return nil
	}
	return heap.Pop(q).(*task)
}

// drain извлекает все задачи в порядке приоритета
func (q *taskQueue) drain() []*task {
	out := make([]*task, 0, q.Len())
	for q.Len() > 0 {
		out = append(out, q.pop())
	}
	return out
}
