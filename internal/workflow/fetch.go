package workflow

import "github.com/kingrea/flowgraph/internal/task"

// FetchExecutableTasks returns the waiting tasks whose producers and waits
// have all succeeded. The walk starts at START and only descends through
// successful tasks whose own producers and waits succeeded, so running or
// failed tasks prune everything below them, even past a stale success.
// Statuses are read as they are; nothing is refreshed here.
func (g *Graph) FetchExecutableTasks() []*task.Task {
	visited := map[task.ID]bool{StartID: true}
	frontier := []task.ID{StartID}
	var ready []*task.Task
	for len(frontier) > 0 {
		var next []task.ID
		for _, id := range frontier {
			for _, cid := range g.tasks[id].Children() {
				if visited[cid] {
					continue
				}
				visited[cid] = true
				child := g.tasks[cid]
				if child.IsSentinel() || !g.allSucceeded(child.Parents()) || !g.allSucceeded(child.Waits()) {
					continue
				}
				switch child.Status() {
				case task.StatusWaiting:
					ready = append(ready, child)
				case task.StatusSuccess:
					next = append(next, cid)
				}
			}
		}
		frontier = next
	}
	return ready
}

func (g *Graph) allSucceeded(ids []task.ID) bool {
	for _, id := range ids {
		if g.tasks[id].Status() != task.StatusSuccess {
			return false
		}
	}
	return true
}

// Status summarizes the graph: success once every task succeeded, running
// while anything runs, failed when a task failed and nothing runs, waiting
// otherwise.
func (g *Graph) Status() task.Status {
	statuses := make([]task.Status, 0, len(g.tasks))
	for _, t := range g.Tasks() {
		statuses = append(statuses, t.Status())
	}
	return GraphStatus(statuses)
}

// GraphStatus folds task statuses into one graph status.
func GraphStatus(statuses []task.Status) task.Status {
	counts := Count(statuses)
	switch {
	case len(statuses) > 0 && counts[task.StatusSuccess] == len(statuses):
		return task.StatusSuccess
	case counts[task.StatusRunning] > 0:
		return task.StatusRunning
	case counts[task.StatusFailed] > 0:
		return task.StatusFailed
	default:
		return task.StatusWaiting
	}
}

// Count tallies statuses.
func Count(statuses []task.Status) map[task.Status]int {
	counts := make(map[task.Status]int, 4)
	for _, s := range statuses {
		counts[s]++
	}
	return counts
}
