package tree

import "sort"

// Branch is one node of a built forest.
type Branch[T any] struct {
	ID       int64
	Node     T
	Depth    int
	Children []*Branch[T]
}

// Forest is an ordered list of independent trees.
type Forest[T any] []*Branch[T]

// Build nests nodes that share one scope. Roots are nodes without a parent or
// whose parent is not part of nodes. Siblings are ordered by id at every
// level. Every node is placed exactly once; nodes that can only be reached
// through a stored parent cycle are promoted to roots.
func Build[T any](nodes []T, ref RefFunc[T]) Forest[T] {
	forest := Forest[T]{}
	if len(nodes) == 0 {
		return forest
	}

	ordered := make([]T, len(nodes))
	copy(ordered, nodes)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ref(ordered[i]).ID < ref(ordered[j]).ID
	})

	present := make(map[int64]struct{}, len(ordered))
	for _, node := range ordered {
		present[ref(node).ID] = struct{}{}
	}

	var roots []T
	children := make(map[int64][]T)
	for _, node := range ordered {
		r := ref(node)
		if r.ParentID == nil || *r.ParentID == r.ID {
			roots = append(roots, node)
			continue
		}
		if _, ok := present[*r.ParentID]; !ok {
			roots = append(roots, node)
			continue
		}
		children[*r.ParentID] = append(children[*r.ParentID], node)
	}

	visited := make(map[int64]struct{}, len(ordered))
	grow := func(node T) *Branch[T] {
		id := ref(node).ID
		visited[id] = struct{}{}
		top := &Branch[T]{ID: id, Node: node}
		queue := []*Branch[T]{top}
		for len(queue) > 0 {
			current := queue[0]
			queue = queue[1:]
			for _, child := range children[current.ID] {
				childID := ref(child).ID
				if _, seen := visited[childID]; seen {
					continue
				}
				visited[childID] = struct{}{}
				branch := &Branch[T]{ID: childID, Node: child, Depth: current.Depth + 1}
				current.Children = append(current.Children, branch)
				queue = append(queue, branch)
			}
		}
		return top
	}

	for _, root := range roots {
		if _, seen := visited[ref(root).ID]; seen {
			continue
		}
		forest = append(forest, grow(root))
	}
	for _, node := range ordered {
		if _, seen := visited[ref(node).ID]; seen {
			continue
		}
		forest = append(forest, grow(node))
	}
	return forest
}

// Walk visits every branch depth first, parents before children.
func (f Forest[T]) Walk(fn func(*Branch[T])) {
	for _, branch := range f {
		fn(branch)
		Forest[T](branch.Children).Walk(fn)
	}
}

// Flatten lists every branch in Walk order.
func (f Forest[T]) Flatten() []*Branch[T] {
	var out []*Branch[T]
	f.Walk(func(b *Branch[T]) {
		out = append(out, b)
	})
	return out
}

// Len counts the nodes in the forest.
func (f Forest[T]) Len() int {
	n := 0
	f.Walk(func(*Branch[T]) { n++ })
	return n
}

// Find returns the branch with the given id, or nil.
func (f Forest[T]) Find(id int64) *Branch[T] {
	for _, branch := range f {
		if branch.ID == id {
			return branch
		}
		if found := Forest[T](branch.Children).Find(id); found != nil {
			return found
		}
	}
	return nil
}

// Descendants returns every node below id in Walk order.
func (f Forest[T]) Descendants(id int64) []T {
	branch := f.Find(id)
	if branch == nil {
		return nil
	}
	var out []T
	Forest[T](branch.Children).Walk(func(b *Branch[T]) {
		out = append(out, b.Node)
	})
	return out
}
