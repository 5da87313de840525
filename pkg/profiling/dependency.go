package profiling

import (
	"fmt"
	"sort"
)

type dependencyGraph struct {
	nodes map[string]*graphNode
}

type graphNode struct {
	name      string
	priority  int
	dependsOn []string
	visited   bool
	tempVisit bool
}

func newDependencyGraph() *dependencyGraph {
	return &dependencyGraph{nodes: make(map[string]*graphNode)}
}

func (g *dependencyGraph) add(name string, priority int, dependsOn []string) {
	g.nodes[name] = &graphNode{
		name:      name,
		priority:  priority,
		dependsOn: append([]string(nil), dependsOn...),
	}
}

// missing lists "a -> b" for every dependency b that is not in the graph.
func (g *dependencyGraph) missing() []string {
	var out []string
	for _, node := range g.sorted() {
		for _, dep := range node.dependsOn {
			if _, ok := g.nodes[dep]; !ok {
				out = append(out, fmt.Sprintf("%s -> %s", node.name, dep))
			}
		}
	}
	return out
}

// sorted returns the nodes by priority, then name.
func (g *dependencyGraph) sorted() []*graphNode {
	nodes := make([]*graphNode, 0, len(g.nodes))
	for _, node := range g.nodes {
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool {
		if nodes[i].priority != nodes[j].priority {
			return nodes[i].priority < nodes[j].priority
		}
		return nodes[i].name < nodes[j].name
	})
	return nodes
}

// order puts every node after the nodes it depends on. Independent nodes
// keep priority, then name, order.
func (g *dependencyGraph) order() ([]string, error) {
	if missing := g.missing(); len(missing) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrDependencyMissing, missing)
	}
	for _, node := range g.nodes {
		node.visited = false
		node.tempVisit = false
	}

	result := make([]string, 0, len(g.nodes))
	for _, node := range g.sorted() {
		if cycle := g.visit(node, nil, &result); cycle != nil {
			return nil, fmt.Errorf("%w: %v", ErrCircularDependency, cycle)
		}
	}
	return result, nil
}

func (g *dependencyGraph) visit(node *graphNode, path []string, result *[]string) []string {
	if node.tempVisit {
		for i, n := range path {
			if n == node.name {
				return append(append([]string(nil), path[i:]...), node.name)
			}
		}
		return append(path, node.name)
	}
	if node.visited {
		return nil
	}

	node.tempVisit = true
	path = append(path, node.name)

	deps := make([]*graphNode, 0, len(node.dependsOn))
	for _, dep := range node.dependsOn {
		deps = append(deps, g.nodes[dep])
	}
	sort.SliceStable(deps, func(i, j int) bool {
		if deps[i].priority != deps[j].priority {
			return deps[i].priority < deps[j].priority
		}
		return deps[i].name < deps[j].name
	})
	for _, dep := range deps {
		if cycle := g.visit(dep, path, result); cycle != nil {
			return cycle
		}
	}

	node.tempVisit = false
	node.visited = true
	*result = append(*result, node.name)
	return nil
}
