package sparql

// Optimize applies the one join-ordering override on top of the default
// smaller-side-first strategy.
//
// A join is forced into left-then-right sequence when its right side is
// a SERVICE or UNION (the remote call's input variables must be bound
// before dispatch) or when its left side is a SERVICE or GRAPH (an
// already-resolved remote or graph step is never reordered behind its
// dependents). Everything else may swap so the smaller operand runs
// first.
func Optimize(node Node) Node {
	switch n := node.(type) {
	case *Join:
		n.Left = Optimize(n.Left)
		n.Right = Optimize(n.Right)
		if forcedSequence(n.Left, n.Right) {
			n.Forced = true
			return n
		}
		if n.Right.patternSize() < n.Left.patternSize() {
			if _, isFilter := n.Right.(*Filter); !isFilter {
				n.Left, n.Right = n.Right, n.Left
			}
		}
		return n
	case *Union:
		n.Left = Optimize(n.Left)
		n.Right = Optimize(n.Right)
		return n
	case *Graph:
		n.Body = Optimize(n.Body)
		return n
	default:
		return node
	}
}

func forcedSequence(left, right Node) bool {
	switch right.(type) {
	case *Service, *Union:
		return true
	}
	switch left.(type) {
	case *Service, *Graph:
		return true
	}
	return false
}
