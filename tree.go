package arbor

// TreeNode is a read-only view of one unit's place in the boot tree, for
// introspection and debug rendering (see the extensions subpackage's
// treedrawer-based GraphDebugExtension).
type TreeNode struct {
	ID       ID
	Kind     Kind
	Children []*TreeNode
}

// Tree renders the resource registration tree rooted at whatever resource
// Boot was called with.
func (rt *Runtime) Tree() *TreeNode {
	var root *registration
	for _, reg := range rt.s.byID {
		if reg.ownerID == "" {
			if _, ok := reg.unit.(*Resource); ok {
				root = reg
				break
			}
		}
	}
	if root == nil {
		return nil
	}
	return rt.treeNode(root)
}

func (rt *Runtime) treeNode(reg *registration) *TreeNode {
	node := &TreeNode{ID: reg.unit.ID(), Kind: reg.unit.Kind()}
	res, ok := reg.unit.(*Resource)
	if !ok {
		return node
	}
	for _, child := range res.children {
		childReg, ok := rt.s.get(child.ID())
		if !ok {
			continue
		}
		node.Children = append(node.Children, rt.treeNode(childReg))
	}
	return node
}
