package tree

// NodeInfo is the static introspection view of one compiled instance:
// identity plus structure, no execution state. GetInfo returns the root
// of this tree to clients so operator tooling can render the mission
// without access to interpreter internals.
type NodeInfo struct {
	ID       int64          `json:"id"`
	Name     string         `json:"name"`
	Kind     Kind           `json:"kind"`
	UserData map[string]any `json:"user_data,omitempty"`
	Children []*NodeInfo    `json:"children,omitempty"`
}

// buildInfo materializes the NodeInfo tree parallel to the instance
// tree.
func buildInfo(inst *Instance) *NodeInfo {
	if inst == nil {
		return nil
	}
	info := &NodeInfo{
		ID:       inst.ID,
		Name:     inst.Name,
		Kind:     inst.Kind,
		UserData: inst.UserData,
	}
	for _, child := range inst.AllChildren() {
		if ci := buildInfo(child); ci != nil {
			info.Children = append(info.Children, ci)
		}
	}
	return info
}

// FindInfo walks the info tree for the node with the given instance ID.
// Returns nil when the ID is not present.
func FindInfo(root *NodeInfo, id int64) *NodeInfo {
	if root == nil {
		return nil
	}
	if root.ID == id {
		return root
	}
	for _, child := range root.Children {
		if found := FindInfo(child, id); found != nil {
			return found
		}
	}
	return nil
}
