package entities

import "time"

// MatrixSide is a child slot of a matrix node
type MatrixSide string

const (
	MatrixSideLeft  MatrixSide = "left"
	MatrixSideRight MatrixSide = "right"
)

// MatrixNode is a user's position in the binary placement tree
type MatrixNode struct {
	UserID     UserID    `db:"user_id"`
	ParentID   *UserID   `db:"parent_id"`
	LeftChild  *UserID   `db:"left_child"`
	RightChild *UserID   `db:"right_child"`
	Depth      int       `db:"depth"`
	CreatedAt  time.Time `db:"created_at"`
}

// FreeSide returns the first empty slot, left before right
func (n *MatrixNode) FreeSide() (MatrixSide, bool) {
	if n.LeftChild == nil {
		return MatrixSideLeft, true
	}
	if n.RightChild == nil {
		return MatrixSideRight, true
	}
	return "", false
}

// Children returns the occupied slots, left first
func (n *MatrixNode) Children() []UserID {
	children := make([]UserID, 0, 2)
	if n.LeftChild != nil {
		children = append(children, *n.LeftChild)
	}
	if n.RightChild != nil {
		children = append(children, *n.RightChild)
	}
	return children
}

// ChildrenCount returns the number of occupied slots
func (n *MatrixNode) ChildrenCount() int {
	return len(n.Children())
}

// MatrixPosition is where a new user landed
type MatrixPosition struct {
	UserID   UserID     `json:"userId"`
	ParentID UserID     `json:"parentId"`
	Side     MatrixSide `json:"side"`
	Depth    int        `json:"depth"`
}
