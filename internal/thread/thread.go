// Package thread arranges an action's flat comment list into a
// parent→children mapping for threaded rendering.
package thread

import "github.com/bucketworks/boardwalk/model"

// RootKey buckets comments that have no parent.
const RootKey = "root"

// Tree maps a parent comment id (or RootKey) to its direct children, in
// input order.
type Tree map[string][]model.Comment

// Build groups comments by their parent. Every comment lands in exactly one
// bucket, including comments whose parent is absent from the input; walking
// from the top level simply never reaches those branches.
func Build(comments []model.Comment) Tree {
	tree := make(Tree, len(comments)+1)
	for _, c := range comments {
		key := RootKey
		if !c.IsRoot() {
			key = c.ParentCommentID
		}
		tree[key] = append(tree[key], c)
	}
	return tree
}

// Children returns the ordered replies under a parent comment, or the top
// level for RootKey.
func (t Tree) Children(parentID string) []model.Comment {
	return t[parentID]
}

// Size returns the total number of comments across all buckets.
func (t Tree) Size() int {
	n := 0
	for _, bucket := range t {
		n += len(bucket)
	}
	return n
}

// Walk traverses the thread depth-first from the top level, calling fn with
// each comment and its nesting depth. Each comment is visited at most once,
// so malformed parent pointers (cycles, self-references) cannot loop the
// walk; branches whose ancestors are missing from the tree are not reached.
func (t Tree) Walk(fn func(c model.Comment, depth int)) {
	type frame struct {
		comment model.Comment
		depth   int
	}

	visited := make(map[string]struct{}, t.Size())
	stack := make([]frame, 0, len(t[RootKey]))

	// Seed in reverse so popping yields input order.
	roots := t[RootKey]
	for i := len(roots) - 1; i >= 0; i-- {
		stack = append(stack, frame{roots[i], 0})
	}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if _, seen := visited[f.comment.ID]; seen {
			continue
		}
		visited[f.comment.ID] = struct{}{}

		fn(f.comment, f.depth)

		children := t[f.comment.ID]
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, frame{children[i], f.depth + 1})
		}
	}
}
