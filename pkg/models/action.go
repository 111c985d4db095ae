// Package models defines the core domain models for automation action execution.
package models

import (
	"time"

	"github.com/google/uuid"
)

// NodeKind identifies the closed set of action node variants. The executor
// switches exhaustively over it.
type NodeKind string

const (
	KindServiceCall NodeKind = "service_call"
	KindDelay       NodeKind = "delay"
	KindSequence    NodeKind = "sequence"
	KindParallel    NodeKind = "parallel"
	KindRepeat      NodeKind = "repeat"
	KindChoose      NodeKind = "choose"
)

// ActionNode is one atomic or composite unit of an execution plan. Nodes are
// created once by the parser per run, mutated only by the executor during
// that run, and discarded once the summary is produced.
type ActionNode struct {
	ID       string   `json:"id"`
	Kind     NodeKind `json:"kind"`
	ParentID string   `json:"parent_id,omitempty"`

	// Service call fields. Data values may hold unresolved template
	// expressions until render time.
	Domain  string         `json:"domain,omitempty"`
	Service string         `json:"service,omitempty"`
	Target  []string       `json:"target,omitempty"`
	Data    map[string]any `json:"data,omitempty"`

	// Delay field.
	Duration time.Duration `json:"duration,omitempty"`

	// Composite fields. Children order is significant for sequence and
	// choose; parallel children carry no sibling order guarantee. A repeat
	// node holds exactly one child template.
	Children []*ActionNode `json:"children,omitempty"`

	// Repeat controls: a positive Count or a boolean-valued While template.
	Count int    `json:"count,omitempty"`
	While string `json:"while,omitempty"`

	// Condition selects a choose branch; empty means the default branch.
	Condition string `json:"condition,omitempty"`

	State    ExecutionState `json:"state"`
	Attempts int            `json:"attempts"`
}

func newNode(kind NodeKind) *ActionNode {
	return &ActionNode{
		ID:    uuid.New().String(),
		Kind:  kind,
		State: StateQueued,
	}
}

// NewServiceCall builds a service call leaf.
func NewServiceCall(domain, service string, target []string, data map[string]any) *ActionNode {
	n := newNode(KindServiceCall)
	n.Domain = domain
	n.Service = service
	n.Target = target
	n.Data = data

	return n
}

// NewDelay builds a delay leaf.
func NewDelay(duration time.Duration) *ActionNode {
	n := newNode(KindDelay)
	n.Duration = duration

	return n
}

// NewSequence builds an ordered composite.
func NewSequence(children ...*ActionNode) *ActionNode {
	n := newNode(KindSequence)
	n.adopt(children)

	return n
}

// NewParallel builds an unordered composite whose children run concurrently.
func NewParallel(children ...*ActionNode) *ActionNode {
	n := newNode(KindParallel)
	n.adopt(children)

	return n
}

// NewRepeatCount builds a repeat composite expanding its child template a
// fixed number of times.
func NewRepeatCount(count int, child *ActionNode) *ActionNode {
	n := newNode(KindRepeat)
	n.Count = count
	n.adopt([]*ActionNode{child})

	return n
}

// NewRepeatWhile builds a repeat composite expanding its child template while
// the condition renders truthy.
func NewRepeatWhile(condition string, child *ActionNode) *ActionNode {
	n := newNode(KindRepeat)
	n.While = condition
	n.adopt([]*ActionNode{child})

	return n
}

// NewChoose builds a conditional composite from ordered branches.
func NewChoose(branches ...*ActionNode) *ActionNode {
	n := newNode(KindChoose)
	n.adopt(branches)

	return n
}

// NewBranch builds one choose branch. An empty condition marks the default
// branch, taken when no earlier branch matches.
func NewBranch(condition string, children ...*ActionNode) *ActionNode {
	n := NewSequence(children...)
	n.Condition = condition

	return n
}

func (n *ActionNode) adopt(children []*ActionNode) {
	for _, c := range children {
		c.ParentID = n.ID
	}

	n.Children = children
}

// IsLeaf reports whether the node performs work itself rather than
// coordinating children.
func (n *ActionNode) IsLeaf() bool {
	return n.Kind == KindServiceCall || n.Kind == KindDelay
}

// Clone produces a fresh copy of the subtree with new identities and reset
// execution state. Repeat expansion relies on this so every repetition is an
// independently tracked node.
func (n *ActionNode) Clone(parentID string) *ActionNode {
	c := &ActionNode{
		ID:        uuid.New().String(),
		Kind:      n.Kind,
		ParentID:  parentID,
		Domain:    n.Domain,
		Service:   n.Service,
		Duration:  n.Duration,
		Count:     n.Count,
		While:     n.While,
		Condition: n.Condition,
		State:     StateQueued,
	}

	if n.Target != nil {
		c.Target = append([]string(nil), n.Target...)
	}

	if n.Data != nil {
		c.Data = make(map[string]any, len(n.Data))
		for k, v := range n.Data {
			c.Data[k] = v
		}
	}

	if n.Children != nil {
		c.Children = make([]*ActionNode, 0, len(n.Children))
		for _, child := range n.Children {
			c.Children = append(c.Children, child.Clone(c.ID))
		}
	}

	return c
}
