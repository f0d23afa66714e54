package models

import (
	"fmt"
	"sort"
	"time"
)

// EnvironmentLevel is the depth class of a location node.
type EnvironmentLevel string

const (
	LevelRoot     EnvironmentLevel = "root"
	LevelArea     EnvironmentLevel = "area"
	LevelSector   EnvironmentLevel = "sector"
	LevelLocation EnvironmentLevel = "location"
)

var levelDepth = map[EnvironmentLevel]int{
	LevelRoot:     0,
	LevelArea:     1,
	LevelSector:   2,
	LevelLocation: 3,
}

// Depth returns the ordinal of the level, or -1 when unknown.
func (l EnvironmentLevel) Depth() int {
	d, ok := levelDepth[l]
	if !ok {
		return -1
	}
	return d
}

// Environment is a node of a company's location hierarchy.
type Environment struct {
	ID          string           `gorm:"primaryKey;size:64" json:"id"`
	CompanyID   string           `gorm:"size:64;index;not null" json:"company_id"`
	ParentID    *string          `gorm:"size:64;index" json:"parent_id"`
	Name        string           `gorm:"size:200;not null" json:"name"`
	Level       EnvironmentLevel `gorm:"size:16;not null" json:"level"`
	Description string           `gorm:"size:1000" json:"description"`
	CreatedAt   time.Time        `json:"created_at"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

func (e *Environment) RecordID() string      { return e.ID }
func (e *Environment) SetRecordID(id string) { e.ID = id }
func (e *Environment) IndexKey() string      { return e.CompanyID }

// ValidateParent checks the node against its parent. parent is nil for roots.
func (e *Environment) ValidateParent(parent *Environment) error {
	depth := e.Level.Depth()
	if depth < 0 {
		return fmt.Errorf("unknown environment level %q", e.Level)
	}
	if parent == nil {
		if e.Level != LevelRoot {
			return fmt.Errorf("%s environment requires a parent", e.Level)
		}
		return nil
	}
	if parent.CompanyID != e.CompanyID {
		return fmt.Errorf("parent belongs to another company")
	}
	if depth <= parent.Level.Depth() {
		return fmt.Errorf("%s cannot be placed under %s", e.Level, parent.Level)
	}
	return nil
}

// EnvironmentUpdate holds the editable environment fields. Moving a node
// to another parent is not supported.
type EnvironmentUpdate struct {
	ID          string
	Name        *string
	Description *string
}

// Apply copies the set fields onto env and returns the changed column names.
func (u *EnvironmentUpdate) Apply(env *Environment) []string {
	var fields []string
	if u.Name != nil {
		env.Name = *u.Name
		fields = append(fields, "name")
	}
	if u.Description != nil {
		env.Description = *u.Description
		fields = append(fields, "description")
	}
	return fields
}

// EnvironmentNode is an Environment with its resolved children.
type EnvironmentNode struct {
	Environment
	Children []*EnvironmentNode `json:"children"`
}

// BuildTree arranges a flat list into trees. Nodes whose parent is missing
// from the list are promoted to roots. Siblings are ordered by name.
func BuildTree(envs []Environment) []*EnvironmentNode {
	nodes := make(map[string]*EnvironmentNode, len(envs))
	for i := range envs {
		nodes[envs[i].ID] = &EnvironmentNode{Environment: envs[i]}
	}

	var roots []*EnvironmentNode
	for i := range envs {
		node := nodes[envs[i].ID]
		if envs[i].ParentID != nil {
			if parent, ok := nodes[*envs[i].ParentID]; ok && parent != node {
				parent.Children = append(parent.Children, node)
				continue
			}
		}
		roots = append(roots, node)
	}

	sortNodes(roots)
	return roots
}

func sortNodes(nodes []*EnvironmentNode) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })
	for _, n := range nodes {
		sortNodes(n.Children)
	}
}

// Descendants returns id and the ids of every node below it.
func Descendants(envs []Environment, id string) []string {
	children := make(map[string][]string)
	for _, env := range envs {
		if env.ParentID != nil {
			children[*env.ParentID] = append(children[*env.ParentID], env.ID)
		}
	}

	seen := map[string]bool{id: true}
	out := []string{id}
	for i := 0; i < len(out); i++ {
		for _, child := range children[out[i]] {
			if !seen[child] {
				seen[child] = true
				out = append(out, child)
			}
		}
	}
	return out
}

// Path returns the chain of environments from the root down to id.
func Path(envs []Environment, id string) []Environment {
	byID := make(map[string]Environment, len(envs))
	for _, env := range envs {
		byID[env.ID] = env
	}

	var path []Environment
	seen := make(map[string]bool)
	for cur, ok := byID[id]; ok && !seen[cur.ID]; {
		seen[cur.ID] = true
		path = append([]Environment{cur}, path...)
		if cur.ParentID == nil {
			break
		}
		cur, ok = byID[*cur.ParentID]
	}
	return path
}
