// Package parser normalizes declarative automation definitions into action
// node trees. It performs no I/O, no template resolution and no existence
// validation of domains, services or entities; those belong to the executor
// and gateway.
package parser

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/castellan/castellan/pkg/models"
)

// Parse unmarshals a YAML definition document and normalizes it into the
// ordered list of top-level action nodes.
func Parse(data []byte) ([]*models.ActionNode, error) {
	var doc map[string]any

	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, models.NewParseError("document", fmt.Sprintf("not valid YAML: %v", err))
	}

	return ParseDefinition(doc)
}

// ParseDefinition normalizes an already-unmarshalled definition document.
// The top-level step list lives under "actions" or "sequence".
func ParseDefinition(doc map[string]any) ([]*models.ActionNode, error) {
	if doc == nil {
		return nil, models.NewParseError("document", "empty definition")
	}

	if err := validateDocument(doc); err != nil {
		return nil, err
	}

	raw, key := topLevelSteps(doc)
	if raw == nil {
		return nil, models.NewParseError("document", `no step list under "actions" or "sequence"`)
	}

	nodes, err := parseSteps(raw, key, "")
	if err != nil {
		return nil, err
	}

	if len(nodes) == 0 {
		return nil, models.NewParseError(key, "step list is empty")
	}

	return nodes, nil
}

func topLevelSteps(doc map[string]any) ([]any, string) {
	for _, key := range []string{"actions", "sequence"} {
		if raw, ok := doc[key]; ok {
			if list, ok := raw.([]any); ok {
				return list, key
			}
		}
	}

	return nil, ""
}

func parseSteps(raw []any, path, parentID string) ([]*models.ActionNode, error) {
	nodes := make([]*models.ActionNode, 0, len(raw))

	for i, step := range raw {
		node, err := parseStep(step, fmt.Sprintf("%s[%d]", path, i))
		if err != nil {
			return nil, err
		}

		node.ParentID = parentID
		nodes = append(nodes, node)
	}

	return nodes, nil
}

// parseStep dispatches on the step's shape. A service call spells itself
// with an "action" or legacy "service" field; delays and composites carry
// their kind as the key.
func parseStep(raw any, path string) (*models.ActionNode, error) {
	step, ok := raw.(map[string]any)
	if !ok {
		return nil, models.NewParseError(path, fmt.Sprintf("step must be a mapping, got %T", raw))
	}

	switch {
	case step["action"] != nil || step["service"] != nil:
		return parseServiceCall(step, path)
	case step["delay"] != nil:
		return parseDelay(step["delay"], path+".delay")
	case step["sequence"] != nil:
		return parseComposite(step["sequence"], path+".sequence", models.NewSequence)
	case step["parallel"] != nil:
		return parseComposite(step["parallel"], path+".parallel", models.NewParallel)
	case step["repeat"] != nil:
		return parseRepeat(step["repeat"], path+".repeat")
	case step["choose"] != nil:
		return parseChoose(step, path+".choose")
	default:
		return nil, models.NewParseError(path, "unrecognized step shape")
	}
}

func parseServiceCall(step map[string]any, path string) (*models.ActionNode, error) {
	ref := step["action"]
	if ref == nil {
		ref = step["service"]
	}

	refStr, ok := ref.(string)
	if !ok {
		return nil, models.NewInvalidActionError(path, fmt.Sprintf("action must be a string, got %T", ref))
	}

	parts := strings.SplitN(refStr, ".", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, models.NewInvalidActionError(path, fmt.Sprintf("action %q is not of the form <domain>.<service>", refStr))
	}

	target, err := parseTarget(step, path)
	if err != nil {
		return nil, err
	}

	var data map[string]any

	if rawData, ok := step["data"]; ok {
		data, ok = rawData.(map[string]any)
		if !ok {
			return nil, models.NewInvalidActionError(path+".data", fmt.Sprintf("data must be a mapping, got %T", rawData))
		}
	}

	return models.NewServiceCall(parts[0], parts[1], target, data), nil
}

// parseTarget extracts entity identifiers from "target.entity_id" or the
// step-level "entity_id" alternate. An empty or absent target is valid; some
// services take none.
func parseTarget(step map[string]any, path string) ([]string, error) {
	var raw any

	if targetMap, ok := step["target"].(map[string]any); ok {
		raw = targetMap["entity_id"]
	} else if step["target"] != nil {
		return nil, models.NewInvalidActionError(path+".target", fmt.Sprintf("target must be a mapping, got %T", step["target"]))
	} else {
		raw = step["entity_id"]
	}

	switch value := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{value}, nil
	case []any:
		entities := make([]string, 0, len(value))

		for _, item := range value {
			entity, ok := item.(string)
			if !ok {
				return nil, models.NewInvalidActionError(path+".target", fmt.Sprintf("entity_id entries must be strings, got %T", item))
			}

			entities = append(entities, entity)
		}

		return entities, nil
	default:
		return nil, models.NewInvalidActionError(path+".target", fmt.Sprintf("entity_id must be a string or list, got %T", raw))
	}
}

func parseDelay(raw any, path string) (*models.ActionNode, error) {
	duration, err := parseDuration(raw, path)
	if err != nil {
		return nil, err
	}

	return models.NewDelay(duration), nil
}

func parseComposite(raw any, path string, build func(...*models.ActionNode) *models.ActionNode) (*models.ActionNode, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, models.NewParseError(path, fmt.Sprintf("expected a step list, got %T", raw))
	}

	node := build()

	children, err := parseSteps(list, path, node.ID)
	if err != nil {
		return nil, err
	}

	node.Children = children

	return node, nil
}

// parseRepeat requires exactly one child template plus either a positive
// count or a while condition. The condition stays opaque here; the executor
// routes it through the template layer.
func parseRepeat(raw any, path string) (*models.ActionNode, error) {
	spec, ok := raw.(map[string]any)
	if !ok {
		return nil, models.NewParseError(path, fmt.Sprintf("repeat must be a mapping, got %T", raw))
	}

	child, err := parseComposite(spec["sequence"], path+".sequence", models.NewSequence)
	if err != nil {
		return nil, err
	}

	if len(child.Children) == 0 {
		return nil, models.NewInvalidActionError(path, "repeat requires a non-empty child sequence")
	}

	count, hasCount := spec["count"]
	while, hasWhile := spec["while"]

	switch {
	case hasCount && hasWhile:
		return nil, models.NewInvalidActionError(path, "repeat takes either count or while, not both")
	case hasCount:
		repetitions, ok := intValue(count)
		if !ok || repetitions <= 0 {
			return nil, models.NewInvalidActionError(path+".count", fmt.Sprintf("count must be a positive integer, got %v", count))
		}

		node := models.NewRepeatCount(repetitions, child)

		return node, nil
	case hasWhile:
		condition, err := conditionString(while, path+".while")
		if err != nil {
			return nil, err
		}

		return models.NewRepeatWhile(condition, child), nil
	default:
		return nil, models.NewInvalidActionError(path, "repeat requires a count or a while condition")
	}
}

// parseChoose reads the ordered branch list plus an optional sibling
// "default" step list, which becomes the unconditioned last branch.
func parseChoose(step map[string]any, path string) (*models.ActionNode, error) {
	rawBranches, ok := step["choose"].([]any)
	if !ok {
		return nil, models.NewParseError(path, fmt.Sprintf("choose must be a branch list, got %T", step["choose"]))
	}

	if len(rawBranches) == 0 {
		return nil, models.NewInvalidActionError(path, "choose requires at least one branch")
	}

	node := models.NewChoose()
	branches := make([]*models.ActionNode, 0, len(rawBranches)+1)

	for i, rawBranch := range rawBranches {
		branchPath := fmt.Sprintf("%s[%d]", path, i)

		branchMap, ok := rawBranch.(map[string]any)
		if !ok {
			return nil, models.NewParseError(branchPath, fmt.Sprintf("branch must be a mapping, got %T", rawBranch))
		}

		rawCondition, ok := branchMap["conditions"]
		if !ok {
			return nil, models.NewInvalidActionError(branchPath, "branch is missing conditions")
		}

		condition, err := conditionString(rawCondition, branchPath+".conditions")
		if err != nil {
			return nil, err
		}

		if condition == "" {
			return nil, models.NewInvalidActionError(branchPath+".conditions", "branch condition must not be empty")
		}

		branch, err := parseComposite(branchMap["sequence"], branchPath+".sequence", models.NewSequence)
		if err != nil {
			return nil, err
		}

		branch.Condition = condition
		branch.ParentID = node.ID
		branches = append(branches, branch)
	}

	if rawDefault, ok := step["default"]; ok {
		branch, err := parseComposite(rawDefault, path+".default", models.NewSequence)
		if err != nil {
			return nil, err
		}

		branch.ParentID = node.ID
		branches = append(branches, branch)
	}

	node.Children = branches

	return node, nil
}

func conditionString(raw any, path string) (string, error) {
	switch value := raw.(type) {
	case string:
		return value, nil
	case bool:
		return fmt.Sprintf("%t", value), nil
	default:
		return "", models.NewInvalidActionError(path, fmt.Sprintf("condition must be a string, got %T", raw))
	}
}

func intValue(raw any) (int, bool) {
	switch n := raw.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}

	return 0, false
}
