package domain

import "strings"

// Filter keeps the todos whose content, description or any tag contains term
// case-insensitively, and drops categories left without matches. An empty
// term returns a copy of the whole board. The input is never modified.
func Filter(categories []Category, term string) []Category {
	needle := strings.ToLower(strings.TrimSpace(term))
	if needle == "" {
		return CloneBoard(categories)
	}
	out := make([]Category, 0, len(categories))
	for _, c := range categories {
		var todos []Todo
		for _, t := range c.Todos {
			if todoMatches(t, needle) {
				todos = append(todos, t.Clone())
			}
		}
		if len(todos) == 0 {
			continue
		}
		c.Todos = todos
		out = append(out, c)
	}
	return out
}

func todoMatches(t Todo, needle string) bool {
	if strings.Contains(strings.ToLower(t.Content), needle) {
		return true
	}
	if t.Description != "" && strings.Contains(strings.ToLower(t.Description), needle) {
		return true
	}
	for _, tag := range t.Tags {
		if strings.Contains(strings.ToLower(tag), needle) {
			return true
		}
	}
	return false
}
