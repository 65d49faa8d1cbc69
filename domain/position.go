package domain

import "fmt"

// Positioned is implemented by values that occupy a dense rank among their
// siblings.
type Positioned[T any] interface {
	Key() string
	WithPosition(pos int) T
}

// Reindex returns a copy of list where every element's position equals its
// index.
func Reindex[T Positioned[T]](list []T) []T {
	out := make([]T, len(list))
	for i, item := range list {
		out[i] = item.WithPosition(i)
	}
	return out
}

// InsertAt inserts item at index, clamped to [0, len(list)], and reindexes.
func InsertAt[T Positioned[T]](list []T, item T, index int) []T {
	index = clamp(index, len(list))
	out := make([]T, 0, len(list)+1)
	out = append(out, list[:index]...)
	out = append(out, item)
	out = append(out, list[index:]...)
	return Reindex(out)
}

// RemoveByID removes the element with the given id and reindexes the rest.
// When id is absent a reindexed copy of list is returned with ErrNotFound.
func RemoveByID[T Positioned[T]](list []T, id string) ([]T, error) {
	out := make([]T, 0, len(list))
	found := false
	for _, item := range list {
		if !found && item.Key() == id {
			found = true
			continue
		}
		out = append(out, item)
	}
	if !found {
		return Reindex(list), fmt.Errorf("%q: %w", id, ErrNotFound)
	}
	return Reindex(out), nil
}

// MoveWithinList moves the element at from to index to. The destination is
// interpreted against the list with the element already removed and clamped
// to append. from must address an existing element.
func MoveWithinList[T Positioned[T]](list []T, from, to int) ([]T, error) {
	if from < 0 || from >= len(list) {
		return nil, fmt.Errorf("move from %d in list of %d: %w", from, len(list), ErrInvalidIndex)
	}
	item := list[from]
	rest := make([]T, 0, len(list))
	rest = append(rest, list[:from]...)
	rest = append(rest, list[from+1:]...)
	return InsertAt(rest, item, to), nil
}

// MoveAcrossLists removes todoID from source, re-parents it to
// destCategoryID and inserts it into dest at destIndex (clamped). Both lists
// are reindexed independently.
func MoveAcrossLists(source, dest []Todo, todoID, destCategoryID string, destIndex int) ([]Todo, []Todo, error) {
	idx := FindTodo(source, todoID)
	if idx < 0 {
		return nil, nil, fmt.Errorf("todo %q: %w", todoID, ErrNotFound)
	}
	moved := source[idx]
	moved.CategoryID = destCategoryID
	newSource, _ := RemoveByID(source, todoID)
	return newSource, InsertAt(dest, moved, destIndex), nil
}

// IDs returns the keys of list in order.
func IDs[T Positioned[T]](list []T) []string {
	ids := make([]string, len(list))
	for i, item := range list {
		ids[i] = item.Key()
	}
	return ids
}

func clamp(index, length int) int {
	if index < 0 {
		return 0
	}
	if index > length {
		return length
	}
	return index
}
