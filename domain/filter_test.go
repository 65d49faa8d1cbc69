package domain

import (
	"reflect"
	"testing"
)

func sampleBoard() []Category {
	return []Category{
		{ID: "c1", Title: "Backlog", Position: 0, Todos: []Todo{
			{ID: "t1", Content: "Buy milk", CategoryID: "c1", Position: 0},
			{ID: "t2", Content: "Pay rent", Description: "Before the FIRST", CategoryID: "c1", Position: 1},
		}},
		{ID: "c2", Title: "Doing", Position: 1, Todos: []Todo{
			{ID: "t3", Content: "Fix bike", Tags: []string{"Errand"}, CategoryID: "c2", Position: 0},
		}},
		{ID: "c3", Title: "Empty", Position: 2, Todos: []Todo{}},
	}
}

func TestFilterMatchesFields(t *testing.T) {
	tests := []struct {
		term string
		want map[string][]string
	}{
		{term: "MILK", want: map[string][]string{"c1": {"t1"}}},
		{term: "first", want: map[string][]string{"c1": {"t2"}}},
		{term: "errand", want: map[string][]string{"c2": {"t3"}}},
		{term: "i", want: map[string][]string{"c1": {"t1", "t2"}, "c2": {"t3"}}},
		{term: "nothing", want: map[string][]string{}},
	}
	for _, tt := range tests {
		t.Run(tt.term, func(t *testing.T) {
			got := map[string][]string{}
			for _, c := range Filter(sampleBoard(), tt.term) {
				got[c.ID] = IDs(c.Todos)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Filter(%q) = %v, want %v", tt.term, got, tt.want)
			}
		})
	}
}

func TestFilterEmptyTermReturnsCopy(t *testing.T) {
	board := sampleBoard()
	out := Filter(board, "  ")
	if !reflect.DeepEqual(out, board) {
		t.Fatalf("expected whole board, got %#v", out)
	}
	out[1].Todos[0].Tags[0] = "changed"
	if board[1].Todos[0].Tags[0] != "Errand" {
		t.Fatalf("filter result shares memory with input")
	}
}
