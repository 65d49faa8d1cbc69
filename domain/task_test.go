package domain

import (
	"reflect"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
)

func TestTodoMarshalIncludesZeroPosition(t *testing.T) {
	payload, err := sonic.Marshal(Todo{ID: "t1", Content: "x", CategoryID: "c1"})
	if err != nil {
		t.Fatalf("marshal todo: %v", err)
	}
	if !strings.Contains(string(payload), "\"position\":0") {
		t.Fatalf("expected position field to be present, got %s", payload)
	}
	if strings.Contains(string(payload), "dueDate") {
		t.Fatalf("expected empty due date to be omitted, got %s", payload)
	}
}

func TestTodoUpdateApply(t *testing.T) {
	content := "new"
	done := true
	tags := []string{" a ", "b", "a", ""}
	upd := TodoUpdate{Content: &content, IsCompleted: &done, Tags: &tags}

	got := upd.Apply(Todo{ID: "t1", Content: "old", Description: "keep", CategoryID: "c1"})
	want := Todo{ID: "t1", Content: "new", Description: "keep", IsCompleted: true, Tags: []string{"a", "b"}, CategoryID: "c1"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Apply = %#v, want %#v", got, want)
	}
	if upd.IsEmpty() || !(TodoUpdate{}).IsEmpty() {
		t.Fatalf("unexpected IsEmpty result")
	}
}

func TestTodoUpdateDecodesPartialBody(t *testing.T) {
	var upd TodoUpdate
	if err := sonic.Unmarshal([]byte(`{"isCompleted":false,"tags":[]}`), &upd); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if upd.IsCompleted == nil || *upd.IsCompleted || upd.Tags == nil || upd.Content != nil {
		t.Fatalf("unexpected update %#v", upd)
	}
}

func TestSortByPositionIsStable(t *testing.T) {
	cats := []Category{
		{ID: "b", Position: 1, Todos: []Todo{{ID: "2", Position: 1}, {ID: "1", Position: 0}}},
		{ID: "a", Position: 0},
		{ID: "a2", Position: 0},
	}
	SortByPosition(cats)
	if got := IDs(cats); !reflect.DeepEqual(got, []string{"a", "a2", "b"}) {
		t.Fatalf("unexpected category order %v", got)
	}
	if got := IDs(cats[2].Todos); !reflect.DeepEqual(got, []string{"1", "2"}) {
		t.Fatalf("unexpected todo order %v", got)
	}
}

func TestCloneBoardIsDeep(t *testing.T) {
	orig := []Category{{ID: "c", Todos: []Todo{{ID: "t", Tags: []string{"x"}}}}}
	cp := CloneBoard(orig)
	cp[0].Todos[0].Tags[0] = "y"
	cp[0].Todos[0].Content = "changed"
	if orig[0].Todos[0].Tags[0] != "x" || orig[0].Todos[0].Content != "" {
		t.Fatalf("clone shares memory: %#v", orig)
	}
}
