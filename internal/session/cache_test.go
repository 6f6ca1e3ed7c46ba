package session

import (
	"errors"
	"testing"
)

func TestCachePutGet(t *testing.T) {
	c := NewCache()
	c.Put(&Question{Number: 1, Body: "first"})

	q, err := c.Get(1)
	if err != nil {
		t.Fatalf("Get(1) failed: %v", err)
	}
	if q.Body != "first" {
		t.Errorf("body = %q, want %q", q.Body, "first")
	}
}

func TestCacheMissIsExplicitError(t *testing.T) {
	c := NewCache()

	_, err := c.Get(7)
	if !errors.Is(err, ErrNotCached) {
		t.Fatalf("Get(7) = %v, want ErrNotCached", err)
	}
}

func TestCacheIsAppendOnly(t *testing.T) {
	c := NewCache()
	c.Put(&Question{Number: 2, Body: "original"})
	c.Put(&Question{Number: 2, Body: "replacement"})

	q, err := c.Get(2)
	if err != nil {
		t.Fatalf("Get(2) failed: %v", err)
	}
	if q.Body != "original" {
		t.Errorf("body = %q, the first write must win", q.Body)
	}
	if c.Len() != 1 {
		t.Errorf("len = %d, want 1", c.Len())
	}
}

func TestAnswerSetSkipDoesNotCreateAnswer(t *testing.T) {
	a := NewAnswerSet()
	a.Skip(3)

	if _, ok := a.Answer(3); ok {
		t.Error("skip created an answer entry")
	}
	if !a.Skipped(3) {
		t.Error("question 3 not in skip set")
	}
}

func TestAnswerSetRecordClearsSkip(t *testing.T) {
	a := NewAnswerSet()
	a.Skip(4)
	a.Record(4, "b")

	if a.Skipped(4) {
		t.Error("answered question still in skip set")
	}
	if v, ok := a.Answer(4); !ok || v != "b" {
		t.Errorf("answer = %q, %v; want \"b\", true", v, ok)
	}
}

func TestAnswerSetSkipDoesNotOverrideAnswer(t *testing.T) {
	a := NewAnswerSet()
	a.Record(5, "c")
	a.Skip(5)

	if a.Skipped(5) {
		t.Error("skip overrode an existing answer")
	}
	if _, ok := a.Answer(5); !ok {
		t.Error("answer lost")
	}
}
