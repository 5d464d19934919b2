package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

type recordingWriter struct {
	entries []Entry
	err     error
}

func (w *recordingWriter) Write(_ context.Context, e Entry) error {
	w.entries = append(w.entries, e)
	return w.err
}

func TestMultiWriterFansOutAndJoinsErrors(t *testing.T) {
	ok := &recordingWriter{}
	failing := &recordingWriter{err: errors.New("broker down")}
	mw := NewMultiWriter(ok, nil, failing)

	entry := NewEntry(EntityAssignment, uuid.New(), nil, "assigned", "", nil)
	err := mw.Write(context.Background(), entry)
	if err == nil {
		t.Fatal("expected joined error")
	}
	if len(ok.entries) != 1 || len(failing.entries) != 1 {
		t.Fatal("every writer must receive the entry")
	}
	if entry.Actor != ActorSystem {
		t.Fatalf("expected system actor, got %q", entry.Actor)
	}
}
