package session

import (
	"fmt"
	"strings"
	"sync"
	"testing"
)

func TestTranscript_Ordering(t *testing.T) {
	tr := NewTranscript()
	tr.AppendOutput([]byte("first "))
	tr.AppendResponse("y\n")
	tr.AppendOutput([]byte("second"))

	chunks := tr.Chunks()
	if len(chunks) != 3 {
		t.Fatalf("len(chunks) = %d, want 3", len(chunks))
	}
	for i, c := range chunks {
		if c.Seq != i {
			t.Errorf("chunks[%d].Seq = %d", i, c.Seq)
		}
	}
	if chunks[1].Source != SourceResponse {
		t.Errorf("chunks[1].Source = %s, want response", chunks[1].Source)
	}
	if got := tr.String(); got != "first y\nsecond" {
		t.Errorf("String() = %q", got)
	}
}

func TestTranscript_TailExcludesResponses(t *testing.T) {
	tr := NewTranscript()
	tr.AppendOutput([]byte("agent output"))
	tr.AppendResponse("injected\n")

	if tail := tr.Tail(100); strings.Contains(tail, "injected") {
		t.Errorf("Tail() = %q, should not contain injected responses", tail)
	}
}

func TestTranscript_TailBound(t *testing.T) {
	tr := NewTranscript()
	tr.AppendOutput([]byte(strings.Repeat("a", 100)))
	tr.AppendOutput([]byte(strings.Repeat("b", 100)))

	tail := tr.Tail(50)
	if len(tail) != 50 {
		t.Fatalf("len(Tail(50)) = %d", len(tail))
	}
	if tail != strings.Repeat("b", 50) {
		t.Errorf("Tail(50) = %q, want trailing bytes", tail)
	}
}

func TestTranscript_EmptyChunkDropped(t *testing.T) {
	tr := NewTranscript()
	tr.AppendOutput(nil)
	tr.AppendResponse("")
	if tr.Len() != 0 {
		t.Errorf("Len() = %d, want 0", tr.Len())
	}
}

func TestTranscript_ConcurrentAppend(t *testing.T) {
	tr := NewTranscript()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tr.AppendOutput([]byte(fmt.Sprintf("w%d-%d ", n, j)))
			}
		}(i)
	}
	wg.Wait()

	if tr.Len() != 1000 {
		t.Fatalf("Len() = %d, want 1000", tr.Len())
	}
	for i, c := range tr.Chunks() {
		if c.Seq != i {
			t.Fatalf("chunks[%d].Seq = %d, sequence broken", i, c.Seq)
		}
	}
}
