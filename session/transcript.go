package session

import (
	"strings"
	"sync"
	"time"
)

// ChunkSource identifies where a transcript chunk came from.
type ChunkSource string

const (
	// SourceOutput is agent output read from the terminal.
	SourceOutput ChunkSource = "output"
	// SourceResponse is input the engine injected on the agent's behalf.
	SourceResponse ChunkSource = "response"
)

// Chunk is one ordered piece of session I/O.
type Chunk struct {
	Seq    int         `json:"seq"`
	Time   time.Time   `json:"time"`
	Source ChunkSource `json:"source"`
	Data   string      `json:"data"`
}

// Transcript is an append-only, ordered record of a session. Chunks are
// appended in arrival order and never mutated afterwards.
type Transcript struct {
	mu     sync.RWMutex
	chunks []Chunk
	size   int
}

// NewTranscript creates an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{}
}

// AppendOutput records a chunk of agent output.
func (t *Transcript) AppendOutput(data []byte) {
	t.append(SourceOutput, string(data))
}

// AppendResponse records input the engine wrote to the agent.
func (t *Transcript) AppendResponse(data string) {
	t.append(SourceResponse, data)
}

func (t *Transcript) append(src ChunkSource, data string) {
	if data == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.chunks = append(t.chunks, Chunk{
		Seq:    len(t.chunks),
		Time:   time.Now(),
		Source: src,
		Data:   data,
	})
	t.size += len(data)
}

// Chunks returns a copy of all recorded chunks in order.
func (t *Transcript) Chunks() []Chunk {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Chunk, len(t.chunks))
	copy(out, t.chunks)
	return out
}

// Len returns the number of chunks recorded.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.chunks)
}

// Size returns the total byte size of all chunk data.
func (t *Transcript) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.size
}

// String returns the full concatenated transcript.
func (t *Transcript) String() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var sb strings.Builder
	sb.Grow(t.size)
	for _, c := range t.chunks {
		sb.WriteString(c.Data)
	}
	return sb.String()
}

// Tail returns the last n bytes of concatenated output chunks. Injected
// responses are excluded so detectors only see what the agent printed.
func (t *Transcript) Tail(n int) string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var sb strings.Builder
	for _, c := range t.chunks {
		if c.Source == SourceOutput {
			sb.WriteString(c.Data)
		}
	}
	s := sb.String()
	if len(s) > n {
		return s[len(s)-n:]
	}
	return s
}
