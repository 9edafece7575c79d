package chat

import (
	"sync"
	"time"

	"github.com/tablechat/tablechat/internal/dataset"
	"github.com/tablechat/tablechat/internal/nlquery"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleError     Role = "error"
)

const (
	contentFrame = "Here's the data you requested:"
	contentChart = "I've created this visualization for you:"
)

// Message is one transcript entry. Messages are never edited after they are
// appended; Frame and Chart are set only for assistant replies of that type.
type Message struct {
	ID          string
	Role        Role
	Content     string
	Timestamp   time.Time
	ContentType nlquery.Kind
	Frame       *dataset.Dataset
	Chart       *nlquery.Chart
}

// Transcript is an append-only, arrival-ordered list of messages.
type Transcript struct {
	mu       sync.RWMutex
	messages []Message
}

func NewTranscript() *Transcript {
	return &Transcript{}
}

func (t *Transcript) Append(msg Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, msg)
}

func (t *Transcript) Messages() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

func (t *Transcript) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = nil
}

func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

func assistantMessage(result nlquery.Result) Message {
	msg := Message{Role: RoleAssistant, ContentType: result.Kind}
	switch result.Kind {
	case nlquery.KindDataframe:
		msg.Content = contentFrame
		msg.Frame = result.Frame
	case nlquery.KindChart:
		msg.Content = contentChart
		msg.Chart = result.Chart
	default:
		msg.ContentType = nlquery.KindText
		msg.Content = result.Text
	}
	return msg
}
