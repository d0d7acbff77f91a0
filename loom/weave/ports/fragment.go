package weaveports

import "fmt"

// Fragment is a contiguous slice of conversation history plus its token total.
// TotalTokens always equals the sum of the token counts of Messages.
type Fragment struct {
	Instance    int       `json:"instance"` // storage-assigned ordinal, 0 until first save
	TotalTokens int       `json:"total_tokens"`
	Messages    []Message `json:"messages"`
}

// Append adds messages and keeps TotalTokens in sync.
func (f *Fragment) Append(counter TokenCounter, msgs ...Message) {
	for _, m := range msgs {
		f.Messages = append(f.Messages, m)
		f.TotalTokens += counter.CountTokens(m.Content)
	}
}

// Recount recomputes TotalTokens from scratch and returns the new total.
func (f *Fragment) Recount(counter TokenCounter) int {
	total := 0
	for _, m := range f.Messages {
		total += counter.CountTokens(m.Content)
	}
	f.TotalTokens = total
	return total
}

// Verify reports a bookkeeping drift between TotalTokens and the message contents.
func (f *Fragment) Verify(counter TokenCounter) error {
	total := 0
	for _, m := range f.Messages {
		total += counter.CountTokens(m.Content)
	}
	if total != f.TotalTokens {
		return fmt.Errorf("fragment token drift: recorded %d, counted %d", f.TotalTokens, total)
	}
	return nil
}

// Clone returns a deep copy so stores never share message slices with callers.
func (f *Fragment) Clone() *Fragment {
	if f == nil {
		return nil
	}
	out := *f
	out.Messages = append([]Message(nil), f.Messages...)
	return &out
}
