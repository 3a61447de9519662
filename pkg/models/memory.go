package models

// Memory is the conversation context carried between agent iterations and
// across messages within one chat. It is an ordered transcript; folding
// (thinking replay rules, collapsible-result summarization) is applied when
// the prompt is built, not here.
type Memory struct {
	Messages []Message `json:"messages"`
}

// Append adds messages to the end of the memory.
func (m *Memory) Append(msgs ...Message) {
	m.Messages = append(m.Messages, msgs...)
}

// Clone returns a deep-enough copy: the message slice is copied, blocks are
// shared (blocks are treated as immutable once appended).
func (m *Memory) Clone() *Memory {
	if m == nil {
		return &Memory{}
	}
	msgs := make([]Message, len(m.Messages))
	copy(msgs, m.Messages)
	return &Memory{Messages: msgs}
}
