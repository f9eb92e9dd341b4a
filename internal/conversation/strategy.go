package conversation

import (
	"github.com/cloudwego/eino/schema"
)

// ContextStrategy picks the history a model sees.
type ContextStrategy interface {
	Select(messages []*schema.Message) []*schema.Message
	MaxTurns() int
}

// LastTurns keeps the most recent user/assistant exchanges.
type LastTurns struct {
	turns int
}

// NewLastTurns keeps the last n turns (2n messages).
func NewLastTurns(n int) *LastTurns {
	if n < 0 {
		n = 0
	}
	return &LastTurns{turns: n}
}

func (s *LastTurns) MaxTurns() int {
	return s.turns
}

func (s *LastTurns) Select(messages []*schema.Message) []*schema.Message {
	var chat []*schema.Message
	for _, m := range messages {
		if m.Role == schema.User || m.Role == schema.Assistant {
			chat = append(chat, m)
		}
	}
	return trimTail(chat, 2*s.turns)
}

func trimTail(messages []*schema.Message, n int) []*schema.Message {
	if len(messages) <= n {
		return messages
	}
	return messages[len(messages)-n:]
}
