package client

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/toidukodu/tehiskokk/internal/chat"
)

const WelcomeID = "welcome"

const WelcomeMessage = `Tere! Olen Sinu isiklik tehisintellektist toidunõustaja, treenitud Emma-Leena toidufilosoofia järgi.

Aitan Sul luua tervislikke ja maitsvaid toidukavasid just Sinu vajadustele.

Räägi mulle:
• Mida Sa armastad süüa?
• Mida Sa ei saa süüa?
• Kui palju aega Sul on süüa teha?`

// ExamplesTitle heads the starter prompts offered on a fresh conversation.
const ExamplesTitle = "Näited, mida küsida:"

// ExamplePrompts are offered while the transcript holds only the welcome
// message.
var ExamplePrompts = []string{
	"Tee mulle nädala toidukava, olen vegan",
	"Mul on 30 min aega, mida õhtuks teha?",
	"Tahan rohkem valku, aga ei söö liha",
}

// FailureMessage replaces the assistant placeholder when a turn fails.
const FailureMessage = "Vabandust, midagi läks valesti. Palun proovi uuesti."

// Turn is one visible message.
type Turn struct {
	ID       string
	Role     chat.Role
	Content  string
	ImageURL *string
}

// Transcript is the visible, ordered message list. It is safe for
// concurrent use.
type Transcript struct {
	mu    sync.RWMutex
	turns []Turn
}

var localSeq atomic.Uint64

func localID(prefix string) string {
	return fmt.Sprintf("%s-%d-%d", prefix, time.Now().UnixMilli(), localSeq.Add(1))
}

func (t *Transcript) Append(turn Turn) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.turns = append(t.turns, turn)
}

// Replace sets the content of the turn with id. It reports whether the turn
// exists.
func (t *Transcript) Replace(id, content string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.turns {
		if t.turns[i].ID == id {
			t.turns[i].Content = content
			return true
		}
	}
	return false
}

// Reset drops all turns and shows only the welcome message.
func (t *Transcript) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.turns = []Turn{{ID: WelcomeID, Role: chat.RoleAssistant, Content: WelcomeMessage}}
}

// Load replaces the transcript with persisted history, or with the welcome
// message when history is empty.
func (t *Transcript) Load(msgs []chat.Message) {
	if len(msgs) == 0 {
		t.Reset()
		return
	}
	turns := make([]Turn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, Turn{ID: m.ID, Role: m.Role, Content: m.Content, ImageURL: m.ImageURL})
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.turns = turns
}

// Fresh reports whether only the welcome message is shown.
func (t *Transcript) Fresh() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.turns) == 1 && t.turns[0].ID == WelcomeID
}

// Turns returns a copy of the visible turns.
func (t *Transcript) Turns() []Turn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]Turn(nil), t.turns...)
}

// Get returns the turn with id.
func (t *Transcript) Get(id string) (Turn, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, turn := range t.turns {
		if turn.ID == id {
			return turn, true
		}
	}
	return Turn{}, false
}
