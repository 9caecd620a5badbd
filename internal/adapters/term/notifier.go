package term

import (
	"fmt"
	"io"
	"sync"

	"github.com/dkeye/Mesh/internal/codec"
	"github.com/dkeye/Mesh/internal/domain"
)

// Printer writes notices and chat lines to a terminal. It is safe for
// concurrent use.
type Printer struct {
	mu  sync.Mutex
	out io.Writer
}

func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

func (p *Printer) Notify(n domain.Notice) {
	var line string
	switch n.Level {
	case domain.NoticeWarn:
		line = WarningStyle.Render("! " + n.Message)
	case domain.NoticeError:
		line = ErrorStyle.Render("x " + n.Message)
	default:
		line = InfoStyle.Render("* " + n.Message)
	}
	p.println(line)
}

// Chat prints an inbound message. names maps session ids to display names.
func (p *Printer) Chat(msg codec.ChatMessage, names map[string]string) {
	from := names[msg.From]
	if from == "" {
		from = shortID(msg.From)
	}
	p.println(NameStyle.Render(from) + " " + msg.Message)
}

func (p *Printer) Println(s string) { p.println(s) }

func (p *Printer) println(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, s)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
