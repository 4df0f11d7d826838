package device

import (
	"github.com/mattn/go-tty"
	"github.com/pkg/errors"

	"github.com/klamath-os/klamath/log"
)

// TTYConsole feeds the console from the controlling terminal in raw
// mode. A reader goroutine drains the tty into the poll buffer; the
// kernel side stays non-blocking.
type TTYConsole struct {
	BufferedConsole

	tty *tty.TTY
}

func NewTTYConsole() (*TTYConsole, error) {
	t, err := tty.Open()
	if err != nil {
		return nil, errors.Wrap(err, "opening tty")
	}

	c := &TTYConsole{tty: t}
	c.out = t.Output()

	go c.reader()

	return c, nil
}

func (c *TTYConsole) reader() {
	for {
		r, err := c.tty.ReadRune()
		if err != nil {
			log.L.Error("tty read failed", "error", err)
			return
		}

		if r == '\r' {
			r = '\n'
		}

		c.Push([]byte(string(r)))
	}
}

func (c *TTYConsole) Close() error {
	return c.tty.Close()
}
