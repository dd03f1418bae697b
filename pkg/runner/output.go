package runner

import (
	"bytes"
	"fmt"
)

// cappedBuffer collects at most max bytes and silently drops the rest, so a
// chatty program never blocks on a full pipe.
type cappedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated int
}

func newCappedBuffer(max int) *cappedBuffer {
	return &cappedBuffer{max: max}
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if c.max <= 0 {
		c.buf.Write(p)
		return len(p), nil
	}
	room := c.max - c.buf.Len()
	if room <= 0 {
		c.truncated += len(p)
		return len(p), nil
	}
	if len(p) > room {
		c.buf.Write(p[:room])
		c.truncated += len(p) - room
		return len(p), nil
	}
	c.buf.Write(p)
	return len(p), nil
}

func (c *cappedBuffer) Len() int {
	return c.buf.Len()
}

func (c *cappedBuffer) String() string {
	if c.truncated == 0 {
		return c.buf.String()
	}
	return c.buf.String() + fmt.Sprintf("\n[output truncated: %d bytes dropped]", c.truncated)
}
