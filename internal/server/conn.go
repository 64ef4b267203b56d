package server

import (
	"bufio"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kidxcudi/Synq/internal/crypto/seal"
	"github.com/kidxcudi/Synq/internal/protocol"
)

// conn wraps one client transport endpoint. It is owned exclusively by its
// handler goroutine; the registry only references it through the Peer
// interface. Writes are serialized so relayed messages from other
// connections never interleave with replies.
type conn struct {
	id          string
	raw         net.Conn
	reader      *bufio.Reader
	readTimeout time.Duration

	writeMu sync.Mutex

	sessionKey []byte
	username   string

	log *zap.Logger
}

func newConn(raw net.Conn, readTimeout time.Duration, log *zap.Logger) *conn {
	id := uuid.NewString()
	return &conn{
		id:          id,
		raw:         raw,
		reader:      bufio.NewReader(raw),
		readTimeout: readTimeout,
		log:         log.With(zap.String("conn_id", id), zap.String("remote", raw.RemoteAddr().String())),
	}
}

// readLine blocks for the next protocol line, bounded by the idle-read
// timeout. A stalled client must not hold a slot forever.
func (c *conn) readLine() (string, error) {
	if c.readTimeout > 0 {
		if err := c.raw.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
			return "", fmt.Errorf("set read deadline: %w", err)
		}
	}
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (c *conn) writeLine(line string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.raw.Write([]byte(line + "\n"))
	return err
}

// sendPlain writes an unencrypted handshake-phase reply.
func (c *conn) sendPlain(msgType, text string) error {
	line, err := protocol.Serialize(protocol.PlainReply(msgType, text))
	if err != nil {
		return err
	}
	return c.writeLine(line)
}

// SendSealed encrypts a message under the session key and writes it.
func (c *conn) SendSealed(msg protocol.Message) error {
	if c.sessionKey == nil {
		return fmt.Errorf("no session key for connection %s", c.id)
	}
	line, err := protocol.Serialize(msg)
	if err != nil {
		return err
	}
	blob, err := seal.Encrypt(c.sessionKey, line)
	if err != nil {
		return err
	}
	return c.writeLine(blob)
}

// Username returns the bound username, "" before login completes.
func (c *conn) Username() string { return c.username }

// Secure reports whether the handshake established a session key.
func (c *conn) Secure() bool { return c.sessionKey != nil }

// Close releases the stream resources.
func (c *conn) Close() error { return c.raw.Close() }
