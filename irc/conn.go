package irc

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/chatstream/telemetry"
)

// reconnectBackoff is the fixed delay between failed connection attempts. The
// connection never gives up on its own; only Stop halts the loop.
const reconnectBackoff = 2500 * time.Millisecond

// AnonymousPassword is the shared password for justinfan guest logins.
const AnonymousPassword = "SCHMOOPIIE"

var (
	// errFastReconnect marks a server-side disconnect: retry immediately,
	// without the failure notification or backoff.
	errFastReconnect = errors.New("server closed connection")
	errLoginRejected = errors.New("login rejected")
	errNotConnected  = errors.New("not connected")
)

// Handler receives parsed wire traffic and lifecycle events from a Conn. All
// calls happen on the connection worker goroutine.
type Handler interface {
	HandleWire(msg *Message)
	HandleConnecting()
	HandleConnected()
	HandleReconnecting()
	HandleConnectionFailed()
}

// Config describes one live chat connection.
type Config struct {
	Server  string
	Port    int
	PortTLS int
	UseTLS  bool
	// Username/Token select authenticated login. An empty Username selects an
	// anonymous justinfan guest instead.
	Username string
	Token    string
	Channel  string // channel login, without '#'
}

// Conn owns a single live chat connection: connect, authenticate, join, read
// loop, ping/pong and infinite reconnect. Create with NewConn, drive with Run
// on a dedicated goroutine, halt with Stop.
type Conn struct {
	cfg     Config
	handler Handler
	nick    string
	pass    string
	logger  *slog.Logger

	mu      sync.Mutex
	sock    net.Conn
	writer  *bufio.Writer
	stopped bool
	stopCh  chan struct{}
}

func NewConn(cfg Config, h Handler) *Conn {
	telemetry.Init()
	c := &Conn{
		cfg:     cfg,
		handler: h,
		stopCh:  make(chan struct{}),
		logger:  slog.Default().With(slog.String("component", "irc"), slog.String("channel", cfg.Channel)),
	}
	if cfg.Username != "" {
		c.nick = cfg.Username
		c.pass = "oauth:" + cfg.Token
	} else {
		c.nick = fmt.Sprintf("justinfan%d", 10000+rand.Intn(90000))
		c.pass = AnonymousPassword
	}
	return c
}

// Nick returns the login the connection authenticates with (the generated guest
// name in anonymous mode).
func (c *Conn) Nick() string { return c.nick }

// Run connects and reads until Stop or context cancellation. Reconnection is
// unconditional and unlimited, with a fixed backoff after failures.
func (c *Conn) Run(ctx context.Context) {
	for {
		if c.isStopped() || ctx.Err() != nil {
			return
		}
		c.handler.HandleConnecting()
		err := c.runOnce(ctx)
		if c.isStopped() || ctx.Err() != nil {
			return
		}
		if err != nil && !errors.Is(err, errFastReconnect) {
			c.logger.Warn("chat connection failed", slog.Any("err", err))
			c.handler.HandleConnectionFailed()
			select {
			case <-time.After(reconnectBackoff):
			case <-c.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
		telemetry.Reconnects.Inc()
		c.handler.HandleReconnecting()
	}
}

func (c *Conn) runOnce(ctx context.Context) error {
	port := c.cfg.Port
	if c.cfg.UseTLS {
		port = c.cfg.PortTLS
	}
	addr := net.JoinHostPort(c.cfg.Server, strconv.Itoa(port))
	c.logger.Debug("chat connecting", slog.String("addr", addr), slog.Bool("tls", c.cfg.UseTLS))

	dialer := &net.Dialer{Timeout: 10 * time.Second}
	var sock net.Conn
	var err error
	if c.cfg.UseTLS {
		sock, err = tls.DialWithDialer(dialer, "tcp", addr, nil)
	} else {
		sock, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		_ = sock.Close()
		return nil
	}
	c.sock = sock
	c.writer = bufio.NewWriter(sock)
	c.mu.Unlock()
	defer func() {
		_ = sock.Close()
		c.mu.Lock()
		c.sock = nil
		c.writer = nil
		c.mu.Unlock()
		telemetry.SetConnected(false)
	}()

	if err := c.sendRaw("PASS " + c.pass); err != nil {
		return err
	}
	if err := c.sendRaw("NICK " + c.nick); err != nil {
		return err
	}
	if err := c.sendRaw("USER " + c.nick); err != nil {
		return err
	}

	sc := bufio.NewScanner(sock)
	sc.Buffer(make([]byte, 0, 4096), 64*1024)
	for sc.Scan() {
		if c.isStopped() {
			return nil
		}
		line := strings.TrimSuffix(sc.Text(), "\r")

		// Checked before dispatch: a login rejection arrives as a NOTICE to
		// the "*" target and must hit the failure path, not the NOTICE handler.
		if strings.Contains(line, "NOTICE * :Error logging in") {
			return errLoginRejected
		}

		if msg, ok := ParseMessage(line); ok {
			telemetry.LinesParsed.Inc()
			c.handler.HandleWire(msg)
			continue
		}

		switch {
		case strings.Contains(line, "004 "+c.nick+" :"):
			// Numeric welcome: request tag/command capabilities, then join.
			c.logger.Debug("chat connected", slog.String("nick", c.nick))
			telemetry.SetConnected(true)
			c.handler.HandleConnected()
			if err := c.sendRaw("CAP REQ :twitch.tv/tags twitch.tv/commands"); err != nil {
				return err
			}
			if err := c.sendRaw("JOIN #" + c.cfg.Channel); err != nil {
				return err
			}
		case strings.HasPrefix(line, "PING"):
			pong := "PONG"
			if len(line) > 5 {
				pong = "PONG " + line[5:]
			}
			if err := c.sendRaw(pong); err != nil {
				return err
			}
		case strings.Contains(strings.ToLower(line), "disconnected"):
			c.logger.Warn("server-initiated disconnect")
			return errFastReconnect
		default:
			telemetry.LinesUnparsed.Inc()
			c.logger.Debug("unhandled line", slog.String("line", line))
		}
	}
	if c.isStopped() {
		return nil
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("read: %w", err)
	}
	return errFastReconnect
}

// SendMessage sends a chat message to the joined channel.
func (c *Conn) SendMessage(text string) error {
	return c.sendRaw("PRIVMSG #" + c.cfg.Channel + " :" + text)
}

func (c *Conn) sendRaw(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writer == nil {
		return errNotConnected
	}
	if _, err := c.writer.WriteString(line + "\r\n"); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return c.writer.Flush()
}

// Stop sends a channel-leave courtesy message, closes the socket and halts the
// reconnect loop. Safe to call more than once.
func (c *Conn) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	close(c.stopCh)
	if c.writer != nil {
		_, _ = c.writer.WriteString("PART #" + c.cfg.Channel + "\r\n")
		_ = c.writer.Flush()
	}
	sock := c.sock
	c.mu.Unlock()
	if sock != nil {
		_ = sock.Close()
	}
}

func (c *Conn) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}
