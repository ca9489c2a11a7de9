// Package client speaks the line protocol from the caller's side.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"time"
)

const (
	// DefaultReplyTimeout bounds how long Send waits for a reply.
	DefaultReplyTimeout = 2 * time.Second

	prompt          = "> "
	noResponseLabel = "(no response)"
	quitCommand     = "QUIT"
	shutdownCommand = "SHUTDOWN"
)

// ErrNoResponse is returned when the server closed the connection before replying.
var ErrNoResponse = errors.New("no response")

// Reply is one response unit: the status line followed by body lines.
type Reply struct {
	Status string
	Body   []string
}

// String joins the reply the way it appeared on the wire, without the terminator.
func (reply Reply) String() string {
	if reply.Status == "" {
		return ""
	}
	return strings.Join(append([]string{reply.Status}, reply.Body...), "\n")
}

// OK reports whether the status line is a success.
func (reply Reply) OK() bool {
	return strings.HasPrefix(reply.Status, "200")
}

// Option configures a Client.
type Option func(*Client)

// WithReplyTimeout overrides DefaultReplyTimeout. Zero waits forever.
func WithReplyTimeout(timeout time.Duration) Option {
	return func(client *Client) {
		client.replyTimeout = timeout
	}
}

// Client is a single connection to a card server.
type Client struct {
	conn         net.Conn
	reader       *bufio.Reader
	replyTimeout time.Duration
}

// Dial connects to addr.
func Dial(ctx context.Context, addr string, options ...Option) (*Client, error) {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return New(conn, options...), nil
}

// New wraps an established connection.
func New(conn net.Conn, options ...Option) *Client {
	client := &Client{conn: conn, reader: bufio.NewReader(conn), replyTimeout: DefaultReplyTimeout}
	for _, option := range options {
		if option != nil {
			option(client)
		}
	}
	return client
}

// Close closes the connection.
func (client *Client) Close() error {
	return client.conn.Close()
}

// Send writes one command line and reads the reply up to the blank-line terminator.
// A reply cut short by EOF or the reply timeout is returned as far as it was read.
func (client *Client) Send(line string) (Reply, error) {
	line = strings.TrimRight(line, "\r\n")
	if _, err := io.WriteString(client.conn, line+"\n"); err != nil {
		return Reply{}, fmt.Errorf("send: %w", err)
	}
	if client.replyTimeout > 0 {
		if err := client.conn.SetReadDeadline(time.Now().Add(client.replyTimeout)); err != nil {
			return Reply{}, err
		}
		defer func() { _ = client.conn.SetReadDeadline(time.Time{}) }()
	}

	status, err := client.readLine()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Reply{}, ErrNoResponse
		}
		return Reply{}, fmt.Errorf("read status: %w", err)
	}
	reply := Reply{Status: status}
	for {
		bodyLine, err := client.readLine()
		if err != nil || bodyLine == "" {
			return reply, nil
		}
		reply.Body = append(reply.Body, bodyLine)
	}
}

func (client *Client) readLine() (string, error) {
	raw, err := client.reader.ReadString('\n')
	if err != nil && (raw == "" || !errors.Is(err, io.EOF)) {
		return "", err
	}
	return strings.TrimRight(raw, "\r\n"), nil
}

// RunREPL reads commands from input, sends each and prints the reply to output.
// It stops after QUIT or SHUTDOWN; end of input sends QUIT.
func RunREPL(ctx context.Context, client *Client, input io.Reader, output io.Writer) error {
	scanner := bufio.NewScanner(input)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := io.WriteString(output, prompt); err != nil {
			return err
		}
		line := quitCommand
		if scanner.Scan() {
			line = strings.TrimSpace(scanner.Text())
		} else if err := scanner.Err(); err != nil {
			return err
		} else {
			_, _ = io.WriteString(output, "\n")
		}
		if line == "" {
			continue
		}

		reply, err := client.Send(line)
		switch {
		case errors.Is(err, ErrNoResponse):
			_, _ = fmt.Fprintln(output, noResponseLabel)
		case err != nil:
			return err
		default:
			_, _ = fmt.Fprintln(output, reply.String())
		}

		if isTerminal(line) {
			return nil
		}
		if err != nil {
			return ErrNoResponse
		}
	}
}

func isTerminal(line string) bool {
	keyword := strings.ToUpper(line)
	return keyword == quitCommand || keyword == shutdownCommand
}
