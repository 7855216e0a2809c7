package mailer

import (
	"context"
	"errors"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildMessage(t *testing.T) {
	date := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	raw := string(BuildMessage("shop@example.com", Message{
		To:      []string{"a@example.com", "b@example.com"},
		Subject: "Your order\r\nBcc: evil@example.com",
		Body:    "line one\nline two",
	}, date))

	head, body, found := strings.Cut(raw, "\r\n\r\n")
	require.True(t, found)

	assert.Contains(t, head, "From: shop@example.com\r\n")
	assert.Contains(t, head, "To: a@example.com, b@example.com\r\n")
	assert.Contains(t, head, "Subject: Your order  Bcc: evil@example.com\r\n")
	assert.NotContains(t, head, "\r\nBcc:")
	assert.Contains(t, head, "Date: Fri, 02 Jan 2026 03:04:05 +0000")
	assert.Equal(t, "line one\r\nline two", body)
}

func TestSMTPMailer_RequiresRecipients(t *testing.T) {
	m := &SMTPMailer{Host: "localhost", Port: 25, From: "shop@example.com"}
	assert.Error(t, m.Send(context.Background(), Message{Subject: "x"}))
}

func TestLogMailer_NeverFails(t *testing.T) {
	assert.NoError(t, LogMailer{}.Send(context.Background(), Message{To: []string{"a@example.com"}, Subject: "s", Body: "b"}))
}

func listen(t *testing.T) (net.Listener, string, int) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return ln, host, port
}

func TestSMTPMailer_SilentServerTimesOut(t *testing.T) {
	ln, host, port := listen(t)

	// Accept connections and never say a word.
	var mu sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			mu.Lock()
			conns = append(conns, c)
			mu.Unlock()
		}
	}()
	t.Cleanup(func() {
		mu.Lock()
		defer mu.Unlock()
		for _, c := range conns {
			c.Close()
		}
	})

	m := &SMTPMailer{Host: host, Port: port, From: "shop@example.com", Timeout: 200 * time.Millisecond}
	start := time.Now()
	err := m.Send(context.Background(), Message{To: []string{"a@example.com"}, Subject: "s", Body: "b"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSMTPMailer_CancelledContextStopsSend(t *testing.T) {
	ln, host, port := listen(t)
	accepted := make(chan net.Conn, 1)
	go func() {
		if c, err := ln.Accept(); err == nil {
			accepted <- c
		}
	}()
	t.Cleanup(func() {
		select {
		case c := <-accepted:
			c.Close()
		default:
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(100*time.Millisecond, cancel)

	m := &SMTPMailer{Host: host, Port: port, From: "shop@example.com", Timeout: time.Minute}
	start := time.Now()
	err := m.Send(ctx, Message{To: []string{"a@example.com"}, Subject: "s", Body: "b"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), 5*time.Second)
}

// serveSMTP answers one plain SMTP session and reports the DATA payload.
func serveSMTP(ln net.Listener, data chan<- string) {
	c, err := ln.Accept()
	if err != nil {
		return
	}
	defer c.Close()
	tp := textproto.NewConn(c)
	tp.PrintfLine("220 test ESMTP")
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		verb, _, _ := strings.Cut(line, " ")
		switch strings.ToUpper(verb) {
		case "EHLO", "HELO":
			tp.PrintfLine("250-test")
			tp.PrintfLine("250 8BITMIME")
		case "MAIL", "RCPT", "RSET", "NOOP":
			tp.PrintfLine("250 OK")
		case "DATA":
			tp.PrintfLine("354 go ahead")
			body, err := tp.ReadDotBytes()
			if err != nil {
				return
			}
			data <- string(body)
			tp.PrintfLine("250 queued")
		case "QUIT":
			tp.PrintfLine("221 bye")
			return
		default:
			tp.PrintfLine("502 unknown")
		}
	}
}

func TestSMTPMailer_DeliversToServer(t *testing.T) {
	ln, host, port := listen(t)
	data := make(chan string, 1)
	go serveSMTP(ln, data)

	m := &SMTPMailer{Host: host, Port: port, From: "shop@example.com", Timeout: 5 * time.Second}
	err := m.Send(context.Background(), Message{To: []string{"a@example.com"}, Subject: "Order", Body: "hello"})
	require.NoError(t, err)

	select {
	case got := <-data:
		assert.Contains(t, got, "Subject: Order")
		assert.Contains(t, got, "hello")
	case <-time.After(5 * time.Second):
		t.Fatal("server never received the message")
	}
}

type blockingMailer struct{}

func (blockingMailer) Send(ctx context.Context, _ Message) error {
	<-ctx.Done()
	return ctx.Err()
}

type countingMailer struct {
	mu    sync.Mutex
	count int
}

func (m *countingMailer) Send(ctx context.Context, _ Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count++
	return nil
}

func TestOutbox_SendReturnsBeforeDelivery(t *testing.T) {
	o := NewOutbox(blockingMailer{}, 100*time.Millisecond)

	start := time.Now()
	done := o.Send(context.Background(), Message{To: []string{"a@example.com"}})
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	err := <-done
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	o.Wait()

	_, open := <-done
	assert.False(t, open)
}

func TestOutbox_DeliversAfterCallerCancels(t *testing.T) {
	m := &countingMailer{}
	o := NewOutbox(m, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.NoError(t, <-o.Send(ctx, Message{To: []string{"a@example.com"}}))

	o.Send(ctx, Message{To: []string{"b@example.com"}})
	o.Wait()
	assert.Equal(t, 2, m.count)
}

func TestNewOutbox_Defaults(t *testing.T) {
	o := NewOutbox(nil, 0)
	assert.Equal(t, LogMailer{}, o.Mailer)
	assert.Equal(t, DefaultTimeout, o.Timeout)
}
