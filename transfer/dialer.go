package transfer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// DefaultDialTimeout bounds connection establishment.
const DefaultDialTimeout = 10 * time.Second

// ErrUnsupportedProxy indicates a proxy URL with a scheme other than socks5.
var ErrUnsupportedProxy = errors.New("unsupported proxy scheme")

// Dialer opens client connections.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// NewDialer returns a direct dialer, or a SOCKS5 dialer when proxyURL is set
// (socks5://[user:password@]host:port).
func NewDialer(proxyURL string, timeout time.Duration) (Dialer, error) {
	if timeout <= 0 {
		timeout = DefaultDialTimeout
	}
	direct := &net.Dialer{Timeout: timeout}
	if proxyURL == "" {
		return direct, nil
	}

	u, err := url.Parse(proxyURL)
	if err != nil {
		return nil, fmt.Errorf("parse proxy url: %w", err)
	}
	if u.Scheme != "socks5" && u.Scheme != "socks5h" {
		return nil, fmt.Errorf("%w: %q (must be socks5)", ErrUnsupportedProxy, u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("proxy url %q has no host", proxyURL)
	}

	var auth *proxy.Auth
	if u.User != nil {
		password, _ := u.User.Password()
		auth = &proxy.Auth{
			User:     u.User.Username(),
			Password: password,
		}
	}

	d, err := proxy.SOCKS5("tcp", u.Host, auth, direct)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":   "NewDialer",
			"proxy_addr": u.Host,
			"error":      err.Error(),
		}).Error("Failed to create SOCKS5 dialer")
		return nil, fmt.Errorf("failed to create SOCKS5 dialer: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"function":   "NewDialer",
		"proxy_addr": u.Host,
		"auth":       auth != nil,
	}).Info("SOCKS5 proxy configured")

	if cd, ok := d.(proxy.ContextDialer); ok {
		return cd, nil
	}
	return &contextDialer{d: d}, nil
}

// contextDialer adapts a proxy.Dialer without context support; a cancelled
// context abandons the dial and closes the late connection.
type contextDialer struct {
	d proxy.Dialer
}

func (c *contextDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		conn, err := c.d.Dial(network, address)
		ch <- result{conn, err}
	}()

	select {
	case r := <-ch:
		return r.conn, r.err
	case <-ctx.Done():
		go func() {
			if r := <-ch; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}
