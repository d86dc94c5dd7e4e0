package tunnel

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/yamux"
	"go.uber.org/zap"
)

// SecretHeader carries the pre-shared secret on the tunnel handshake.
const SecretHeader = "X-Gateway-Secret"

// Client dials out to a gateway and serves the gateway's yamux streams by
// proxying each one to the local UI server.
type Client struct {
	gatewayURL string // wss://gateway.example.com/tunnel
	secret     string
	localAddr  string // e.g. 127.0.0.1:8800
	log        *zap.Logger

	// Insecure skips TLS verification; gateways default to self-signed certs
	// and the secret authenticates the connection.
	Insecure   bool
	MinBackoff time.Duration
	MaxBackoff time.Duration
}

func NewClient(gatewayURL, secret, localAddr string, log *zap.Logger) *Client {
	return &Client{
		gatewayURL: gatewayURL,
		secret:     secret,
		localAddr:  localAddr,
		log:        log,
		Insecure:   true,
		MinBackoff: time.Second,
		MaxBackoff: 30 * time.Second,
	}
}

// Run connects to the gateway and serves tunnel traffic, reconnecting with
// backoff, until ctx is cancelled.
func (c *Client) Run(ctx context.Context) {
	backoff := c.MinBackoff
	for {
		err := c.connect(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			c.log.Warn("tunnel: connection failed", zap.Error(err), zap.Duration("retry_in", backoff))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			}
			backoff = min(backoff*2, c.MaxBackoff)
		} else {
			backoff = c.MinBackoff
		}
	}
}

func (c *Client) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		TLSClientConfig:  &tls.Config{InsecureSkipVerify: c.Insecure},
	}

	header := http.Header{}
	header.Set(SecretHeader, c.secret)

	wsConn, _, err := dialer.DialContext(ctx, c.gatewayURL, header)
	if err != nil {
		return fmt.Errorf("dial gateway: %w", err)
	}
	defer wsConn.Close()

	c.log.Info("tunnel: connected to gateway", zap.String("url", c.gatewayURL))

	// The UI host is the yamux server; the gateway opens streams.
	session, err := yamux.Server(newFrameStream(wsConn, c.log), yamux.DefaultConfig())
	if err != nil {
		return fmt.Errorf("yamux server: %w", err)
	}
	defer session.Close()

	stop := context.AfterFunc(ctx, func() { session.Close() })
	defer stop()

	for {
		stream, err := session.Accept()
		if err != nil {
			return fmt.Errorf("accept stream: %w", err)
		}
		go c.handleStream(stream)
	}
}

func (c *Client) handleStream(stream net.Conn) {
	defer stream.Close()

	local, err := net.Dial("tcp", c.localAddr)
	if err != nil {
		c.log.Warn("tunnel: dial local", zap.String("addr", c.localAddr), zap.Error(err))
		return
	}
	defer local.Close()

	done := make(chan struct{})
	go func() {
		io.Copy(local, stream)
		close(done)
	}()
	io.Copy(stream, local)
	<-done
}
