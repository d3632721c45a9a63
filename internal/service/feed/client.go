package feed

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"FareCast/internal/domain/models"
	drepo "FareCast/internal/domain/repository"
	"FareCast/pkg/logger"
)

var ErrNotConnected = errors.New("feed not connected")

// Client implements a FareStream backed by a scraper WebSocket feed.
type Client struct {
	token          string
	websocketURL   string
	routes         []string
	reconnectDelay time.Duration
	pingInterval   time.Duration
	bufferSize     int
	log            *logger.Logger

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
}

// Config holds the feed connection settings.
type Config struct {
	Token          string
	URL            string
	Routes         []string
	ReconnectDelay time.Duration
	PingInterval   time.Duration
	BufferSize     int
}

// New creates a scraper FareStream.
func New(cfg Config, l *logger.Logger) drepo.FareStream {
	if l == nil {
		l = logger.NewNop()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 256
	}
	return &Client{
		token:          cfg.Token,
		websocketURL:   cfg.URL,
		routes:         cfg.Routes,
		reconnectDelay: cfg.ReconnectDelay,
		pingInterval:   cfg.PingInterval,
		bufferSize:     cfg.BufferSize,
		log:            l,
	}
}

// Connect establishes the WebSocket connection.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.websocketURL)
	if err != nil {
		return fmt.Errorf("feed url: %w", err)
	}
	if c.token != "" {
		q := u.Query()
		q.Set("token", c.token)
		u.RawQuery = q.Encode()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("feed connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	c.log.Info("feed connected", logger.String("host", u.Host))
	return nil
}

type subscribeFrame struct {
	Type  string `json:"type"`
	Route string `json:"route"`
}

// Subscribe asks the feed for every configured route.
func (c *Client) Subscribe(ctx context.Context) error {
	for _, r := range c.routes {
		if err := c.writeJSON(subscribeFrame{Type: "subscribe", Route: r}); err != nil {
			return fmt.Errorf("subscribe %s: %w", r, err)
		}
	}
	c.log.Info("feed subscribed", logger.Int("routes", len(c.routes)))
	return nil
}

func (c *Client) writeJSON(v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil || !c.connected {
		return ErrNotConnected
	}
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

type fareFrame struct {
	Type     string             `json:"type"`
	SourceID string             `json:"source_id"`
	Data     []models.RawRecord `json:"data"`
}

// Read streams fare batches and errors until the connection fails or ctx ends.
func (c *Client) Read(ctx context.Context) (<-chan *models.IngestBatch, <-chan error) {
	batches := make(chan *models.IngestBatch, c.bufferSize)
	errs := make(chan error, 1)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	readDone := make(chan struct{})

	// ping loop
	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-readDone:
				return
			case <-ticker.C:
				c.mu.Lock()
				if c.conn != nil {
					_ = c.conn.WriteMessage(websocket.PingMessage, nil)
				}
				c.mu.Unlock()
			}
		}
	}()

	// read loop
	go func() {
		defer close(readDone)
		defer close(batches)
		defer close(errs)
		if conn == nil {
			errs <- ErrNotConnected
			return
		}
		// unblock ReadMessage on cancellation
		stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
		defer stop()

		for {
			_, b, err := conn.ReadMessage()
			if err != nil {
				if ctx.Err() == nil {
					errs <- fmt.Errorf("feed read: %w", err)
				}
				return
			}
			var m fareFrame
			if err := json.Unmarshal(b, &m); err != nil {
				c.log.Debug("feed frame skipped", logger.Error(err))
				continue
			}
			if m.Type != "fare" || len(m.Data) == 0 {
				continue
			}
			select {
			case batches <- &models.IngestBatch{SourceID: m.SourceID, Records: m.Data}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return batches, errs
}

// Reconnect closes, waits the reconnect delay and subscribes again.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	select {
	case <-time.After(c.reconnectDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

// Close closes the WS connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	if c.conn != nil {
		err := c.conn.Close()
		c.conn = nil
		return err
	}
	return nil
}

// IsConnected indicates status.
func (c *Client) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}
