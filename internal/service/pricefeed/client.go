package pricefeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"MetaAgent/internal/domain/models"
	drepo "MetaAgent/internal/domain/repository"

	"github.com/gorilla/websocket"
)

// Client implements a PriceStream backed by the market-data WebSocket
// gateway. Prices feed the risk engine's periodic sweeps.
type Client struct {
	websocketURL   string
	symbols        []string
	reconnectDelay time.Duration
	pingInterval   time.Duration

	conn      *websocket.Conn
	connected bool
}

// New creates a new price stream client.
func New(websocketURL string, symbols []string, reconnectDelay, pingInterval time.Duration) drepo.PriceStream {
	return &Client{
		websocketURL:   websocketURL,
		symbols:        symbols,
		reconnectDelay: reconnectDelay,
		pingInterval:   pingInterval,
	}
}

// Connect establishes the WebSocket connection.
func (c *Client) Connect(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.websocketURL, nil)
	if err != nil {
		return fmt.Errorf("pricefeed connect: %w", err)
	}
	c.conn = conn
	c.connected = true
	log.Printf("pricefeed: connected")
	return nil
}

// Subscribe subscribes to configured symbols.
func (c *Client) Subscribe(ctx context.Context) error {
	if c.conn == nil || !c.connected {
		return fmt.Errorf("pricefeed not connected")
	}
	for _, s := range c.symbols {
		msg := map[string]string{"type": "subscribe", "symbol": s}
		if err := c.conn.WriteJSON(msg); err != nil {
			return fmt.Errorf("subscribe %s: %w", s, err)
		}
		log.Printf("pricefeed: subscribed %s", s)
	}
	return nil
}

type wsTick struct {
	S string  `json:"s"`
	P float64 `json:"p"`
	T int64   `json:"t"` // ms
}

type wsMessage struct {
	Type string   `json:"type"`
	Data []wsTick `json:"data"`
}

// Read streams price updates and errors.
func (c *Client) Read(ctx context.Context) (<-chan *models.PriceUpdate, <-chan error) {
	updates := make(chan *models.PriceUpdate, 1024)
	errs := make(chan error, 1)

	// ping loop
	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if c.conn != nil {
					_ = c.conn.WriteMessage(websocket.PingMessage, nil)
				}
			}
		}
	}()

	// read loop
	go func() {
		defer close(updates)
		defer close(errs)
		for {
			select {
			case <-ctx.Done():
				return
			default:
				if c.conn == nil {
					errs <- fmt.Errorf("pricefeed conn nil")
					return
				}
				_, b, err := c.conn.ReadMessage()
				if err != nil {
					errs <- fmt.Errorf("pricefeed read: %w", err)
					return
				}
				var m wsMessage
				if err := json.Unmarshal(b, &m); err != nil {
					// ignore non-tick frames
					continue
				}
				if m.Type != "trade" {
					continue
				}
				for _, d := range m.Data {
					update := &models.PriceUpdate{Symbol: d.S, Price: d.P, Timestamp: d.T / 1000}
					select {
					case updates <- update:
					default:
						// drop on backpressure; sweeps only need a recent price
					}
				}
			}
		}
	}()

	return updates, errs
}

// Reconnect closes and reconnects.
func (c *Client) Reconnect(ctx context.Context) error {
	_ = c.Close()
	time.Sleep(c.reconnectDelay)
	if err := c.Connect(ctx); err != nil {
		return err
	}
	return c.Subscribe(ctx)
}

// Close closes the WS connection.
func (c *Client) Close() error {
	c.connected = false
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// IsConnected indicates status.
func (c *Client) IsConnected() bool { return c.connected }
