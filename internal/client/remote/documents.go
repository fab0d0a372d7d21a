package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/atinyakov/shoplist/internal/docstore"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	maxFrameSize = 1 << 20
	closeTimeout = time.Second
)

// Credentials supplies the bearer token for document requests and is told
// when the server rejects it.
type Credentials interface {
	Token() (string, bool)
	Invalidate()
}

// DocumentClient is a docstore.Store backed by the server's document API.
// Reads and writes are plain HTTP; subscriptions are WebSocket watch streams.
type DocumentClient struct {
	baseURL string
	client  *http.Client
	dialer  *websocket.Dialer
	creds   Credentials
	log     *zap.Logger
}

// NewDocumentClient returns a client for the server at baseURL. dialer may be
// nil to use websocket.DefaultDialer.
func NewDocumentClient(baseURL string, client *http.Client, dialer *websocket.Dialer, creds Credentials, log *zap.Logger) *DocumentClient {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &DocumentClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		dialer:  dialer,
		creds:   creds,
		log:     log,
	}
}

func (c *DocumentClient) documentPath(collection, id string) string {
	return "/api/documents/" + url.PathEscape(collection) + "/" + url.PathEscape(id)
}

// Get reads collection/id.
func (c *DocumentClient) Get(ctx context.Context, collection, id string) (docstore.Snapshot, error) {
	resp, err := c.do(ctx, http.MethodGet, c.documentPath(collection, id), nil)
	if err != nil {
		return docstore.Snapshot{}, fmt.Errorf("%w: %w", docstore.ErrRemoteRead, err)
	}
	defer resp.Body.Close()

	var snap docstore.Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return docstore.Snapshot{}, fmt.Errorf("%w: decode: %w", docstore.ErrRemoteRead, err)
	}
	return snap, nil
}

// Set replaces collection/id with fields.
func (c *DocumentClient) Set(ctx context.Context, collection, id string, fields docstore.Fields) error {
	body, err := json.Marshal(docstore.SetRequest{Fields: fields})
	if err != nil {
		return fmt.Errorf("%w: %w", docstore.ErrRemoteWrite, err)
	}
	resp, err := c.do(ctx, http.MethodPut, c.documentPath(collection, id), body)
	if err != nil {
		return fmt.Errorf("%w: %w", docstore.ErrRemoteWrite, err)
	}
	resp.Body.Close()
	return nil
}

// Subscribe opens a watch stream on collection/id. The current snapshot is
// delivered before Subscribe returns; later frames arrive on a reader
// goroutine. A broken stream is reported once through fn with an error
// wrapping docstore.ErrRemoteRead and docstore.ErrSubscriptionClosed, after
// which no more calls are made.
// Close must not be called from inside fn.
func (c *DocumentClient) Subscribe(ctx context.Context, collection, id string, fn docstore.ChangeFunc) (docstore.Subscription, error) {
	token, ok := c.creds.Token()
	if !ok {
		return nil, ErrUnauthenticated
	}
	wsURL, err := websocketURL(c.baseURL + c.documentPath(collection, id) + "/watch")
	if err != nil {
		return nil, err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)
	conn, resp, err := c.dialer.DialContext(ctx, wsURL, header)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if respErr := checkResponse(resp); respErr != nil {
				err = respErr
			}
			if errors.Is(err, ErrUnauthenticated) {
				c.creds.Invalidate()
			}
		}
		return nil, fmt.Errorf("dial watch: %w", err)
	}
	conn.SetReadLimit(maxFrameSize)

	// first frame carries the current state
	snap, err := readFrame(conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	fn(snap, nil)

	sub := &watchSubscription{conn: conn, done: make(chan struct{}), stop: make(chan struct{})}
	go sub.read(fn, c.log)
	go func() {
		select {
		case <-ctx.Done():
			_ = sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

func (c *DocumentClient) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	token, ok := c.creds.Token()
	if !ok {
		return nil, ErrUnauthenticated
	}
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, bytes.NewReader(body))
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	}
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	if err := checkResponse(resp); err != nil {
		resp.Body.Close()
		if errors.Is(err, ErrUnauthenticated) {
			c.creds.Invalidate()
		}
		return nil, err
	}
	return resp, nil
}

type watchSubscription struct {
	conn *websocket.Conn
	once sync.Once
	stop chan struct{}
	done chan struct{}
}

func (s *watchSubscription) read(fn docstore.ChangeFunc, log *zap.Logger) {
	defer close(s.done)
	for {
		snap, err := readFrame(s.conn)
		select {
		case <-s.stop:
			return
		default:
		}
		if err != nil {
			var remoteErr *frameError
			if errors.As(err, &remoteErr) {
				fn(docstore.Snapshot{}, err)
				continue
			}
			log.Warn("watch stream closed", zap.Error(err))
			_ = s.conn.Close()
			fn(docstore.Snapshot{}, fmt.Errorf("%w: %w", docstore.ErrSubscriptionClosed, err))
			return
		}
		fn(snap, nil)
	}
}

// Close ends the watch stream and waits for the reader goroutine.
func (s *watchSubscription) Close() error {
	s.once.Do(func() {
		close(s.stop)
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeTimeout))
		_ = s.conn.Close()
	})
	<-s.done
	return nil
}

// frameError is an error frame sent by the server; the stream stays open.
type frameError struct{ msg string }

func (e *frameError) Error() string { return e.msg }

func readFrame(conn *websocket.Conn) (docstore.Snapshot, error) {
	var frame docstore.WatchFrame
	if err := conn.ReadJSON(&frame); err != nil {
		return docstore.Snapshot{}, fmt.Errorf("%w: %w", docstore.ErrRemoteRead, err)
	}
	if frame.Error != "" || frame.Snapshot == nil {
		return docstore.Snapshot{}, fmt.Errorf("%w: %w", docstore.ErrRemoteRead, &frameError{msg: frame.Error})
	}
	return *frame.Snapshot, nil
}

func websocketURL(httpURL string) (string, error) {
	u, err := url.Parse(httpURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	return u.String(), nil
}
