package transport

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/astaric/orangeremote/codec"
	"github.com/astaric/orangeremote/command"
	"github.com/astaric/orangeremote/config"
	"github.com/astaric/orangeremote/errors"
)

// SessionHeader names the client session on HTTP requests.
const SessionHeader = "X-Orange-Session"

// HTTP posts commands to the plain HTTP routes of a server. Every call is
// synchronous; ModeAsync behaves as ModeReference.
type HTTP struct {
	base    string
	client  *http.Client
	session string
}

// HTTPOption configures an HTTP transport.
type HTTPOption func(*HTTP)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(t *HTTP) { t.client = c }
}

// WithSession sets the session the server files references under. It
// defaults to a fresh UUID per transport.
func WithSession(session string) HTTPOption {
	return func(t *HTTP) { t.session = session }
}

// NewHTTP creates a transport for the server at addr, either host:port or a
// full http:// URL. An empty addr reads ORANGE_SERVER.
func NewHTTP(addr string, opts ...HTTPOption) *HTTP {
	if addr == "" {
		addr = config.ServerAddress()
	}
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	t := &HTTP{
		base:    strings.TrimRight(addr, "/"),
		client:  http.DefaultClient,
		session: uuid.NewString(),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Session returns the session this transport files references under.
func (t *HTTP) Session() string {
	return t.session
}

func (t *HTTP) Send(ctx context.Context, out Outbound) (Reply, error) {
	Prepare(out)
	body, err := codec.Encode(out.Command)
	if err != nil {
		return Reply{}, err
	}
	data, err := t.do(ctx, "transport.send", http.MethodPost, "/"+string(out.Command.Kind()), "application/json", body)
	if err != nil {
		return Reply{}, err
	}
	if out.Mode == ModeValue {
		return Reply{Reference: out.Command.Head().Result, Value: data}, nil
	}
	return Reply{Reference: command.Reference(strings.TrimSpace(string(data)))}, nil
}

func (t *HTTP) Fetch(ctx context.Context, ref command.Reference) ([]byte, error) {
	return t.do(ctx, "transport.fetch", http.MethodGet, "/"+string(ref), "", nil)
}

func (t *HTTP) Upload(ctx context.Context, data []byte) (command.Reference, error) {
	id, err := t.do(ctx, "transport.upload", http.MethodPost, "/", "application/octet-stream", data)
	if err != nil {
		return "", err
	}
	return command.Reference(strings.TrimSpace(string(id))), nil
}

// Release drops ref on the server.
func (t *HTTP) Release(ctx context.Context, ref command.Reference) error {
	_, err := t.do(ctx, "transport.release", http.MethodDelete, "/"+string(ref), "", nil)
	return err
}

// Close releases every reference of this transport's session.
func (t *HTTP) Close() error {
	_, err := t.do(context.Background(), "transport.close", http.MethodDelete, "/sessions/"+t.session, "", nil)
	return err
}

func (t *HTTP) do(ctx context.Context, op, method, path, contentType string, body []byte) ([]byte, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, t.base+path, r)
	if err != nil {
		return nil, errors.New(errors.ValidationFailed, op, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set(SessionHeader, t.session)

	log.Debugf("%s %s", method, req.URL)
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, Classify(ctx, op, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Classify(ctx, op, err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}
	return nil, errors.Unmarshal(data, op, kindOfStatus(resp.StatusCode))
}

func kindOfStatus(status int) errors.Kind {
	switch status {
	case http.StatusBadRequest:
		return errors.ValidationFailed
	case http.StatusNotFound:
		return errors.ReferenceNotFound
	case http.StatusInternalServerError:
		return errors.ExecutionFailed
	case http.StatusGatewayTimeout:
		return errors.Timeout
	}
	return errors.TransportFailure
}
