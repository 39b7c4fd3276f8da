package checklist

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"stickyboard/domain"
)

// RejectionError is any non-2xx response from the board service. The body is
// not inspected for structured error codes; the status is all the controller
// acts on.
type RejectionError struct {
	Status int
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("persistence rejected with status %d", e.Status)
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.hc = hc }
}

// WithBearerToken sets the Authorization bearer token sent on every request.
func WithBearerToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

// WithClientLogger sets the diagnostics logger.
func WithClientLogger(logger *log.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// Client is the HTTP Persister for the board service. The default underlying
// client has no timeout: a hung request stays in flight indefinitely, which is
// the behavior the controller is specified against.
type Client struct {
	base   string
	hc     *http.Client
	token  string
	logger *log.Logger
}

// NewClient creates a persistence client for the service at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		base:   strings.TrimRight(baseURL, "/"),
		hc:     &http.Client{},
		logger: log.StandardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type saveItemsBody struct {
	ChecklistItems []domain.ChecklistItem `json:"checklistItems"`
}

// saveArchiveBody is used only for reorder saves: ArchivedAt has no omitempty
// so a cleared flag is transmitted as an explicit null.
type saveArchiveBody struct {
	ChecklistItems []domain.ChecklistItem `json:"checklistItems"`
	ArchivedAt     *time.Time             `json:"archivedAt"`
}

type noteEnvelope struct {
	Note domain.Note `json:"note"`
}

type createNoteBody struct {
	Color          string                 `json:"color,omitempty"`
	ChecklistItems []domain.ChecklistItem `json:"checklistItems"`
}

// SaveNote PUTs the full desired checklist array for one note and returns the
// server's canonical note.
func (c *Client) SaveNote(ctx context.Context, boardID, noteID string, payload SavePayload) (domain.Note, error) {
	var body any
	if payload.IncludeArchived {
		body = saveArchiveBody{ChecklistItems: payload.ChecklistItems, ArchivedAt: payload.ArchivedAt}
	} else {
		body = saveItemsBody{ChecklistItems: payload.ChecklistItems}
	}

	endpoint := fmt.Sprintf("%s/boards/%s/notes/%s", c.base, url.PathEscape(boardID), url.PathEscape(noteID))
	data, err := c.do(ctx, http.MethodPut, endpoint, body)
	if err != nil {
		return domain.Note{}, err
	}

	var env noteEnvelope
	if err := sonic.Unmarshal(data, &env); err != nil {
		return domain.Note{}, fmt.Errorf("decode note response: %w", err)
	}
	return env.Note, nil
}

// CreateNote POSTs a new note, empty or carrying a copied checklist, and
// returns the created note.
func (c *Client) CreateNote(ctx context.Context, boardID string, note domain.Note) (domain.Note, error) {
	body := createNoteBody{Color: note.Color, ChecklistItems: note.ChecklistItems}
	endpoint := fmt.Sprintf("%s/boards/%s/notes", c.base, url.PathEscape(boardID))
	data, err := c.do(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return domain.Note{}, err
	}

	var created domain.Note
	if err := sonic.Unmarshal(data, &created); err != nil {
		return domain.Note{}, fmt.Errorf("decode created note: %w", err)
	}
	return created, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any) ([]byte, error) {
	payload, err := sonic.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain a bounded amount so the connection can be reused; the body
		// content itself is ignored.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		c.logger.WithFields(log.Fields{"method": method, "status": resp.StatusCode}).Debug("board service rejected request")
		return nil, &RejectionError{Status: resp.StatusCode}
	}
	return io.ReadAll(resp.Body)
}
