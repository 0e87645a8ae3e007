// Package parlor provides the Go client for the Parlor group messaging
// service.
//
// The request/response gateway and the realtime channel are exposed
// separately; ChatSession combines both into a reconciled local view of
// the current room.
//
// Example:
//
//	client := parlor.NewClient(parlor.WithBaseURL("https://parlor.example"))
//
//	// Gateway
//	login, _ := client.Users().Login(ctx, "ada", "hunter2")
//	groups, _ := client.Groups().ForUser(ctx, login.UserID)
//
//	// Reconciled chat session
//	session := parlor.NewChatSession(client, store)
//	session.Start(ctx)
//	session.SelectRoom(ctx, groups[0].ID)
//	session.SendMessage(ctx, "hello")
package parlor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultBaseURL = "http://localhost:3000"
	DefaultTimeout = 30 * time.Second
)

// ============================================================================
// Client
// ============================================================================

type Client struct {
	baseURL     string
	httpClient  *http.Client
	log         *zap.Logger
	joinTimeout time.Duration

	rt       *Realtime
	users    *UsersClient
	groups   *GroupsClient
	messages *MessagesClient
}

type ClientOption func(*Client)

func WithBaseURL(url string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithLogger attaches a structured logger. The default is a no-op logger.
func WithLogger(log *zap.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// WithJoinTimeout bounds how long a room join waits for the server's
// joinSuccess response.
func WithJoinTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.joinTimeout = d }
}

// NewClient creates a new Parlor client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
		log:         zap.NewNop(),
		joinTimeout: DefaultJoinTimeout,
	}

	for _, opt := range opts {
		opt(c)
	}

	c.rt = newRealtime(c.baseURL, c.joinTimeout, c.log)
	c.users = &UsersClient{client: c}
	c.groups = &GroupsClient{client: c}
	c.messages = &MessagesClient{client: c}
	return c
}

// Realtime returns the realtime connection manager.
func (c *Client) Realtime() *Realtime { return c.rt }

// Users returns the users gateway sub-client.
func (c *Client) Users() *UsersClient { return c.users }

// Groups returns the groups gateway sub-client.
func (c *Client) Groups() *GroupsClient { return c.groups }

// Messages returns the messages gateway sub-client.
func (c *Client) Messages() *MessagesClient { return c.messages }

// ============================================================================
// Internal request helpers
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.send(req)
}

// doUpload sends a single-file multipart form, used by the picture update
// endpoints.
func (c *Client) doUpload(ctx context.Context, path, fileName string, data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write file data: %w", err)
	}
	_ = w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+path, &buf)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	return c.send(req)
}

func (c *Client) send(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if json.Unmarshal(data, apiErr) != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return nil, apiErr
	}
	return data, nil
}

func decodeJSON[T any](data []byte) (*T, error) {
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return &result, nil
}

func statusOf(err error) int {
	if apiErr, ok := err.(*APIError); ok {
		return apiErr.StatusCode
	}
	return 0
}

// ============================================================================
// Users
// ============================================================================

// UsersClient handles account and profile operations.
type UsersClient struct{ client *Client }

func (u *UsersClient) Login(ctx context.Context, username, password string) (*LoginData, error) {
	data, err := u.client.doRequest(ctx, "POST", "/users/login", LoginOptions{Username: username, Password: password})
	if err != nil {
		return nil, err
	}
	return decodeJSON[LoginData](data)
}

func (u *UsersClient) Register(ctx context.Context, username, password string) (*LoginData, error) {
	data, err := u.client.doRequest(ctx, "POST", "/users/signup", LoginOptions{Username: username, Password: password})
	if err != nil {
		return nil, err
	}
	return decodeJSON[LoginData](data)
}

// Get fetches the username for a user id.
func (u *UsersClient) Get(ctx context.Context, userID string) (*UsernameData, error) {
	data, err := u.client.doRequest(ctx, "GET", "/users/"+userID, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[UsernameData](data)
}

// GroupIDs returns the ids of the groups the user is a member of.
func (u *UsersClient) GroupIDs(ctx context.Context, userID string) ([]string, error) {
	data, err := u.client.doRequest(ctx, "GET", "/users/"+userID+"/groups", nil)
	if err != nil {
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return ids, nil
}

// ProfilePicture returns the stored picture path, or "" when none is set.
func (u *UsersClient) ProfilePicture(ctx context.Context, userID string) (string, error) {
	data, err := u.client.doRequest(ctx, "GET", "/users/"+userID+"/profile-picture", nil)
	if err != nil {
		return "", err
	}
	pic, err := decodeJSON[ProfilePictureData](data)
	if err != nil {
		return "", err
	}
	return pic.ProfilePicture, nil
}

// UpdateProfilePicture uploads a new profile picture and returns its path.
func (u *UsersClient) UpdateProfilePicture(ctx context.Context, userID, fileName string, file []byte) (string, error) {
	data, err := u.client.doUpload(ctx, "/users/"+userID+"/profile-picture", fileName, file)
	if err != nil {
		return "", err
	}
	pic, err := decodeJSON[ProfilePictureData](data)
	if err != nil {
		return "", err
	}
	return pic.ProfilePicture, nil
}

// Delete permanently removes the account.
func (u *UsersClient) Delete(ctx context.Context, userID string) error {
	_, err := u.client.doRequest(ctx, "DELETE", "/users/"+userID, nil)
	return err
}

// ============================================================================
// Groups
// ============================================================================

// GroupsClient handles group lifecycle and metadata.
type GroupsClient struct{ client *Client }

func (g *GroupsClient) Get(ctx context.Context, groupID string) (*Group, error) {
	data, err := g.client.doRequest(ctx, "GET", "/groups/"+groupID, nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Group](data)
}

// ForUser fetches the user's group ids and resolves each into a full Group.
func (g *GroupsClient) ForUser(ctx context.Context, userID string) ([]Group, error) {
	ids, err := g.client.users.GroupIDs(ctx, userID)
	if err != nil {
		return nil, err
	}
	groups := make([]Group, 0, len(ids))
	for _, id := range ids {
		grp, err := g.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		groups = append(groups, *grp)
	}
	return groups, nil
}

// Create creates a group owned by creatorID. A duplicate name within the
// creator's scope yields ErrGroupNameExists.
func (g *GroupsClient) Create(ctx context.Context, name, creatorID string) (*Group, error) {
	data, err := g.client.doRequest(ctx, "POST", "/groups/create", map[string]string{
		"name": name, "creatorId": creatorID,
	})
	if err != nil {
		if statusOf(err) == http.StatusConflict {
			return nil, ErrGroupNameExists
		}
		return nil, err
	}
	return decodeJSON[Group](data)
}

// JoinByName joins an existing group by name. An unknown name yields
// ErrGroupNotFound.
func (g *GroupsClient) JoinByName(ctx context.Context, userID, groupName string) (*Group, error) {
	data, err := g.client.doRequest(ctx, "POST", "/groups/join", map[string]string{
		"userId": userID, "groupName": groupName,
	})
	if err != nil {
		if statusOf(err) == http.StatusNotFound {
			return nil, ErrGroupNotFound
		}
		return nil, err
	}
	return decodeJSON[Group](data)
}

// Leave removes the user from the group's membership server-side.
func (g *GroupsClient) Leave(ctx context.Context, groupID, userID string) error {
	_, err := g.client.doRequest(ctx, "PUT", "/groups/"+groupID+"/leave", map[string]string{"userId": userID})
	return err
}

// UpdatePicture uploads a new group picture and returns its path.
func (g *GroupsClient) UpdatePicture(ctx context.Context, groupID, fileName string, file []byte) (string, error) {
	data, err := g.client.doUpload(ctx, "/groups/"+groupID+"/group-picture", fileName, file)
	if err != nil {
		return "", err
	}
	pic, err := decodeJSON[GroupPictureData](data)
	if err != nil {
		return "", err
	}
	return pic.GroupPicture, nil
}

func (g *GroupsClient) MakePrivate(ctx context.Context, groupID string) (*Group, error) {
	data, err := g.client.doRequest(ctx, "PUT", "/groups/"+groupID+"/make-private", nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Group](data)
}

func (g *GroupsClient) MakePublic(ctx context.Context, groupID string) (*Group, error) {
	data, err := g.client.doRequest(ctx, "PUT", "/groups/"+groupID+"/make-public", nil)
	if err != nil {
		return nil, err
	}
	return decodeJSON[Group](data)
}

// ============================================================================
// Messages
// ============================================================================

// MessagesClient handles message history reads.
type MessagesClient struct{ client *Client }

// Room returns the stored message history for a room, oldest first.
func (m *MessagesClient) Room(ctx context.Context, roomID string) ([]Message, error) {
	data, err := m.client.doRequest(ctx, "GET", "/messages/room/"+roomID, nil)
	if err != nil {
		return nil, err
	}
	var msgs []Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return msgs, nil
}
