package api

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"pingchat/internal/models"
)

// ErrUnexpectedResponse marks an error status whose body was not a backend
// reply.
var ErrUnexpectedResponse = errors.New("unexpected response")

// BackendError is a failure the backend reported with success:false.
type BackendError struct {
	Op      string
	Message string
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// IsBackend reports whether err carries a message from the backend, as
// opposed to a transport failure.
func IsBackend(err error) bool {
	var be *BackendError
	return errors.As(err, &be)
}

type Client struct {
	http   *resty.Client
	logger zerolog.Logger
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	logger := log.With().Str("component", "api").Logger()

	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json")

	http.OnAfterResponse(func(_ *resty.Client, resp *resty.Response) error {
		logger.Debug().
			Str("method", resp.Request.Method).
			Str("url", resp.Request.URL).
			Int("status", resp.StatusCode()).
			Dur("took", resp.Time()).
			Msg("request completed")
		return nil
	})

	return &Client{http: http, logger: logger}
}

// SetToken attaches the session bearer token to every later request. An
// empty token removes it.
func (c *Client) SetToken(token string) {
	c.http.SetAuthToken(token)
}

func (c *Client) Login(ctx context.Context, username, password string) (*models.User, error) {
	var out models.LoginResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(models.Credentials{Username: username, Password: password}).
		SetResult(&out).
		SetError(&out).
		Post("/api/login")
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	if err := checkResponse("login", resp, out.Success, out.Error, "login failed"); err != nil {
		return nil, err
	}
	if out.User == nil {
		return nil, &BackendError{Op: "login", Message: "response carried no user"}
	}

	user := *out.User
	if user.Token == "" {
		user.Token = out.Token
	}
	return &user, nil
}

func (c *Client) Register(ctx context.Context, username, password string) error {
	var out models.RegisterResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(models.Credentials{Username: username, Password: password}).
		SetResult(&out).
		SetError(&out).
		Post("/api/register")
	if err != nil {
		return fmt.Errorf("register: %w", err)
	}

	if err := checkResponse("register", resp, out.Success, out.Error, "registration failed"); err != nil {
		return err
	}
	return nil
}

// Contacts fetches the directory of userID in server order.
func (c *Client) Contacts(ctx context.Context, userID int64) ([]models.Contact, error) {
	var out models.UsersResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParam("userId", strconv.FormatInt(userID, 10)).
		SetResult(&out).
		SetError(&out).
		Get("/api/users/{userId}")
	if err != nil {
		return nil, fmt.Errorf("load contacts: %w", err)
	}

	if err := checkResponse("load contacts", resp, out.Success, out.Error, "could not load contacts"); err != nil {
		return nil, err
	}
	return out.Users, nil
}

// Messages fetches the history between userID and peerID.
func (c *Client) Messages(ctx context.Context, userID, peerID int64) ([]models.Message, error) {
	var out models.MessagesResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetPathParams(map[string]string{
			"userId": strconv.FormatInt(userID, 10),
			"peerId": strconv.FormatInt(peerID, 10),
		}).
		SetResult(&out).
		SetError(&out).
		Get("/api/messages/{userId}/{peerId}")
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}

	if err := checkResponse("load messages", resp, out.Success, out.Error, "could not load messages"); err != nil {
		return nil, err
	}
	return out.Messages, nil
}

// checkResponse classifies a finished request. An error status without a
// JSON error body did not come from the backend (a proxy page, say) and is
// reported like a transport failure.
func checkResponse(op string, resp *resty.Response, success bool, msg, fallback string) error {
	if resp.IsError() && msg == "" {
		return fmt.Errorf("%s: %w: %s", op, ErrUnexpectedResponse, resp.Status())
	}
	if !success {
		return backendError(op, msg, fallback)
	}
	return nil
}

func backendError(op, msg, fallback string) error {
	if msg == "" {
		msg = fallback
	}
	return &BackendError{Op: op, Message: msg}
}
