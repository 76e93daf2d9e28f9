package cloud

import (
	"context"
	"fmt"
	"net/http"

	onyxerrors "github.com/lbmoreira/onyx-sync/internal/errors"
)

// SigninRequest is the payload for the signin endpoint.
type SigninRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Device   string `json:"device,omitempty"`
}

// SigninResponse carries the authenticated identity.
type SigninResponse struct {
	UserID string `json:"userId"`
	Token  string `json:"token"`
	Email  string `json:"email"`
}

// Signin authenticates with email and password. On success the returned
// token is installed on the client for subsequent requests.
func (c *Client) Signin(ctx context.Context, email, password, device string) (*SigninResponse, error) {
	var resp SigninResponse

	err := c.do(ctx, http.MethodPost, "/v1/auth/signin", SigninRequest{
		Email:    email,
		Password: password,
		Device:   device,
	}, &resp)
	if err != nil {
		if httpStatus(err) == http.StatusUnauthorized {
			return nil, onyxerrors.ErrInvalidCredentials
		}

		return nil, fmt.Errorf("signing in: %w", err)
	}

	if resp.UserID == "" || resp.Token == "" {
		return nil, fmt.Errorf("%w: signin response missing identity", onyxerrors.ErrAPIResponse)
	}

	c.SetToken(resp.Token)

	return &resp, nil
}

// Whoami validates the installed token and returns the owner id it
// belongs to. Used to check a cached token before falling back to a
// fresh signin.
func (c *Client) Whoami(ctx context.Context) (string, error) {
	var resp struct {
		UserID string `json:"userId"`
	}

	if err := c.do(ctx, http.MethodGet, "/v1/auth/me", nil, &resp); err != nil {
		return "", fmt.Errorf("validating token: %w", err)
	}

	if resp.UserID == "" {
		return "", fmt.Errorf("%w: me response missing userId", onyxerrors.ErrAPIResponse)
	}

	return resp.UserID, nil
}
