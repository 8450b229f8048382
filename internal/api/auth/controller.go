package auth

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

type (
	TokenRequest struct {
		APIKey string `json:"api_key" validate:"required"`
	}

	TokenResponse struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	}

	// Controller exposes the token-issuance endpoint. It is the only
	// part of the API surface reachable without a token.
	Controller struct {
		validate *validator.Validate
		provider *Provider
	}
)

func New(validate *validator.Validate, provider *Provider) *Controller {
	return &Controller{validate: validate, provider: provider}
}

func (controller *Controller) SetRoutes(eg *echo.Group) {
	eg.POST("/token/", controller.issueToken)
}

// issueToken exchanges a valid API key for a short-lived access token.
// The token is returned in the body and additionally set as a cookie
// for browser clients.
func (controller *Controller) issueToken(ec echo.Context) error {
	var request TokenRequest
	if err := ec.Bind(&request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "JSON body illegal")
	}

	if err := controller.validate.Struct(request); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "JSON body missing mandatory 'api_key' field")
	}

	if !controller.provider.VerifyKey(request.APIKey) {
		return echo.NewHTTPError(http.StatusUnauthorized, http.StatusText(http.StatusUnauthorized))
	}

	token, expiry, err := controller.provider.IssueToken()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to issue token")
	}

	ec.SetCookie(TokenCookie(token, expiry))
	return ec.JSON(http.StatusOK, TokenResponse{Token: token, ExpiresAt: expiry})
}
