package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"webrelay/internal/client"
	"webrelay/internal/config"
	"webrelay/internal/guard"
	"webrelay/internal/model"
	"webrelay/internal/service"
)

// Error kinds reported in the kind field of error responses.
const (
	KindInvalidRequest  = "invalid_request"
	KindUpstreamTimeout = "upstream_timeout"
	KindUpstreamHTTP    = "upstream_http"
	KindUpstreamNetwork = "upstream_network"
	KindCanceled        = "canceled"
	KindInternal        = "internal"
)

// ErrorResponse is the JSON body of every failed proxy request.
type ErrorResponse struct {
	Error  string `json:"error"`
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`
}

// proxyParams are the query parameters shared by both endpoints.
type proxyParams struct {
	URL   string `query:"url" validate:"required"`
	Proxy string `query:"proxy"`
}

type serveFunc func(context.Context, *model.ProxyQuery) (*model.ProxyResponse, error)

// ProxyHandler serves the navigate and resource endpoints.
type ProxyHandler struct {
	service *service.ProxyService
	cfg     *config.Config
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, cfg *config.Config, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		cfg:     cfg,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Navigate serves GET /api/proxy?url=...&proxy=...
func (h *ProxyHandler) Navigate(c echo.Context) error {
	return h.serve(c, h.service.Navigate)
}

// Resource serves GET /api/resource?url=...&proxy=...
func (h *ProxyHandler) Resource(c echo.Context) error {
	return h.serve(c, h.service.Resource)
}

func (h *ProxyHandler) serve(c echo.Context, fn serveFunc) error {
	var p proxyParams
	if err := c.Bind(&p); err != nil {
		return h.writeError(c, http.StatusBadRequest, KindInvalidRequest, "Invalid query parameters", "")
	}
	if err := c.Validate(&p); err != nil {
		return h.writeError(c, http.StatusBadRequest, KindInvalidRequest, "URL parameter is required", err.Error())
	}

	q := &model.ProxyQuery{
		RawURL:     p.URL,
		Forward:    p.Proxy,
		PublicBase: h.publicBase(c),
	}

	resp, err := fn(c.Request().Context(), q)
	if err != nil {
		return h.mapError(c, err)
	}

	for key, vals := range resp.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}
	return c.Blob(resp.StatusCode, resp.Header.Get(echo.HeaderContentType), resp.Body)
}

// publicBase is the origin ProxyLinks are built on.
func (h *ProxyHandler) publicBase(c echo.Context) string {
	if h.cfg.Server.PublicURL != "" {
		return h.cfg.Server.PublicURL
	}
	return c.Scheme() + "://" + c.Request().Host
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	var (
		statusErr  *client.StatusError
		networkErr *client.NetworkError
	)

	switch {
	case errors.Is(err, guard.ErrRejected):
		return h.writeError(c, http.StatusBadRequest, KindInvalidRequest,
			"Invalid or blocked URL", guard.Reason(err))

	case errors.Is(err, client.ErrForwarderConfig):
		return h.writeError(c, http.StatusInternalServerError, KindInvalidRequest,
			"Invalid proxy configuration", err.Error())

	case errors.Is(err, client.ErrTimeout):
		return h.writeError(c, http.StatusRequestTimeout, KindUpstreamTimeout,
			"Request timeout - the website took too long to respond.", "")

	case errors.As(err, &statusErr):
		status, detail := statusErr.StatusCode, statusErr.Excerpt
		if !bodyAllowed(status) {
			status = http.StatusBadGateway
			detail = fmt.Sprintf("upstream status %d", statusErr.StatusCode)
			if statusErr.Excerpt != "" {
				detail += ": " + statusErr.Excerpt
			}
		}
		return h.writeError(c, status, KindUpstreamHTTP,
			"Failed to fetch: "+statusErr.Error(), detail)

	case errors.As(err, &networkErr):
		return h.writeError(c, http.StatusInternalServerError, KindUpstreamNetwork,
			networkErr.Hint(), "")

	case errors.Is(err, context.Canceled):
		return h.writeError(c, http.StatusBadGateway, KindCanceled,
			"client disconnected", "")
	}

	h.logger.Error("unexpected proxy error", "err", err, "path", c.Request().URL.Path)
	return h.writeError(c, http.StatusInternalServerError, KindInternal, "internal error", "")
}

// bodyAllowed reports whether a response with status can carry the JSON
// error body.
func bodyAllowed(status int) bool {
	switch {
	case status < 200, status > 599:
		return false
	case status == http.StatusNoContent, status == http.StatusNotModified:
		return false
	}
	return true
}

func (h *ProxyHandler) writeError(c echo.Context, status int, kind, msg, detail string) error {
	h.logger.Debug("request failed",
		"kind", kind,
		"status", status,
		"path", c.Request().URL.Path,
	)
	return c.JSON(status, ErrorResponse{Error: msg, Kind: kind, Detail: detail})
}
