package handlers

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tm-acme-shop/acme-ops-portal/internal/errors"
	"github.com/tm-acme-shop/acme-ops-portal/internal/logging"
	"github.com/tm-acme-shop/acme-ops-portal/internal/service"
)

// Plain-text bodies of GET /api/sso/login. The peer shows them to the user
// verbatim.
const (
	ssoErrInvalidOp     = "ERR: 操作类型错误"
	ssoErrMissingParams = "ERR: 参数不能为空"
	ssoErrAuthFailed    = "ERR: SSO认证失败"
	ssoErrUserNotFound  = "ERR: 没有查找到用户"
	ssoErrUserDisabled  = "ERR: 用户账户已被禁用"
	ssoErrInternal      = "ERR: 服务器内部错误"
)

// ssoRedirectPage stores the session in localStorage and moves on to the
// portal. html/template escapes every value for its script context.
var ssoRedirectPage = template.Must(template.New("sso-redirect").Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>SSO 登录中...</title>
</head>
<body>
  <div style="text-align: center; padding: 50px; font-family: Arial, sans-serif;">
    <h2>登录成功！</h2>
    <p>正在跳转到系统首页...</p>
  </div>
  <script>
    localStorage.setItem('token', {{.AccessToken}});
    localStorage.setItem('refresh_token', {{.RefreshToken}});
    localStorage.setItem('user', JSON.stringify({{.User}}));
    setTimeout(function() {
      window.location.href = {{.RedirectURL}};
    }, 1000);
  </script>
</body>
</html>
`))

type ssoPageUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
	Email    string `json:"email"`
}

type ssoPageData struct {
	AccessToken  string
	RefreshToken string
	User         ssoPageUser
	RedirectURL  string
}

// GenerateSSOURL handles POST /api/sso/generate-url
func (h *Handlers) GenerateSSOURL(c *gin.Context) {
	var req service.GenerateSSOURLRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Success: false,
			Error:   "Invalid request body",
		})
		return
	}

	response, err := h.ssoService.GenerateURL(c.Request.Context(), currentClaims(c), &req, requestInfo(c))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, SSOURLResponse{
		Success: true,
		Data:    response,
	})
}

// SSOLogin handles GET /api/sso/login, the landing point of syn_login links
// issued by the peer.
func (h *Handlers) SSOLogin(c *gin.Context) {
	c.Header("Cache-Control", "no-store")

	req := service.SSOLoginRequest{
		Op:   c.Query("op"),
		Auth: c.Query("auth"),
		U:    c.Query("u"),
	}

	response, err := h.ssoService.CompleteLogin(c.Request.Context(), &req, requestInfo(c))
	if err != nil {
		status, body := ssoFailure(err)
		if status == http.StatusInternalServerError {
			h.logger.WithContext(c.Request.Context()).Error("sso login failed", logging.Fields{
				"error": err.Error(),
			})
		}
		c.String(status, body)
		return
	}

	var buf bytes.Buffer
	err = ssoRedirectPage.Execute(&buf, ssoPageData{
		AccessToken:  response.AccessToken,
		RefreshToken: response.RefreshToken,
		User: ssoPageUser{
			ID:       response.User.ID,
			Username: response.User.Username,
			Role:     string(response.User.Role),
			Email:    response.User.Email,
		},
		RedirectURL: h.config.SSO.RedirectURL,
	})
	if err != nil {
		h.logger.Error("failed to render sso page", logging.Fields{"error": err.Error()})
		c.String(http.StatusInternalServerError, ssoErrInternal)
		return
	}

	c.Data(http.StatusOK, "text/html; charset=utf-8", buf.Bytes())
}

// TestEncrypt handles GET /api/sso/test-encrypt. Only mounted when the test
// endpoint is enabled.
func (h *Handlers) TestEncrypt(c *gin.Context) {
	response, err := h.ssoService.TestLink(c.Query("username"), c.GetHeader("User-Agent"))
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    response,
	})
}

func ssoFailure(err error) (int, string) {
	switch {
	case errors.Is(err, service.ErrSSOInvalidOp):
		return http.StatusBadRequest, ssoErrInvalidOp
	case errors.Is(err, service.ErrSSOMissingParams):
		return http.StatusBadRequest, ssoErrMissingParams
	case errors.Is(err, service.ErrSSOAuthFailed):
		return http.StatusUnauthorized, ssoErrAuthFailed
	case errors.Is(err, errors.ErrNotFound):
		return http.StatusNotFound, ssoErrUserNotFound
	case errors.Is(err, errors.ErrUserInactive):
		return http.StatusForbidden, ssoErrUserDisabled
	default:
		return http.StatusInternalServerError, ssoErrInternal
	}
}

type SSOURLResponse struct {
	Success bool                            `json:"success"`
	Data    *service.GenerateSSOURLResponse `json:"data"`
}
