package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	legacyrouter "github.com/getkin/kin-openapi/routers/legacy"
	"github.com/gin-gonic/gin"
)

// Validator はOpenAPI定義に基づいてリクエストを検証する
type Validator struct {
	router routers.Router
}

// NewValidator は新しいValidatorを作成する
func NewValidator(doc *openapi3.T) (*Validator, error) {
	router, err := legacyrouter.NewRouter(doc)
	if err != nil {
		return nil, fmt.Errorf("ルーターの作成に失敗: %w", err)
	}
	return &Validator{router: router}, nil
}

// Validate はリクエストを検証する
func (v *Validator) Validate(req *http.Request) error {
	route, pathParams, err := v.router.FindRoute(req)
	if err != nil {
		return err
	}

	input := &openapi3filter.RequestValidationInput{
		Request:    req,
		PathParams: pathParams,
		Route:      route,
		Options: &openapi3filter.Options{
			// バイナリのアップロードは検証せずにハンドラへストリームする
			ExcludeRequestBody: !strings.HasPrefix(req.Header.Get("Content-Type"), "application/json"),
			AuthenticationFunc: openapi3filter.NoopAuthenticationFunc,
		},
	}
	return openapi3filter.ValidateRequest(req.Context(), input)
}

// Middleware はリクエストを検証するginミドルウェアを返す
func (v *Validator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		err := v.Validate(c.Request)
		if err == nil {
			c.Next()
			return
		}

		var routeErr *routers.RouteError
		switch {
		case errors.As(err, &routeErr) && routeErr.Reason == routers.ErrMethodNotAllowed.Error():
			c.AbortWithStatusJSON(http.StatusMethodNotAllowed,
				NewError("method_not_allowed", "許可されていないメソッドです", nil))
		case errors.As(err, &routeErr):
			c.AbortWithStatusJSON(http.StatusNotFound,
				NewError("not_found", "エンドポイントが見つかりません", nil))
		default:
			c.AbortWithStatusJSON(http.StatusBadRequest,
				NewError("invalid_request", "リクエストが無効です", err))
		}
	}
}
