// Package response writes the REST surface's JSON bodies.
package response

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	svcErr "github.com/oggyb/blind-match/internal/errors"
)

// ErrorBody is returned for every failed request.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// Error aborts the request with the HTTP status matching err's code.
func Error(c *gin.Context, err error) {
	status := svcErr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	c.AbortWithStatusJSON(status, ErrorBody{
		Error: svcErr.Message(err),
		Code:  svcErr.Code(err).String(),
	})
}

// OK writes body with 200.
func OK(c *gin.Context, body any) {
	c.JSON(http.StatusOK, body)
}

// UintParam parses a positive path parameter.
func UintParam(c *gin.Context, name string) (uint64, error) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		return 0, svcErr.InvalidArgument(name + " must be a positive integer")
	}
	return v, nil
}
