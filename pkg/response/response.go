package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Response is the envelope every API reply is wrapped in
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorData  `json:"error,omitempty"`
	Meta    *Meta       `json:"meta,omitempty"`
}

type ErrorData struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
	Details   string `json:"details,omitempty"`
}

// Meta describes list results
type Meta struct {
	Total int `json:"total"`
}

func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data})
}

func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Response{Success: true, Data: data})
}

// List writes a collection together with its size
func List(c *gin.Context, data interface{}, total int) {
	c.JSON(http.StatusOK, Response{Success: true, Data: data, Meta: &Meta{Total: total}})
}

// Body builds an error envelope without writing it, for AbortWithStatusJSON
func Body(code, message string) Response {
	return Response{Success: false, Error: &ErrorData{Code: code, Message: message}}
}

func Error(c *gin.Context, status int, code, message string) {
	c.JSON(status, Body(code, message))
}

// Retryable writes an error the caller may safely repeat
func Retryable(c *gin.Context, status int, code, message string) {
	c.JSON(status, Response{
		Success: false,
		Error:   &ErrorData{Code: code, Message: message, Retryable: true},
	})
}

func InternalError(c *gin.Context, err error) {
	c.JSON(http.StatusInternalServerError, Response{
		Success: false,
		Error:   &ErrorData{Code: "INTERNAL_ERROR", Message: "Internal Server Error", Details: err.Error()},
	})
}

func BadRequest(c *gin.Context, message string) {
	Error(c, http.StatusBadRequest, "BAD_REQUEST", message)
}
