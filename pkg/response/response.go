package response

import "github.com/gin-gonic/gin"

type Body struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

func Success(c *gin.Context, status int, data any) {
	c.JSON(status, Body{Code: ErrCodeSuccess, Message: Msg(ErrCodeSuccess), Data: data})
}

// Error aborts the request with code. An empty message uses the code's default.
func Error(c *gin.Context, status, code int, message string) {
	if message == "" {
		message = Msg(code)
	}
	c.AbortWithStatusJSON(status, Body{Code: code, Message: message})
}
