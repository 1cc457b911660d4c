package middleware

import (
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/toidukodu/tehiskokk/internal/common"
)

// Recovery turns a handler panic into a 500 envelope. When the response has
// already started (a stream), the connection is just abandoned.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			logrus.WithFields(logrus.Fields{
				"request_id": c.GetString(RequestIDKey),
				"path":       c.Request.URL.Path,
				"panic":      rec,
				"stack":      string(debug.Stack()),
			}).Error("panic recovered")

			if c.Writer.Written() {
				c.Abort()
				return
			}
			common.AbortFail(c, http.StatusInternalServerError, 50000, "internal server error")
		}()
		c.Next()
	}
}
