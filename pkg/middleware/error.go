package middleware

import (
	"commissionplane/pkg/errutil"

	"github.com/gin-gonic/gin"
)

func Error() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		err := c.Errors.Last()
		if err == nil {
			return
		}

		if v, ok := err.Err.(errutil.BaseError); ok {
			c.JSON(v.Code.HTTPStatus(), gin.H{
				"code":    v.Code.HTTPStatus(),
				"message": v.Error(),
			})
			return
		}

		c.JSON(500, gin.H{
			"code":    500,
			"message": err.Error(),
		})
	}
}
