package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	apperrors "github.com/stitts-dev/squad-optimizer/internal/errors"
	"github.com/stitts-dev/squad-optimizer/pkg/types"
)

// respondError writes err with the status its code maps to.
func respondError(c *gin.Context, err error, logger *logrus.Entry) {
	code := apperrors.GetCode(err)
	status := code.HTTPStatus()

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		status = 499
	case code == apperrors.CodeUnknown:
		logger.WithError(err).Error("Request failed")
	}

	c.JSON(status, types.ErrorResponse{
		Error:   err.Error(),
		Code:    string(code),
		Details: apperrors.Details(err),
	})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, types.ErrorResponse{
		Error: "Invalid request format",
		Code:  "INVALID_REQUEST",
		Details: map[string]string{
			"validation_error": err.Error(),
		},
	})
}
