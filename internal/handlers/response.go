package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/movescan/movescan-backend/internal/apperrors"
)

func RespondOK(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

func RespondError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "error": message})
}

// RespondAppError maps the apperrors taxonomy onto HTTP status codes.
func RespondAppError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		RespondError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, apperrors.ErrValidation):
		RespondError(c, http.StatusBadRequest, err.Error())
	case errors.Is(err, apperrors.ErrSourceUnavailable):
		RespondError(c, http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, apperrors.ErrProvider):
		RespondError(c, http.StatusBadGateway, err.Error())
	default:
		RespondError(c, http.StatusInternalServerError, err.Error())
	}
}
