package handler

import (
	"net/http"

	"debtapproval/internal/apperror"
	"debtapproval/internal/middleware"
	"debtapproval/pkg/response"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// respondError maps a service error onto its status code and envelope.
func respondError(c *gin.Context, err error) {
	e := apperror.From(err)
	status := apperror.HTTPStatus(e.Kind)
	c.JSON(status, response.CodedError(status, e.Code, e.Message, e.Details))
}

func badRequest(c *gin.Context, msg string) {
	respondError(c, apperror.Validation(msg))
}

// identity is set by middleware.Authenticate on every protected route.
func identity(c *gin.Context) (middleware.Identity, bool) {
	id, ok := middleware.CurrentIdentity(c)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, response.Error(http.StatusUnauthorized, "Authorization is missing"))
	}
	return id, ok
}

func paramID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "Invalid id.")
		return uuid.Nil, false
	}
	return id, true
}
