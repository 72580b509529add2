package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/emberworks/questengine/catalog"
	"github.com/emberworks/questengine/engine/account"
	"github.com/emberworks/questengine/engine/domain"
)

// writeError maps engine errors onto HTTP statuses. Unrecognized errors are
// reported as 500 without leaking internals.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound),
		errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, account.ErrUnknownCharacter):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrPrerequisiteNotMet):
		c.JSON(http.StatusPreconditionFailed, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrAlreadyActive),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrObjectivesIncomplete),
		errors.Is(err, domain.ErrAlreadyTerminal),
		errors.Is(err, domain.ErrRerollLimitExceeded):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, account.ErrInsufficientFunds):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
