package partner

import (
	"strconv"
	"strings"

	"github.com/Do1K/b2b-point-service/internal/constants"
	handlershared "github.com/Do1K/b2b-point-service/internal/http/handlers/shared"

	"github.com/gin-gonic/gin"
)

func respondError(c *gin.Context, code int, key string, err error) {
	handlershared.RespondError(c, code, key, err)
}

func getPartnerID(c *gin.Context) (uint, bool) {
	return handlershared.GetContextUintWithKeys(c, constants.ContextKeyPartnerID, "error.partner_id_invalid", "error.partner_id_type_invalid")
}

func parseUintParam(c *gin.Context, name string) (uint, bool) {
	raw := strings.TrimSpace(c.Param(name))
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}
