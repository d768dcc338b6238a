package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/dmitrijs2005/getkey/internal/common"
	"github.com/gin-gonic/gin"
)

// KindBadRequest is reported when the request body or query cannot be bound.
const KindBadRequest = common.KindBadRequest

type errorMapping struct {
	status  int
	message string
}

var errorMappings = map[string]errorMapping{
	common.KindInvalidToken:     {http.StatusUnauthorized, "Invalid session token"},
	common.KindDeviceMismatch:   {http.StatusForbidden, "Session belongs to another device"},
	common.KindIPMismatch:       {http.StatusForbidden, "Session was started from another network"},
	common.KindExpired:          {http.StatusGone, "Session expired, start again"},
	common.KindNotFound:         {http.StatusNotFound, "Not found"},
	common.KindInvalidIndex:     {http.StatusBadRequest, "Checkpoint index out of range"},
	common.KindOutOfOrder:       {http.StatusConflict, "Complete the previous checkpoint first"},
	common.KindChallengeFailed:  {http.StatusBadRequest, "Challenge verification failed"},
	common.KindRateLimited:      {http.StatusTooManyRequests, "Too many keys requested"},
	common.KindQuotaExceeded:    {http.StatusForbidden, "Key quota of this script is exhausted"},
	common.KindIncomplete:       {http.StatusConflict, "Complete all steps first"},
	common.KindUpstreamVerifier: {http.StatusBadGateway, "Challenge service unavailable"},
	common.KindInternal:         {http.StatusInternalServerError, "Internal error"},
	common.KindBadRequest:       {http.StatusBadRequest, "Invalid request"},
}

// writeError renders err as {"error": kind, "message": text}. Internal errors
// never leak their text to the client. Rate limits also carry
// "cooldown_hours".
func writeError(c *gin.Context, err error) {
	kind := common.KindOf(err)
	m := errorMappings[kind]
	body := gin.H{"error": kind, "message": m.message}

	var rl *common.RateLimitError
	if errors.As(err, &rl) {
		body["message"] = rl.Error()
		body["cooldown_hours"] = rl.CooldownHours
		c.Header("Retry-After", strconv.Itoa(rl.CooldownHours*3600))
	}

	c.AbortWithStatusJSON(m.status, body)
}

func writeBadRequest(c *gin.Context) {
	m := errorMappings[KindBadRequest]
	c.AbortWithStatusJSON(m.status, gin.H{"error": KindBadRequest, "message": m.message})
}

func writeData(c *gin.Context, data gin.H) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}
