// Package http exposes the get-key flow as a JSON API over gin.
package http

import (
	"context"
	"errors"
	"io"

	"github.com/dmitrijs2005/getkey/internal/common"
	"github.com/dmitrijs2005/getkey/internal/server/services"
	"github.com/gin-gonic/gin"
)

// KeyFlow is the session flow the handlers drive.
type KeyFlow interface {
	Start(ctx context.Context, resourceSlug, address, fingerprint string) (*services.StartResult, error)
	CompleteCheckpoint(ctx context.Context, token string, index int, address, fingerprint string) error
	VerifyChallenge(ctx context.Context, token, proof, address, fingerprint string) error
	GetStatus(ctx context.Context, token, fingerprint string) (*services.SessionView, error)
	Issue(ctx context.Context, token, address, fingerprint string) (*services.IssueResult, error)
}

// KeyChecker looks up issued keys.
type KeyChecker interface {
	Check(ctx context.Context, value string) (*services.KeyView, error)
}

// Handlers contains HTTP handlers for the get-key endpoints
type Handlers struct {
	flow KeyFlow
	keys KeyChecker
}

// NewHandlers creates new get-key handlers
func NewHandlers(flow KeyFlow, keys KeyChecker) *Handlers {
	return &Handlers{flow: flow, keys: keys}
}

func fingerprint(c *gin.Context, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return c.GetHeader(common.DeviceFingerprintHeader)
}

// Start opens a session for the resource named in the path. The body is optional.
func (h *Handlers) Start(c *gin.Context) {
	var req struct {
		Fingerprint string `json:"fingerprint"`
	}

	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(c)
		return
	}

	res, err := h.flow.Start(c.Request.Context(), c.Param("slug"), c.ClientIP(), fingerprint(c, req.Fingerprint))
	if err != nil {
		writeError(c, err)
		return
	}

	data := gin.H{
		"token":                res.Token,
		"checkpoints_required": res.CheckpointsRequired,
		"challenge_required":   res.ChallengeRequired,
		"links":                res.Links,
		"timer_seconds":        res.TimerSeconds,
		"expires_at":           res.ExpiresAt,
	}
	if res.ChallengeSiteKey != "" {
		data["challenge_site_key"] = res.ChallengeSiteKey
	}
	writeData(c, data)
}

// Checkpoint records a completed checkpoint.
func (h *Handlers) Checkpoint(c *gin.Context) {
	var req struct {
		Token       string `json:"token" binding:"required"`
		Index       *int   `json:"index" binding:"required"`
		Fingerprint string `json:"fingerprint"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c)
		return
	}

	err := h.flow.CompleteCheckpoint(c.Request.Context(), req.Token, *req.Index, c.ClientIP(), fingerprint(c, req.Fingerprint))
	if err != nil {
		writeError(c, err)
		return
	}

	writeData(c, gin.H{"index": *req.Index})
}

// Challenge submits a human-verification proof.
func (h *Handlers) Challenge(c *gin.Context) {
	var req struct {
		Token       string `json:"token" binding:"required"`
		Proof       string `json:"proof"`
		Fingerprint string `json:"fingerprint"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c)
		return
	}

	err := h.flow.VerifyChallenge(c.Request.Context(), req.Token, req.Proof, c.ClientIP(), fingerprint(c, req.Fingerprint))
	if err != nil {
		writeError(c, err)
		return
	}

	writeData(c, gin.H{"challenge_passed": true})
}

// Status reports session progress. The token travels in the query string.
func (h *Handlers) Status(c *gin.Context) {
	var req struct {
		Token       string `form:"token" binding:"required"`
		Fingerprint string `form:"fingerprint"`
	}

	if err := c.ShouldBindQuery(&req); err != nil {
		writeBadRequest(c)
		return
	}

	view, err := h.flow.GetStatus(c.Request.Context(), req.Token, fingerprint(c, req.Fingerprint))
	if err != nil {
		writeError(c, err)
		return
	}

	completed := view.CheckpointsCompleted
	if completed == nil {
		completed = []int{}
	}
	data := gin.H{
		"status":                string(view.Status),
		"checkpoints_required":  view.CheckpointsRequired,
		"checkpoints_completed": completed,
		"challenge_required":    view.ChallengeRequired,
		"challenge_passed":      view.ChallengePassed,
		"expires_at":            view.ExpiresAt,
	}
	if view.CredentialValue != nil {
		data["key"] = *view.CredentialValue
	}
	writeData(c, data)
}

// Claim issues the key once every step is done.
func (h *Handlers) Claim(c *gin.Context) {
	var req struct {
		Token       string `json:"token" binding:"required"`
		Fingerprint string `json:"fingerprint"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		writeBadRequest(c)
		return
	}

	res, err := h.flow.Issue(c.Request.Context(), req.Token, c.ClientIP(), fingerprint(c, req.Fingerprint))
	if err != nil {
		writeError(c, err)
		return
	}

	writeData(c, gin.H{"key": res.Value, "expires_at": res.ExpiresAt})
}

// CheckKey reports the current state of an issued key.
func (h *Handlers) CheckKey(c *gin.Context) {
	view, err := h.keys.Check(c.Request.Context(), c.Param("value"))
	if err != nil {
		writeError(c, err)
		return
	}

	writeData(c, gin.H{
		"key":         view.Value,
		"kind":        string(view.Kind),
		"status":      string(view.Status),
		"max_devices": view.MaxDevices,
		"expires_at":  view.ExpiresAt,
	})
}
