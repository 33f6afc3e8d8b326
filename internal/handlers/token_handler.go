package handlers

import (
	"net/http"

	"github.com/Evg-Mazay/rsoi-curse/internal/models"
	"github.com/Evg-Mazay/rsoi-curse/internal/utils"
	"github.com/Evg-Mazay/rsoi-curse/pkg/jwt"
	"github.com/Evg-Mazay/rsoi-curse/pkg/serviceauth"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// TokenHandler issues service tokens to known backend clients
type TokenHandler struct {
	jwtService *jwt.Service
	clients    map[string]string // client id -> bcrypt hash of its secret
	logger     *logrus.Logger
}

// NewTokenHandler creates a new TokenHandler
func NewTokenHandler(jwtService *jwt.Service, clients map[string]string, logger *logrus.Logger) *TokenHandler {
	return &TokenHandler{jwtService: jwtService, clients: clients, logger: logger}
}

// IssueToken handles POST /token
func (h *TokenHandler) IssueToken(c *gin.Context) {
	var req serviceauth.TokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "client_id and client_secret are required")
		return
	}

	hash, known := h.clients[req.ClientID]
	if !known || !utils.CheckClientSecret(hash, req.ClientSecret) {
		h.logger.WithFields(logrus.Fields{
			"client_id": req.ClientID,
			"ip":        utils.GetRealIP(c),
		}).Warn("Rejected service credentials")
		c.AbortWithStatusJSON(http.StatusUnauthorized, models.ErrorResponse{
			Error:   models.KindUnauthorized,
			Message: "invalid client credentials",
		})
		return
	}

	token, expiresAt, err := h.jwtService.GenerateServiceToken(req.ClientID)
	if err != nil {
		respondError(c, h.logger, models.WrapError(models.KindInternal, err, "failed to issue token"))
		return
	}

	h.logger.WithField("client_id", req.ClientID).Info("Service token issued")
	c.JSON(http.StatusOK, serviceauth.TokenResponse{Token: token, Expire: expiresAt.Unix()})
}
