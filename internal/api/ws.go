package api

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The dashboard runs on a different origin than the API in
	// development; auth happens via the token below, not the origin.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// websocketHandler upgrades an authenticated dashboard connection and
// hands it to the realtime hub. The token travels as a query parameter
// because browsers cannot set headers on websocket upgrades.
func (s *Server) websocketHandler(c echo.Context) error {
	token := c.QueryParam("token")
	if token == "" {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing token"})
	}

	claims, err := s.parseToken(token)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid or expired token"})
	}

	ws, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}

	log.Debug().Str("user_id", claims.UserID).Msg("Websocket client connected")
	s.hub.Register(claims.UserID, ws)
	return nil
}
