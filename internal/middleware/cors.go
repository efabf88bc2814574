package middleware

import (
	"log"
	"slices"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/ipimonitor/ipi-api/internal/config"
)

// CORS lets the dashboard front end call the API from its configured
// origins with the session cookie attached.
//
// A "*" entry opens the API to every origin but then drops credentials,
// so cross-origin callers must send the token as a Bearer header.
// With no origins configured, cross-origin requests get no CORS headers.
func CORS(cfg config.CORSConfig) gin.HandlerFunc {
	if len(cfg.Origins) == 0 {
		log.Println("⚠️  CORS: no origins configured, cross-origin requests are refused")
		return func(c *gin.Context) { c.Next() }
	}

	cc := cors.Config{
		AllowMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept", "Authorization"},
		// CSV exports name their file in Content-Disposition
		ExposeHeaders: []string{"Content-Length", "Content-Disposition"},
		MaxAge:        cfg.MaxAge,
	}
	if slices.Contains(cfg.Origins, "*") {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = cfg.Origins
		cc.AllowCredentials = true
	}
	return cors.New(cc)
}
