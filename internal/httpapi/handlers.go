package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chatbroker/internal/models"
)

// registerRoutes wires the JWT-gated operator surface: pipeline admin
// (manual reload plus minimal CRUD) and ad hoc command execution. This
// is the gin counterpart of the façades internal/rpc.ServerConfig's gRPC
// server would expose over protobuf, for operators who would rather curl
// an HTTP endpoint than carry a gRPC client.
func registerRoutes(r gin.IRouter, deps Deps) {
	pipelines := r.Group("/pipelines")
	pipelines.GET("", func(c *gin.Context) {
		list, err := deps.Pipelines.List(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, list)
	})
	pipelines.POST("/reload", func(c *gin.Context) {
		if err := deps.Pipelines.Reload(c.Request.Context()); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "reloaded"})
	})
	pipelines.POST("", func(c *gin.Context) {
		var p models.Pipeline
		if err := c.ShouldBindJSON(&p); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		created, err := deps.Pipelines.Create(c.Request.Context(), p)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusCreated, created)
	})
	pipelines.POST("/:id/enabled", func(c *gin.Context) {
		var body struct {
			Enabled bool `json:"enabled"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := deps.Pipelines.SetEnabled(c.Request.Context(), c.Param("id"), body.Enabled); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	pipelines.DELETE("/:id", func(c *gin.Context) {
		if err := deps.Pipelines.Delete(c.Request.Context(), c.Param("id")); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "deleted"})
	})
	pipelines.GET("/:id/executions", func(c *gin.Context) {
		after := c.Query("after")
		log, next, err := deps.Pipelines.ExecutionHistory(c.Request.Context(), c.Param("id"), after, 50)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"executions": log, "next": next})
	})

	commands := r.Group("/commands")
	commands.GET("", func(c *gin.Context) {
		list, err := deps.Commands.List(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, list)
	})
	commands.POST("/:name/execute", func(c *gin.Context) {
		var args map[string]any
		_ = c.ShouldBindJSON(&args)
		log, err := deps.Commands.Execute(c.Request.Context(), c.Param("name"), args)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, log)
	})
	commands.POST("/:name/test", func(c *gin.Context) {
		var args map[string]any
		_ = c.ShouldBindJSON(&args)
		log, err := deps.Commands.Test(c.Request.Context(), c.Param("name"), args)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, log)
	})

	redeems := r.Group("/redeems")
	redeems.GET("/sync", func(c *gin.Context) {
		list, err := deps.Redeems.Sync(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, list)
	})

	ai := r.Group("/ai")
	ai.POST("/respond", func(c *gin.Context) {
		var body struct {
			Prompt string `json:"prompt"`
		}
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		reply, err := deps.AI.Respond(c.Request.Context(), body.Prompt)
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"reply": reply})
	})

	platforms := r.Group("/platforms")
	platforms.GET("/active", func(c *gin.Context) {
		c.JSON(http.StatusOK, deps.Platforms.ListActive())
	})
	platforms.POST("/:platform/:account/start", func(c *gin.Context) {
		plat := models.Platform(c.Param("platform"))
		if err := deps.Platforms.Start(plat, c.Param("account")); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "started"})
	})
	platforms.POST("/:platform/:account/stop", func(c *gin.Context) {
		plat := models.Platform(c.Param("platform"))
		if err := deps.Platforms.Stop(plat, c.Param("account")); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "stopped"})
	})
}
