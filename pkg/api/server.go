// Package api provides the REST API server for gridproj
package api

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/halfstack-audio/gridproj/pkg/container"
	"github.com/halfstack-audio/gridproj/pkg/container/engines"
	"github.com/halfstack-audio/gridproj/pkg/inspect"
	"github.com/halfstack-audio/gridproj/pkg/intent"
	"github.com/halfstack-audio/gridproj/pkg/midiexport"
)

// @title gridproj API
// @version 1.0
// @description API for inspecting and editing groovebox project files
// @host localhost:8080
// @BasePath /api/v1

// StartServer starts the API server on the specified port
func StartServer(port int) error {
	r := gin.Default()

	// CORS middleware
	r.Use(corsMiddleware())

	// Health check
	r.GET("/health", healthCheck)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		v1.GET("/health", healthCheck)
		v1.POST("/inspect", handleInspect)
		v1.POST("/verify", handleVerify)
		v1.POST("/apply", handleApply)
		v1.POST("/export", handleExport)
		v1.GET("/engines", listEngines)
	}

	// Swagger docs
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	return r.Run(fmt.Sprintf(":%d", port))
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// healthCheck godoc
// @Summary Health check endpoint
// @Description Returns the health status of the API
// @Tags health
// @Produce json
// @Success 200 {object} map[string]string
// @Router /health [get]
func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"service": "gridproj",
	})
}

// listEngines godoc
// @Summary List known engines
// @Description Returns the engine id table used to interpret block bodies
// @Tags info
// @Produce json
// @Success 200 {object} map[string]map[string]string
// @Router /api/v1/engines [get]
func listEngines(c *gin.Context) {
	out := map[string]string{}
	for id, name := range engines.Names() {
		out[fmt.Sprintf("0x%02X", id)] = name
	}
	c.JSON(http.StatusOK, gin.H{"engines": out})
}

// handleInspect godoc
// @Summary Inspect a project file
// @Description Upload a project file and receive its decoded summary
// @Tags project
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "Project file"
// @Success 200 {object} inspect.Report
// @Failure 400 {object} map[string]string
// @Router /api/v1/inspect [post]
func handleInspect(c *gin.Context) {
	data, _, ok := readUpload(c, "file")
	if !ok {
		return
	}
	p, err := container.Decode(data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, inspect.Summarize(p))
}

// handleVerify godoc
// @Summary Verify a project file round-trips
// @Description Decodes, re-encodes, and confirms byte identity
// @Tags project
// @Accept multipart/form-data
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 422 {object} map[string]string
// @Router /api/v1/verify [post]
func handleVerify(c *gin.Context) {
	data, _, ok := readUpload(c, "file")
	if !ok {
		return
	}
	if err := container.VerifyRoundTrip(data); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "bytes": fmt.Sprintf("%d", len(data))})
}

// handleApply godoc
// @Summary Apply an edit document to a project file
// @Description Upload a project file plus a JSON intent document; receive the rewritten file
// @Tags project
// @Accept multipart/form-data
// @Produce application/octet-stream
// @Param file formData file true "Project file"
// @Param intent formData file true "JSON edit document"
// @Success 200 {file} binary
// @Failure 400 {object} map[string]string
// @Router /api/v1/apply [post]
func handleApply(c *gin.Context) {
	data, name, ok := readUpload(c, "file")
	if !ok {
		return
	}
	doc, ok := readIntent(c)
	if !ok {
		return
	}

	p, err := container.Decode(data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := doc.Apply(p); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	out, err := container.Encode(p)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", name))
	c.Data(http.StatusOK, "application/octet-stream", out)
}

// handleExport godoc
// @Summary Export a project to MIDI
// @Description Upload a project file and receive a Standard MIDI File
// @Tags project
// @Accept multipart/form-data
// @Produce audio/midi
// @Param file formData file true "Project file"
// @Param track query int false "Export a single track (1-16)"
// @Success 200 {file} binary
// @Failure 400 {object} map[string]string
// @Router /api/v1/export [post]
func handleExport(c *gin.Context) {
	data, name, ok := readUpload(c, "file")
	if !ok {
		return
	}
	p, err := container.Decode(data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	exp := midiexport.NewExporter()
	var out []byte
	if trackQ := c.Query("track"); trackQ != "" {
		var tr int
		if _, err := fmt.Sscanf(trackQ, "%d", &tr); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad track parameter"})
			return
		}
		out, err = exp.ExportTrack(p, tr)
	} else {
		out, err = exp.Export(p)
	}
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	outputName := strings.TrimSuffix(name, ".bin") + ".mid"
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%s", outputName))
	c.Data(http.StatusOK, "audio/midi", out)
}

func readUpload(c *gin.Context, field string) ([]byte, string, bool) {
	file, header, err := c.Request.FormFile(field)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("No %s uploaded", field)})
		return nil, "", false
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Failed to read upload"})
		return nil, "", false
	}
	return data, header.Filename, true
}

func readIntent(c *gin.Context) (*intent.Document, bool) {
	raw, _, ok := readUpload(c, "intent")
	if !ok {
		return nil, false
	}
	doc, err := intent.Parse(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	return doc, true
}
