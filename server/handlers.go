package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	rmbg "github.com/josuedeavila/rmbg-service"
)

const (
	msgNoFile      = "No file selected"
	msgInvalidType = "Invalid file type. Please upload a PNG, JPG, JPEG, or WebP image."
	msgTooLarge    = "File too large. Maximum size is 16MB."
	msgUnavailable = "Background removal service is currently unavailable. Please try again later."
	msgUnreadable  = "Could not read the uploaded image."
	msgFailed      = "Failed to process image. Please try again."
	msgNotFound    = "File not found or expired."
)

var allowedExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".webp": true,
}

func allowedFile(name string) bool {
	return allowedExtensions[strings.ToLower(filepath.Ext(name))]
}

func (s *Server) index(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{"maxUploadMB": s.cfg.MaxUploadBytes >> 20})
}

func (s *Server) notFound(c *gin.Context) {
	c.HTML(http.StatusNotFound, "index.html", gin.H{"maxUploadMB": s.cfg.MaxUploadBytes >> 20})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "healthy",
		"backend": s.backend.String(),
	})
}

func (s *Server) upload(c *gin.Context) {
	if c.Request.ContentLength > s.cfg.MaxUploadBytes {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": msgTooLarge})
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes)

	header, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": msgTooLarge})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": msgNoFile})
		return
	}
	if header.Filename == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgNoFile})
		return
	}
	if !allowedFile(header.Filename) {
		c.JSON(http.StatusBadRequest, gin.H{"error": msgInvalidType})
		return
	}
	if s.backend != rmbg.BackendAvailable {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": msgUnavailable})
		return
	}

	file, err := header.Open()
	if err != nil {
		s.logger.Error("failed to open upload", "file", header.Filename, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgFailed})
		return
	}
	data, err := io.ReadAll(file)
	_ = file.Close()
	if err != nil {
		s.logger.Error("failed to read upload", "file", header.Filename, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgFailed})
		return
	}

	ctx := c.Request.Context()
	if s.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestTimeout)
		defer cancel()
	}

	out, err := s.remover.RemoveBackgroundBytes(ctx, data)
	if err != nil {
		status, msg := errorStatus(err)
		s.logger.Error("background removal failed", "file", header.Filename, "status", status, "error", err)
		c.JSON(status, gin.H{"error": msg})
		return
	}

	name, err := s.store.Save(out.PNG)
	if err != nil {
		s.logger.Error("failed to save result", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msgFailed})
		return
	}

	s.logger.Info("background removed",
		"file", header.Filename,
		"result", name,
		"outcome", out.Outcome,
		"width", out.Width,
		"height", out.Height,
	)
	c.JSON(http.StatusOK, gin.H{
		"success":      true,
		"message":      "Background removed successfully!",
		"download_url": "/download/" + name,
		"degraded":     out.Outcome == rmbg.Degraded,
	})
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, rmbg.ErrDecode):
		return http.StatusBadRequest, msgUnreadable
	case errors.Is(err, rmbg.ErrServiceUnavailable):
		return http.StatusServiceUnavailable, msgUnavailable
	default:
		return http.StatusInternalServerError, msgFailed
	}
}

func (s *Server) download(c *gin.Context) {
	name := filepath.Base(c.Param("name"))
	path, err := s.store.Path(name)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": msgNotFound})
		return
	}

	c.Header("Content-Type", "image/png")
	c.FileAttachment(path, "background_removed_"+name)
}
