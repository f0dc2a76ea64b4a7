// Package fileserver implements the HTTP storage server that backs the
// "server" backend mode.
package fileserver

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/imedwei/file-backup/internal/storage"
)

// DefaultMaxBodyBytes bounds a single request body.
const DefaultMaxBodyBytes = 1 << 30

// Config configures a storage server.
type Config struct {
	Addr         string
	Token        string
	APIKey       string
	MaxBodyBytes int64
}

// Server exposes a storage.Driver over the JSON protocol spoken by
// storage.ServerDriver.
type Server struct {
	driver  storage.Driver
	cfg     Config
	router  *gin.Engine
	logger  *slog.Logger
	tempDir string
}

// New creates a server on top of driver.
func New(driver storage.Driver, cfg Config, logger *slog.Logger) (*Server, error) {
	if cfg.Token == "" || cfg.APIKey == "" {
		return nil, fmt.Errorf("storage server token and api key are required")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}

	tempDir, err := os.MkdirTemp("", "file-backup-server-")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		driver:  driver,
		cfg:     cfg,
		router:  router,
		logger:  logger.With("component", "fileserver"),
		tempDir: tempDir,
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	api := s.router.Group("/api")
	api.Use(s.authMiddleware())
	{
		api.POST("/"+storage.OpStatus, s.handleStatus)
		api.POST("/"+storage.OpMkdir, s.handleMkdir)
		api.POST("/"+storage.OpRmdir, s.handleRmdir)
		api.POST("/"+storage.OpListDir, s.handleListDir)
		api.POST("/"+storage.OpGetFile, s.handleGetFile)
		api.POST("/"+storage.OpPutFile, s.handlePutFile)
	}
}

// Handler returns the HTTP handler serving the API.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves on cfg.Addr until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Storage server listening", "addr", s.cfg.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("storage server shutdown: %w", err)
	}
	return nil
}

// Close releases the server's temp dir and the driver.
func (s *Server) Close() error {
	_ = os.RemoveAll(s.tempDir)
	return s.driver.Close()
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader(storage.HeaderToken)
		salt := c.GetHeader(storage.HeaderSalt)
		hash := c.GetHeader(storage.HeaderHash)

		if salt == "" ||
			subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Token)) != 1 ||
			subtle.ConstantTimeCompare([]byte(hash), []byte(storage.SignRequest(s.cfg.APIKey, salt))) != 1 {
			s.logger.Warn("Rejected storage request", "client_ip", c.ClientIP(), "path", c.Request.URL.Path)
			fail(c, http.StatusUnauthorized, "", "unauthorized")
			c.Abort()
			return
		}

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxBodyBytes)
		c.Next()
	}
}

func ok(c *gin.Context, data storage.APIResultData) {
	c.JSON(http.StatusOK, storage.APIResult{Status: "success", Data: data})
}

func fail(c *gin.Context, status int, code, msg string) {
	c.JSON(status, storage.APIResult{Status: "error", Code: code, Message: msg})
}

// bind decodes the request and validates its path. It writes the error
// response itself and returns false on failure.
func (s *Server) bind(c *gin.Context) (storage.APIRequest, bool) {
	var req storage.APIRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "", "invalid request body")
		return req, false
	}
	clean, err := checkPath(req.Path)
	if err != nil {
		fail(c, http.StatusBadRequest, "", err.Error())
		return req, false
	}
	req.Path = clean
	return req, true
}

// checkPath rejects paths that would leave the storage root.
func checkPath(p string) (string, error) {
	p = strings.ReplaceAll(p, `\`, "/")
	for _, part := range strings.Split(p, "/") {
		if part == ".." {
			return "", fmt.Errorf("path %q escapes storage root", p)
		}
	}
	return storage.Clean(p), nil
}

func (s *Server) driverError(c *gin.Context, op string, err error) {
	if errors.Is(err, storage.ErrNotExist) {
		fail(c, http.StatusNotFound, storage.CodeNotFound, err.Error())
		return
	}
	s.logger.Error("Storage operation failed", "operation", op, "error", err)
	fail(c, http.StatusInternalServerError, "", err.Error())
}

func (s *Server) handleStatus(c *gin.Context) {
	if err := s.driver.Probe(c.Request.Context()); err != nil {
		s.driverError(c, storage.OpStatus, err)
		return
	}
	ok(c, storage.APIResultData{})
}

func (s *Server) handleMkdir(c *gin.Context) {
	req, valid := s.bind(c)
	if !valid {
		return
	}
	if err := s.driver.Mkdir(c.Request.Context(), req.Path); err != nil {
		s.driverError(c, storage.OpMkdir, err)
		return
	}
	ok(c, storage.APIResultData{})
}

func (s *Server) handleRmdir(c *gin.Context) {
	req, valid := s.bind(c)
	if !valid {
		return
	}
	if req.Path == "" {
		fail(c, http.StatusBadRequest, "", "refusing to remove storage root")
		return
	}
	if err := s.driver.Rmdir(c.Request.Context(), req.Path); err != nil {
		s.driverError(c, storage.OpRmdir, err)
		return
	}
	ok(c, storage.APIResultData{})
}

func (s *Server) handleListDir(c *gin.Context) {
	req, valid := s.bind(c)
	if !valid {
		return
	}
	entries, err := s.driver.ListDir(c.Request.Context(), req.Path)
	if err != nil {
		s.driverError(c, storage.OpListDir, err)
		return
	}
	if entries == nil {
		entries = []storage.Entry{}
	}
	ok(c, storage.APIResultData{List: entries})
}

func (s *Server) handleGetFile(c *gin.Context) {
	req, valid := s.bind(c)
	if !valid {
		return
	}

	tmp, err := s.tempPath()
	if err != nil {
		s.driverError(c, storage.OpGetFile, err)
		return
	}
	defer os.Remove(tmp)

	if err := s.driver.GetFile(c.Request.Context(), tmp, req.Path); err != nil {
		s.driverError(c, storage.OpGetFile, err)
		return
	}
	data, err := os.ReadFile(tmp)
	if err != nil {
		s.driverError(c, storage.OpGetFile, err)
		return
	}
	ok(c, storage.APIResultData{File: base64.StdEncoding.EncodeToString(data)})
}

func (s *Server) handlePutFile(c *gin.Context) {
	req, valid := s.bind(c)
	if !valid {
		return
	}
	if req.Path == "" {
		fail(c, http.StatusBadRequest, "", "file path is required")
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.File)
	if err != nil {
		fail(c, http.StatusBadRequest, "", "invalid file payload")
		return
	}

	tmp, err := s.tempPath()
	if err != nil {
		s.driverError(c, storage.OpPutFile, err)
		return
	}
	defer os.Remove(tmp)

	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		s.driverError(c, storage.OpPutFile, err)
		return
	}
	if err := s.driver.PutFile(c.Request.Context(), tmp, req.Path); err != nil {
		s.driverError(c, storage.OpPutFile, err)
		return
	}
	ok(c, storage.APIResultData{})
}

// tempPath reserves a unique file name in the server temp dir.
func (s *Server) tempPath() (string, error) {
	f, err := os.CreateTemp(s.tempDir, "xfer-*")
	if err != nil {
		return "", err
	}
	name := f.Name()
	if err := f.Close(); err != nil {
		return "", err
	}
	return filepath.Clean(name), nil
}
