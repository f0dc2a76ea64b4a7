package storage

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"
)

// Headers authenticating requests to the storage server.
const (
	HeaderToken = "X-Backup-Token"
	HeaderSalt  = "X-Backup-Salt"
	HeaderHash  = "X-Backup-Hash"
)

// Storage server operations, posted to <url>api/<op>.
const (
	OpStatus  = "status"
	OpMkdir   = "mkdir"
	OpRmdir   = "rmdir"
	OpListDir = "list_dir"
	OpGetFile = "get_file"
	OpPutFile = "put_file"
)

// CodeNotFound marks an error result for a missing path.
const CodeNotFound = "not_found"

// APIRequest is the JSON body of every storage server call.
type APIRequest struct {
	Path string `json:"path,omitempty"`
	File string `json:"file,omitempty"` // base64 file content
}

// APIResult is the JSON reply of every storage server call.
type APIResult struct {
	Status  string        `json:"status"` // "success" or "error"
	Code    string        `json:"code,omitempty"`
	Message string        `json:"message,omitempty"`
	Data    APIResultData `json:"data"`
}

// APIResultData carries operation output.
type APIResultData struct {
	List []Entry `json:"list,omitempty"`
	File string  `json:"file,omitempty"`
}

// Success reports whether the call succeeded.
func (r *APIResult) Success() bool {
	return r.Status == "success"
}

// SignRequest returns the hash header value for apiKey and salt.
func SignRequest(apiKey, salt string) string {
	sum := sha3.Sum256([]byte(apiKey + salt))
	return hex.EncodeToString(sum[:])
}

// ServerConfig holds storage server client configuration.
type ServerConfig struct {
	URL     string
	Token   string
	APIKey  string
	Timeout time.Duration
}

// ServerDriver talks to a file-backup storage server over HTTP.
type ServerDriver struct {
	baseURL    string
	token      string
	apiKey     string
	httpClient *http.Client
}

// NewServerDriver creates a storage server client.
func NewServerDriver(cfg ServerConfig) (*ServerDriver, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("server URL not configured")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Minute
	}
	base := cfg.URL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	return &ServerDriver{
		baseURL:    base,
		token:      cfg.Token,
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// call posts req to the op endpoint and decodes the result.
func (d *ServerDriver) call(ctx context.Context, op string, req APIRequest) (*APIResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL+"api/"+op, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	salt := strconv.FormatInt(time.Now().UnixNano(), 10)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set(HeaderToken, d.token)
	httpReq.Header.Set(HeaderSalt, salt)
	httpReq.Header.Set(HeaderHash, SignRequest(d.apiKey, salt))

	resp, err := d.httpClient.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result APIResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("invalid response from %s (status %d): %w", op, resp.StatusCode, err)
	}
	if !result.Success() {
		if result.Code == CodeNotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, req.Path)
		}
		return nil, fmt.Errorf("server %s failed: %s", op, result.Message)
	}
	return &result, nil
}

// Probe implements Driver.
func (d *ServerDriver) Probe(ctx context.Context) error {
	_, err := d.call(ctx, OpStatus, APIRequest{})
	return err
}

// Mkdir implements Driver.
func (d *ServerDriver) Mkdir(ctx context.Context, remote string) error {
	_, err := d.call(ctx, OpMkdir, APIRequest{Path: remote})
	return err
}

// Rmdir implements Driver.
func (d *ServerDriver) Rmdir(ctx context.Context, remote string) error {
	_, err := d.call(ctx, OpRmdir, APIRequest{Path: remote})
	return err
}

// ListDir implements Driver.
func (d *ServerDriver) ListDir(ctx context.Context, remote string) ([]Entry, error) {
	res, err := d.call(ctx, OpListDir, APIRequest{Path: remote})
	if err != nil {
		return nil, err
	}
	return res.Data.List, nil
}

// GetFile implements Driver.
func (d *ServerDriver) GetFile(ctx context.Context, local, remote string) error {
	res, err := d.call(ctx, OpGetFile, APIRequest{Path: remote})
	if err != nil {
		return err
	}
	data, err := base64.StdEncoding.DecodeString(res.Data.File)
	if err != nil {
		return fmt.Errorf("invalid file payload: %w", err)
	}
	return copyToFile(ctx, local, bytes.NewReader(data))
}

// PutFile implements Driver.
func (d *ServerDriver) PutFile(ctx context.Context, local, remote string) error {
	data, err := os.ReadFile(local)
	if err != nil {
		return err
	}
	_, err = d.call(ctx, OpPutFile, APIRequest{
		Path: remote,
		File: base64.StdEncoding.EncodeToString(data),
	})
	return err
}

// Close implements Driver.
func (d *ServerDriver) Close() error {
	d.httpClient.CloseIdleConnections()
	return nil
}
