package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"

	"github.com/rubiojr/timefix/internal/errmsg"
	"github.com/rubiojr/timefix/internal/log"
	"github.com/rubiojr/timefix/internal/session"
)

const DefaultAddress = "127.0.0.1:8734"

// Controller is the part of the orchestrator exposed over HTTP.
type Controller interface {
	// TryStart returns errmsg.ErrAlreadyScanning and the running session's
	// id when a scan is in progress.
	TryStart(root string) (string, error)
	StopScan() bool
	Status() session.Status
}

type StartRequest struct {
	Root string `json:"root,omitempty"`
}

type StartResponse struct {
	SessionID      string `json:"session_id"`
	AlreadyRunning bool   `json:"already_running,omitempty"`
}

type StopResponse struct {
	Stopped bool `json:"stopped"`
}

func NewRouter(ctrl Controller) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(render.SetContentType(render.ContentTypeJSON))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		statusJSON(http.StatusOK, nil, w, r)
	})
	r.Get("/scan", statusHandler(ctrl))
	r.Post("/scan", startHandler(ctrl))
	r.Delete("/scan", stopHandler(ctrl))
	return r
}

// Serve runs the control API until ctx is done.
func Serve(ctx context.Context, addr string, ctrl Controller, logger *log.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(ctrl),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Printf("control API listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func statusJSON(code int, err error, w http.ResponseWriter, r *http.Request) {
	render.Status(r, code)
	if err != nil {
		render.JSON(w, r, map[string]string{
			"status": "error",
			"error":  err.Error(),
			"code":   strconv.Itoa(code),
		})
		return
	}

	render.JSON(w, r, map[string]string{
		"status": "ok",
		"code":   strconv.Itoa(code),
	})
}

func statusHandler(ctrl Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, ctrl.Status())
	}
}

func startHandler(ctrl Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req StartRequest
		if r.ContentLength != 0 {
			if err := render.DecodeJSON(r.Body, &req); err != nil && !errors.Is(err, io.EOF) {
				statusJSON(http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err), w, r)
				return
			}
		}

		id, err := ctrl.TryStart(req.Root)
		if errors.Is(err, errmsg.ErrAlreadyScanning) {
			render.JSON(w, r, StartResponse{SessionID: id, AlreadyRunning: true})
			return
		}
		if err != nil {
			statusJSON(http.StatusInternalServerError, err, w, r)
			return
		}
		render.Status(r, http.StatusAccepted)
		render.JSON(w, r, StartResponse{SessionID: id})
	}
}

func stopHandler(ctrl Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		render.JSON(w, r, StopResponse{Stopped: ctrl.StopScan()})
	}
}

type Client struct {
	client    *http.Client
	serverURL string
}

func NewClient(serverURL string) *Client {
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			IdleConnTimeout: 90 * time.Second,
			Dial: (&net.Dialer{
				Timeout: 5 * time.Second,
			}).Dial,
			TLSHandshakeTimeout: 5 * time.Second,
		},
	}
	return &Client{client: client, serverURL: serverURL}
}

// Start asks the server to scan root, or its default root when empty. When
// a scan is already running it returns that scan's id and
// errmsg.ErrAlreadyScanning.
func (c *Client) Start(root string) (string, error) {
	body, err := json.Marshal(StartRequest{Root: root})
	if err != nil {
		return "", err
	}
	var resp StartResponse
	if err := c.do(http.MethodPost, body, &resp, http.StatusAccepted, http.StatusOK); err != nil {
		return "", err
	}
	if resp.AlreadyRunning {
		return resp.SessionID, errmsg.ErrAlreadyScanning
	}
	return resp.SessionID, nil
}

func (c *Client) Stop() (bool, error) {
	var resp StopResponse
	if err := c.do(http.MethodDelete, nil, &resp, http.StatusOK); err != nil {
		return false, err
	}
	return resp.Stopped, nil
}

func (c *Client) Status() (*session.Status, error) {
	var st session.Status
	if err := c.do(http.MethodGet, nil, &st, http.StatusOK); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) do(method string, body []byte, out any, want ...int) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, c.serverURL+"/scan", reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if !slices.Contains(want, resp.StatusCode) {
		data, _ := io.ReadAll(resp.Body)
		var errorResp struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal(data, &errorResp); err == nil && errorResp.Error != "" {
			return fmt.Errorf("server returned error: %s (status: %d)", errorResp.Error, resp.StatusCode)
		}
		return fmt.Errorf("server returned unexpected status: %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
