package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/aio-downloader/aiocore/internal/config"
	"github.com/aio-downloader/aiocore/internal/model"
)

const (
	defaultPortBase = 7777
	shutdownGrace   = 10 * time.Second
)

func portFilePath() string {
	appDir, err := config.GetAppDir()
	if err != nil {
		return filepath.Join(os.TempDir(), "aiocore-port")
	}
	return filepath.Join(appDir, "port")
}

func savePortFile(port int) error {
	return os.WriteFile(portFilePath(), []byte(fmt.Sprintf("%d", port)), 0o644)
}

func removePortFile() {
	_ = os.Remove(portFilePath())
}

func readActivePort() int {
	data, err := os.ReadFile(portFilePath())
	if err != nil {
		return 0
	}
	var port int
	fmt.Sscanf(string(data), "%d", &port)
	return port
}

// daemonBaseURL returns the running daemon's base URL, or an error if no
// daemon appears to be listening.
func daemonBaseURL() (string, error) {
	port := readActivePort()
	if port == 0 {
		return "", fmt.Errorf("aiocore is not running; start it with 'aiocore serve'")
	}
	return fmt.Sprintf("http://127.0.0.1:%d", port), nil
}

func apiGet(path string, out any) error {
	base, err := daemonBaseURL()
	if err != nil {
		return err
	}
	resp, err := http.Get(base + path)
	if err != nil {
		return fmt.Errorf("connecting to daemon: %w", err)
	}
	defer resp.Body.Close()
	return decodeOrError(resp, out)
}

func apiPost(path string, body any, out any) error {
	base, err := daemonBaseURL()
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}
	resp, err := http.Post(base+path, "application/json", &buf)
	if err != nil {
		return fmt.Errorf("connecting to daemon: %w", err)
	}
	defer resp.Body.Close()
	return decodeOrError(resp, out)
}

func apiDelete(path string, out any) error {
	base, err := daemonBaseURL()
	if err != nil {
		return err
	}
	req, err := http.NewRequest(http.MethodDelete, base+path, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to daemon: %w", err)
	}
	defer resp.Body.Close()
	return decodeOrError(resp, out)
}

func decodeOrError(resp *http.Response, out any) error {
	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("daemon returned %s: %s", resp.Status, string(body))
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func fetchTask(id int64) (*model.TaskRecord, error) {
	var record model.TaskRecord
	if err := apiGet(fmt.Sprintf("/tasks/%d", id), &record); err != nil {
		return nil, err
	}
	return &record, nil
}

func fetchTasks() ([]*model.TaskRecord, error) {
	var records []*model.TaskRecord
	if err := apiGet("/tasks", &records); err != nil {
		return nil, err
	}
	return records, nil
}
