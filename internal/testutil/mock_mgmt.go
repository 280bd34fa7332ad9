package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

// MockManagement is a configurable mock of the management web API.
type MockManagement struct {
	*Catalog

	server *httptest.Server

	User      string
	Password  string
	SessionID string

	mu          sync.Mutex
	delay       time.Duration
	requests    []string
	logouts     int
	inFlight    int
	maxInFlight int
}

// NewMockManagement starts a mock web API accepting user "admin" with
// password "secret".
func NewMockManagement() *MockManagement {
	mock := &MockManagement{
		Catalog:   NewCatalog(),
		User:      "admin",
		Password:  "secret",
		SessionID: "mock-session-id",
	}
	mock.server = httptest.NewServer(http.HandlerFunc(mock.handle))
	return mock
}

// URL returns the mock server URL.
func (m *MockManagement) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockManagement) Close() {
	m.server.Close()
}

// SetDelay delays every show response.
func (m *MockManagement) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Requests returns the commands received, in arrival order.
func (m *MockManagement) Requests() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.requests...)
}

// Logouts returns the number of logout calls.
func (m *MockManagement) Logouts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.logouts
}

// MaxInFlight returns the highest number of concurrent show requests seen.
func (m *MockManagement) MaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight
}

func (m *MockManagement) handle(w http.ResponseWriter, r *http.Request) {
	command := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]

	m.mu.Lock()
	m.requests = append(m.requests, command)
	m.mu.Unlock()

	if r.Method != http.MethodPost || !strings.HasPrefix(r.URL.Path, "/web_api/") {
		writeJSON(w, http.StatusNotFound, errorBody("generic_err_command_not_found", "Unknown command"))
		return
	}

	var params map[string]any
	if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("generic_err_invalid_syntax", err.Error()))
		return
	}

	if command == "login" {
		if params["user"] != m.User || params["password"] != m.Password {
			writeJSON(w, http.StatusBadRequest, errorBody("err_login_failed", "Authentication to server failed."))
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sid": m.SessionID, "api-server-version": "1.2"})
		return
	}

	if r.Header.Get("X-chkp-sid") != m.SessionID {
		writeJSON(w, http.StatusUnauthorized, errorBody("generic_err_wrong_session_id", "Wrong session id"))
		return
	}

	if command == "logout" {
		m.mu.Lock()
		m.logouts++
		m.mu.Unlock()
		writeJSON(w, http.StatusOK, map[string]any{"message": "OK"})
		return
	}

	category, ok := strings.CutPrefix(command, "show-")
	if !ok {
		writeJSON(w, http.StatusNotFound, errorBody("generic_err_command_not_found", "Unknown command "+command))
		return
	}

	m.mu.Lock()
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	delay := m.delay
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if delay > 0 {
		time.Sleep(delay)
	}

	body, status := m.Show(category, params)
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
