// Package fakebackend is an in-process stand-in for the chat backend: the
// four JSON endpoints plus the realtime channel. Tests and the load driver's
// local mode run against it.
package fakebackend

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"

	"pingchat/internal/models"
)

// TokenTTL is the lifetime of issued session tokens.
const TokenTTL = 30 * 24 * time.Hour

// hashCost keeps account setup fast; the load driver registers hundreds.
const hashCost = bcrypt.MinCost

type account struct {
	user models.User
	hash []byte
}

// Frame is one event a connected user sent to the backend.
type Frame struct {
	UserID int64
	models.Envelope
}

type Server struct {
	*httptest.Server

	hub    *hub
	logger zerolog.Logger

	mu       sync.Mutex
	accounts []*account
	messages map[[2]int64][]models.Message
	nextMsg  int64
	frames   chan Frame
	secret   []byte

	// FailAll makes every HTTP endpoint answer success:false.
	FailAll bool
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func New() *Server {
	s := &Server{
		logger:   log.With().Str("component", "fakebackend").Logger(),
		messages: make(map[[2]int64][]models.Message),
		frames:   make(chan Frame, 1024),
		secret:   []byte(uuid.NewString()),
	}
	s.hub = newHub(s, s.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/register", s.handleRegister)
	mux.HandleFunc("GET /api/users/{userId}", s.withAuth(s.handleUsers))
	mux.HandleFunc("GET /api/messages/{userId}/{peerId}", s.withAuth(s.handleMessages))
	mux.HandleFunc("/ws", s.handleWebSocket)

	s.Server = httptest.NewServer(mux)
	return s
}

// Close drops every websocket and shuts the HTTP server down.
func (s *Server) Close() {
	s.hub.dropAll()
	s.Server.Close()
}

// SocketURL is the realtime endpoint of the running server.
func (s *Server) SocketURL() string {
	return "ws" + strings.TrimPrefix(s.URL, "http") + "/ws"
}

// AddUser creates an account directly and returns its id.
func (s *Server) AddUser(username, password string) int64 {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), hashCost)
	if err != nil {
		// only fails for passwords over 72 bytes
		s.logger.Error().Err(err).Str("username", username).Msg("failed to hash password")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := int64(len(s.accounts) + 1)
	s.accounts = append(s.accounts, &account{user: models.User{ID: id, Username: username}, hash: hash})
	return id
}

func (s *Server) issueToken(user models.User) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":  user.ID,
		"username": user.Username,
		"exp":      time.Now().Add(TokenTTL).Unix(),
	})
	return token.SignedString(s.secret)
}

// withAuth rejects requests that carry a bearer token this server did not
// issue. Requests without a token pass.
func (s *Server) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next(w, r)
			return
		}
		raw := strings.TrimPrefix(header, "Bearer ")
		_, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return s.secret, nil
		})
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"success": false, "error": "invalid token"})
			return
		}
		next(w, r)
	}
}

// Seed stores a message as if it had been sent earlier.
func (s *Server) Seed(msg models.Message) models.Message {
	return s.storeMessage(msg)
}

// Push delivers an event to a connected user.
func (s *Server) Push(userID int64, event string, payload interface{}) bool {
	return s.hub.sendToUser(userID, event, payload)
}

// Online reports whether userID currently holds a connection.
func (s *Server) Online(userID int64) bool {
	return s.hub.online(userID)
}

// Frames yields every event clients send, in arrival order.
func (s *Server) Frames() <-chan Frame {
	return s.frames
}

// DropConnections closes every live websocket without a close handshake.
func (s *Server) DropConnections() {
	s.hub.dropAll()
}

func (s *Server) record(userID int64, env models.Envelope) {
	select {
	case s.frames <- Frame{UserID: userID, Envelope: env}:
	default:
	}
}

func (s *Server) storeMessage(msg models.Message) models.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextMsg++
	msg.ID = models.MessageID(strconv.FormatInt(s.nextMsg, 10))
	if msg.Status == "" {
		msg.Status = models.StatusSent
	}
	key := pairKey(msg.From, msg.To)
	s.messages[key] = append(s.messages[key], msg)
	return msg
}

func (s *Server) markRead(id models.MessageID) (int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, list := range s.messages {
		for i := range list {
			if list[i].ID == id {
				list[i].Status = models.StatusRead
				s.messages[key] = list
				return list[i].From, true
			}
		}
	}
	return 0, false
}

func pairKey(a, b int64) [2]int64 {
	if a > b {
		a, b = b, a
	}
	return [2]int64{a, b}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req models.Credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.LoginResponse{Error: "invalid request body"})
		return
	}

	s.mu.Lock()
	if s.FailAll {
		s.mu.Unlock()
		writeJSON(w, http.StatusInternalServerError, models.LoginResponse{Error: "unavailable"})
		return
	}
	var found *account
	for _, a := range s.accounts {
		if a.user.Username == req.Username {
			found = a
			break
		}
	}
	s.mu.Unlock()

	if found == nil || bcrypt.CompareHashAndPassword(found.hash, []byte(req.Password)) != nil {
		writeJSON(w, http.StatusUnauthorized, models.LoginResponse{Error: "invalid credentials"})
		return
	}
	user := found.user
	token, err := s.issueToken(user)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, models.LoginResponse{Error: "failed to create token"})
		return
	}
	writeJSON(w, http.StatusOK, models.LoginResponse{Success: true, User: &user, Token: token})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req models.Credentials
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, models.RegisterResponse{Error: "invalid request body"})
		return
	}

	s.mu.Lock()
	if s.FailAll {
		s.mu.Unlock()
		writeJSON(w, http.StatusInternalServerError, models.RegisterResponse{Error: "unavailable"})
		return
	}
	for _, a := range s.accounts {
		if a.user.Username == req.Username {
			s.mu.Unlock()
			writeJSON(w, http.StatusConflict, models.RegisterResponse{Error: "username already exists"})
			return
		}
	}
	s.mu.Unlock()

	s.AddUser(req.Username, req.Password)
	writeJSON(w, http.StatusCreated, models.RegisterResponse{Success: true})
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.PathValue("userId"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, models.UsersResponse{Error: "invalid user id"})
		return
	}

	s.mu.Lock()
	if s.FailAll {
		s.mu.Unlock()
		writeJSON(w, http.StatusInternalServerError, models.UsersResponse{Error: "unavailable"})
		return
	}
	users := make([]models.User, 0, len(s.accounts))
	for _, a := range s.accounts {
		if a.user.ID != userID {
			users = append(users, a.user)
		}
	}
	s.mu.Unlock()

	contacts := make([]models.Contact, 0, len(users))
	for _, u := range users {
		contacts = append(contacts, models.Contact{ID: u.ID, Username: u.Username, IsOnline: s.hub.online(u.ID)})
	}
	writeJSON(w, http.StatusOK, models.UsersResponse{Success: true, Users: contacts})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	userID, err1 := strconv.ParseInt(r.PathValue("userId"), 10, 64)
	peerID, err2 := strconv.ParseInt(r.PathValue("peerId"), 10, 64)
	if err1 != nil || err2 != nil {
		writeJSON(w, http.StatusBadRequest, models.MessagesResponse{Error: "invalid id"})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailAll {
		writeJSON(w, http.StatusInternalServerError, models.MessagesResponse{Error: "unavailable"})
		return
	}
	list := append([]models.Message{}, s.messages[pairKey(userID, peerID)]...)
	writeJSON(w, http.StatusOK, models.MessagesResponse{Success: true, Messages: list})
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug().Err(err).Msg("failed to upgrade connection")
		return
	}

	c := &client{hub: s.hub, conn: conn, send: make(chan []byte, 256)}
	s.hub.register(c)

	go c.writePump()
	go c.readPump()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
