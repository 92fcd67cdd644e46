package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/goevery/notifier/internal/center"
	"github.com/goevery/notifier/internal/history"
	"github.com/goevery/notifier/internal/notification"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type NotificationCenter interface {
	List() []notification.Notification
	MarkRead(ctx context.Context, id string) bool
	MarkAllRead(ctx context.Context) int
	ClearAll(ctx context.Context, confirm history.Confirmer) bool
	Open(ctx context.Context, id string) (string, bool)
	Status(ctx context.Context) center.Status
	Reconnect()
}

type NotificationView struct {
	notification.Notification
	Icon         string                `json:"icon"`
	Category     notification.Category `json:"category"`
	RelativeTime string                `json:"relativeTime"`
}

type ListResponse struct {
	Items       []NotificationView `json:"items"`
	UnreadCount int                `json:"unreadCount"`
}

type OpenResponse struct {
	Destination string `json:"destination"`
}

type ReadAllResponse struct {
	Updated int `json:"updated"`
}

// RESTServer exposes the notification history and connection status to
// local panels.
type RESTServer struct {
	logger *zap.Logger
	center NotificationCenter
	now    func() time.Time
}

func NewRESTServer(
	logger *zap.Logger,
	center NotificationCenter,
) *RESTServer {
	return &RESTServer{
		logger: logger,
		center: center,
		now:    time.Now,
	}
}

func (s *RESTServer) Register(router *mux.Router) {
	router.Use(cors)

	router.HandleFunc("/notifications", s.list).Methods("GET", "OPTIONS")
	router.HandleFunc("/notifications", s.clearAll).Methods("DELETE")
	router.HandleFunc("/notifications/read-all", s.markAllRead).Methods("POST", "OPTIONS")
	router.HandleFunc("/notifications/{id}/read", s.markRead).Methods("POST", "OPTIONS")
	router.HandleFunc("/notifications/{id}/open", s.open).Methods("POST", "OPTIONS")
	router.HandleFunc("/status", s.status).Methods("GET", "OPTIONS")
	router.HandleFunc("/reconnect", s.reconnect).Methods("POST", "OPTIONS")
}

func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")

		if r.Method == "OPTIONS" {
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *RESTServer) list(w http.ResponseWriter, r *http.Request) {
	items := s.center.List()
	if r.URL.Query().Get("order") == "timestamp" {
		items = notification.SortByTimestamp(items)
	}

	now := s.now()
	response := ListResponse{
		Items: make([]NotificationView, 0, len(items)),
	}

	for _, n := range items {
		if !n.Read {
			response.UnreadCount++
		}

		response.Items = append(response.Items, NotificationView{
			Notification: n,
			Icon:         n.Type.Icon(),
			Category:     n.Type.Category(),
			RelativeTime: notification.FormatRelative(n.Timestamp.Time, now),
		})
	}

	s.writeJSON(w, http.StatusOK, response)
}

func (s *RESTServer) markRead(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	if !s.center.MarkRead(r.Context(), id) {
		http.Error(w, "notification not found", http.StatusNotFound)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *RESTServer) open(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	destination, ok := s.center.Open(r.Context(), id)
	if !ok {
		http.Error(w, "notification not found", http.StatusNotFound)
		return
	}

	s.writeJSON(w, http.StatusOK, OpenResponse{Destination: destination})
}

func (s *RESTServer) markAllRead(w http.ResponseWriter, r *http.Request) {
	updated := s.center.MarkAllRead(r.Context())

	s.writeJSON(w, http.StatusOK, ReadAllResponse{Updated: updated})
}

func (s *RESTServer) clearAll(w http.ResponseWriter, r *http.Request) {
	confirmed := r.URL.Query().Get("confirm") == "true"

	cleared := s.center.ClearAll(r.Context(), func(context.Context) bool {
		return confirmed
	})
	if !cleared {
		http.Error(w, "clearing the history requires confirm=true", http.StatusPreconditionFailed)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *RESTServer) status(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.center.Status(r.Context()))
}

func (s *RESTServer) reconnect(w http.ResponseWriter, r *http.Request) {
	s.center.Reconnect()

	w.WriteHeader(http.StatusAccepted)
}

func (s *RESTServer) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}
