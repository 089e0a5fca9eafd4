package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/campusgate/server/internal/gate/service"
)

type Dependencies struct {
	Logger   logrus.FieldLogger
	Addr     string
	Resolver *service.Resolver
	Recorder *service.Recorder
	Issuer   *service.Issuer
	Expirer  *service.Expirer
	Status   *service.StatusQuery
}

type Server struct {
	httpServer *http.Server
	logger     logrus.FieldLogger
	router     *mux.Router

	resolver *service.Resolver
	recorder *service.Recorder
	issuer   *service.Issuer
	expirer  *service.Expirer
	status   *service.StatusQuery
}

func NewServer(d Dependencies) *Server {
	logger := d.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	router := mux.NewRouter()

	s := &Server{
		logger:   logger,
		router:   router,
		resolver: d.Resolver,
		recorder: d.Recorder,
		issuer:   d.Issuer,
		expirer:  d.Expirer,
		status:   d.Status,
	}

	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	v1 := router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/scan", s.handleScan).Methods(http.MethodPost)
	v1.HandleFunc("/resolve", s.handleResolve).Methods(http.MethodPost)
	v1.HandleFunc("/identities/{id}/events", s.handleRecordEvent).Methods(http.MethodPost)
	v1.HandleFunc("/identities/{id}/presence", s.handlePresence).Methods(http.MethodGet)
	v1.HandleFunc("/identities/{id}/member-token", s.handleIssueMemberToken).Methods(http.MethodPost)
	v1.HandleFunc("/members", s.handleEnrollMember).Methods(http.MethodPost)
	v1.HandleFunc("/visitors", s.handleRegisterVisitor).Methods(http.MethodPost)
	v1.HandleFunc("/visitor-credentials/sweep", s.handleSweep).Methods(http.MethodPost)
	v1.HandleFunc("/visitor-credentials/{id}/revoke", s.handleRevoke).Methods(http.MethodPost)
	v1.HandleFunc("/occupancy", s.handleOccupancy).Methods(http.MethodGet)
	v1.HandleFunc("/events/daily-count", s.handleDailyCount).Methods(http.MethodGet)

	handler := correlationMiddleware(loggingMiddleware(logger, router))

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
