package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/coopfed/fednet/internal/authz"
	"github.com/coopfed/fednet/internal/config"
	"github.com/coopfed/fednet/internal/dag"
	"github.com/coopfed/fednet/internal/execution"
	"github.com/coopfed/fednet/internal/fedid"
	"github.com/coopfed/fednet/internal/ledger"
	"github.com/coopfed/fednet/internal/scheduler"
)

func newServeCmd(log *logrus.Logger, env *string) *cobra.Command {
	var listenAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Boot a node's DAG store, execution engine, and scheduler behind an HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*env, log)
			if err != nil {
				return err
			}

			identity, err := fedid.New()
			if err != nil {
				return err
			}

			store := dag.NewStore(nil, log)
			policy := authz.NewRegistry(authz.StaticMembership{})
			resolver := fedid.SelfResolver{}
			led := ledger.New(store, policy, resolver, log, nil)

			execCfg := execution.Config{
				AutoIssueReceipts: cfg.Execution.AutoIssueReceipts,
				AnchorReceipts:    cfg.Execution.AnchorReceipts,
				ReceiptExportDir:  cfg.Execution.ReceiptExportDir,
				FuelLimit:         cfg.Execution.FuelLimit,
				ExecutionTimeout:  time.Duration(cfg.Execution.ExecutionTimeoutMS) * time.Millisecond,
			}
			if execCfg.FuelLimit == 0 {
				execCfg.FuelLimit = execution.DefaultConfig().FuelLimit
			}
			engine := execution.NewEngine(execCfg, store, policy, resolver, identity, log)

			idx := scheduler.NewIndex()
			dispatcher := scheduler.NewDispatcher(idx, led, policy, cfg.Scheduler.BasePriceMicros)

			srv := &server{store: store, engine: engine, dispatcher: dispatcher, identity: identity, log: log}

			addr := listenAddr
			if addr == "" {
				addr = ":8080"
			}
			log.WithField("addr", addr).Info("fednode: serving")
			return http.ListenAndServe(addr, srv.router())
		},
	}
	cmd.Flags().StringVar(&listenAddr, "listen", "", "HTTP listen address (default :8080)")
	return cmd
}

type server struct {
	store      *dag.Store
	engine     *execution.Engine
	dispatcher *scheduler.Dispatcher
	identity   *fedid.Identity
	log        *logrus.Logger
}

func (s *server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)
	r.Get("/dag/tips", s.handleTips)
	r.Get("/dag/node/{cid}", s.handleGetNode)
	return r
}

func (s *server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *server) handleTips(w http.ResponseWriter, r *http.Request) {
	tips := s.store.GetTips()
	out := make([]string, len(tips))
	for i, t := range tips {
		out[i] = t.String()
	}
	s.writeJSON(w, out)
}

func (s *server) handleGetNode(w http.ResponseWriter, r *http.Request) {
	c, err := parseCidParam(chi.URLParam(r, "cid"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	node, err := s.store.GetNode(c)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	s.writeJSON(w, node)
}

func (s *server) writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.WithError(err).Error("fednode: failed to encode response")
	}
}
