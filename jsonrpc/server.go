package jsonrpc

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/creachadair/jrpc2"
	"github.com/creachadair/jrpc2/handler"
	"github.com/creachadair/jrpc2/jhttp"
	"github.com/google/uuid"
	"github.com/holiman/uint256"

	"bankd/auth"
	"bankd/errors"
	"bankd/jsonx"
	"bankd/ledger"
	"bankd/store"
	"bankd/types"
)

// --- Error type used by handlers ---

type rpcError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func toJRPC2Error(e *rpcError) error {
	if e == nil {
		return nil
	}
	var ledgerError errors.LedgerError
	err := jsonx.Unmarshal([]byte(e.Message), &ledgerError)
	if err == nil && ledgerError.Code != "" {
		return jrpc2.Errorf(jrpc2.Code(e.Code), "%s", ledgerError.Message).WithData(ledgerError)
	}
	return jrpc2.Errorf(jrpc2.Code(e.Code), "%s", e.Message)
}

func fromLedgerError(err error) *rpcError {
	return &rpcError{Code: -32000, Message: err.Error()}
}

// --- Params/Results ---

type registerParams struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

type registerResponse struct {
	AccountID uint64 `json:"account_id"`
	Owner     string `json:"owner"`
	Role      string `json:"role"`
}

type loginParams struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string `json:"token"`
	AccountID uint64 `json:"account_id"`
	Role      string `json:"role"`
}

type logoutParams struct {
	Token string `json:"token"`
}

type logoutResponse struct {
	Ok bool `json:"ok"`
}

type changePasswordParams struct {
	Username    string `json:"username"`
	OldPassword string `json:"old_password"`
	NewPassword string `json:"new_password"`
}

type changePasswordResponse struct {
	Ok bool `json:"ok"`
}

type amountParams struct {
	Token  string `json:"token"`
	Amount string `json:"amount"`
}

type balanceResponse struct {
	Balance string `json:"balance"`
	Reaped  bool   `json:"reaped"`
}

type transferParams struct {
	Token  string `json:"token"`
	To     uint64 `json:"to"`
	Amount string `json:"amount"`
}

type transferResponse struct {
	Ok bool `json:"ok"`
}

type tokenParams struct {
	Token string `json:"token"`
}

type collectTaxParams struct {
	Token string `json:"token"`
	Rate  uint64 `json:"rate"`
}

type bulkOpResponse struct {
	EventID  uint64   `json:"event_id"`
	Accounts []uint64 `json:"accounts"`
	Total    string   `json:"total"`
}

type updateConfigParams struct {
	Token              string  `json:"token"`
	InterestRate       *uint64 `json:"interest_rate,omitempty"`
	ExistentialDeposit *string `json:"existential_deposit,omitempty"`
}

type configResponse struct {
	InterestRate       uint64 `json:"interest_rate"`
	ExistentialDeposit string `json:"existential_deposit"`
}

type reportRow struct {
	ID      uint64 `json:"id"`
	Owner   string `json:"owner"`
	Role    string `json:"role"`
	Balance string `json:"balance,omitempty"`
	Reaped  bool   `json:"reaped"`
}

type reportResponse struct {
	Rows []reportRow `json:"rows"`
}

type queryEventsParams struct {
	Token     string   `json:"token"`
	AccountID *uint64  `json:"account_id,omitempty"`
	Kinds     []string `json:"kinds,omitempty"`
}

type eventData struct {
	ID         uint64              `json:"id"`
	Kind       string              `json:"kind"`
	AccountIDs []uint64            `json:"account_ids"`
	Amount     string              `json:"amount,omitempty"`
	Amounts    []string            `json:"amounts,omitempty"`
	Config     *types.ConfigChange `json:"config,omitempty"`
	Timestamp  uint64              `json:"timestamp"`
}

type queryEventsResponse struct {
	TotalCount uint64      `json:"total_count"`
	Events     []eventData `json:"events"`
}

// --- Server ---

// Server is the JSON-RPC boundary. Handlers translate wire params into
// ledger calls and ledger errors into jrpc2 errors; no business rule lives
// here. Sessions are opaque bearer tokens minted on login and passed as a
// params field.
type Server struct {
	addr       string
	authSvc    *auth.Service
	ledgerSvc  *ledger.Ledger
	corsConfig CORSConfig

	mu       sync.RWMutex
	sessions map[string]types.Session
}

type CORSConfig struct {
	AllowedOrigins []string
	AllowedMethods []string
	AllowedHeaders []string
	MaxAge         int
}

func NewServer(addr string, authSvc *auth.Service, ledgerSvc *ledger.Ledger) *Server {
	return &Server{
		addr:      addr,
		authSvc:   authSvc,
		ledgerSvc: ledgerSvc,
		sessions:  make(map[string]types.Session),
	}
}

func (s *Server) Start() {
	methods := s.buildMethodMap()
	jh := jhttp.NewBridge(methods, &jhttp.BridgeOptions{Server: &jrpc2.ServerOptions{}})

	h := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.setCORSHeaders(w, r)
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		jh.ServeHTTP(w, r)
	})

	http.Handle("/", h)
	go http.ListenAndServe(s.addr, nil)
}

// SetCORSConfig allows configuring CORS settings
func (s *Server) SetCORSConfig(config CORSConfig) {
	s.corsConfig = config
}

// Build jrpc2 method map
func (s *Server) buildMethodMap() handler.Map {
	return handler.Map{
		"auth.register": handler.New(func(ctx context.Context, p registerParams) (*registerResponse, error) {
			res, err := s.rpcRegister(p)
			if err != nil {
				return nil, toJRPC2Error(err)
			}
			return res, nil
		}),
		"auth.login": handler.New(func(ctx context.Context, p loginParams) (*loginResponse, error) {
			res, err := s.rpcLogin(p)
			if err != nil {
				return nil, toJRPC2Error(err)
			}
			return res, nil
		}),
		"auth.logout": handler.New(func(ctx context.Context, p logoutParams) (*logoutResponse, error) {
			res, err := s.rpcLogout(p)
			if err != nil {
				return nil, toJRPC2Error(err)
			}
			return res, nil
		}),
		"auth.changepassword": handler.New(func(ctx context.Context, p changePasswordParams) (*changePasswordResponse, error) {
			res, err := s.rpcChangePassword(p)
			if err != nil {
				return nil, toJRPC2Error(err)
			}
			return res, nil
		}),
		"bank.deposit": handler.New(func(ctx context.Context, p amountParams) (*balanceResponse, error) {
			res, err := s.rpcDeposit(p)
			if err != nil {
				return nil, toJRPC2Error(err)
			}
			return res, nil
		}),
		"bank.withdraw": handler.New(func(ctx context.Context, p amountParams) (*balanceResponse, error) {
			res, err := s.rpcWithdraw(p)
			if err != nil {
				return nil, toJRPC2Error(err)
			}
			return res, nil
		}),
		"bank.transfer": handler.New(func(ctx context.Context, p transferParams) (*transferResponse, error) {
			res, err := s.rpcTransfer(p)
			if err != nil {
				return nil, toJRPC2Error(err)
			}
			return res, nil
		}),
		"bank.balance": handler.New(func(ctx context.Context, p tokenParams) (*balanceResponse, error) {
			res, err := s.rpcBalance(p)
			if err != nil {
				return nil, toJRPC2Error(err)
			}
			return res, nil
		}),
		"bank.payinterest": handler.New(func(ctx context.Context, p tokenParams) (*bulkOpResponse, error) {
			res, err := s.rpcPayInterest(p)
			if err != nil {
				return nil, toJRPC2Error(err)
			}
			return res, nil
		}),
		"bank.collecttax": handler.New(func(ctx context.Context, p collectTaxParams) (*bulkOpResponse, error) {
			res, err := s.rpcCollectTax(p)
			if err != nil {
				return nil, toJRPC2Error(err)
			}
			return res, nil
		}),
		"bank.updateconfig": handler.New(func(ctx context.Context, p updateConfigParams) (*configResponse, error) {
			res, err := s.rpcUpdateConfig(p)
			if err != nil {
				return nil, toJRPC2Error(err)
			}
			return res, nil
		}),
		"bank.getconfig": handler.New(func(ctx context.Context) (*configResponse, error) {
			cfg := s.ledgerSvc.Config()
			return &configResponse{
				InterestRate:       cfg.InterestRate,
				ExistentialDeposit: cfg.ExistentialDeposit.Dec(),
			}, nil
		}),
		"bank.report": handler.New(func(ctx context.Context, p tokenParams) (*reportResponse, error) {
			res, err := s.rpcReport(p)
			if err != nil {
				return nil, toJRPC2Error(err)
			}
			return res, nil
		}),
		"bank.queryevents": handler.New(func(ctx context.Context, p queryEventsParams) (*queryEventsResponse, error) {
			res, err := s.rpcQueryEvents(p)
			if err != nil {
				return nil, toJRPC2Error(err)
			}
			return res, nil
		}),
	}
}

// --- Implementations ---

func (s *Server) rpcRegister(p registerParams) (*registerResponse, *rpcError) {
	role := types.Role(p.Role)
	if role == "" {
		role = types.RoleCustomer
	}
	if !role.Valid() {
		return nil, &rpcError{Code: -32602, Message: fmt.Sprintf("invalid role: %q", p.Role)}
	}
	acc, err := s.authSvc.Register(p.Username, p.Password, role)
	if err != nil {
		return nil, fromLedgerError(err)
	}
	return &registerResponse{AccountID: acc.ID, Owner: acc.Owner, Role: string(acc.Role)}, nil
}

func (s *Server) rpcLogin(p loginParams) (*loginResponse, *rpcError) {
	sess, err := s.authSvc.Login(p.Username, p.Password)
	if err != nil {
		return nil, fromLedgerError(err)
	}

	token := uuid.Must(uuid.NewV7()).String()
	s.mu.Lock()
	s.sessions[token] = *sess
	s.mu.Unlock()

	return &loginResponse{Token: token, AccountID: sess.UserID, Role: string(sess.Role)}, nil
}

func (s *Server) rpcLogout(p logoutParams) (*logoutResponse, *rpcError) {
	s.mu.Lock()
	_, ok := s.sessions[p.Token]
	delete(s.sessions, p.Token)
	s.mu.Unlock()
	return &logoutResponse{Ok: ok}, nil
}

func (s *Server) rpcChangePassword(p changePasswordParams) (*changePasswordResponse, *rpcError) {
	if err := s.authSvc.ChangePassword(p.Username, p.OldPassword, p.NewPassword); err != nil {
		return nil, fromLedgerError(err)
	}
	return &changePasswordResponse{Ok: true}, nil
}

func (s *Server) rpcDeposit(p amountParams) (*balanceResponse, *rpcError) {
	sess, rpcErr := s.sessionOf(p.Token)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount(p.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	balance, err := s.ledgerSvc.Deposit(sess, amount)
	if err != nil {
		return nil, fromLedgerError(err)
	}
	return &balanceResponse{Balance: balance.Dec()}, nil
}

func (s *Server) rpcWithdraw(p amountParams) (*balanceResponse, *rpcError) {
	sess, rpcErr := s.sessionOf(p.Token)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount(p.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	balance, err := s.ledgerSvc.Withdraw(sess, amount)
	if err != nil {
		return nil, fromLedgerError(err)
	}
	if balance == nil {
		return &balanceResponse{Reaped: true}, nil
	}
	return &balanceResponse{Balance: balance.Dec()}, nil
}

func (s *Server) rpcTransfer(p transferParams) (*transferResponse, *rpcError) {
	sess, rpcErr := s.sessionOf(p.Token)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount(p.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := s.ledgerSvc.Transfer(sess, p.To, amount); err != nil {
		return nil, fromLedgerError(err)
	}
	return &transferResponse{Ok: true}, nil
}

func (s *Server) rpcBalance(p tokenParams) (*balanceResponse, *rpcError) {
	sess, rpcErr := s.sessionOf(p.Token)
	if rpcErr != nil {
		return nil, rpcErr
	}
	balance, err := s.ledgerSvc.CheckBalance(sess)
	if err != nil {
		return nil, fromLedgerError(err)
	}
	if balance == nil {
		return &balanceResponse{Reaped: true}, nil
	}
	return &balanceResponse{Balance: balance.Dec()}, nil
}

func (s *Server) rpcPayInterest(p tokenParams) (*bulkOpResponse, *rpcError) {
	sess, rpcErr := s.sessionOf(p.Token)
	if rpcErr != nil {
		return nil, rpcErr
	}
	event, err := s.ledgerSvc.PayInterest(sess)
	if err != nil {
		return nil, fromLedgerError(err)
	}
	return &bulkOpResponse{EventID: event.ID, Accounts: event.AccountIDs, Total: event.Amount.Dec()}, nil
}

func (s *Server) rpcCollectTax(p collectTaxParams) (*bulkOpResponse, *rpcError) {
	sess, rpcErr := s.sessionOf(p.Token)
	if rpcErr != nil {
		return nil, rpcErr
	}
	event, err := s.ledgerSvc.CollectTax(sess, p.Rate)
	if err != nil {
		return nil, fromLedgerError(err)
	}
	return &bulkOpResponse{EventID: event.ID, Accounts: event.AccountIDs, Total: event.Amount.Dec()}, nil
}

func (s *Server) rpcUpdateConfig(p updateConfigParams) (*configResponse, *rpcError) {
	sess, rpcErr := s.sessionOf(p.Token)
	if rpcErr != nil {
		return nil, rpcErr
	}
	var newED *uint256.Int
	if p.ExistentialDeposit != nil {
		parsed, err := uint256.FromDecimal(*p.ExistentialDeposit)
		if err != nil {
			return nil, &rpcError{Code: -32602, Message: fmt.Sprintf("invalid existential deposit: %v", err)}
		}
		newED = parsed
	}
	cfg, err := s.ledgerSvc.UpdateConfig(sess, p.InterestRate, newED)
	if err != nil {
		return nil, fromLedgerError(err)
	}
	return &configResponse{
		InterestRate:       cfg.InterestRate,
		ExistentialDeposit: cfg.ExistentialDeposit.Dec(),
	}, nil
}

func (s *Server) rpcReport(p tokenParams) (*reportResponse, *rpcError) {
	sess, rpcErr := s.sessionOf(p.Token)
	if rpcErr != nil {
		return nil, rpcErr
	}
	rows, err := s.ledgerSvc.Report(sess)
	if err != nil {
		return nil, fromLedgerError(err)
	}
	out := make([]reportRow, 0, len(rows))
	for _, row := range rows {
		r := reportRow{ID: row.ID, Owner: row.Owner, Role: string(row.Role), Reaped: row.Reaped}
		if row.Balance != nil {
			r.Balance = row.Balance.Dec()
		}
		out = append(out, r)
	}
	return &reportResponse{Rows: out}, nil
}

func (s *Server) rpcQueryEvents(p queryEventsParams) (*queryEventsResponse, *rpcError) {
	sess, rpcErr := s.sessionOf(p.Token)
	if rpcErr != nil {
		return nil, rpcErr
	}

	var it *store.EventIterator
	var err error
	switch {
	case p.AccountID != nil:
		it, err = s.ledgerSvc.EventsByAccount(sess, *p.AccountID)
	case len(p.Kinds) > 0:
		kinds := make([]types.EventKind, 0, len(p.Kinds))
		for _, k := range p.Kinds {
			kinds = append(kinds, types.EventKind(k))
		}
		it, err = s.ledgerSvc.EventsByKind(sess, kinds...)
	default:
		it, err = s.ledgerSvc.AllEvents(sess)
	}
	if err != nil {
		return nil, fromLedgerError(err)
	}

	var out []eventData
	for {
		event, ok := it.Next()
		if !ok {
			break
		}
		out = append(out, marshalEvent(event))
	}
	return &queryEventsResponse{TotalCount: uint64(len(out)), Events: out}, nil
}

// --- Helpers ---

func marshalEvent(event *types.Event) eventData {
	data := eventData{
		ID:         event.ID,
		Kind:       string(event.Kind),
		AccountIDs: event.AccountIDs,
		Config:     event.Config,
		Timestamp:  event.Timestamp,
	}
	if event.Amount != nil {
		data.Amount = event.Amount.Dec()
	}
	for _, amount := range event.Amounts {
		data.Amounts = append(data.Amounts, amount.Dec())
	}
	return data
}

func parseAmount(raw string) (*uint256.Int, *rpcError) {
	amount, err := uint256.FromDecimal(raw)
	if err != nil {
		return nil, &rpcError{Code: -32602, Message: fmt.Sprintf("invalid amount: %v", err)}
	}
	return amount, nil
}

func (s *Server) sessionOf(token string) (types.Session, *rpcError) {
	s.mu.RLock()
	sess, ok := s.sessions[token]
	s.mu.RUnlock()
	if !ok {
		return types.Session{}, &rpcError{Code: -32001, Message: "unknown or expired session token"}
	}
	return sess, nil
}

func (s *Server) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	// Set allowed origins
	if len(s.corsConfig.AllowedOrigins) > 0 {
		if s.corsConfig.AllowedOrigins[0] == "*" {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			// Check if the request origin is in the allowed list
			origin := r.Header.Get("Origin")
			for _, allowedOrigin := range s.corsConfig.AllowedOrigins {
				if origin == allowedOrigin {
					w.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
	}

	// Set allowed methods
	if len(s.corsConfig.AllowedMethods) > 0 {
		methods := strings.Join(s.corsConfig.AllowedMethods, ", ")
		w.Header().Set("Access-Control-Allow-Methods", methods)
	}

	// Set allowed headers
	if len(s.corsConfig.AllowedHeaders) > 0 {
		headers := strings.Join(s.corsConfig.AllowedHeaders, ", ")
		w.Header().Set("Access-Control-Allow-Headers", headers)
	}

	// Set max age
	if s.corsConfig.MaxAge > 0 {
		w.Header().Set("Access-Control-Max-Age", fmt.Sprintf("%d", s.corsConfig.MaxAge))
	}
}

// --- Env helpers ---

// CORSFromEnv reads environment variables and constructs a CORSConfig.
// Returns (cfg, true) if any CORS-related env var is set; otherwise (zero, false).
//
// Env vars:
// - CORS_ALLOWED_ORIGINS: comma-separated list
// - CORS_ALLOWED_METHODS: comma-separated list
// - CORS_ALLOWED_HEADERS: comma-separated list
// - CORS_MAX_AGE: integer seconds
func CORSFromEnv() (CORSConfig, bool) {
	origins := os.Getenv("CORS_ALLOWED_ORIGINS")
	methods := os.Getenv("CORS_ALLOWED_METHODS")
	headers := os.Getenv("CORS_ALLOWED_HEADERS")
	maxAgeStr := os.Getenv("CORS_MAX_AGE")

	var maxAge int
	if maxAgeStr != "" {
		if v, err := strconv.Atoi(maxAgeStr); err == nil {
			maxAge = v
		}
	}

	var allowedOrigins, allowedMethods, allowedHeaders []string
	if origins != "" {
		allowedOrigins = splitAndTrim(origins)
	}
	if methods != "" {
		allowedMethods = splitAndTrim(methods)
	}
	if headers != "" {
		allowedHeaders = splitAndTrim(headers)
	}

	provided := len(allowedOrigins) > 0 || len(allowedMethods) > 0 || len(allowedHeaders) > 0 || maxAge > 0
	if !provided {
		return CORSConfig{}, false
	}

	return CORSConfig{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: allowedMethods,
		AllowedHeaders: allowedHeaders,
		MaxAge:         maxAge,
	}, true
}

func splitAndTrim(s string) []string {
	parts := strings.Split(s, ",")
	var out []string
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
