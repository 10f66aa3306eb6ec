package api

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/tenancy/pkg/accounts"
	"github.com/platinummonkey/tenancy/pkg/billing"
	"github.com/platinummonkey/tenancy/pkg/httputil"
	"github.com/platinummonkey/tenancy/pkg/observability"
	"github.com/platinummonkey/tenancy/pkg/orgs"
	"github.com/platinummonkey/tenancy/pkg/payments"
	"github.com/platinummonkey/tenancy/pkg/plans"
)

// PlanCatalog is the plan administration surface, satisfied by *plans.Engine
type PlanCatalog interface {
	GetPlan(ctx context.Context, id int64) (*plans.Plan, error)
	ListPlans(ctx context.Context, activeOnly bool) ([]*plans.Plan, error)
	ComparePlans(ctx context.Context, ids []int64) (*plans.ComparisonMatrix, error)
	CreatePlan(ctx context.Context, req *plans.CreatePlanRequest) (*plans.Plan, error)
	UpdatePlan(ctx context.Context, id int64, req *plans.UpdatePlanRequest) (*plans.UpdateResult, error)
	SetDefaultPlan(ctx context.Context, id int64) error
	DeactivatePlan(ctx context.Context, id int64) error
	PurgePlan(ctx context.Context, id int64) error
}

// Subscriptions is the lifecycle surface, satisfied by *billing.Manager
type Subscriptions interface {
	Create(ctx context.Context, callerID int64, req *billing.CreateSubscriptionRequest) (*billing.CheckoutResult, error)
	Activate(ctx context.Context, subscriptionID int64, req *billing.ActivateRequest) (*billing.Subscription, error)
	HandlePaymentEvent(ctx context.Context, event *payments.Event) error
	Cancel(ctx context.Context, callerID, subscriptionID int64, immediate bool) (*billing.Subscription, error)
	CancelCurrent(ctx context.Context, callerID int64, party orgs.BilledParty, immediate bool) (*billing.Subscription, error)
	Upgrade(ctx context.Context, callerID, subscriptionID int64, req *billing.ChangePlanRequest) (*billing.ChangeResult, error)
	Downgrade(ctx context.Context, callerID, subscriptionID int64, req *billing.ChangePlanRequest) (*billing.ChangeResult, error)
	ChangePlan(ctx context.Context, callerID, subscriptionID int64, req *billing.ChangePlanRequest) (*billing.ChangeResult, error)
	GetSubscription(ctx context.Context, callerID, subscriptionID int64) (*billing.Subscription, error)
	CurrentSubscription(ctx context.Context, callerID int64, party orgs.BilledParty) (*billing.Subscription, error)
	ListBillingHistory(ctx context.Context, callerID int64, party orgs.BilledParty, limit int) ([]*billing.BillingHistory, error)
	ListTransactions(ctx context.Context, callerID, subscriptionID int64) ([]*billing.PaymentTransaction, error)
	Entitlements(ctx context.Context, callerID int64, party orgs.BilledParty) (*billing.Entitlements, error)
	CheckLimit(ctx context.Context, callerID int64, party orgs.BilledParty, key string, used int64) (*billing.LimitCheck, error)
}

// Dependencies wires the server to the domain services and middleware
type Dependencies struct {
	Plans         PlanCatalog
	Subscriptions Subscriptions
	Addresses     accounts.Service

	// Authenticate and RateLimit wrap every route except the payment webhook
	Authenticate func(http.Handler) http.Handler
	RateLimit    func(http.Handler) http.Handler
	// Admin guards plan catalog writes and manual activation
	Admin func(http.Handler) http.Handler

	WebhookSecret string
	MaxBodyBytes  int64

	Logger  *observability.Logger
	Metrics *observability.Metrics
}

// Server represents our API server
type Server struct {
	router  *mux.Router
	handler http.Handler
}

// NewServer creates the API server and registers all routes
func NewServer(deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = observability.NopLogger()
	}
	if deps.MaxBodyBytes <= 0 {
		deps.MaxBodyBytes = 1 << 20
	}
	passthrough := func(next http.Handler) http.Handler { return next }
	if deps.Authenticate == nil {
		deps.Authenticate = passthrough
	}
	if deps.RateLimit == nil {
		deps.RateLimit = passthrough
	}
	if deps.Admin == nil {
		deps.Admin = passthrough
	}

	router := mux.NewRouter()
	if deps.Metrics != nil {
		router.Use(observability.HTTPMetricsMiddleware(deps.Metrics))
	}

	// The gateway authenticates with a signature rather than a bearer token
	NewPaymentHandlers(deps.Subscriptions, deps.WebhookSecret).RegisterRoutes(router)

	authed := router.NewRoute().Subrouter()
	authed.Use(deps.Authenticate, deps.RateLimit)

	NewPlanHandlers(deps.Plans, deps.Admin).RegisterRoutes(authed)
	NewSubscriptionHandlers(deps.Subscriptions, deps.Admin).RegisterRoutes(authed)
	NewAccountHandlers(deps.Addresses).RegisterRoutes(authed)

	s := &Server{router: router}
	s.handler = httputil.Chain(
		httputil.RequestIDMiddleware,
		httputil.LoggingMiddleware(deps.Logger),
		httputil.RecoveryMiddleware(deps.Logger),
		httputil.MaxBytesMiddleware(deps.MaxBodyBytes),
		httputil.ContentTypeMiddleware,
	)(otelhttp.NewHandler(router, "tenancy-api"))
	return s
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// RouteRegistrar is an interface for types that can register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}
