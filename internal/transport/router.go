package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/marketbytes-devops/kwa-console/internal/config"
	"github.com/marketbytes-devops/kwa-console/internal/metadata"
	"github.com/marketbytes-devops/kwa-console/internal/observability"
	"github.com/marketbytes-devops/kwa-console/model"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config             *config.Config
	Logger             *zap.Logger
	Metrics            *observability.Metrics
	Gatherer           prometheus.Gatherer
	Readiness          observability.ReadinessChecks
	Backend            Authenticator
	Accounts           Accounts
	Sessions           Sessions
	CapabilityResolver model.CapabilityResolver
	Menu               *metadata.MenuProvider
	Pages              *metadata.PageProvider
	Engines            Engines

	// SessionClosers are told when a session logs out.
	SessionClosers []SessionCloser
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Health, readiness, metrics, login and the
// forgot-password flow bypass the session middleware.
func NewRouter(deps Dependencies) chi.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := deps.Config

	r := chi.NewRouter()

	r.Use(Recovery(logger))
	r.Use(observability.TraceRequests)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.MetricsMiddleware)
	}
	r.Use(CORS(cfg.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)

	r.Get("/ui/health", observability.HandleHealth())
	r.Get("/ui/ready", observability.HandleReady(deps.Readiness))
	if cfg.Observability.Metrics.Enabled && deps.Gatherer != nil {
		r.Method(http.MethodGet, cfg.Observability.Metrics.Path, observability.Handler(deps.Gatherer))
	}

	var recorder LoginRecorder
	if deps.Metrics != nil {
		recorder = deps.Metrics
	}
	auth := &authHandlers{
		cfg:      cfg.Session,
		backend:  deps.Backend,
		sessions: deps.Sessions,
		closers:  deps.SessionClosers,
		caps:     deps.CapabilityResolver,
		recorder: recorder,
		logger:   logger,
	}
	pages := &pageHandlers{pages: deps.Pages, engines: deps.Engines, logger: logger}
	accounts := &accountHandlers{accounts: deps.Accounts, logger: logger}

	r.Group(func(r chi.Router) {
		r.Use(HandlerTimeout(cfg.Server.HandlerTimeout), RequestLogging(logger))
		r.Post("/ui/auth/login", auth.login)
		if deps.Accounts != nil {
			r.Post("/ui/auth/forgot-password", accounts.forgotPassword)
			r.Post("/ui/auth/verify-otp", accounts.verifyOTP)
			r.Post("/ui/auth/reset-password", accounts.resetPassword)
		}
	})

	r.Group(func(r chi.Router) {
		r.Use(Authenticate(cfg.Session, cfg.Capability.SuperuserRoles, deps.Sessions))
		r.Use(RequestLogging(logger))
		r.Use(ResolveCapabilities(deps.CapabilityResolver, logger))
		r.Use(HandlerTimeout(cfg.Server.HandlerTimeout))

		r.Post("/ui/auth/logout", auth.logout)
		if deps.Accounts != nil {
			r.Get("/ui/auth/profile", accounts.profile)
			r.Put("/ui/auth/profile", accounts.updateProfile)
			r.Post("/ui/auth/profile/avatar", accounts.uploadAvatar)
			r.Post("/ui/auth/change-password", accounts.changePassword)
		}
		r.Get("/ui/navigation", handleNavigation(deps.Menu))

		r.Route("/ui/pages/{pageId}", func(r chi.Router) {
			r.Get("/", pages.view())
			r.Post("/fetch", pages.fetch())
			r.Post("/fields/{fieldId}", pages.changeField())
			r.Post("/fields/{fieldId}/upload", pages.upload())
			r.Post("/fields/{fieldId}/dropdown", pages.toggleDropdown())
			r.Post("/new-entries", pages.addEntry())
			r.Post("/new-entries/{index}/fields/{fieldId}", pages.changeNewEntry())
			r.Post("/new-entries/{index}/fields/{fieldId}/upload", pages.uploadNewEntry())
			r.Delete("/new-entries/{index}", pages.removeNewEntry())
			r.Post("/submit", pages.submit())
			r.Post("/cancel", pages.cancel())
			r.Post("/entries/{entryId}/edit", pages.beginEdit())
			r.Post("/entries/{entryId}/fields/{fieldId}/edit", pages.beginFieldEdit())
			r.Post("/edit-field", pages.changeEditField())
			r.Post("/edit-field/submit", pages.submitField())
			r.Delete("/entries/{entryId}", pages.deleteEntry())
			r.Delete("/entries/{entryId}/fields/{fieldId}", pages.deleteField())
			r.Post("/entries/{entryId}/fields/{fieldId}", pages.updateField())
			r.Post("/reorder", pages.reorder())
			r.Post("/paginate/{direction}", pages.paginate())
			r.Post("/filters/{filterId}", pages.setFilter())
			r.Delete("/filters", pages.clearFilters())
			r.Post("/sort/{order}", pages.sort())
			r.Post("/notice/dismiss", pages.dismissNotice())
		})
	})

	return r
}
