package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(
	appH *AppHandler,
	deployH *DeployHandler,
	processH *ProcessHandler,
	addonH *AddonHandler,
	apiToken string,
) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(loggingMiddleware)
	r.Use(bodySizeLimitMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(authMiddleware(apiToken))

		// Applications / Modules / Environments
		r.Route("/applications", func(r chi.Router) {
			r.Post("/", appH.Create)
			r.Get("/", appH.List)
			r.Route("/{code}", func(r chi.Router) {
				r.Get("/", appH.Get)
				r.Get("/environments", appH.ListEnvironments)
				r.Route("/modules", func(r chi.Router) {
					r.Get("/", appH.ListModules)
					r.Post("/{module}", appH.CreateModule)
					r.Get("/{module}/envs/{env}", appH.GetEnvironment)
					r.Post("/{module}/services/{service}/bind", addonH.Bind)
				})
			})
		})

		// 环境级操作
		r.Route("/environments/{env_id}", func(r chi.Router) {
			r.Post("/offline", appH.OfflineEnv)
			r.Post("/online", appH.OnlineEnv)

			r.Route("/deployments", func(r chi.Router) {
				r.Post("/", deployH.Create)
				r.Get("/", deployH.List)
			})
			r.Get("/deploy_preps", deployH.DeployPreps)
			r.Get("/image_tags", deployH.ImageTags)

			r.Route("/mres", func(r chi.Router) {
				r.Get("/", deployH.ModelResource)
				r.Put("/", deployH.ReplaceModelResource)
				r.Get("/status", deployH.EnvStatus)
			})

			r.Route("/processes", func(r chi.Router) {
				r.Post("/", processH.Operate)
				r.Get("/", processH.List)
				r.Get("/watch", processH.Watch)
				r.Put("/instances/{instance}/restart", processH.RestartInstance)
				r.Get("/instances/{instance}/logs", processH.InstanceLogs)
			})

			r.Get("/build_processes/{id}/logs", processH.BuildLogs)

			r.Route("/services", func(r chi.Router) {
				r.Get("/env_vars", addonH.EnvVars)
				r.Delete("/{service_id}", addonH.Unbind)
			})
		})

		// 部署级操作
		r.Route("/deployments/{id}", func(r chi.Router) {
			r.Get("/", deployH.Get)
			r.Get("/result", deployH.Result)
			r.Post("/interrupt", deployH.Interrupt)
			r.Get("/stream", deployH.Stream)
		})
	})

	return r
}
